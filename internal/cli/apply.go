package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/tansive/modhost/internal/common/httpclient"
)

var (
	applyFile   string
	applyServer string
	applyTenant string
	applyToken  string
)

func newApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply -f FILENAME [flags]",
		Short: "Register modules, providers and pipelines from a manifest",
		Long: `Apply reads a multi document YAML manifest and sends each document to a
running modhost server. Documents are applied modules first, then providers,
then orchestrations.

  kind: Module
  spec:
    name: scanner
    image: registry.example.com/scanner:1.0
  ---
  kind: Orchestration
  spec:
    name: nightly
    pipeline:
      - module: scanner

Modules are upserted and providers are updated when they exist. Every
Orchestration document creates a new pipeline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if applyFile == "" {
				return fmt.Errorf("filename is required")
			}
			manifests, err := LoadManifests(applyFile)
			if err != nil {
				return err
			}
			opts := []httpclient.Option{httpclient.WithHeader("X-Tenant-ID", applyTenant)}
			token := applyToken
			if token == "" {
				token = os.Getenv("MODHOST_TOKEN")
			}
			if token != "" {
				opts = append(opts, httpclient.WithAPIKey(token))
			}
			return applyManifests(cmd, httpclient.NewClient(applyServer, opts...), manifests)
		},
	}
	cmd.Flags().StringVarP(&applyFile, "filename", "f", "", "Manifest file")
	cmd.Flags().StringVar(&applyServer, "server", "http://localhost:8080", "modhost server URL")
	cmd.Flags().StringVar(&applyTenant, "tenant", "default", "Tenant the documents are applied to")
	cmd.Flags().StringVar(&applyToken, "token", "", "Bearer token; defaults to $MODHOST_TOKEN")
	return cmd
}

func applyManifests(cmd *cobra.Command, client *httpclient.Client, manifests []*Manifest) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	failed := 0
	for _, kind := range applyOrder {
		for _, m := range manifests {
			if m.Kind != kind {
				continue
			}
			action, err := applyOne(ctx, client, m)
			if err != nil {
				failed++
				errorLabel.Fprintf(out, "%s/%s: %v\n", m.Kind, m.Name(), err)
				continue
			}
			okLabel.Fprintf(out, "%s/%s %s\n", m.Kind, m.Name(), action)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(manifests))
	}
	return nil
}

func applyOne(ctx context.Context, client *httpclient.Client, m *Manifest) (string, error) {
	switch m.Kind {
	case KindModule:
		_, err := client.PostJSON(ctx, "/modules", m.Spec)
		return "registered", err
	case KindOrchestration:
		_, err := client.PostJSON(ctx, "/orchestrations", m.Spec)
		return "created", err
	case KindProvider:
		_, err := client.PostJSON(ctx, "/providers", m.Spec)
		var herr *httpclient.HTTPError
		if errors.As(err, &herr) && herr.StatusCode == http.StatusConflict {
			_, err = client.PutJSON(ctx, "/providers/"+m.Name(), m.Spec)
			return "updated", err
		}
		return "created", err
	}
	return "", fmt.Errorf("unsupported kind %q", m.Kind)
}
