package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// AWSBackend stores each payload as a JSON secret string named prefix+path.
type AWSBackend struct {
	client SecretsManagerAPI
	prefix string
}

// NewAWSBackend builds a client from the default credential chain.
func NewAWSBackend(ctx context.Context, region, prefix string) (*AWSBackend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return NewAWSBackendWithClient(secretsmanager.NewFromConfig(cfg), prefix), nil
}

func NewAWSBackendWithClient(client SecretsManagerAPI, prefix string) *AWSBackend {
	return &AWSBackend{client: client, prefix: prefix}
}

func (a *AWSBackend) secretID(path string) string {
	return a.prefix + path
}

func isNotFound(err error) bool {
	var nf *types.ResourceNotFoundException
	return errors.As(err, &nf)
}

func (a *AWSBackend) Read(ctx context.Context, path string) (map[string]any, error) {
	out, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretID(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if out.SecretString == nil {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(*out.SecretString), &payload); err != nil {
		return nil, fmt.Errorf("decoding secret %s: %w", path, err)
	}
	return payload, nil
}

// Write puts a new version, creating the secret on first use.
func (a *AWSBackend) Write(ctx context.Context, path string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = a.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(a.secretID(path)),
		SecretString: aws.String(string(raw)),
	})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return err
	}
	_, err = a.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(a.secretID(path)),
		SecretString: aws.String(string(raw)),
	})
	return err
}

func (a *AWSBackend) Delete(ctx context.Context, path string) error {
	_, err := a.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(a.secretID(path)),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}
