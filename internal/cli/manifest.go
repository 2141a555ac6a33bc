package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
	k8syaml "sigs.k8s.io/yaml"
)

// Manifest kinds accepted by apply.
const (
	KindModule        = "Module"
	KindProvider      = "Provider"
	KindOrchestration = "Orchestration"
)

// applyOrder registers modules before the pipelines that reference them.
var applyOrder = []string{KindModule, KindProvider, KindOrchestration}

// Manifest is one YAML document: a kind and the API body for it.
type Manifest struct {
	Kind string          `json:"kind"`
	Spec json.RawMessage `json:"spec"`
}

// Name is spec.name, used for reporting and provider updates.
func (m *Manifest) Name() string {
	var named struct {
		Name string `json:"name"`
	}
	json.Unmarshal(m.Spec, &named)
	return named.Name
}

// LoadManifests reads every document of a multi document YAML file.
func LoadManifests(filename string) ([]*Manifest, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseManifests(data)
}

// ParseManifests splits data on document boundaries and converts each
// document to its JSON API form.
func ParseManifests(data []byte) ([]*Manifest, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var result []*Manifest
	for i := 1; ; i++ {
		var node yaml.Node
		if err := decoder.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode YAML document %d: %w", i, err)
		}
		if emptyDocument(&node) {
			continue
		}
		doc, err := yaml.Marshal(&node)
		if err != nil {
			return nil, err
		}
		raw, err := k8syaml.YAMLToJSON(doc)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		m := &Manifest{}
		if err := json.Unmarshal(raw, m); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if err := m.validate(); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		result = append(result, m)
	}
	return result, nil
}

// emptyDocument reports whether node is a document with no content. A bare
// "---" decodes to a document holding a single null scalar.
func emptyDocument(node *yaml.Node) bool {
	if len(node.Content) == 0 {
		return true
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) != 1 {
		return false
	}
	child := node.Content[0]
	return child.Kind == yaml.ScalarNode && child.ShortTag() == "!!null"
}

func (m *Manifest) validate() error {
	switch m.Kind {
	case KindModule, KindProvider, KindOrchestration:
	case "":
		return fmt.Errorf("kind is required")
	default:
		return fmt.Errorf("unsupported kind %q", m.Kind)
	}
	if len(m.Spec) == 0 || m.Spec[0] != '{' {
		return fmt.Errorf("%s spec must be an object", m.Kind)
	}
	if m.Name() == "" {
		return fmt.Errorf("%s spec.name is required", m.Kind)
	}
	return nil
}
