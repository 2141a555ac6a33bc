// Package schemavalidator holds the process-wide struct validator and the JSON
// Schema helpers used to check module configuration documents.
package schemavalidator

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

var (
	schemaValidator *validator.Validate
	once            sync.Once
)

// V returns the shared validator with modhost's custom rules registered.
func V() *validator.Validate {
	once.Do(func() {
		schemaValidator = validator.New(validator.WithRequiredStructEnabled())
		schemaValidator.RegisterValidation("resourcename", resourceNameValidator)
		schemaValidator.RegisterValidation("moduleKind", moduleKindValidator)
	})
	return schemaValidator
}

// Names of tenants, modules and providers end up in container names and
// secret paths, so they stay within DNS label characters.
const resourceNameRegex = `^[a-z0-9]([a-z0-9_.-]*[a-z0-9])?$`

var resourceNameRe = regexp.MustCompile(resourceNameRegex)

// ValidResourceName reports whether name is usable as a tenant, module or
// provider name.
func ValidResourceName(name string) bool {
	return len(name) > 0 && len(name) <= 63 && resourceNameRe.MatchString(name)
}

func resourceNameValidator(fl validator.FieldLevel) bool {
	return ValidResourceName(fl.Field().String())
}

func moduleKindValidator(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "service", "job":
		return true
	}
	return false
}

const inlineSchemaURL = "inline://schema"

// CompileSchema compiles a JSON Schema document. Self references through the
// inline URL are supported; other remote references are refused.
func CompileSchema(schema []byte) (*jsonschema.Schema, error) {
	if !gjson.ValidBytes(schema) {
		return nil, fmt.Errorf("invalid JSON schema")
	}
	compiler := jsonschema.NewCompiler()
	compiler.LoadURL = func(url string) (io.ReadCloser, error) {
		if url == inlineSchemaURL {
			return io.NopCloser(bytes.NewReader(schema)), nil
		}
		return nil, fmt.Errorf("unsupported schema ref: %s", url)
	}
	if err := compiler.AddResource(inlineSchemaURL, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(inlineSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return compiled, nil
}

// ValidateDocument checks doc against schema. An empty schema accepts any
// document.
func ValidateDocument(schema []byte, doc any) error {
	if len(bytes.TrimSpace(schema)) == 0 || string(bytes.TrimSpace(schema)) == "null" {
		return nil
	}
	compiled, err := CompileSchema(schema)
	if err != nil {
		return err
	}
	return compiled.Validate(doc)
}
