package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/guildhook/guildhook/internal/application/errors"
	"github.com/guildhook/guildhook/internal/domain/extension"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// snowflakePattern loosely matches platform ids stored in channel and role fields.
const snowflakePattern = `^[A-Za-z0-9_-]{1,64}$`

// ConfigResolver merges an installation's configuration over the manifest's
// declared defaults and validates the result against a JSON Schema generated
// from the declared fields. Compiled schemas are cached per manifest version.
type ConfigResolver struct {
	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

// NewConfigResolver creates a resolver with an empty schema cache.
func NewConfigResolver() *ConfigResolver {
	return &ConfigResolver{schemas: make(map[string]*jsonschema.Schema)}
}

// Resolve returns the effective configuration for one run. The returned map holds
// only JSON-native values (string, float64, bool, nil, maps and slices of those).
func (r *ConfigResolver) Resolve(m *extension.Manifest, values map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(m.ConfigFields))
	for _, f := range m.ConfigFields {
		if f.Default != nil {
			merged[f.Name] = f.Default
		}
	}
	for k, v := range values {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, apperrors.NewValidationError("config", "values are not JSON-encodable", err.Error())
	}

	schema, err := r.schema(m)
	if err != nil {
		return nil, err
	}

	var instance any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return nil, formatSchemaValidationError(verr)
		}
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return out, nil
}

func (r *ConfigResolver) schema(m *extension.Manifest) (*jsonschema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.schemas[m.Key()]; ok {
		return s, nil
	}

	doc, err := json.Marshal(ConfigSchema(m.ConfigFields))
	if err != nil {
		return nil, fmt.Errorf("failed to encode config schema for %s: %w", m.Key(), err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("config.json", bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("failed to add config schema for %s: %w", m.Key(), err)
	}
	s, err := compiler.Compile("config.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile config schema for %s: %w", m.Key(), err)
	}
	r.schemas[m.Key()] = s
	return s, nil
}

// ConfigSchema builds the JSON Schema document for a set of declared fields.
// Undeclared keys are rejected.
func ConfigSchema(fields []extension.ConfigField) map[string]any {
	properties := make(map[string]any, len(fields))
	required := []string{}
	for _, f := range fields {
		prop := map[string]any{}
		switch f.Type {
		case extension.FieldChannel, extension.FieldRole:
			prop["type"] = "string"
			prop["pattern"] = snowflakePattern
		default:
			prop["type"] = string(f.Type)
		}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			prop["enum"] = f.Enum
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}

	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

// formatSchemaValidationError flattens a schema validation error into a ValidationError.
func formatSchemaValidationError(err *jsonschema.ValidationError) error {
	var messages []string

	var collect func(*jsonschema.ValidationError)
	collect = func(e *jsonschema.ValidationError) {
		if e.Message != "" && len(e.Causes) == 0 {
			location := e.InstanceLocation
			if location == "" {
				location = "(root)"
			}
			messages = append(messages, fmt.Sprintf("%s: %s", location, e.Message))
		}
		for _, cause := range e.Causes {
			collect(cause)
		}
	}
	collect(err)

	if len(messages) == 0 {
		messages = append(messages, err.Error())
	}
	return apperrors.NewValidationError("config", strings.Join(messages, "; "), messages...)
}
