package policy

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidArgs wraps schema violations found at the proposal boundary.
type ErrInvalidArgs struct {
	ToolName string
	Cause    error
}

func (e *ErrInvalidArgs) Error() string {
	return fmt.Sprintf("invalid arguments for tool %s: %v", e.ToolName, e.Cause)
}

func (e *ErrInvalidArgs) Unwrap() error { return e.Cause }

// SchemaValidator compiles and caches per-tool argument schemas.
// Compilation happens lazily on first use and is cached by tool name;
// profiles are immutable for the process lifetime, so the cache never
// invalidates.
type SchemaValidator struct {
	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

// NewSchemaValidator returns an empty validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{schemas: make(map[string]*jsonschema.Schema)}
}

// Validate checks args against the profile's ArgsSchema. Profiles without
// a schema accept any arguments.
func (v *SchemaValidator) Validate(profile ToolProfile, args map[string]any) error {
	if len(profile.ArgsSchema) == 0 {
		return nil
	}

	schema, err := v.schemaFor(profile)
	if err != nil {
		return &ErrInvalidArgs{ToolName: profile.ToolName, Cause: err}
	}

	// jsonschema validates decoded JSON values; args maps qualify directly.
	if err := schema.Validate(normalizeForSchema(args)); err != nil {
		return &ErrInvalidArgs{ToolName: profile.ToolName, Cause: err}
	}
	return nil
}

func (v *SchemaValidator) schemaFor(profile ToolProfile) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.schemas[profile.ToolName]; ok {
		return s, nil
	}

	compiler := jsonschema.NewCompiler()
	url := "arbiter://tool-schemas/" + profile.ToolName + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(profile.ArgsSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.schemas[profile.ToolName] = schema
	return schema, nil
}

// normalizeForSchema rewrites Go-native values (ints, nested maps) into
// the float64/map[string]any shapes the validator expects from decoded
// JSON.
func normalizeForSchema(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeForSchema(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeForSchema(val)
		}
		return out
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
