// Package schemas wraps JSON-schema compilation and validation. Schemas are
// compiled once at registration time and applied per invocation.
package schemas

import (
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/courier-rpc/courier/internal/protocol/jsoncodec"
)

// ErrSchemaEmpty indicates an empty schema source was provided.
var ErrSchemaEmpty = errors.New("courier: schema source is empty")

// Schema is a compiled, reusable validator.
type Schema struct {
	resolved *jsonschema.Resolved
}

// Compile turns a schema source into a reusable validator. Accepted sources:
// a *jsonschema.Schema, raw JSON as []byte or string, a map[string]any, or
// any struct that marshals to a JSON-schema document. A nil source yields a
// nil Schema, meaning "no validation".
func Compile(source any) (*Schema, error) {
	if source == nil {
		return nil, nil
	}

	var (
		schema *jsonschema.Schema
		err    error
	)

	switch v := source.(type) {
	case *Schema:
		return v, nil
	case *jsonschema.Schema:
		schema = v
	case []byte:
		schema, err = decode(v)
	case string:
		schema, err = decode([]byte(v))
	default:
		var data []byte
		data, err = jsoncodec.Marshal(v)
		if err == nil {
			schema, err = decode(data)
		}
	}
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, ErrSchemaEmpty
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("courier: failed to compile schema: %w", err)
	}

	return &Schema{resolved: resolved}, nil
}

// MustCompile is Compile for wiring code; it panics on failure.
func MustCompile(source any) *Schema {
	s, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return s
}

func decode(data []byte) (*jsonschema.Schema, error) {
	if len(data) == 0 {
		return nil, ErrSchemaEmpty
	}
	var schema jsonschema.Schema
	if err := jsoncodec.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("courier: invalid schema document: %w", err)
	}
	return &schema, nil
}

// Validate checks instance against the compiled schema. A nil Schema
// accepts everything.
func (s *Schema) Validate(instance any) error {
	if s == nil || s.resolved == nil {
		return nil
	}
	return s.resolved.Validate(instance)
}
