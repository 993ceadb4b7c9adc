// Package jsonschema validates response bodies against JSON Schemas using
// santhosh-tekuri/jsonschema.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationErrors represents a collection of validation errors
type ValidationErrors []error

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Schema is a compiled JSON Schema. It is safe for concurrent use.
type Schema struct {
	compiled *jsonschema.Schema
}

// Compile compiles a schema given as decoded JSON or YAML.
func Compile(schema map[string]interface{}) (*Schema, error) {
	raw, err := json.Marshal(normalize(schema))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return CompileString(string(raw))
}

// CompileString compiles a schema document.
func CompileString(schemaStr string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schemaStr)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{compiled: compiled}, nil
}

// Validate checks body against the schema. A body that is not JSON or does
// not satisfy the schema returns ValidationErrors.
func (s *Schema) Validate(body []byte) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return ValidationErrors{fmt.Errorf("invalid JSON: %w", err)}
	}

	err := s.compiled.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		return extractValidationErrors(verr)
	}
	return ValidationErrors{err}
}

// Validate compiles schemaStr and checks jsonStr against it.
func Validate(jsonStr, schemaStr string) (bool, error) {
	schema, err := CompileString(schemaStr)
	if err != nil {
		return false, err
	}
	if err := schema.Validate([]byte(jsonStr)); err != nil {
		var ve ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 && strings.HasPrefix(ve[0].Error(), "invalid JSON") {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// extractValidationErrors flattens a validation error tree to its leaves.
func extractValidationErrors(err *jsonschema.ValidationError) ValidationErrors {
	var errs ValidationErrors
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return append(errs, fmt.Errorf("validation error at %s: %s", loc, err.Message))
	}
	for _, cause := range err.Causes {
		errs = append(errs, extractValidationErrors(cause)...)
	}
	return errs
}

// normalize converts map[interface{}]interface{} nodes, which some YAML
// decoders produce, into JSON-marshalable maps.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
