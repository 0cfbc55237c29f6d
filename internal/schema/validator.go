// Package schema validates wizard step input against the JSON Schema
// declared on a step definition (draft 2020-12).
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// FieldError is one per-field schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result carries the outcome of an input validation. Violations are
// returned inline, never raised as engine failures.
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// Validator compiles and caches step input schemas. Safe for concurrent use.
type Validator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

func NewValidator() *Validator {
	return &Validator{cache: make(map[string]*jsonschema.Schema)}
}

// ValidateInput checks input against schemaDoc. A nil or empty schema means
// no validation is required and the input is accepted. A malformed schema is
// an error; a failing input is a non-error Result with Valid=false.
func (v *Validator) ValidateInput(schemaDoc map[string]any, input map[string]any) (*Result, error) {
	if len(schemaDoc) == 0 {
		return &Result{Valid: true}, nil
	}

	compiled, err := v.getOrCompile(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}

	doc, err := toJSONValue(input)
	if err != nil {
		return nil, fmt.Errorf("serialize input: %w", err)
	}

	if err := compiled.Validate(doc); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return &Result{Valid: false, Errors: []FieldError{{Message: err.Error()}}}, nil
		}
		return &Result{Valid: false, Errors: collectFieldErrors(verr)}, nil
	}
	return &Result{Valid: true}, nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a
// new one, keyed by the schema's canonical JSON encoding.
func (v *Validator) getOrCompile(schemaDoc map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, err
	}
	key := string(raw)

	v.mu.RLock()
	cached, ok := v.cache[key]
	v.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, err
	}

	// Each schema gets a unique URL to avoid compiler resource collisions.
	url := fmt.Sprintf("conductor://step-input-schema/%d", len(v.cache))
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, err
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// collectFieldErrors flattens a validation error tree into leaf violations.
func collectFieldErrors(verr *jsonschema.ValidationError) []FieldError {
	var out []FieldError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, FieldError{
				Field:   instancePath(e.InstanceLocation),
				Message: e.Error(),
			})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	return out
}

func instancePath(tokens []string) string {
	if len(tokens) == 0 {
		return "/"
	}
	return "/" + strings.Join(tokens, "/")
}
