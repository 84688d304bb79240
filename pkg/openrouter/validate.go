package openrouter

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// ValidatedResponse is the outcome of [ValidateResponse].
type ValidatedResponse struct {
	// Raw is the response body as received.
	Raw json.RawMessage

	// Value is the decoded body when it was checked and conforms.
	Value any

	// Checked reports whether validation ran at all.
	Checked bool

	// Valid reports whether the body conforms. It is false when Checked is
	// false.
	Valid bool

	// Failure is set when validation failed and fallback allowed the raw body
	// to be returned instead.
	Failure *SchemaValidationError
}

// ValidateResponse checks body against the schema of spec.
//
// With Validate unset the body is passed through unchecked. A non-conforming
// body fails with a [SchemaValidationError] unless Fallback is set, in which
// case the raw body is returned with Valid false and the error in Failure.
func ValidateResponse(spec StructuredOutputSpec, body []byte) (*ValidatedResponse, error) {
	raw := json.RawMessage(bytes.Clone(body))
	if !spec.Validate {
		return &ValidatedResponse{Raw: raw}, nil
	}

	resolved, err := compileSchema(spec)
	if err != nil {
		return nil, err
	}

	value, verr := checkBody(spec.Name, resolved, body)
	if verr == nil {
		return &ValidatedResponse{Raw: raw, Value: value, Checked: true, Valid: true}, nil
	}
	if spec.Fallback {
		return &ValidatedResponse{Raw: raw, Checked: true, Failure: verr}, nil
	}
	return nil, verr
}

func compileSchema(spec StructuredOutputSpec) (*jsonschema.Resolved, error) {
	doc, err := json.Marshal(spec.Schema)
	if err != nil {
		return nil, &SchemaValidationError{SchemaName: spec.Name, Details: "encode schema", Err: err}
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(doc, &schema); err != nil {
		return nil, &SchemaValidationError{SchemaName: spec.Name, Details: "parse schema", Err: err}
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, &SchemaValidationError{SchemaName: spec.Name, Details: "resolve schema", Err: err}
	}
	return resolved, nil
}

func checkBody(name string, resolved *jsonschema.Resolved, body []byte) (any, *SchemaValidationError) {
	var value any
	if err := json.Unmarshal(stripFence(body), &value); err != nil {
		return nil, &SchemaValidationError{
			SchemaName: name,
			Details:    "response is not valid JSON: " + err.Error(),
			Err:        err,
		}
	}
	if err := resolved.Validate(value); err != nil {
		return nil, &SchemaValidationError{SchemaName: name, Details: err.Error(), Err: err}
	}
	return value, nil
}

// stripFence removes a surrounding Markdown code fence, which some models add
// around JSON output.
func stripFence(body []byte) []byte {
	b := bytes.TrimSpace(body)
	if !bytes.HasPrefix(b, []byte("```")) || !bytes.HasSuffix(b, []byte("```")) || len(b) < 6 {
		return b
	}
	b = b[3 : len(b)-3]
	if nl := bytes.IndexByte(b, '\n'); nl >= 0 {
		// Drop the info string, e.g. "json".
		if tag := bytes.TrimSpace(b[:nl]); len(tag) == 0 || bytes.IndexAny(tag, "{[") < 0 {
			b = b[nl+1:]
		}
	}
	return bytes.TrimSpace(b)
}

// Decode unmarshals the body of a validated response into T.
func Decode[T any](v *ValidatedResponse) (T, error) {
	var out T
	if v == nil {
		return out, fmt.Errorf("openrouter: decode: nil response")
	}
	if err := json.Unmarshal(stripFence(v.Raw), &out); err != nil {
		return out, &SchemaValidationError{Details: fmt.Sprintf("decode into %T: %v", out, err), Err: err}
	}
	return out, nil
}
