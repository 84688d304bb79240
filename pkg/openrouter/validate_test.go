package openrouter

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
)

func personSpec(validate, fallback bool) StructuredOutputSpec {
	return StructuredOutputSpec{Name: "person", Strict: true, Schema: testSchema(), Validate: validate, Fallback: fallback}
}

// TestValidateResponse covers the four validation outcomes.
func TestValidateResponse(t *testing.T) {
	good := []byte(`{"name":"Ada","age":36}`)
	bad := []byte(`{"name":"Ada","age":"old"}`)

	t.Run("disabled", func(t *testing.T) {
		v, err := ValidateResponse(personSpec(false, false), bad)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v.Checked || v.Valid || string(v.Raw) != string(bad) {
			t.Errorf("expected unchecked pass-through, got %+v", v)
		}
	})

	t.Run("conforming", func(t *testing.T) {
		v, err := ValidateResponse(personSpec(true, false), good)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !v.Checked || !v.Valid || v.Failure != nil {
			t.Errorf("expected valid, got %+v", v)
		}
		obj, ok := v.Value.(map[string]any)
		if !ok || obj["name"] != "Ada" {
			t.Errorf("unexpected value %#v", v.Value)
		}
	})

	t.Run("fallback", func(t *testing.T) {
		v, err := ValidateResponse(personSpec(true, true), bad)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !v.Checked || v.Valid {
			t.Errorf("expected checked and invalid, got %+v", v)
		}
		if string(v.Raw) != string(bad) {
			t.Errorf("expected the raw body, got %s", v.Raw)
		}
		if v.Failure == nil || v.Failure.SchemaName != "person" {
			t.Errorf("expected a failure marker, got %+v", v.Failure)
		}
	})

	t.Run("strict", func(t *testing.T) {
		_, err := ValidateResponse(personSpec(true, false), bad)
		var se *SchemaValidationError
		if !errors.As(err, &se) {
			t.Fatalf("expected *SchemaValidationError, got %T: %v", err, err)
		}
		if se.SchemaName != "person" || se.Details == "" {
			t.Errorf("expected schema name and details, got %+v", se)
		}
		if !strings.Contains(se.Error(), "person") {
			t.Errorf("expected the schema name in the message: %v", se)
		}
	})

	t.Run("missing required", func(t *testing.T) {
		_, err := ValidateResponse(personSpec(true, false), []byte(`{"name":"Ada"}`))
		var se *SchemaValidationError
		if !errors.As(err, &se) {
			t.Fatalf("expected *SchemaValidationError, got %v", err)
		}
	})

	t.Run("not json", func(t *testing.T) {
		_, err := ValidateResponse(personSpec(true, false), []byte(`Sure! Here is the person.`))
		var se *SchemaValidationError
		if !errors.As(err, &se) {
			t.Fatalf("expected *SchemaValidationError, got %v", err)
		}
	})

	t.Run("fenced", func(t *testing.T) {
		v, err := ValidateResponse(personSpec(true, false), []byte("```json\n{\"name\":\"Ada\",\"age\":36}\n```"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !v.Valid {
			t.Error("expected fenced JSON to validate")
		}
	})
}

// TestDecode checks typed decoding of a validated response.
func TestDecode(t *testing.T) {
	v, err := ValidateResponse(personSpec(true, false), []byte(`{"name":"Ada","age":36}`))
	if err != nil {
		t.Fatal(err)
	}
	type person struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	p, err := Decode[person](v)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Name != "Ada" || p.Age != 36 {
		t.Errorf("unexpected person %+v", p)
	}
}

// TestValidateToolCalls checks rejection of non-function tool calls.
func TestValidateToolCalls(t *testing.T) {
	resp := &ChatCompletionResponse{Choices: []ChatChoice{{Message: Message{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ID: "1", Type: "function"}, {ID: "2", Type: "retrieval"}},
	}}}}
	err := resp.ValidateToolCalls()
	var se *SchemaValidationError
	if !errors.As(err, &se) || !strings.Contains(se.Details, "tool_calls[1]") {
		t.Fatalf("expected failure on the second call, got %v", err)
	}
}

func structuredContent(content string) string {
	return fmt.Sprintf(`{"id":"g","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":%q}}]}`, content)
}

// TestStructuredGenerate checks the end-to-end structured path.
func TestStructuredGenerate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, structuredContent(`{"name":"Ada","age":36}`))
	})
	p, err := c.Structured().NewRequest("openai/gpt-4o", []Message{UserMessage("who?")}).
		WithStructuredOutput(personSpec(true, false)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	res, err := c.Structured().Generate(t.Context(), p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.Output.Valid || res.Response.ID != "g" {
		t.Errorf("unexpected result %+v", res)
	}
}

// TestStructuredGenerate_Invalid checks strict failure and fallback over the
// wire.
func TestStructuredGenerate_Invalid(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, structuredContent(`{"name":"Ada"}`))
	})
	msgs := []Message{UserMessage("who?")}

	p, _ := c.Structured().NewRequest("openai/gpt-4o", msgs).WithStructuredOutput(personSpec(true, false)).Build()
	_, err := c.Structured().Generate(t.Context(), p)
	var se *SchemaValidationError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SchemaValidationError, got %v", err)
	}

	p, _ = c.Structured().NewRequest("openai/gpt-4o", msgs).WithStructuredOutput(personSpec(true, true)).Build()
	res, err := c.Structured().Generate(t.Context(), p)
	if err != nil {
		t.Fatalf("fallback: unexpected error %v", err)
	}
	if res.Output.Valid || res.Output.Failure == nil || string(res.Output.Raw) != `{"name":"Ada"}` {
		t.Errorf("expected raw body with failure marker, got %+v", res.Output)
	}
}

// TestStructuredGenerate_PreflightUnsupported checks that a known
// unsupported model fails without a request.
func TestStructuredGenerate_PreflightUnsupported(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	p, _ := c.Structured().NewRequest("openai/gpt-3.5-turbo", []Message{UserMessage("q")}).
		WithStructuredOutput(personSpec(true, false)).Build()
	_, err := c.Structured().Generate(t.Context(), p)
	var ne *StructuredOutputNotSupportedError
	if !errors.As(err, &ne) || ne.Model != "openai/gpt-3.5-turbo" {
		t.Fatalf("expected *StructuredOutputNotSupportedError, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no request, got %d", calls.Load())
	}
}

// TestCompletions_PreflightUnsupported checks that both prompt endpoint calls
// reject structured output for a known unsupported model without a request.
func TestCompletions_PreflightUnsupported(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	b := c.Completions().NewRequest("openai/gpt-3.5-turbo", "q").WithStructuredOutput(personSpec(true, false))
	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = c.Completions().Complete(t.Context(), p)
	var ne *StructuredOutputNotSupportedError
	if !errors.As(err, &ne) {
		t.Errorf("Complete: expected *StructuredOutputNotSupportedError, got %v", err)
	}

	p, err = b.WithStream(true).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = c.Completions().Stream(t.Context(), p)
	if !errors.As(err, &ne) {
		t.Errorf("Stream: expected *StructuredOutputNotSupportedError, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no request, got %d", calls.Load())
	}
}

// TestStructuredGenerate_DeferredUnsupported checks that an unknown model is
// sent and a remote rejection of response_format is mapped.
func TestStructuredGenerate_DeferredUnsupported(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"Provider does not support response_format json_schema"}}`)
	})

	p, _ := c.Structured().NewRequest("someone/new-model", []Message{UserMessage("q")}).
		WithStructuredOutput(personSpec(true, false)).Build()
	_, err := c.Structured().Generate(t.Context(), p)
	var ne *StructuredOutputNotSupportedError
	if !errors.As(err, &ne) {
		t.Fatalf("expected *StructuredOutputNotSupportedError, got %v", err)
	}
	var ae *APIError
	if !errors.As(err, &ae) || ae.StatusCode != 400 {
		t.Errorf("expected the remote error to be wrapped, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected one request, got %d", calls.Load())
	}
}

// TestStructuredGenerate_NoSpec checks the synchronous rejection of a payload
// without a schema.
func TestStructuredGenerate_NoSpec(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	p, _ := c.Structured().NewRequest("m", []Message{UserMessage("q")}).Build()
	_, err := c.Structured().Generate(t.Context(), p)
	var ue *UnsupportedOperationError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnsupportedOperationError, got %v", err)
	}
}

// TestWithCapabilities checks that a custom resolver replaces the default
// table.
func TestWithCapabilities(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, structuredContent(`{"name":"Ada","age":1}`))
	})
	c = c.WithCapabilities(StaticCapabilities{"openai/gpt-3.5-turbo": true})

	p, _ := c.Structured().NewRequest("openai/gpt-3.5-turbo", []Message{UserMessage("q")}).
		WithStructuredOutput(personSpec(true, false)).Build()
	if _, err := c.Structured().Generate(t.Context(), p); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected one request, got %d", calls.Load())
	}
}
