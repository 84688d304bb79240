package openrouter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newTestClient starts a server running handler and returns a ready client
// pointing at it.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := New().WithBaseURL(srv.URL + "/api/v1/")
	if err != nil {
		t.Fatalf("WithBaseURL: %v", err)
	}
	c, err := a.
		WithHTTPReferer("https://example.com").
		WithSiteTitle("tests").
		WithUserID("user-1").
		WithHeader("X-Custom", "yes").
		WithAPIKey("sk-test")
	if err != nil {
		t.Fatalf("WithAPIKey: %v", err)
	}
	return c
}

const chatBody = `{"id":"gen-1","model":"openai/gpt-4o","created":1,"choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`

// TestChatComplete_Headers checks the request line, headers and body sent for
// a non-streaming chat call.
func TestChatComplete_Headers(t *testing.T) {
	var got *http.Request
	var body []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatBody)
	})

	p, err := c.Chat().NewRequest("openai/gpt-4o", []Message{UserMessage("hi")}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	resp, err := c.Chat().Complete(t.Context(), p)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content() != "hello" || resp.Usage.TotalTokens != 4 {
		t.Errorf("unexpected response %+v", resp)
	}

	if got.Method != http.MethodPost || got.URL.Path != "/api/v1/chat/completions" {
		t.Errorf("unexpected request %s %s", got.Method, got.URL.Path)
	}
	want := map[string]string{
		"Authorization": "Bearer sk-test",
		"Content-Type":  "application/json",
		"HTTP-Referer":  "https://example.com",
		"X-Title":       "tests",
		"X-User-ID":     "user-1",
		"X-Custom":      "yes",
	}
	for k, v := range want {
		if got.Header.Get(k) != v {
			t.Errorf("header %s: expected %q, got %q", k, v, got.Header.Get(k))
		}
	}
	if got.Header.Get("X-Request-ID") == "" {
		t.Error("expected an X-Request-ID header")
	}
	if string(body) != string(p.Bytes()) {
		t.Errorf("body differs from payload:\n%s\n%s", body, p.Bytes())
	}
}

// TestChatComplete_APIError checks that non-2xx responses carry status, code
// and message.
func TestChatComplete_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"rate limited","metadata":{"retry_after":2}}}`)
	})
	p, _ := c.Chat().NewRequest("m", []Message{UserMessage("hi")}).Build()
	_, err := c.Chat().Complete(t.Context(), p)

	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if ae.StatusCode != 429 || ae.Message != "rate limited" || ae.Code != "429" {
		t.Errorf("unexpected error %+v", ae)
	}
	if !IsRateLimit(err) {
		t.Error("expected IsRateLimit")
	}
}

// TestChatComplete_PlainTextError checks non-JSON error bodies.
func TestChatComplete_PlainTextError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	p, _ := c.Chat().NewRequest("m", []Message{UserMessage("hi")}).Build()
	_, err := c.Chat().Complete(t.Context(), p)
	var ae *APIError
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusBadGateway || ae.Message != "bad gateway" {
		t.Fatalf("unexpected error %#v", err)
	}
}

// TestChatComplete_ProtocolErrors checks empty and undecodable success
// bodies.
func TestChatComplete_ProtocolErrors(t *testing.T) {
	for name, body := range map[string]string{
		"empty":      "",
		"not json":   "<html>",
		"no choices": `{"id":"x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			})
			p, _ := c.Chat().NewRequest("m", []Message{UserMessage("hi")}).Build()
			_, err := c.Chat().Complete(t.Context(), p)
			var pe *ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
			}
		})
	}
}

// TestChatComplete_TransportError checks that network failures are wrapped
// and the cause is kept.
func TestChatComplete_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/"
	srv.Close()

	a, err := New().WithBaseURL(url)
	if err != nil {
		t.Fatal(err)
	}
	c, err := a.WithAPIKey("k")
	if err != nil {
		t.Fatal(err)
	}
	p, _ := c.Chat().NewRequest("m", []Message{UserMessage("hi")}).Build()
	_, err = c.Chat().Complete(t.Context(), p)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}
	if te.Unwrap() == nil {
		t.Error("expected the underlying error")
	}
}

// TestChat_ShapeMismatch checks that a payload is rejected by the wrong
// entry point before any I/O.
func TestChat_ShapeMismatch(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	streaming, _ := c.Chat().NewRequest("m", []Message{UserMessage("hi")}).WithStream(true).Build()
	plain, _ := c.Chat().NewRequest("m", []Message{UserMessage("hi")}).Build()
	prompt, _ := c.Completions().NewRequest("m", "hi").Build()

	var ue *UnsupportedOperationError
	if _, err := c.Chat().Complete(t.Context(), streaming); !errors.As(err, &ue) {
		t.Errorf("Complete(streaming): expected *UnsupportedOperationError, got %v", err)
	}
	if _, err := c.Chat().Stream(t.Context(), plain); !errors.As(err, &ue) {
		t.Errorf("Stream(plain): expected *UnsupportedOperationError, got %v", err)
	}
	if _, err := c.Chat().Complete(t.Context(), prompt); !errors.As(err, &ue) {
		t.Errorf("Complete(prompt): expected *UnsupportedOperationError, got %v", err)
	}
	if _, err := c.Completions().Complete(t.Context(), plain); !errors.As(err, &ue) {
		t.Errorf("Completions.Complete(chat): expected *UnsupportedOperationError, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no requests, got %d", calls.Load())
	}
}

// TestChatStream checks a streamed call end to end, including split writes
// and heartbeats.
func TestChatStream(t *testing.T) {
	var accept string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		parts := []string{
			": OPENROUTER PROCESSING\n\n",
			`data: {"id":"g","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel`,
			`"}}]}` + "\n\n",
			`data: {"id":"g","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}` + "\n\n",
			"data: [DONE]\n\n",
		}
		for _, p := range parts {
			fmt.Fprint(w, p)
			fl.Flush()
		}
	})

	p, err := c.Chat().NewRequest("m", []Message{UserMessage("hi")}).WithStream(true).Build()
	if err != nil {
		t.Fatal(err)
	}
	s, err := c.Chat().Stream(t.Context(), p)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer s.Close()

	var acc Accumulator
	for s.Next() {
		acc.Add(s.Current())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got := acc.Response().Content(); got != "Hello" {
		t.Errorf("expected Hello, got %q", got)
	}
	if accept != "text/event-stream" {
		t.Errorf("expected Accept text/event-stream, got %q", accept)
	}
}

// TestChatStream_ContextCancel checks that cancelling the context aborts a
// stalled read.
func TestChatStream_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"choices":[{"index":0,"delta":{"content":"x"}}]}`+"\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	ctx, cancel := context.WithCancel(t.Context())
	p, _ := c.Chat().NewRequest("m", []Message{UserMessage("hi")}).WithStream(true).Build()
	s, err := c.Chat().Stream(ctx, p)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !s.Next() {
		t.Fatalf("expected first chunk: %v", s.Err())
	}

	done := make(chan bool)
	go func() { done <- s.Next() }()
	cancel()
	select {
	case more := <-done:
		if more {
			t.Error("expected Next to fail after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return after cancel")
	}
	var te *TransportError
	if !errors.As(s.Err(), &te) {
		t.Errorf("expected *TransportError, got %T: %v", s.Err(), s.Err())
	}
}

// TestChatStream_APIErrorBeforeStream checks a non-2xx response to a
// streaming request.
func TestChatStream_APIErrorBeforeStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":401,"message":"No auth credentials found"}}`)
	})
	p, _ := c.Chat().NewRequest("m", []Message{UserMessage("hi")}).WithStream(true).Build()
	_, err := c.Chat().Stream(t.Context(), p)
	var ae *APIError
	if !errors.As(err, &ae) || ae.StatusCode != 401 {
		t.Fatalf("expected 401 *APIError, got %v", err)
	}
}

// TestChatStream_ErrorDocumentInsteadOfStream checks that a 2xx JSON error
// document answering a streaming request is an APIError.
func TestChatStream_ErrorDocumentInsteadOfStream(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantAPI bool
	}{
		{name: "error document", body: `{"error":{"code":429,"message":"rate limited"}}`, wantAPI: true},
		{name: "completion document", body: chatBody},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				fmt.Fprint(w, tc.body)
			})
			p, _ := c.Chat().NewRequest("m", []Message{UserMessage("hi")}).WithStream(true).Build()
			_, err := c.Chat().Stream(t.Context(), p)
			if tc.wantAPI {
				var ae *APIError
				if !errors.As(err, &ae) || ae.StatusCode != 429 || ae.Message != "rate limited" {
					t.Fatalf("expected 429 *APIError, got %T: %v", err, err)
				}
				if !IsRateLimit(err) {
					t.Error("expected IsRateLimit to hold")
				}
				return
			}
			var pe *ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
			}
		})
	}
}

// TestCompletions checks the prompt endpoint in both shapes.
func TestCompletions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), `"stream":true`) {
			fmt.Fprint(w, `data: {"choices":[{"index":0,"text":"upon"}]}`+"\n"+`data: {"choices":[{"index":0,"text":" a time"}]}`+"\ndata: [DONE]\n")
			return
		}
		fmt.Fprint(w, `{"id":"c","model":"m","choices":[{"index":0,"text":"upon a time"}]}`)
	})

	p, _ := c.Completions().NewRequest("m", "Once").Build()
	resp, err := c.Completions().Complete(t.Context(), p)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text() != "upon a time" {
		t.Errorf("unexpected text %q", resp.Text())
	}

	p, _ = c.Completions().NewRequest("m", "Once").WithStream(true).Build()
	s, err := c.Completions().Stream(t.Context(), p)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var sb strings.Builder
	for chunk, err := range s.All() {
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		sb.WriteString(chunk.Content())
	}
	if sb.String() != "upon a time" {
		t.Errorf("unexpected streamed text %q", sb.String())
	}
}

// TestModels checks listing and lookup.
func TestModels(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/models" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"data":[
			{"id":"openai/gpt-4o","name":"GPT-4o","context_length":128000,"supported_parameters":["tools","response_format"],"pricing":{"prompt":"0.0000025","completion":"0.00001"}},
			{"id":"meta/old","name":"Old","context_length":4096,"supported_parameters":["temperature"],"pricing":{"prompt":"0","completion":"0"}}
		]}`)
	})

	models, err := c.Models().List(t.Context())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(models) != 2 || !models[0].Supports("response_format") {
		t.Fatalf("unexpected models %+v", models)
	}
	m, err := c.Models().Get(t.Context(), "meta/old")
	if err != nil || m.ContextLength != 4096 {
		t.Fatalf("Get: %v %+v", err, m)
	}
	if _, err := c.Models().Get(t.Context(), "nope"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}

	caps := NewModelsCapabilities(c.Models(), time.Minute)
	if s, k := caps.StructuredOutput(t.Context(), "openai/gpt-4o"); !s || !k {
		t.Errorf("gpt-4o: expected supported, got (%v,%v)", s, k)
	}
	if s, k := caps.StructuredOutput(t.Context(), "meta/old"); s || !k {
		t.Errorf("meta/old: expected known unsupported, got (%v,%v)", s, k)
	}
	if _, k := caps.StructuredOutput(t.Context(), "missing/model"); k {
		t.Error("missing model: expected unknown")
	}
}
