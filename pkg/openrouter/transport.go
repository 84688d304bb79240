package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxErrorBody bounds how much of a failed response is read for the error.
const maxErrorBody = 1 << 20

// send issues one request against path (relative to the base URL) and returns
// the response for a 2xx status. Any other status is read and returned as an
// [APIError]. Transport failures are returned as a [TransportError].
func (c *Client) send(ctx context.Context, method, path string, body []byte, stream bool) (*http.Response, error) {
	target := c.cfg.BaseURL.JoinPath(path)

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), rd)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	req.Header = c.headerValues()
	if body == nil {
		req.Header.Del("Content-Type")
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	log := c.logger.With("method", method, "path", path, "request_id", requestID)
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.DebugContext(ctx, "openrouter: request failed", "err", err)
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	log.DebugContext(ctx, "openrouter: response", "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, rerr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if rerr != nil {
			return nil, &TransportError{Op: "read error body", Err: rerr}
		}
		return nil, parseAPIError(resp.StatusCode, raw)
	}
	return resp, nil
}

// postJSON sends body and decodes a 2xx JSON response into out. It returns
// the raw response body.
func (c *Client) postJSON(ctx context.Context, path string, body []byte, out any) ([]byte, error) {
	resp, err := c.send(ctx, http.MethodPost, path, body, false)
	if err != nil {
		return nil, err
	}
	return decodeBody(resp, path, out)
}

// getJSON decodes the 2xx JSON response of a GET request into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.send(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return err
	}
	_, err = decodeBody(resp, path, out)
	return err
}

func decodeBody(resp *http.Response, path string, out any) ([]byte, error) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read " + path, Err: err}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ProtocolError{Reason: "empty response body from " + path}
	}
	// Some upstream failures are reported with a 200 status and an error
	// document in place of the result.
	var probe struct {
		Error *wireError `json:"error"`
	}
	if json.Unmarshal(raw, &probe) == nil && probe.Error != nil {
		return nil, probe.Error.apiError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, &ProtocolError{Reason: "decode response from " + path, Data: raw, Err: err}
	}
	return raw, nil
}

// openStream sends a streaming request and wraps the body in a [Stream].
func (c *Client) openStream(ctx context.Context, path string, body []byte) (*Stream, error) {
	resp, err := c.send(ctx, http.MethodPost, path, body, true)
	if err != nil {
		return nil, err
	}
	if isJSON(resp.Header.Get("Content-Type")) {
		// Upstream failures can arrive as a plain JSON error document
		// instead of an event stream.
		defer resp.Body.Close()
		raw, rerr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if rerr != nil {
			return nil, &TransportError{Op: "read " + path, Err: rerr}
		}
		var probe struct {
			Error *wireError `json:"error"`
		}
		if json.Unmarshal(raw, &probe) == nil && probe.Error != nil {
			return nil, probe.Error.apiError(resp.StatusCode, raw)
		}
		return nil, &ProtocolError{Reason: "expected an event stream from " + path, Data: raw}
	}
	log := c.logger
	return newStream(resp.Body, func(err error) {
		if err != nil {
			log.DebugContext(ctx, "openrouter: stream ended with error", "path", path, "err", err)
			return
		}
		log.DebugContext(ctx, "openrouter: stream ended", "path", path)
	}), nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

type wireError struct {
	Code     json.RawMessage `json:"code"`
	Message  string          `json:"message"`
	Metadata map[string]any  `json:"metadata"`
}

// apiError converts the error document. A numeric code doubles as the status
// when status is 0, as it is for errors delivered inside an event stream.
func (w *wireError) apiError(status int, body []byte) *APIError {
	e := &APIError{
		StatusCode: status,
		Message:    w.Message,
		Metadata:   w.Metadata,
		Body:       body,
	}
	code := bytes.TrimSpace(w.Code)
	if len(code) == 0 || bytes.Equal(code, []byte("null")) {
		return e
	}
	var n int
	if err := json.Unmarshal(code, &n); err == nil {
		e.Code = strconv.Itoa(n)
		if e.StatusCode == 0 || (e.StatusCode >= 200 && e.StatusCode < 300) {
			e.StatusCode = n
		}
		return e
	}
	var s string
	if err := json.Unmarshal(code, &s); err == nil {
		e.Code = s
	}
	return e
}

func parseAPIError(status int, raw []byte) *APIError {
	var doc struct {
		Error *wireError `json:"error"`
	}
	if err := json.Unmarshal(raw, &doc); err == nil && doc.Error != nil {
		e := doc.Error.apiError(status, raw)
		e.StatusCode = status
		return e
	}
	return &APIError{StatusCode: status, Message: string(bytes.TrimSpace(raw)), Body: raw}
}

// rejectsStructuredOutput reports whether err is a client error from the
// service that names the structured output parameters.
func rejectsStructuredOutput(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) || ae.StatusCode < 400 || ae.StatusCode >= 500 {
		return false
	}
	text := strings.ToLower(ae.Message + " " + string(ae.Body))
	for _, needle := range []string{"response_format", "json_schema", "structured output", "structured_outputs"} {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
