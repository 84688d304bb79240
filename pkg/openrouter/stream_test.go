package openrouter

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// feedAll feeds each fragment and returns all chunks, stopping at the first
// error.
func feedAll(t *testing.T, d *Decoder, fragments ...string) ([]StreamChunk, error) {
	t.Helper()
	var out []StreamChunk
	for _, f := range fragments {
		chunks, err := d.Feed([]byte(f))
		out = append(out, chunks...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// TestDecoder_SplitAtEveryOffset checks that a two-event stream decodes to
// one chunk and a clean end regardless of where the input is split.
func TestDecoder_SplitAtEveryOffset(t *testing.T) {
	input := "data: {\"a\":1}\n" + "data: [DONE]\n"
	for i := 0; i <= len(input); i++ {
		var d Decoder
		chunks, err := feedAll(t, &d, input[:i], input[i:])
		if err != nil {
			t.Fatalf("split %d: unexpected error: %v", i, err)
		}
		if len(chunks) != 1 {
			t.Fatalf("split %d: expected 1 chunk, got %d", i, len(chunks))
		}
		if !d.Done() {
			t.Errorf("split %d: expected decoder to be done", i)
		}
		if err := d.Finish(); err != nil {
			t.Errorf("split %d: Finish: %v", i, err)
		}
	}
}

// TestDecoder_ByteAtATime checks that single-byte fragments reassemble.
func TestDecoder_ByteAtATime(t *testing.T) {
	input := `data: {"id":"x","choices":[{"index":0,"delta":{"content":"héllo"}}]}` + "\n\ndata: [DONE]\n"
	var d Decoder
	var got []StreamChunk
	for i := 0; i < len(input); i++ {
		chunks, err := d.Feed([]byte{input[i]})
		if err != nil {
			t.Fatalf("offset %d: %v", i, err)
		}
		got = append(got, chunks...)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(got))
	}
	if got[0].Content() != "héllo" {
		t.Errorf("expected content héllo, got %q", got[0].Content())
	}
}

// TestDecoder_CommentsAndBlankLines checks that heartbeats produce no chunks.
func TestDecoder_CommentsAndBlankLines(t *testing.T) {
	var d Decoder
	chunks, err := feedAll(t, &d,
		": OPENROUTER PROCESSING\n",
		"\n",
		": keep-alive\r\n",
		"event: message\n",
		"id: 7\n",
		"data: [DONE]\n",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
	if !d.Done() {
		t.Error("expected decoder to be done")
	}
}

// TestDecoder_CRLF checks that CRLF line endings are accepted.
func TestDecoder_CRLF(t *testing.T) {
	var d Decoder
	chunks, err := feedAll(t, &d, "data: {\"choices\":[]}\r\n", "data: [DONE]\r\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 || !d.Done() {
		t.Fatalf("expected 1 chunk and done, got %d chunks done=%v", len(chunks), d.Done())
	}
}

// TestDecoder_IgnoresInputAfterDone checks that nothing after the sentinel is
// decoded, not even garbage.
func TestDecoder_IgnoresInputAfterDone(t *testing.T) {
	var d Decoder
	chunks, err := feedAll(t, &d, "data: [DONE]\ndata: {not json}\n", "data: {\"choices\":[]}\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks after DONE, got %d", len(chunks))
	}
	if err := d.Finish(); err != nil {
		t.Errorf("Finish: %v", err)
	}
}

// TestDecoder_MalformedJSON checks that an undecodable document is a
// terminal ProtocolError and that earlier chunks are still returned.
func TestDecoder_MalformedJSON(t *testing.T) {
	var d Decoder
	chunks, err := d.Feed([]byte("data: {\"choices\":[]}\ndata: {\"choices\": [\n"))
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
	}
	if len(chunks) != 1 {
		t.Errorf("expected the chunk before the failure, got %d", len(chunks))
	}
	if _, err := d.Feed([]byte("data: [DONE]\n")); !errors.As(err, &pe) {
		t.Errorf("expected the error to be sticky, got %v", err)
	}
}

// TestDecoder_EmptyData checks that a data field with nothing after it is
// decoded like any other document and fails instead of being skipped.
func TestDecoder_EmptyData(t *testing.T) {
	for _, in := range []string{"data:\n", "data:   \n", "data:\r\n"} {
		var d Decoder
		chunks, err := d.Feed([]byte(in))
		var pe *ProtocolError
		if !errors.As(err, &pe) {
			t.Errorf("Feed(%q): expected *ProtocolError, got %T: %v", in, err, err)
		}
		if len(chunks) != 0 {
			t.Errorf("Feed(%q): expected no chunks, got %d", in, len(chunks))
		}
	}
}

// TestDecoder_TruncatedStream checks that a partial trailing line without
// DONE fails at Finish.
func TestDecoder_TruncatedStream(t *testing.T) {
	var d Decoder
	if _, err := feedAll(t, &d, "data: {\"choices\":[]}\n", "data: {\"choi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := d.Finish()
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
	}
}

// TestDecoder_CleanEOFWithoutDone checks that a stream ending on a line
// boundary without the sentinel ends successfully.
func TestDecoder_CleanEOFWithoutDone(t *testing.T) {
	var d Decoder
	if _, err := feedAll(t, &d, "data: {\"choices\":[]}\n\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Finish(); err != nil {
		t.Errorf("expected clean end, got %v", err)
	}
}

// TestDecoder_TrailingDoneWithoutNewline checks that an unterminated sentinel
// still ends the stream.
func TestDecoder_TrailingDoneWithoutNewline(t *testing.T) {
	var d Decoder
	if _, err := feedAll(t, &d, "data: {\"choices\":[]}\n", "data: [DONE]"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Finish(); err != nil {
		t.Errorf("expected clean end, got %v", err)
	}
	if !d.Done() {
		t.Error("expected decoder to be done")
	}
}

// TestDecoder_ErrorDocument checks that an in-stream error becomes an
// APIError carrying the code.
func TestDecoder_ErrorDocument(t *testing.T) {
	var d Decoder
	_, err := d.Feed([]byte(`data: {"error":{"code":502,"message":"upstream failed","metadata":{"provider_name":"X"}}}` + "\n"))
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if ae.StatusCode != 502 || ae.Code != "502" {
		t.Errorf("expected status and code 502, got %d %q", ae.StatusCode, ae.Code)
	}
	if ae.Message != "upstream failed" {
		t.Errorf("unexpected message %q", ae.Message)
	}
	if ae.Metadata["provider_name"] != "X" {
		t.Errorf("expected metadata to be kept, got %v", ae.Metadata)
	}
}

// errAfterReader returns data and then err.
type errAfterReader struct {
	r   io.Reader
	err error
}

func (e *errAfterReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err == io.EOF {
		return n, e.err
	}
	return n, err
}

type trackingBody struct {
	io.Reader
	closed int
}

func (b *trackingBody) Close() error {
	b.closed++
	return nil
}

func newTestStream(r io.Reader) (*Stream, *trackingBody) {
	body := &trackingBody{Reader: r}
	return newStream(body, nil), body
}

// TestStream_Sequence checks ordered delivery and closing at the end.
func TestStream_Sequence(t *testing.T) {
	input := `data: {"id":"1","choices":[{"index":0,"delta":{"content":"Hel"}}]}` + "\n" +
		": ping\n" +
		`data: {"id":"1","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}` + "\n" +
		"data: [DONE]\n"
	s, body := newTestStream(strings.NewReader(input))

	var text strings.Builder
	var last StreamChunk
	for s.Next() {
		last = s.Current()
		text.WriteString(last.Content())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text.String() != "Hello" {
		t.Errorf("expected Hello, got %q", text.String())
	}
	if last.FinishReason() != "stop" {
		t.Errorf("expected finish reason stop, got %q", last.FinishReason())
	}
	if last.Usage == nil || last.Usage.TotalTokens != 5 {
		t.Errorf("expected usage on terminal chunk, got %+v", last.Usage)
	}
	if body.closed != 1 {
		t.Errorf("expected body closed once, got %d", body.closed)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close after end: %v", err)
	}
	if body.closed != 1 {
		t.Errorf("Close after end must not close again, got %d", body.closed)
	}
}

// TestStream_MissingChoices checks that a chunk without choices fails the
// typed stream.
func TestStream_MissingChoices(t *testing.T) {
	s, _ := newTestStream(strings.NewReader("data: {\"a\":1}\ndata: [DONE]\n"))
	if s.Next() {
		t.Fatal("expected Next to fail")
	}
	var pe *ProtocolError
	if !errors.As(s.Err(), &pe) {
		t.Fatalf("expected *ProtocolError, got %T: %v", s.Err(), s.Err())
	}
}

// TestStream_ReadError checks that a transport failure mid-stream surfaces as
// a TransportError after the chunks already received.
func TestStream_ReadError(t *testing.T) {
	cause := errors.New("connection reset")
	r := &errAfterReader{r: strings.NewReader("data: {\"choices\":[]}\n"), err: cause}
	s, _ := newTestStream(r)

	n := 0
	for s.Next() {
		n++
	}
	if n != 1 {
		t.Errorf("expected 1 chunk before the failure, got %d", n)
	}
	var te *TransportError
	if !errors.As(s.Err(), &te) {
		t.Fatalf("expected *TransportError, got %T: %v", s.Err(), s.Err())
	}
	if !errors.Is(s.Err(), cause) {
		t.Error("expected the cause to be passed through")
	}
}

// TestStream_Truncated checks the ProtocolError for a body cut mid-line.
func TestStream_Truncated(t *testing.T) {
	s, _ := newTestStream(strings.NewReader("data: {\"choices\":[]}\ndata: {\"cho"))
	for s.Next() {
	}
	var pe *ProtocolError
	if !errors.As(s.Err(), &pe) {
		t.Fatalf("expected *ProtocolError, got %T: %v", s.Err(), s.Err())
	}
}

// TestStream_CloseEarly checks that abandoning a stream closes the body.
func TestStream_CloseEarly(t *testing.T) {
	input := strings.Repeat(`data: {"choices":[{"index":0,"delta":{"content":"x"}}]}`+"\n", 100)
	s, body := newTestStream(strings.NewReader(input))
	if !s.Next() {
		t.Fatalf("expected a chunk: %v", s.Err())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if body.closed != 1 {
		t.Errorf("expected body closed, got %d", body.closed)
	}
	if s.Next() {
		t.Error("expected Next to return false after Close")
	}
}

// TestStream_All checks the iterator form, including early break.
func TestStream_All(t *testing.T) {
	input := `data: {"choices":[{"index":0,"delta":{"content":"a"}}]}` + "\n" +
		`data: {"choices":[{"index":0,"delta":{"content":"b"}}]}` + "\n" +
		"data: [DONE]\n"

	s, _ := newTestStream(strings.NewReader(input))
	var got []string
	for c, err := range s.All() {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, c.Content())
	}
	if strings.Join(got, "") != "ab" {
		t.Errorf("expected ab, got %v", got)
	}

	s, body := newTestStream(strings.NewReader(input))
	for range s.All() {
		break
	}
	if body.closed != 1 {
		t.Errorf("expected body closed after break, got %d", body.closed)
	}

	s, _ = newTestStream(strings.NewReader("data: nope\n"))
	var sawErr error
	for _, err := range s.All() {
		sawErr = err
	}
	var pe *ProtocolError
	if !errors.As(sawErr, &pe) {
		t.Errorf("expected the iterator to yield a ProtocolError, got %v", sawErr)
	}
}

// TestAccumulator_MergesToolCalls checks tool call reassembly by index.
func TestAccumulator_MergesToolCalls(t *testing.T) {
	var a Accumulator
	chunk := func(d Delta, finish string) StreamChunk {
		return StreamChunk{ID: "gen-1", Model: "m", Choices: []StreamChoice{{Index: 0, Delta: d, FinishReason: finish}}}
	}
	tcd := func(idx int, id, name, args string) ToolCallDelta {
		var d ToolCallDelta
		d.Index, d.ID = idx, id
		d.Function.Name, d.Function.Arguments = name, args
		return d
	}

	a.Add(chunk(Delta{Role: RoleAssistant, Content: "Let me check. "}, ""))
	a.Add(chunk(Delta{ToolCalls: []ToolCallDelta{tcd(0, "call_a", "weather", `{"ci`)}}, ""))
	a.Add(chunk(Delta{ToolCalls: []ToolCallDelta{tcd(1, "call_b", "time", `{}`)}}, ""))
	a.Add(chunk(Delta{ToolCalls: []ToolCallDelta{tcd(0, "", "", `ty":"Berlin"}`)}}, "tool_calls"))
	a.Add(StreamChunk{Choices: []StreamChoice{}, Usage: &Usage{TotalTokens: 9}})

	resp := a.Response()
	if resp.ID != "gen-1" || resp.Model != "m" {
		t.Errorf("unexpected id/model %q/%q", resp.ID, resp.Model)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(resp.Choices))
	}
	msg := resp.Choices[0].Message
	if msg.Content != "Let me check. " {
		t.Errorf("unexpected content %q", msg.Content)
	}
	if len(msg.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(msg.ToolCalls))
	}
	if msg.ToolCalls[0].ID != "call_a" || msg.ToolCalls[0].Function.Arguments != `{"city":"Berlin"}` {
		t.Errorf("unexpected first call %+v", msg.ToolCalls[0])
	}
	if msg.ToolCalls[1].Function.Name != "time" || msg.ToolCalls[1].Type != ToolCallTypeFunction {
		t.Errorf("unexpected second call %+v", msg.ToolCalls[1])
	}
	if resp.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("expected finish reason tool_calls, got %q", resp.Choices[0].FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 9 {
		t.Errorf("expected usage, got %+v", resp.Usage)
	}
	if err := resp.ValidateToolCalls(); err != nil {
		t.Errorf("ValidateToolCalls: %v", err)
	}
}
