package openrouter

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"slices"
	"strings"
)

var (
	ssePrefixData = []byte("data:")
	sseDone       = []byte("[DONE]")
)

// Decoder turns an event stream, delivered in arbitrarily split fragments,
// into chunks. It buffers incomplete lines between calls to
// [Decoder.Feed]. A Decoder belongs to exactly one stream; the zero value is
// ready to use.
//
// Framing:
//   - lines starting with ':' are comments and are dropped,
//   - blank lines and fields other than "data:" are dropped,
//   - "data: [DONE]" ends the stream; later input is ignored,
//   - any other "data:" line is one JSON document, an empty one included.
//
// A document that fails to decode is a [ProtocolError]; a document carrying an
// "error" object is an [APIError]. Both are terminal.
type Decoder struct {
	buf  []byte
	done bool
	err  error
}

// Feed appends p to the buffer and returns the chunks of every complete line.
// Chunks decoded before a terminal error are returned together with it.
func (d *Decoder) Feed(p []byte) ([]StreamChunk, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.done {
		return nil, nil
	}
	d.buf = append(d.buf, p...)

	var (
		out  []StreamChunk
		used int
	)
	for !d.done {
		i := bytes.IndexByte(d.buf[used:], '\n')
		if i < 0 {
			break
		}
		line := d.buf[used : used+i]
		used += i + 1

		chunk, ok, err := d.decodeLine(line)
		if err != nil {
			d.err = err
			d.buf = nil
			return out, err
		}
		if ok {
			out = append(out, chunk)
		}
	}
	if d.done {
		d.buf = nil
		return out, nil
	}
	n := copy(d.buf, d.buf[used:])
	d.buf = d.buf[:n]
	return out, nil
}

// Done reports whether the termination sentinel has been seen.
func (d *Decoder) Done() bool { return d.done }

// Finish is called once the transport reports end of stream. It fails with a
// [ProtocolError] if an incomplete line is left in the buffer, unless that
// line is the termination sentinel itself.
func (d *Decoder) Finish() error {
	if d.err != nil {
		return d.err
	}
	if d.done {
		return nil
	}
	rest := bytes.TrimSpace(d.buf)
	if len(rest) == 0 {
		return nil
	}
	if bytes.HasPrefix(rest, ssePrefixData) && bytes.Equal(bytes.TrimSpace(rest[len(ssePrefixData):]), sseDone) {
		d.done = true
		d.buf = nil
		return nil
	}
	d.err = &ProtocolError{Reason: "stream ended mid-line", Data: bytes.Clone(rest)}
	d.buf = nil
	return d.err
}

func (d *Decoder) decodeLine(line []byte) (StreamChunk, bool, error) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if len(line) == 0 || line[0] == ':' {
		return StreamChunk{}, false, nil
	}
	if !bytes.HasPrefix(line, ssePrefixData) {
		return StreamChunk{}, false, nil
	}
	data := bytes.TrimSpace(line[len(ssePrefixData):])
	if bytes.Equal(data, sseDone) {
		d.done = true
		return StreamChunk{}, false, nil
	}

	var doc chunkDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return StreamChunk{}, false, &ProtocolError{Reason: "decode chunk", Data: bytes.Clone(data), Err: err}
	}
	if doc.Error != nil {
		return StreamChunk{}, false, doc.Error.apiError(0, bytes.Clone(data))
	}
	return doc.StreamChunk, true, nil
}

type chunkDocument struct {
	StreamChunk
	Error *wireError `json:"error"`
}

// Stream is the lazy sequence of chunks of one streaming call. It is not safe
// for concurrent use. Callers must call [Stream.Close] when they stop reading
// early; reading to the end releases the connection automatically.
//
//	for stream.Next() {
//		fmt.Print(stream.Current().Content())
//	}
//	if err := stream.Err(); err != nil { ... }
type Stream struct {
	body     io.ReadCloser
	dec      Decoder
	readBuf  []byte
	pending  []StreamChunk
	cur      StreamChunk
	err      error
	terminal bool
	closeErr error
	onEnd    func(error)
}

const streamReadSize = 4096

func newStream(body io.ReadCloser, onEnd func(error)) *Stream {
	return &Stream{
		body:    body,
		readBuf: make([]byte, streamReadSize),
		onEnd:   onEnd,
	}
}

// Next advances to the next chunk. It returns false when the stream has
// ended or failed; [Stream.Err] distinguishes the two.
func (s *Stream) Next() bool {
	for len(s.pending) == 0 {
		if s.terminal {
			return false
		}
		s.fill()
	}
	c := s.pending[0]
	s.pending = s.pending[1:]
	if c.Choices == nil {
		// Chunks are delivered in order, so this error precedes any error
		// the stream may already have ended with.
		perr := &ProtocolError{Reason: "chunk has no choices field"}
		s.pending = nil
		s.end(perr)
		s.err = perr
		return false
	}
	s.cur = c
	return true
}

func (s *Stream) fill() {
	n, rerr := s.body.Read(s.readBuf)
	if n > 0 {
		chunks, err := s.dec.Feed(s.readBuf[:n])
		s.pending = append(s.pending, chunks...)
		if err != nil {
			s.end(err)
			return
		}
		if s.dec.Done() {
			s.end(nil)
			return
		}
	}
	switch {
	case errors.Is(rerr, io.EOF):
		s.end(s.dec.Finish())
	case rerr != nil:
		s.end(&TransportError{Op: "read stream", Err: rerr})
	}
}

func (s *Stream) end(err error) {
	if s.terminal {
		return
	}
	s.terminal = true
	s.err = err
	s.closeErr = s.body.Close()
	if s.onEnd != nil {
		s.onEnd(err)
	}
}

// Current returns the chunk produced by the last successful [Stream.Next].
func (s *Stream) Current() StreamChunk { return s.cur }

// Err returns the error that ended the stream, or nil after a clean end.
func (s *Stream) Err() error { return s.err }

// Close abandons the stream and releases the connection. It is safe to call
// more than once and after the stream has ended.
func (s *Stream) Close() error {
	if !s.terminal {
		s.pending = nil
		s.end(nil)
	}
	return s.closeErr
}

// All returns the remaining chunks as an iterator. A terminal error is
// yielded once as the final pair. The stream is closed when iteration stops.
func (s *Stream) All() iter.Seq2[StreamChunk, error] {
	return func(yield func(StreamChunk, error) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.cur, nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(StreamChunk{}, err)
		}
	}
}

// Accumulator reassembles streamed chunks into a complete chat response.
// Tool call fragments are merged by index.
type Accumulator struct {
	resp    ChatCompletionResponse
	choices map[int]*accChoice
	order   []int
}

type accChoice struct {
	role      Role
	content   strings.Builder
	finish    string
	native    string
	calls     map[int]*ToolCall
	callOrder []int
}

// Add merges one chunk.
func (a *Accumulator) Add(c StreamChunk) {
	if a.choices == nil {
		a.choices = make(map[int]*accChoice)
	}
	if c.ID != "" {
		a.resp.ID = c.ID
	}
	if c.Model != "" {
		a.resp.Model = c.Model
	}
	if c.Provider != "" {
		a.resp.Provider = c.Provider
	}
	if c.Created != 0 {
		a.resp.Created = c.Created
	}
	if c.Usage != nil {
		u := *c.Usage
		a.resp.Usage = &u
	}
	for _, sc := range c.Choices {
		ch, ok := a.choices[sc.Index]
		if !ok {
			ch = &accChoice{role: RoleAssistant, calls: make(map[int]*ToolCall)}
			a.choices[sc.Index] = ch
			a.order = append(a.order, sc.Index)
		}
		if sc.Delta.Role != "" {
			ch.role = sc.Delta.Role
		}
		ch.content.WriteString(sc.Delta.Content)
		ch.content.WriteString(sc.Text)
		if sc.FinishReason != "" {
			ch.finish = sc.FinishReason
		}
		if sc.NativeFinishReason != "" {
			ch.native = sc.NativeFinishReason
		}
		for _, d := range sc.Delta.ToolCalls {
			tc, ok := ch.calls[d.Index]
			if !ok {
				tc = &ToolCall{Type: ToolCallTypeFunction}
				ch.calls[d.Index] = tc
				ch.callOrder = append(ch.callOrder, d.Index)
			}
			if d.ID != "" {
				tc.ID = d.ID
			}
			if d.Type != "" {
				tc.Type = d.Type
			}
			if d.Function.Name != "" {
				tc.Function.Name = d.Function.Name
			}
			tc.Function.Arguments += d.Function.Arguments
		}
	}
}

// Response returns the response assembled so far. Choices are ordered by
// index.
func (a *Accumulator) Response() *ChatCompletionResponse {
	resp := a.resp
	if resp.Usage != nil {
		u := *resp.Usage
		resp.Usage = &u
	}
	idx := slices.Clone(a.order)
	slices.Sort(idx)
	resp.Choices = make([]ChatChoice, 0, len(idx))
	for _, i := range idx {
		ch := a.choices[i]
		msg := Message{Role: ch.role, Content: ch.content.String()}
		calls := slices.Clone(ch.callOrder)
		slices.Sort(calls)
		for _, ci := range calls {
			msg.ToolCalls = append(msg.ToolCalls, *ch.calls[ci])
		}
		resp.Choices = append(resp.Choices, ChatChoice{
			Index:              i,
			Message:            msg,
			FinishReason:       ch.finish,
			NativeFinishReason: ch.native,
		})
	}
	return &resp
}
