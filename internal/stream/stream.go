// Package stream consumes the server-sent event stream the gateway
// emits for a running task. One Subscription owns one live stream; it
// decodes JSON-RPC envelopes from data: lines and delivers them to a
// handler in arrival order, on a single goroutine.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dohr-michael/parley/internal/a2a"
)

// MaxEventSize caps a single SSE event payload. Oversized events surface
// as stream errors rather than silent truncation.
const MaxEventSize = 1 << 20

// Handler receives the decoded stream. Methods are always invoked from
// the subscription's reader goroutine, in order, never concurrently.
type Handler interface {
	// OnEvent delivers one decoded stream result with its sequence
	// number. The counter starts at 0 for every new subscription.
	OnEvent(seq uint64, env Envelope)

	// OnError reports a transport or parse failure. The subscription
	// closes after the call.
	OnError(err error)

	// OnClose fires exactly once when the subscription is done, whether
	// by terminal event, error or explicit Close.
	OnClose()
}

// Envelope is one decoded stream entry: either an event or an RPC-level
// error reported by the gateway inside the stream.
type Envelope struct {
	Event    *a2a.StreamEvent
	RPCError *a2a.RPCError
}

// Subscription is a live SSE stream for one task.
type Subscription struct {
	taskID    string
	body      io.ReadCloser
	handler   Handler
	closeOnce sync.Once
	closedCh  chan struct{}
}

// Open starts consuming body as an SSE stream for taskID. The caller
// hands over ownership of body; it is closed when the subscription ends.
func Open(taskID string, body io.ReadCloser, handler Handler) *Subscription {
	s := &Subscription{
		taskID:   taskID,
		body:     body,
		handler:  handler,
		closedCh: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// TaskID returns the task this subscription belongs to.
func (s *Subscription) TaskID() string { return s.taskID }

// Close tears the stream down. Safe to call multiple times and
// concurrently with the reader; the handler's OnClose still fires
// exactly once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.closedCh)
		s.body.Close()
	})
}

// Done is closed when the subscription has been torn down.
func (s *Subscription) Done() <-chan struct{} { return s.closedCh }

func (s *Subscription) closed() bool {
	select {
	case <-s.closedCh:
		return true
	default:
		return false
	}
}

func (s *Subscription) readLoop() {
	defer s.handler.OnClose()
	defer s.Close()

	var seq uint64

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 64*1024), MaxEventSize)

	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()

		// Blank line terminates one SSE event.
		if line == "" {
			if data.Len() == 0 {
				continue
			}
			payload := append([]byte(nil), data.Bytes()...)
			data.Reset()

			env, err := decodeEnvelope(payload)
			if err != nil {
				s.handler.OnError(err)
				return
			}
			s.handler.OnEvent(seq, env)
			seq++

			if terminal(env) {
				return
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// Comment / keepalive.
		default:
			// event:/id:/retry: fields are not used by the gateway.
		}
	}

	if err := scanner.Err(); err != nil && !s.closed() {
		s.handler.OnError(fmt.Errorf("read stream: %w", err))
	}
}

// terminal reports whether the envelope ends the stream.
func terminal(env Envelope) bool {
	if env.RPCError != nil {
		return true
	}
	ev := env.Event
	if ev == nil {
		return false
	}
	if ev.Kind == a2a.KindTask {
		return true
	}
	return ev.Kind == a2a.KindStatusUpdate && ev.Status != nil && ev.Status.Final
}

func decodeEnvelope(payload []byte) (Envelope, error) {
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *a2a.RPCError   `json:"error"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Envelope{}, fmt.Errorf("decode stream envelope: %w", err)
	}
	if resp.Error != nil {
		return Envelope{RPCError: resp.Error}, nil
	}
	if len(resp.Result) == 0 {
		return Envelope{}, errors.New("stream envelope has neither result nor error")
	}
	ev, err := a2a.DecodeStreamEvent(resp.Result)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: &ev}, nil
}
