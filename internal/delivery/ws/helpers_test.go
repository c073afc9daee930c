package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/domain"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/journal"
)

// fakeTransport records every frame it is sent
type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, msg)
	return nil
}

func (f *fakeTransport) messages(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]map[string]any, 0, len(f.frames))
	for _, frame := range f.frames {
		var m map[string]any
		if err := json.Unmarshal(frame, &m); err != nil {
			t.Fatalf("frame is not a JSON object: %s", frame)
		}
		out = append(out, m)
	}
	return out
}

func (f *fakeTransport) ofType(t *testing.T, typ domain.MessageType) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range f.messages(t) {
		if m["type"] == string(typ) {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) raw() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

// failingTransport rejects every frame
type failingTransport struct{}

func (failingTransport) Send([]byte) error { return errors.New("connection reset") }

// panickingTransport blows up on send
type panickingTransport struct{}

func (panickingTransport) Send([]byte) error { panic("write on closed socket") }

// memRecorder keeps journal events in memory
type memRecorder struct {
	mu     sync.Mutex
	events []journal.Event
	err    error
}

func (r *memRecorder) Record(_ context.Context, ev journal.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *memRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func join(t *testing.T, c *Coordinator, id, sessionID string) (*domain.Participant, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	p := c.Join(context.Background(), id, tr, sessionID)
	return p, tr
}
