package ws

import (
	"testing"

	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/domain"
)

func TestBroadcastToOthers_SkipsSender(t *testing.T) {
	r := NewRegistry(10)
	trA, trB, trC := &fakeTransport{}, &fakeTransport{}, &fakeTransport{}
	r.AddParticipant(domain.NewParticipant("a", trA, "s"), "s")
	r.AddParticipant(domain.NewParticipant("b", trB, "s"), "s")
	r.AddParticipant(domain.NewParticipant("c", trC, "s"), "s")

	res := BroadcastToOthers(r.Session("s"), "a", map[string]string{"type": "ping"})
	if res.Sent != 2 || res.Failed != 0 {
		t.Errorf("Expected 2 sent 0 failed, got %+v", res)
	}
	if len(trA.raw()) != 0 {
		t.Error("Sender should not receive its own broadcast")
	}
	if len(trB.raw()) != 1 || len(trC.raw()) != 1 {
		t.Error("Expected every other member to receive exactly one frame")
	}
}

func TestBroadcast_FailingRecipientIsolated(t *testing.T) {
	r := NewRegistry(10)
	good := &fakeTransport{}
	r.AddParticipant(domain.NewParticipant("bad", failingTransport{}, "s"), "s")
	r.AddParticipant(domain.NewParticipant("boom", panickingTransport{}, "s"), "s")
	r.AddParticipant(domain.NewParticipant("nil", nil, "s"), "s")
	r.AddParticipant(domain.NewParticipant("good", good, "s"), "s")

	res := BroadcastToAll(r.Session("s"), []byte(`{"type":"x"}`))
	if res.Sent != 1 || res.Failed != 3 {
		t.Errorf("Expected 1 sent 3 failed, got %+v", res)
	}
	if frames := good.raw(); len(frames) != 1 || string(frames[0]) != `{"type":"x"}` {
		t.Errorf("Healthy recipient got %q", frames)
	}
}

func TestBroadcast_NilSession(t *testing.T) {
	res := BroadcastToAll(nil, []byte(`{}`))
	if res.Sent != 0 || res.Failed != 0 {
		t.Errorf("Expected empty result, got %+v", res)
	}
}

func TestBroadcast_SessionIsolation(t *testing.T) {
	r := NewRegistry(10)
	in, out := &fakeTransport{}, &fakeTransport{}
	r.AddParticipant(domain.NewParticipant("a", &fakeTransport{}, "s1"), "s1")
	r.AddParticipant(domain.NewParticipant("b", in, "s1"), "s1")
	r.AddParticipant(domain.NewParticipant("c", out, "s2"), "s2")

	BroadcastToOthers(r.Session("s1"), "a", []byte(`{"type":"x"}`))
	if len(in.raw()) != 1 {
		t.Error("Expected same-session member to receive the frame")
	}
	if len(out.raw()) != 0 {
		t.Error("Frame leaked into another session")
	}
}
