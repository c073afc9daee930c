package ws

import (
	"encoding/json"
	"log/slog"

	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/domain"
)

// BroadcastResult counts the outcome of one fan-out
type BroadcastResult struct {
	Sent   int
	Failed int
}

// BroadcastToOthers sends msg to every member of s except senderID.
// A failing recipient is logged and skipped; it never stops the fan-out.
func BroadcastToOthers(s *Session, senderID string, msg any) BroadcastResult {
	return fanOut(s, senderID, msg)
}

// BroadcastToAll sends msg to every member of s with the same isolation
// guarantee as BroadcastToOthers.
func BroadcastToAll(s *Session, msg any) BroadcastResult {
	return fanOut(s, "", msg)
}

func fanOut(s *Session, excludeID string, msg any) BroadcastResult {
	var res BroadcastResult
	if s == nil {
		return res
	}

	data, err := encode(msg)
	if err != nil {
		slog.Error("broadcast: encode failed", "session", s.ID, "err", err)
		return res
	}

	for _, p := range s.Participants() {
		if p.ID == excludeID {
			continue
		}
		if err := deliver(p.Transport, data); err != nil {
			res.Failed++
			slog.Warn("broadcast: delivery failed",
				"session", s.ID, "participant", p.ID, "err", err)
			continue
		}
		res.Sent++
	}
	return res
}

// deliver shields the fan-out from a panicking transport
func deliver(t domain.Transport, data []byte) (err error) {
	if t == nil {
		return ErrNoTransport
	}
	defer func() {
		if r := recover(); r != nil {
			err = &transportPanic{value: r}
		}
	}()
	return t.Send(data)
}

func encode(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	default:
		return json.Marshal(msg)
	}
}
