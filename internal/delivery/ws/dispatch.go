package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/domain"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/journal"
)

var (
	defaultSource          = json.RawMessage(`"unknown"`)
	defaultInteractionType = json.RawMessage(`"click"`)
)

// Recorder persists session events. Failures are logged by the caller and
// never affect delivery.
type Recorder interface {
	Record(ctx context.Context, ev journal.Event) error
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, journal.Event) error { return nil }

// Dispatcher turns one inbound client message into the broadcast seen by
// the rest of the sender's session. It keeps no per-parameter state:
// whatever arrives last for a parameter is what everyone saw last.
type Dispatcher struct {
	registry *Registry
	recorder Recorder
	metrics  *Metrics
	now      func() time.Time
}

// NewDispatcher creates a dispatcher resolving senders through registry
func NewDispatcher(registry *Registry, recorder Recorder, metrics *Metrics) *Dispatcher {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Dispatcher{
		registry: registry,
		recorder: recorder,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Dispatch handles msg from senderID. A sender that already left, or a
// message type this server does not know, is dropped silently.
func (d *Dispatcher) Dispatch(ctx context.Context, senderID string, msg Inbound) {
	session := d.registry.SessionOf(senderID)
	sender := d.registry.Participant(senderID)
	if session == nil || sender == nil {
		slog.Debug("dispatch: sender not in a session", "participant", senderID)
		return
	}

	now := d.now()
	ts := domain.Timestamp(now)
	from := domain.AttributionOf(sender)

	var out any
	switch m := msg.(type) {
	case CursorMove:
		x, y := 0.5, 0.5
		if m.X != nil {
			x = *m.X
		}
		if m.Y != nil {
			y = *m.Y
		}
		x, y = sender.MoveCursor(x, y)
		out = domain.CursorUpdate{
			Type:      domain.MessageTypeCursorUpdate,
			UserID:    sender.ID,
			Username:  sender.Username,
			Color:     sender.Color,
			X:         x,
			Y:         y,
			Timestamp: ts,
		}

	case ParameterChange:
		out = domain.ParameterUpdate{
			Type:        domain.MessageTypeParameterUpdate,
			Attribution: from,
			Parameter:   m.Parameter,
			Value:       m.Value,
			Source:      orDefault(m.Source, defaultSource),
			Timestamp:   ts,
		}

	case SpriteInteraction:
		out = domain.SpriteInteraction{
			Type:            domain.MessageTypeSpriteBroadcast,
			Attribution:     from,
			MediaID:         m.MediaID,
			InteractionType: orDefault(m.InteractionType, defaultInteractionType),
			Timestamp:       ts,
		}

	case PresetApplied:
		out = domain.PresetApplied{
			Type:        domain.MessageTypePresetBroadcast,
			Attribution: from,
			PresetName:  m.PresetName,
			PresetData:  m.PresetData,
			Timestamp:   ts,
		}

	case ChatMessage:
		stamp := m.Timestamp
		if len(stamp) == 0 {
			stamp, _ = json.Marshal(domain.TimestampMillis(now))
		}
		chat := domain.ChatBroadcast{
			Type:        domain.MessageTypeChatBroadcast,
			Attribution: from,
			Message:     m.Message,
			Timestamp:   stamp,
		}
		data, err := json.Marshal(chat)
		if err != nil {
			slog.Warn("dispatch: encode chat failed", "participant", senderID, "err", err)
			return
		}
		session.history.Add(data)
		d.record(ctx, journal.Event{
			SessionID:     session.ID,
			ParticipantID: sender.ID,
			Kind:          journal.KindChat,
			Body:          data,
			CreatedAt:     now,
		})
		out = data

	default:
		return
	}

	d.metrics.RecordDispatch(string(msg.Kind()))
	d.metrics.RecordBroadcast(BroadcastToOthers(session, senderID, out))
}

func (d *Dispatcher) record(ctx context.Context, ev journal.Event) {
	if err := d.recorder.Record(ctx, ev); err != nil {
		slog.Warn("journal: record failed", "session", ev.SessionID, "kind", ev.Kind, "err", err)
	}
}

func orDefault(v, def json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return def
	}
	return v
}
