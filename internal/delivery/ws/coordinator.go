package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/domain"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/journal"
)

// FeedSource produces the telemetry snapshot pushed to each connection on
// every feed tick. The snapshot content is opaque to the coordinator.
type FeedSource interface {
	Step() map[string]any
}

// Coordinator ties the registry, the dispatcher and the per-connection
// lifecycle together
type Coordinator struct {
	registry   *Registry
	dispatcher *Dispatcher
	recorder   Recorder
	metrics    *Metrics
	feed       FeedSource
	now        func() time.Time
}

// NewCoordinator wires a coordinator. recorder, metrics and feed may be nil.
func NewCoordinator(registry *Registry, recorder Recorder, metrics *Metrics, feed FeedSource) *Coordinator {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Coordinator{
		registry:   registry,
		dispatcher: NewDispatcher(registry, recorder, metrics),
		recorder:   recorder,
		metrics:    metrics,
		feed:       feed,
		now:        time.Now,
	}
}

// Registry exposes the live sessions for read-only endpoints
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Join registers a new participant, greets it privately and announces it
// to everyone else in the session.
func (c *Coordinator) Join(ctx context.Context, id string, transport domain.Transport, sessionID string) *domain.Participant {
	p := domain.NewParticipant(id, transport, sessionID)
	sid, evicted := c.registry.AddParticipant(p, sessionID)
	if evicted != nil {
		c.evict(ctx, evicted)
	}
	session := c.registry.Session(sid)
	if session == nil || c.registry.Participant(p.ID) != p {
		// evicted by a newer connection reusing the id; evict already
		// counted the disconnect
		c.metrics.Connected()
		return p
	}
	now := c.now()
	ts := domain.Timestamp(now)

	history := session.History()
	recent := make([]json.RawMessage, 0, len(history))
	for _, frame := range history {
		recent = append(recent, frame)
	}

	greeting, err := json.Marshal(domain.ConnectionEstablished{
		Type:       domain.MessageTypeConnectionEstablished,
		UserInfo:   p.Public(),
		SessionID:  sid,
		RecentChat: recent,
		Timestamp:  ts,
	})
	if err == nil {
		err = deliver(transport, greeting)
	}
	if err != nil {
		slog.Warn("join: greeting failed", "participant", p.ID, "session", sid, "err", err)
	}

	roster := session.Roster("")
	count := len(roster)
	public := p.Public()

	c.metrics.RecordBroadcast(BroadcastToOthers(session, p.ID, domain.UserJoin{
		Type:           domain.MessageTypeUserJoin,
		User:           public,
		UsersInSession: roster,
		UsersCount:     &count,
		Timestamp:      ts,
	}))
	c.metrics.RecordBroadcast(BroadcastToOthers(session, p.ID, domain.UserJoin{
		Type:           domain.MessageTypeUserJoined,
		User:           public,
		UsersInSession: roster,
		Timestamp:      ts,
	}))

	c.record(ctx, journal.KindJoin, p, now)
	c.metrics.Connected()
	c.metrics.SetSessions(c.registry.Count())

	slog.Info("participant joined", "participant", p.ID, "session", sid, "users", count)
	return p
}

// Leave removes p and tells the remaining members. It reports whether p was
// still registered; repeated calls are no-ops.
func (c *Coordinator) Leave(ctx context.Context, p *domain.Participant) bool {
	session, ok := c.registry.Release(p)
	if !ok {
		return false
	}
	now := c.now()
	ts := domain.Timestamp(now)

	count := c.announceLeave(session, p, "", ts)

	c.record(ctx, journal.KindLeave, p, now)
	c.metrics.Disconnected()
	c.metrics.SetSessions(c.registry.Count())

	slog.Info("participant left", "participant", p.ID, "session", session.ID, "users", count)
	return true
}

// evict retires a participant displaced by a newer connection with the same
// id: its old session hears it leave and its connection is closed.
func (c *Coordinator) evict(ctx context.Context, old *domain.Participant) {
	now := c.now()
	// the replacement may already sit in the same session under this id
	if session := c.registry.Session(old.SessionID); session != nil {
		c.announceLeave(session, old, old.ID, domain.Timestamp(now))
	}

	c.record(ctx, journal.KindLeave, old, now)
	c.metrics.Disconnected()

	if closer, ok := old.Transport.(domain.Closer); ok {
		closer.Close()
	}
	slog.Info("participant replaced by a newer connection", "participant", old.ID, "session", old.SessionID)
}

// announceLeave sends both leave frames for p to session, skipping excludeID,
// and returns the remaining member count.
func (c *Coordinator) announceLeave(session *Session, p *domain.Participant, excludeID string, ts float64) int {
	roster := session.Roster("")
	count := len(roster)

	c.metrics.RecordBroadcast(fanOut(session, excludeID, domain.UserLeave{
		Type:           domain.MessageTypeUserLeave,
		UserID:         p.ID,
		Username:       p.Username,
		UserColor:      p.Color,
		UsersInSession: roster,
		UsersCount:     &count,
		Timestamp:      ts,
	}))
	c.metrics.RecordBroadcast(fanOut(session, excludeID, domain.UserLeave{
		Type:           domain.MessageTypeUserLeft,
		UserID:         p.ID,
		Username:       p.Username,
		UsersInSession: roster,
		Timestamp:      ts,
	}))
	return count
}

// FeedFrame builds the telemetry frame for p: the feed snapshot tagged with
// the participant's session and its current size.
func (c *Coordinator) FeedFrame(p *domain.Participant) ([]byte, error) {
	frame := map[string]any{}
	if c.feed != nil {
		for k, v := range c.feed.Step() {
			frame[k] = v
		}
	}

	users := 0
	if s := c.registry.Session(p.SessionID); s != nil {
		users = s.Len()
	}
	frame["type"] = domain.MessageTypeTelemetry
	frame["session_id"] = p.SessionID
	frame["collaboration"] = domain.Collaboration{
		UsersCount: users,
		SessionID:  p.SessionID,
	}
	return json.Marshal(frame)
}

// Serve runs one connection from join to leave. Leave always runs, whatever
// ended the connection.
func (c *Coordinator) Serve(ctx context.Context, client *Client, id, sessionID string) error {
	p := c.Join(ctx, id, client, sessionID)
	defer c.Leave(context.WithoutCancel(ctx), p)

	onFrame := func(data []byte) { c.handleFrame(ctx, p, data) }

	var feed func() ([]byte, error)
	if c.feed != nil {
		feed = func() ([]byte, error) { return c.FeedFrame(p) }
	}

	return client.Run(ctx, onFrame, feed)
}

// handleFrame decodes and dispatches one inbound frame from p
func (c *Coordinator) handleFrame(ctx context.Context, p *domain.Participant, data []byte) {
	if c.registry.Participant(p.ID) != p {
		// replaced by a newer connection; its frames must not reach the new session
		return
	}
	msg, err := DecodeInbound(data)
	if err != nil {
		slog.Debug("ws: dropping malformed frame", "participant", p.ID, "err", err)
		return
	}
	c.dispatcher.Dispatch(ctx, p.ID, msg)
}

func (c *Coordinator) record(ctx context.Context, kind string, p *domain.Participant, at time.Time) {
	body, err := json.Marshal(p.Public())
	if err != nil {
		return
	}
	ev := journal.Event{
		SessionID:     p.SessionID,
		ParticipantID: p.ID,
		Kind:          kind,
		Body:          body,
		CreatedAt:     at,
	}
	if err := c.recorder.Record(ctx, ev); err != nil {
		slog.Warn("journal: record failed", "session", ev.SessionID, "kind", kind, "err", err)
	}
}
