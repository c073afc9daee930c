package domain

import (
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultSessionID is used when a client does not name a session
const DefaultSessionID = "default"

// Transport pushes an encoded frame to one client. Implementations must not block.
type Transport interface {
	Send(msg []byte) error
}

// Closer is implemented by transports the server can hang up on
type Closer interface {
	Close()
}

// Participant represents one connected client within a session
type Participant struct {
	ID          string
	Username    string
	Color       string // "#rrggbb", derived from ID
	SessionID   string
	ConnectedAt time.Time
	Transport   Transport

	mu           sync.RWMutex
	cursorX      float64
	cursorY      float64
	lastActivity time.Time
}

// PublicParticipant is the projection of a participant shared with other clients
type PublicParticipant struct {
	UserID      string  `json:"user_id"`
	Username    string  `json:"username"`
	Color       string  `json:"color"`
	CursorX     float64 `json:"cursor_x"`
	CursorY     float64 `json:"cursor_y"`
	SessionID   string  `json:"session_id"`
	ConnectedAt float64 `json:"connected_at"`
}

// NewParticipant creates a participant whose username and color are derived from id
func NewParticipant(id string, transport Transport, sessionID string) *Participant {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	now := time.Now()
	return &Participant{
		ID:           id,
		Username:     UsernameFor(id),
		Color:        ColorFor(id),
		SessionID:    sessionID,
		ConnectedAt:  now,
		Transport:    transport,
		cursorX:      0.5,
		cursorY:      0.5,
		lastActivity: now,
	}
}

// UsernameFor returns the display name for a participant id
func UsernameFor(id string) string {
	if len(id) > 6 {
		id = id[:6]
	}
	return "User_" + id
}

// ColorFor returns a stable hex color: the first 6 hex digits of md5(id)
func ColorFor(id string) string {
	sum := md5.Sum([]byte(id))
	return "#" + hex.EncodeToString(sum[:])[:6]
}

// MoveCursor stores a clamped cursor position and touches activity
func (p *Participant) MoveCursor(x, y float64) (float64, float64) {
	x, y = Clamp01(x), Clamp01(y)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursorX = x
	p.cursorY = y
	p.lastActivity = time.Now()
	return x, y
}

// Cursor returns the last known cursor position
func (p *Participant) Cursor() (x, y float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursorX, p.cursorY
}

// LastActivity returns the time of the last cursor update (or the connect time)
func (p *Participant) LastActivity() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastActivity
}

// Public returns the serializable view of the participant
func (p *Participant) Public() PublicParticipant {
	x, y := p.Cursor()
	return PublicParticipant{
		UserID:      p.ID,
		Username:    p.Username,
		Color:       p.Color,
		CursorX:     x,
		CursorY:     y,
		SessionID:   p.SessionID,
		ConnectedAt: Timestamp(p.ConnectedAt),
	}
}

// Clamp01 limits v to [0, 1]
func Clamp01(v float64) float64 {
	if v != v { // NaN
		return 0.5
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Timestamp converts t to fractional unix seconds
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// TimestampMillis converts t to fractional unix milliseconds
func TimestampMillis(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Millisecond)
}
