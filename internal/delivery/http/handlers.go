package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/delivery/ws"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/domain"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/journal"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/logger"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/usecase"
)

const (
	maxControlBody    = 64 * 1024
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// EngineControl is the part of the telemetry engine exposed over /control
type EngineControl interface {
	SetPMW(v float64) error
	AddPulse(k int, amp, decay float64) error
	PMW() float64
	PulseCount() int
}

// EventLister reads the session journal
type EventLister interface {
	List(ctx context.Context, sessionID string, limit int) ([]journal.Event, error)
}

// isOriginAllowed checks if the origin is in the allowed list
func isOriginAllowed(allowed []string, origin string) bool {
	// Empty origin is allowed (same-origin and non-browser clients)
	if origin == "" {
		return true
	}

	for _, a := range allowed {
		if a == "*" || origin == a {
			return true
		}
	}
	return false
}

type Handler struct {
	coord    *ws.Coordinator
	engine   EngineControl
	events   EventLister // nil when the journal is disabled
	upgrader websocket.Upgrader
	client   ws.ClientOptions
	started  time.Time
	conns    sync.WaitGroup
}

// HandlerOptions carries the optional collaborators and tuning of a Handler
type HandlerOptions struct {
	AllowedOrigins []string
	Client         ws.ClientOptions
	Events         EventLister
}

func NewHandler(coord *ws.Coordinator, engine EngineControl, opts HandlerOptions) *Handler {
	origins := append([]string(nil), opts.AllowedOrigins...)
	return &Handler{
		coord:  coord,
		engine: engine,
		events: opts.Events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return isOriginAllowed(origins, r.Header.Get("Origin"))
			},
		},
		client:  opts.Client,
		started: time.Now(),
	}
}

// HandleStatus serves the plain status page
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	registry := h.coord.Registry()
	users := 0
	for _, s := range registry.Sessions() {
		users += s.Len()
	}
	component := StatusPage(StatusView{
		Sessions: registry.Count(),
		Users:    users,
		PMW:      h.engine.PMW(),
		Pulses:   h.engine.PulseCount(),
		Uptime:   time.Since(h.started).Truncate(time.Second),
	})
	if err := component.Render(r.Context(), w); err != nil {
		logger.FromCtx(r.Context()).Warn("status page render failed", "err", err)
	}
}

// HandleHealth reports liveness
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleWebSocket upgrades /telemetry and serves the connection until it ends
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	userID := q.Get("user_id")

	if sessionID != "" && !ws.IsValidID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid session_id")
		return
	}
	if userID == "" {
		userID = uuid.New().String()
	} else if !ws.IsValidID(userID) {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	h.conns.Add(1)
	defer h.conns.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client
		return
	}

	client := ws.NewClient(conn, h.client)
	if err := h.coord.Serve(r.Context(), client, userID, sessionID); err != nil {
		logger.FromCtx(r.Context()).Debug("ws: connection ended", "participant", userID, "err", err)
	}
}

// Drain waits until every upgraded connection has run its leave, or ctx ends
func (h *Handler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type controlRequest struct {
	Set *struct {
		PMW *float64 `json:"pmw"`
	} `json:"set"`
	Pulse *struct {
		K     *float64 `json:"k"`
		Amp   *float64 `json:"amp"`
		Decay *float64 `json:"decay"`
	} `json:"pulse"`
}

type pulseParams struct {
	k          int
	amp, decay float64
}

type controlResponse struct {
	OK     bool    `json:"ok"`
	PMW    float64 `json:"pmw"`
	Pulses int     `json:"pulses"`
}

// HandleControl adjusts the telemetry engine
func (h *Handler) HandleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	body := http.MaxBytesReader(w, r.Body, maxControlBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// validate everything first so a rejected request changes nothing
	var pmw *float64
	if req.Set != nil && req.Set.PMW != nil {
		pmw = req.Set.PMW
		if err := usecase.ValidatePMW(*pmw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	var pulse *pulseParams
	if p := req.Pulse; p != nil {
		pulse = &pulseParams{amp: usecase.DefaultPulseAmp, decay: usecase.DefaultPulseDecay}
		if p.K != nil {
			// bounded before the int conversion; the engine clamps into its mode range
			pulse.k = int(math.Max(-1, math.Min(*p.K, usecase.DefaultModes)))
		}
		if p.Amp != nil {
			pulse.amp = *p.Amp
		}
		if p.Decay != nil {
			pulse.decay = *p.Decay
		}
		if err := usecase.ValidatePulse(pulse.amp, pulse.decay); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if pmw != nil {
		if err := h.engine.SetPMW(*pmw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if pulse != nil {
		if err := h.engine.AddPulse(pulse.k, pulse.amp, pulse.decay); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, controlResponse{
		OK:     true,
		PMW:    h.engine.PMW(),
		Pulses: h.engine.PulseCount(),
	})
}

type sessionView struct {
	SessionID    string                     `json:"session_id"`
	CreatedAt    time.Time                  `json:"created_at"`
	LastActivity time.Time                  `json:"last_activity"`
	UsersCount   int                        `json:"users_count"`
	Users        []domain.PublicParticipant `json:"users"`
}

// HandleSessions lists live sessions with their rosters
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.coord.Registry().Sessions()
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		roster := s.Roster("")
		out = append(out, sessionView{
			SessionID:    s.ID,
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity(),
			UsersCount:   len(roster),
			Users:        roster,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleSessionEvents returns the journal of one session, oldest first
func (h *Handler) HandleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}

	id := chi.URLParam(r, "id")
	if !ws.IsValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := h.events.List(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.FromCtx(r.Context()).Error("journal list failed", "session", id, "err", err)
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("http: encode response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
