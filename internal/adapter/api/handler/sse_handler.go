package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/schoolpulse/internal/adapter/api/middleware"
	"github.com/V4T54L/schoolpulse/internal/adapter/api/respond"
	"github.com/V4T54L/schoolpulse/internal/domain"
	"github.com/V4T54L/schoolpulse/internal/usecase"
)

const defaultSSEKeepAlive = 15 * time.Second

var sseField = strings.NewReplacer("\n", "", "\r", "")

// SSEHandler streams a live session's events as Server-Sent Events.
// Topics are fixed for the lifetime of the stream: GET /events?topics=a,b.
type SSEHandler struct {
	binder    sessionBinder
	logger    *slog.Logger
	keepAlive time.Duration
	devMode   bool
}

// NewSSEHandler creates a new SSEHandler.
func NewSSEHandler(hub *usecase.SessionHub, resolver TenantResolver, logger *slog.Logger, devMode bool) *SSEHandler {
	return &SSEHandler{
		binder:    sessionBinder{hub: hub, resolver: resolver},
		logger:    logger.With("component", "sse_handler"),
		keepAlive: defaultSSEKeepAlive,
		devMode:   devMode,
	}
}

// ServeHTTP handles new client connections for the SSE stream.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respond.Error(w, http.StatusInternalServerError, "streaming_unsupported", "")
		return
	}

	scope, owner, err := h.binder.bind(r)
	if err != nil {
		middleware.WriteRoutingError(w, err, h.devMode)
		return
	}

	sessionID := uuid.NewString()
	session := scope.Registry.Register(sessionID, owner)
	defer scope.Registry.Unregister(sessionID)

	for _, topic := range parseTopics(r.URL.Query().Get("topics")) {
		if err := scope.Registry.Join(sessionID, topic); err != nil {
			code := "invalid_group"
			if errors.Is(err, domain.ErrReservedGroup) {
				code = "reserved_group"
			}
			respond.Error(w, http.StatusBadRequest, code, topic)
			return
		}
	}

	// streams outlive the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": session %s\n\n", sessionID)
	flusher.Flush()

	log := h.logger.With("session_id", sessionID, "tenant", scope.Tenant)
	log.Info("SSE client connected")
	defer log.Info("SSE client disconnected", "dropped_events", session.Dropped())

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-session.Outbound():
			if !ok {
				return // Session was unregistered
			}
			if err := writeSSE(w, ev); err != nil {
				log.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, sseField.Replace(ev.Name), data)
	return err
}

func parseTopics(raw string) []string {
	if raw == "" {
		return nil
	}
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}
