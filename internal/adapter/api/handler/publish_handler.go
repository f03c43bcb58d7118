package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/V4T54L/schoolpulse/internal/adapter/api/respond"
	"github.com/V4T54L/schoolpulse/internal/usecase"
)

// EventPublisher fans a publish request out to live sessions.
type EventPublisher interface {
	Publish(ctx context.Context, req usecase.PublishRequest) (int, error)
}

// PublishResult is the response body of POST /internal/events.
type PublishResult struct {
	Accepted  int      `json:"accepted"`
	Rejected  int      `json:"rejected"`
	Delivered int      `json:"delivered"`
	Errors    []string `json:"errors,omitempty"`
}

var errDecode = errors.New("failed to decode request")

// PublishHandler accepts fan-out requests from internal services.
type PublishHandler struct {
	useCase     EventPublisher
	logger      *slog.Logger
	maxBodySize int64
}

// NewPublishHandler creates a new PublishHandler.
func NewPublishHandler(uc EventPublisher, logger *slog.Logger, maxBodySize int64) *PublishHandler {
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}
	return &PublishHandler{
		useCase:     uc,
		logger:      logger.With("component", "publish_handler"),
		maxBodySize: maxBodySize,
	}
}

// ServeHTTP processes application/json (one request) or application/x-ndjson (a batch).
func (h *PublishHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respond.Error(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}

	// Enforce max body size
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		result PublishResult
		err    error
	)
	switch mediaType {
	case "application/json":
		result, err = h.handleSingleJSON(r.Context(), r.Body)
	case "application/x-ndjson":
		result, err = h.handleNDJSON(r.Context(), r.Body)
	default:
		respond.Error(w, http.StatusUnsupportedMediaType, "unsupported_media_type", mediaType)
		return
	}

	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respond.Error(w, http.StatusRequestEntityTooLarge, "payload_too_large", "")
			return
		}
		h.logger.Warn("failed to process publish request", "error", err)
		respond.Error(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	if result.Accepted == 0 && result.Rejected > 0 {
		respond.JSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	respond.JSON(w, http.StatusAccepted, result)
}

func (h *PublishHandler) handleSingleJSON(ctx context.Context, body io.Reader) (PublishResult, error) {
	req, err := decodeRequest(body)
	if err != nil {
		return PublishResult{}, err
	}

	var result PublishResult
	h.publish(ctx, req, &result)
	return result, nil
}

func (h *PublishHandler) handleNDJSON(ctx context.Context, body io.Reader) (PublishResult, error) {
	var result PublishResult

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), int(h.maxBodySize))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		req, err := decodeRequest(bytes.NewReader(line))
		if err != nil {
			return PublishResult{}, err
		}
		h.publish(ctx, req, &result)
	}
	if err := scanner.Err(); err != nil {
		return PublishResult{}, err
	}
	return result, nil
}

// publish rejects invalid requests individually so one bad entry does not fail a batch.
func (h *PublishHandler) publish(ctx context.Context, req usecase.PublishRequest, result *PublishResult) {
	n, err := h.useCase.Publish(ctx, req)
	if err != nil {
		h.logger.Warn("rejected publish request", "tenant", req.Tenant, "event", req.Event, "error", err)
		result.Rejected++
		result.Errors = append(result.Errors, err.Error())
		return
	}
	result.Accepted++
	result.Delivered += n
}

// decodeRequest decodes one publish request, rejecting unknown fields in both body formats.
func decodeRequest(r io.Reader) (usecase.PublishRequest, error) {
	var req usecase.PublishRequest
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return usecase.PublishRequest{}, decodeError(err)
	}
	return req, nil
}

func decodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return err
	}
	return errors.Join(errDecode, err)
}
