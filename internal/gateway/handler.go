// Package gateway implements the push gateway's HTTP ingress: the Matrix
// push-gateway API (spec §6) that home servers call to fan a notification
// out across every device attached to it.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/pushgate/internal/dispatch"
	"github.com/tinywideclouds/pushgate/internal/telemetry"
)

// NotifyHandler serves POST /_matrix/push/v1/notify.
type NotifyHandler struct {
	dispatcher     *dispatch.Dispatcher
	logger         *slog.Logger
	sink           telemetry.Sink
	requestTimeout time.Duration
	maxBodyBytes   int64
}

// NewNotifyHandler builds the notify handler. requestTimeout bounds the
// whole dispatch fan-out (spec §6); maxBodyBytes caps the request body,
// matching sygnal's SizeLimitingRequest.
func NewNotifyHandler(d *dispatch.Dispatcher, sink telemetry.Sink, logger *slog.Logger, requestTimeout time.Duration, maxBodyBytes int64) *NotifyHandler {
	if sink == nil {
		sink = telemetry.Noop{}
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 512 * 1024
	}
	return &NotifyHandler{dispatcher: d, logger: logger, sink: sink, requestTimeout: requestTimeout, maxBodyBytes: maxBodyBytes}
}

type notifyRequest struct {
	Notification dispatch.Notification `json:"notification"`
}

type notifyResponse struct {
	Rejected []string `json:"rejected"`
}

func (h *NotifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	log := h.logger.With("request_id", requestID)
	start := time.Now()

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("malformed notify request body", "err", err)
		h.respond(w, http.StatusBadRequest, requestID, start, notifyResponse{})
		return
	}

	if len(req.Notification.Devices) == 0 {
		log.Warn("notify request has no devices")
		h.respond(w, http.StatusBadRequest, requestID, start, notifyResponse{})
		return
	}
	for i, d := range req.Notification.Devices {
		if err := d.Validate(); err != nil {
			log.Warn("invalid device entry", "index", i, "err", err)
			h.respond(w, http.StatusBadRequest, requestID, start, notifyResponse{})
			return
		}
	}

	h.sink.NotificationReceived()
	if req.Notification.EventID != "" {
		log = log.With("event_id", req.Notification.EventID)
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	result := h.dispatcher.Dispatch(ctx, req.Notification)

	if result.Transient {
		log.Error("notification dispatch had a transient failure; caller should retry")
		h.respond(w, http.StatusBadGateway, requestID, start, notifyResponse{})
		return
	}

	h.respond(w, http.StatusOK, requestID, start, notifyResponse{Rejected: result.Rejected})
}

func (h *NotifyHandler) respond(w http.ResponseWriter, status int, requestID string, start time.Time, body notifyResponse) {
	statusClass := statusClassOf(status)
	h.sink.HTTPResponse(statusClass)
	h.sink.NotifyDuration(statusClass, time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", requestID)
	w.WriteHeader(status)
	if status == http.StatusOK {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func statusClassOf(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}

// Recover wraps h so a panic deep in a pushkin becomes a 500 rather than
// killing the listener, matching the "never let one bad device crash the
// server" posture implicit in spec §7.
func Recover(logger *slog.Logger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic handling request", "recovered", rec)
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		h.ServeHTTP(w, r)
	})
}
