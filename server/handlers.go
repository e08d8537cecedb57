package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/chrisvdg/offmarket/notify"
	"github.com/chrisvdg/offmarket/worker"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// HeaderCache tells whether a response was a cache hit, stored or not stored
	HeaderCache = "X-Offline-Cache"
	// HeaderRequestID carries the id logged for the request
	HeaderRequestID = "X-Request-Id"

	maxPushPayload = 4 << 10
)

func newHandlers(controller *worker.Controller) *handlers {
	return &handlers{controller: controller}
}

type handlers struct {
	controller *worker.Controller
}

// CacheHandler answers every site request through the cache controller
func (h *handlers) CacheHandler(res http.ResponseWriter, req *http.Request) {
	result, err := h.controller.Fetch(req.Context(), req)
	if err != nil {
		log.WithError(err).WithField("path", req.URL.Path).Warn("Network fetch failed")
		res.Header().Set(HeaderCache, "error")
		http.Error(res, "bad gateway", http.StatusBadGateway)
		return
	}
	res.Header().Set(HeaderCache, string(result.Source))
	if _, err := result.Response.Serve(res); err != nil {
		log.WithError(err).Debug("Failed to write response")
	}
}

// InstallHandler seeds the current cache area
func (h *handlers) InstallHandler(res http.ResponseWriter, req *http.Request) {
	if err := h.controller.Install(req.Context()); err != nil {
		writeError(res, http.StatusBadGateway, err)
		return
	}
	h.StatusHandler(res, req)
}

// ActivateHandler activates the installed version and deletes stale areas
func (h *handlers) ActivateHandler(res http.ResponseWriter, req *http.Request) {
	err := h.controller.Activate(req.Context())
	if errors.Is(err, worker.ErrNotInstalled) {
		writeError(res, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(res, http.StatusInternalServerError, err)
		return
	}
	h.StatusHandler(res, req)
}

// StatusHandler reports the controller state and cache areas
func (h *handlers) StatusHandler(res http.ResponseWriter, req *http.Request) {
	status, err := h.controller.Status(req.Context())
	if err != nil {
		writeError(res, http.StatusInternalServerError, err)
		return
	}
	writeJSON(res, http.StatusOK, status)
}

// PushHandler turns a push payload into the notification to display.
// Payloads over maxPushPayload are rejected rather than cut.
func (h *handlers) PushHandler(res http.ResponseWriter, req *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(req.Body, maxPushPayload+1))
	if err != nil {
		log.WithError(err).Debug("Unreadable push payload, using fallback body")
		payload = nil
	}
	if len(payload) > maxPushPayload {
		writeError(res, http.StatusRequestEntityTooLarge, errors.Errorf("push payload exceeds %d bytes", maxPushPayload))
		return
	}
	writeJSON(res, http.StatusOK, notify.Push(payload))
}

// NotificationClickHandler tells the client what a notification click does
func (h *handlers) NotificationClickHandler(res http.ResponseWriter, req *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(io.LimitReader(req.Body, maxPushPayload)).Decode(&body); err != nil && err != io.EOF {
		log.WithError(err).Debug("Malformed notification click, closing only")
		body.Action = ""
	}
	writeJSON(res, http.StatusOK, notify.Click(body.Action))
}

func writeJSON(res http.ResponseWriter, status int, v interface{}) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(status)
	if err := json.NewEncoder(res).Encode(v); err != nil {
		log.WithError(err).Error("Failed to encode JSON response")
	}
}

func writeError(res http.ResponseWriter, status int, err error) {
	writeJSON(res, status, map[string]string{"error": err.Error()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogger tags every request with an id and logs its outcome
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		id := req.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		res.Header().Set(HeaderRequestID, id)
		rec := &statusRecorder{ResponseWriter: res, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, req)

		log.WithFields(log.Fields{
			"request_id": id,
			"method":     req.Method,
			"path":       req.URL.Path,
			"status":     rec.status,
			"cache":      rec.Header().Get(HeaderCache),
			"duration":   time.Since(start),
		}).Debug("Handled request")
	})
}
