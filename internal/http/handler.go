// Package httpapp exposes the minimal HTTP contract over the download core:
// submit, job lookup, cancel, download history, and the live progress stream.
package httpapp

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Forest904/beathub/internal/broker"
	"github.com/Forest904/beathub/internal/constants"
	"github.com/Forest904/beathub/internal/domain"
	"github.com/Forest904/beathub/internal/logger"
	"github.com/Forest904/beathub/internal/queue"
	"github.com/Forest904/beathub/internal/store"
)

type Handler struct {
	Queue     *queue.Queue
	Broker    *broker.Broker
	Store     *store.DB
	Heartbeat time.Duration
	Logger    *logger.Logger
}

func NewHandler(q *queue.Queue, b *broker.Broker, db *store.DB, heartbeat time.Duration, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	if heartbeat <= 0 {
		heartbeat = constants.DefaultHeartbeat
	}
	return &Handler{
		Queue:     q,
		Broker:    b,
		Store:     db,
		Heartbeat: heartbeat,
		Logger:    log.WithComponent("http"),
	}
}

type submitRequest struct {
	Link    string `json:"link"`
	OwnerID int64  `json:"owner_id"`
}

// SubmitDownload accepts a catalog link and returns the (possibly deduped)
// job immediately; callers poll or watch the progress stream.
func (h *Handler) SubmitDownload(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Link == "" {
		writeError(w, http.StatusBadRequest, "link is required")
		return
	}
	if req.OwnerID <= 0 {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	job, err := h.Queue.Submit(req.Link, req.OwnerID)
	if err != nil {
		h.Logger.Error("Failed to submit job", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job := h.Queue.Get(chi.URLParam(r, "id"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) ActiveJob(w http.ResponseWriter, r *http.Request) {
	ownerID, err := strconv.ParseInt(r.URL.Query().Get("owner"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	job := h.Queue.ActiveForOwner(ownerID)
	if job == nil {
		writeError(w, http.StatusNotFound, "no active job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob acknowledges the cancellation request; whether cancellation
// lands before completion is a separate question answered by the job status.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.Queue.RequestCancel(id) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true, "job_id": id})
}

func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	ownerID, err := strconv.ParseInt(r.URL.Query().Get("owner"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	records, err := h.Store.ListDownloadsByOwner(ownerID, constants.MaxHistoryItems)
	if err != nil {
		h.Logger.Error("Failed to list downloads", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list downloads")
		return
	}
	if records == nil {
		records = []*domain.DownloadRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// ProgressStream serves one SSE subscription. The pull loop ends when the
// client disconnects, which deregisters the subscriber.
func (h *Handler) ProgressStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.Broker.Subscribe(h.Heartbeat)
	defer sub.Close()

	for {
		frame, err := sub.Next(r.Context())
		if err != nil {
			return
		}
		if _, err := w.Write([]byte(frame)); err != nil {
			return
		}
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
