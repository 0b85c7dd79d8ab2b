package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/echonote/echonote-api/internal/config"
	"github.com/echonote/echonote-api/internal/domain"
	"github.com/echonote/echonote-api/internal/events"
	"github.com/echonote/echonote-api/internal/store"
	"github.com/echonote/echonote-api/internal/transfer"
	"github.com/echonote/echonote-api/internal/worker"
)

// opsAPI is the thin HTTP surface over the worker and transfer manager. It
// exists for operators and integration tests, not end users.
type opsAPI struct {
	logger      *slog.Logger
	queue       store.JobQueueStore
	notes       store.NoteStore
	bus         events.Bus
	worker      *worker.Worker
	transfers   *transfer.Manager
	transferCfg config.TransferConfig
}

func newRouter(
	logger *slog.Logger,
	queue store.JobQueueStore,
	notes store.NoteStore,
	bus events.Bus,
	w *worker.Worker,
	transfers *transfer.Manager,
	transferCfg config.TransferConfig,
) http.Handler {
	api := &opsAPI{
		logger:      logger.With("component", "ops_api"),
		queue:       queue,
		notes:       notes,
		bus:         bus,
		worker:      w,
		transfers:   transfers,
		transferCfg: transferCfg,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/notes", api.createNote)
		r.Get("/notes/{id}", api.getNote)
		r.Delete("/notes/{id}/job", api.deleteJob)

		r.Get("/queue/status", api.queueStatus)
		r.Post("/queue/pause", api.pauseQueue)
		r.Post("/queue/resume", api.resumeQueue)

		r.Post("/transfers", api.startTransfer)
		r.Get("/transfers/{id}", api.transferStatus)
		r.Post("/transfers/{id}/pause", api.pauseTransfer)
		r.Post("/transfers/{id}/resume", api.resumeTransfer)
		r.Post("/transfers/{id}/cancel", api.cancelTransfer)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return r
}

type createNoteRequest struct {
	AudioPath string `json:"audio_path"`
}

func (a *opsAPI) createNote(w http.ResponseWriter, r *http.Request) {
	var req createNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	note, err := domain.NewNote(req.AudioPath)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := domain.NewQueueItem(note.ID, note.AudioPath)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if err := a.notes.CreateNote(ctx, note); err != nil {
		a.storeError(w, err)
		return
	}
	if err := a.queue.Enqueue(ctx, item); err != nil {
		a.storeError(w, err)
		return
	}

	if err := a.bus.Publish(ctx, events.NewItemAdded(note.ID)); err != nil {
		a.logger.Error("failed to publish item added event",
			"note_id", note.ID, "error", err)
	}

	a.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"note_id": note.ID,
		"item_id": item.ID,
	})
}

func (a *opsAPI) getNote(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid note ID")
		return
	}

	note, err := a.notes.GetNote(r.Context(), id)
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.respondJSON(w, http.StatusOK, note)
}

func (a *opsAPI) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid note ID")
		return
	}

	ctx := r.Context()
	if err := a.queue.DeleteItem(ctx, id); err != nil {
		a.storeError(w, err)
		return
	}

	if err := a.bus.Publish(ctx, events.NewItemRemoved(id)); err != nil {
		a.logger.Error("failed to publish item removed event",
			"note_id", id, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *opsAPI) queueStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := a.queue.CountByStatus(ctx)
	if err != nil {
		a.storeError(w, err)
		return
	}

	paused, err := a.queue.IsPaused(ctx)
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.respondJSON(w, http.StatusOK, map[string]interface{}{
		"worker_state": a.worker.State(),
		"paused":       paused,
		"counts":       counts,
	})
}

func (a *opsAPI) pauseQueue(w http.ResponseWriter, r *http.Request) {
	if err := a.worker.Pause(r.Context()); err != nil {
		a.workerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *opsAPI) resumeQueue(w http.ResponseWriter, r *http.Request) {
	if err := a.worker.Resume(r.Context()); err != nil {
		a.workerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startTransferRequest struct {
	ResourceID string            `json:"resource_id"`
	SourceURL  string            `json:"source_url"`
	Headers    map[string]string `json:"headers,omitempty"`
}

func (a *opsAPI) startTransfer(w http.ResponseWriter, r *http.Request) {
	var req startTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	destination := filepath.Join(a.transferCfg.DownloadDir, req.ResourceID)
	task, err := domain.NewTransferTask(req.ResourceID, req.SourceURL, destination, req.Headers)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.transfers.Start(r.Context(), task, transfer.Callbacks{}); err != nil {
		a.transferError(w, err)
		return
	}

	a.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"resource_id": req.ResourceID,
		"destination": destination,
	})
}

func (a *opsAPI) transferStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, ok := a.transfers.Status(id)
	if !ok {
		a.respondError(w, http.StatusNotFound, "no transfer for resource")
		return
	}

	a.respondJSON(w, http.StatusOK, map[string]interface{}{
		"resource_id": id,
		"status":      status,
	})
}

func (a *opsAPI) pauseTransfer(w http.ResponseWriter, r *http.Request) {
	if err := a.transfers.Pause(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.transferError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *opsAPI) resumeTransfer(w http.ResponseWriter, r *http.Request) {
	if err := a.transfers.Resume(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.transferError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *opsAPI) cancelTransfer(w http.ResponseWriter, r *http.Request) {
	if err := a.transfers.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.transferError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *opsAPI) storeError(w http.ResponseWriter, err error) {
	switch {
	case store.IsNotFoundError(err):
		a.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicate):
		a.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInvalidEntity):
		a.respondError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error("store operation failed", "error", err)
		a.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *opsAPI) workerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, worker.ErrNotRunning), errors.Is(err, worker.ErrNotPaused):
		a.respondError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error("worker operation failed", "error", err)
		a.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *opsAPI) transferError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transfer.ErrTransferNotFound), errors.Is(err, transfer.ErrNotPaused):
		a.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, transfer.ErrTransferActive):
		a.respondError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error("transfer operation failed", "error", err)
		a.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *opsAPI) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

func (a *opsAPI) respondError(w http.ResponseWriter, status int, msg string) {
	a.respondJSON(w, status, map[string]string{"error": msg})
}
