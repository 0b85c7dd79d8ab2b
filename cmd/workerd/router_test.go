package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echonote/echonote-api/internal/config"
	"github.com/echonote/echonote-api/internal/domain"
	"github.com/echonote/echonote-api/internal/events"
	"github.com/echonote/echonote-api/internal/pipeline"
	"github.com/echonote/echonote-api/internal/retry"
	"github.com/echonote/echonote-api/internal/store"
	"github.com/echonote/echonote-api/internal/transfer"
	"github.com/echonote/echonote-api/internal/worker"
)

// memSettings is an in-memory KeyValueStore for API tests.
type memSettings struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *memSettings) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", store.ErrKeyNotFound
	}
	return v, nil
}

func (s *memSettings) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memSettings) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memSettings) ListPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

type apiFixture struct {
	queue  *worker.MockQueueStore
	notes  *worker.MockNoteStore
	worker *worker.Worker
	server *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queue := worker.NewMockQueueStore()
	notes := worker.NewMockNoteStore()
	bus := events.NewInMemoryBus(logger)
	clk := clock.NewMock()

	registry := pipeline.NewRegistry(pipeline.NewMockEngine(pipeline.EngineNative, "hello world"))
	processor := pipeline.NewRunner(pipeline.NewCapabilitySelector(), registry, nil, logger)

	w := worker.NewWorker(queue, notes, processor, retry.DefaultJobPolicy(), bus, clk,
		worker.Config{}, logger)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	settings := &memSettings{data: make(map[string]string)}
	manager := transfer.NewManager(transfer.NewMockTransport(), settings,
		retry.DefaultTransferPolicy(), clk, logger)

	router := newRouter(logger, queue, notes, bus, w, manager,
		config.TransferConfig{DownloadDir: t.TempDir()})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &apiFixture{queue: queue, notes: notes, worker: w, server: server}
}

func (f *apiFixture) postJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func TestCreateNoteEnqueuesJob(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.postJSON(t, "/api/notes", createNoteRequest{AudioPath: "/audio/morning.m4a"})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		NoteID string `json:"note_id"`
		ItemID string `json:"item_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.NoteID)
	assert.NotEmpty(t, created.ItemID)

	// The published event wakes the worker, which drains the item.
	require.Eventually(t, func() bool {
		counts, err := f.queue.CountByStatus(context.Background())
		return err == nil && counts[domain.ItemStatusCompleted] == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCreateNoteRejectsEmptyAudioPath(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.postJSON(t, "/api/notes", createNoteRequest{})
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetNoteNotFound(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/api/notes/6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQueueStatusReportsCountsAndPause(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.postJSON(t, "/api/queue/pause", nil)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	statusResp, err := http.Get(f.server.URL + "/api/queue/status")
	require.NoError(t, err)
	defer func() { _ = statusResp.Body.Close() }()
	require.Equal(t, http.StatusOK, statusResp.StatusCode)

	var status struct {
		WorkerState string `json:"worker_state"`
		Paused      bool   `json:"paused"`
	}
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	assert.Equal(t, "paused", status.WorkerState)
	assert.True(t, status.Paused)

	// Pausing a paused queue conflicts.
	resp = f.postJSON(t, "/api/queue/pause", nil)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.postJSON(t, "/api/queue/resume", nil)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestTransferLifecycleOverAPI(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.postJSON(t, "/api/transfers", startTransferRequest{
		ResourceID: "model-compact",
		SourceURL:  "https://models.example.com/compact.bin",
	})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	statusResp, err := http.Get(f.server.URL + "/api/transfers/model-compact")
	require.NoError(t, err)
	defer func() { _ = statusResp.Body.Close() }()
	require.Equal(t, http.StatusOK, statusResp.StatusCode)

	var status struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	assert.Equal(t, "downloading", status.Status)

	resp = f.postJSON(t, "/api/transfers/model-compact/pause", nil)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.postJSON(t, "/api/transfers/model-compact/resume", nil)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.postJSON(t, "/api/transfers/model-compact/cancel", nil)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	statusResp, err = http.Get(f.server.URL + "/api/transfers/model-compact")
	require.NoError(t, err)
	_ = statusResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, statusResp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
