package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/echonote/echonote-api/internal/domain"
	"github.com/echonote/echonote-api/internal/store"
)

// copyChunkSize is the read granularity of the download loop. Progress is
// reported once per chunk.
const copyChunkSize = 32 * 1024

// HTTPTransport downloads resources over HTTP with byte-range resume.
// Partial data lives in a ".part" sibling of the destination until the
// transfer completes, at which point the file is renamed into place.
type HTTPTransport struct {
	client   *http.Client
	settings store.KeyValueStore
	logger   *slog.Logger
}

// NewHTTPTransport creates an HTTPTransport. The settings store is consulted
// by SurvivingTasks to rediscover transfers that outlived the process.
func NewHTTPTransport(client *http.Client, settings store.KeyValueStore, logger *slog.Logger) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	return &HTTPTransport{
		client:   client,
		settings: settings,
		logger:   logger.With("component", "http_transport"),
	}
}

// Create builds an inert handle for the task. The download does not begin
// until Start is called, so callbacks can be attached without racing the
// first progress report.
func (t *HTTPTransport) Create(ctx context.Context, task *domain.TransferTask) (Handle, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return &httpHandle{
		transport: t,
		task:      *task,
		state:     domain.TransferStatusPaused,
	}, nil
}

// SurvivingTasks reconstructs handles from resume metadata persisted by the
// manager. Recovered handles report paused state and resume from whatever
// offset their ".part" file holds.
func (t *HTTPTransport) SurvivingTasks(ctx context.Context) ([]Handle, error) {
	entries, err := t.settings.ListPrefix(ctx, resumeKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list resume metadata: %w", err)
	}

	handles := make([]Handle, 0, len(entries))
	for key, raw := range entries {
		var task domain.TransferTask
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			t.logger.Error("skipping corrupt resume metadata", "key", key, "error", err)
			continue
		}

		// The .part file is the authoritative offset after a crash.
		if info, err := os.Stat(task.Destination + ".part"); err == nil {
			task.BytesTransferred = info.Size()
		} else {
			task.BytesTransferred = 0
		}
		task.Status = domain.TransferStatusPaused

		handles = append(handles, &httpHandle{
			transport: t,
			task:      task,
			state:     domain.TransferStatusPaused,
		})
	}
	return handles, nil
}

var (
	_ TransportClient = (*HTTPTransport)(nil)
	_ Handle          = (*httpHandle)(nil)
)

// httpHandle is one HTTP download. The mutex guards task, state and the
// in-flight request's cancel func; the copy loop runs in its own goroutine.
type httpHandle struct {
	transport *HTTPTransport

	mu      sync.Mutex
	task    domain.TransferTask
	cb      Callbacks
	state   domain.TransferStatus
	cancel  context.CancelFunc
	runDone chan struct{}
}

func (h *httpHandle) Task() domain.TransferTask {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.task
}

func (h *httpHandle) SetCallbacks(cb Callbacks) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cb = cb
}

func (h *httpHandle) State() domain.TransferStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *httpHandle) Start() error {
	return h.launch()
}

func (h *httpHandle) Resume() error {
	return h.launch()
}

func (h *httpHandle) launch() error {
	h.mu.Lock()
	if h.state == domain.TransferStatusDownloading {
		h.mu.Unlock()
		return errors.New("transfer already running")
	}
	if h.task.IsTerminal() {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("transfer is %s", state)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.state = domain.TransferStatusDownloading
	prev := h.runDone
	done := make(chan struct{})
	h.runDone = done
	h.mu.Unlock()

	go func() {
		defer close(done)
		// A paused attempt may still be draining its final writes to the
		// .part file; wait for it so offsets stay consistent.
		if prev != nil {
			<-prev
		}
		h.run(ctx)
	}()
	return nil
}

// Pause cancels the in-flight request and keeps the ".part" file so a later
// Resume continues from the same offset.
func (h *httpHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != domain.TransferStatusDownloading {
		return errors.New("transfer is not running")
	}
	h.state = domain.TransferStatusPaused
	if h.cancel != nil {
		h.cancel()
	}
	return nil
}

// Stop cancels the transfer. Partial data is left on disk for the caller to
// clean up.
func (h *httpHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = domain.TransferStatusCancelled
	h.task.Status = domain.TransferStatusCancelled
	if h.cancel != nil {
		h.cancel()
	}
	return nil
}

// run owns one attempt of the copy loop, from request to rename.
func (h *httpHandle) run(ctx context.Context) {
	err := h.download(ctx)
	if err == nil {
		return
	}

	// A cancelled attempt context means Pause or Stop, an expected exit
	// rather than a failure to surface.
	if ctx.Err() != nil {
		return
	}

	h.mu.Lock()
	h.state = domain.TransferStatusFailed
	h.task.Status = domain.TransferStatusFailed
	cb := h.cb
	h.mu.Unlock()

	if cb.OnError != nil {
		cb.OnError(err)
	}
}

func (h *httpHandle) download(ctx context.Context) error {
	h.mu.Lock()
	task := h.task
	h.mu.Unlock()

	partPath := task.Destination + ".part"
	if err := os.MkdirAll(filepath.Dir(task.Destination), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	var offset int64
	if info, err := os.Stat(partPath); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.SourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range task.Headers {
		req.Header.Set(k, v)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := h.transport.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// Server ignored the range header; start over.
		offset = 0
	default:
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if offset == 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	file, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open partial file: %w", err)
	}
	defer file.Close()

	total := totalSize(resp, offset)
	h.recordProgress(offset, total)

	buf := make([]byte, copyChunkSize)
	written := offset
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				return fmt.Errorf("failed to write partial file: %w", werr)
			}
			written += int64(n)
			h.recordProgress(written, total)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read failed: %w", readErr)
		}
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close partial file: %w", err)
	}
	if err := os.Rename(partPath, task.Destination); err != nil {
		return fmt.Errorf("failed to finalize artifact: %w", err)
	}

	h.mu.Lock()
	h.state = domain.TransferStatusCompleted
	h.task.Status = domain.TransferStatusCompleted
	cb := h.cb
	dest := h.task.Destination
	h.mu.Unlock()

	if cb.OnComplete != nil {
		cb.OnComplete(dest)
	}
	return nil
}

// recordProgress advances the byte counters and notifies the progress
// callback. Counters never move backwards even if a retried response
// replays data.
func (h *httpHandle) recordProgress(transferred, total int64) {
	h.mu.Lock()
	h.task.RecordProgress(transferred, total)
	transferred = h.task.BytesTransferred
	total = h.task.BytesTotal
	cb := h.cb
	h.mu.Unlock()

	if cb.OnProgress != nil {
		cb.OnProgress(transferred, total)
	}
}

// totalSize derives the full artifact size from the response. A ranged
// response carries the full size after the slash in Content-Range; a plain
// response carries it in Content-Length. Unknown sizes report -1.
func totalSize(resp *http.Response, offset int64) int64 {
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx >= 0 && cr[idx+1:] != "*" {
			var size int64
			if _, err := fmt.Sscanf(cr[idx+1:], "%d", &size); err == nil {
				return size
			}
		}
	}
	if resp.ContentLength >= 0 {
		return offset + resp.ContentLength
	}
	return -1
}
