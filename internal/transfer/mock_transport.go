package transfer

import (
	"context"
	"sync"

	"github.com/echonote/echonote-api/internal/domain"
)

// MockTransport implements TransportClient for tests. Create and
// SurvivingTasks can be overridden per test through the Fn fields; by
// default Create records an inert MockHandle and SurvivingTasks returns the
// Survivors slice.
type MockTransport struct {
	mu        sync.Mutex
	handles   []*MockHandle
	Survivors []Handle

	CreateFn         func(ctx context.Context, task *domain.TransferTask) (Handle, error)
	SurvivingTasksFn func(ctx context.Context) ([]Handle, error)
}

var _ TransportClient = (*MockTransport)(nil)

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) Create(ctx context.Context, task *domain.TransferTask) (Handle, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, task)
	}
	handle := NewMockHandle(*task)
	m.mu.Lock()
	m.handles = append(m.handles, handle)
	m.mu.Unlock()
	return handle, nil
}

func (m *MockTransport) SurvivingTasks(ctx context.Context) ([]Handle, error) {
	if m.SurvivingTasksFn != nil {
		return m.SurvivingTasksFn(ctx)
	}
	return m.Survivors, nil
}

// LastHandle returns the most recently created handle, or nil.
func (m *MockTransport) LastHandle() *MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.handles) == 0 {
		return nil
	}
	return m.handles[len(m.handles)-1]
}

// MockHandle is a test double for one transfer. Tests drive it explicitly
// with EmitProgress, EmitComplete and EmitError instead of moving real
// bytes.
type MockHandle struct {
	mu    sync.Mutex
	task  domain.TransferTask
	cb    Callbacks
	state domain.TransferStatus

	StartCalls  int
	PauseCalls  int
	ResumeCalls int
	StopCalls   int
}

var _ Handle = (*MockHandle)(nil)

// NewMockHandle creates an inert handle in paused state, matching the
// contract that transport tasks do not move until Start.
func NewMockHandle(task domain.TransferTask) *MockHandle {
	return &MockHandle{task: task, state: domain.TransferStatusPaused}
}

func (h *MockHandle) Task() domain.TransferTask {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.task
}

func (h *MockHandle) SetCallbacks(cb Callbacks) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cb = cb
}

func (h *MockHandle) State() domain.TransferStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SetState seeds the reported transport state, for recovery tests.
func (h *MockHandle) SetState(state domain.TransferStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
}

func (h *MockHandle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.StartCalls++
	h.state = domain.TransferStatusDownloading
	return nil
}

func (h *MockHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.PauseCalls++
	h.state = domain.TransferStatusPaused
	return nil
}

func (h *MockHandle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ResumeCalls++
	h.state = domain.TransferStatusDownloading
	return nil
}

func (h *MockHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.StopCalls++
	h.state = domain.TransferStatusCancelled
	return nil
}

// EmitProgress advances the handle's byte counters and fires OnProgress.
func (h *MockHandle) EmitProgress(transferred, total int64) {
	h.mu.Lock()
	h.task.RecordProgress(transferred, total)
	cb := h.cb
	transferred = h.task.BytesTransferred
	total = h.task.BytesTotal
	h.mu.Unlock()
	if cb.OnProgress != nil {
		cb.OnProgress(transferred, total)
	}
}

// EmitComplete marks the handle completed and fires OnComplete.
func (h *MockHandle) EmitComplete() {
	h.mu.Lock()
	h.state = domain.TransferStatusCompleted
	h.task.Status = domain.TransferStatusCompleted
	cb := h.cb
	dest := h.task.Destination
	h.mu.Unlock()
	if cb.OnComplete != nil {
		cb.OnComplete(dest)
	}
}

// EmitError marks the handle failed and fires OnError.
func (h *MockHandle) EmitError(err error) {
	h.mu.Lock()
	h.state = domain.TransferStatusFailed
	h.task.Status = domain.TransferStatusFailed
	cb := h.cb
	h.mu.Unlock()
	if cb.OnError != nil {
		cb.OnError(err)
	}
}
