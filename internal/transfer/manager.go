package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/echonote/echonote-api/internal/domain"
	"github.com/echonote/echonote-api/internal/retry"
	"github.com/echonote/echonote-api/internal/store"
)

// resumeKeyPrefix namespaces resume metadata in the settings store.
const resumeKeyPrefix = "transfer.resume."

// Common transfer manager errors
var (
	ErrTransferNotFound = errors.New("no active transfer for resource")
	ErrTransferActive   = errors.New("transfer already active for resource")
	ErrNotPaused        = errors.New("no paused transfer for resource")
)

// activeTransfer is the manager's transient handle on one transfer. The
// durable truth (byte counters, status) lives with the transport and the
// persisted resume metadata.
type activeTransfer struct {
	task   domain.TransferTask
	handle Handle
	cb     Callbacks
	status domain.TransferStatus
	done   chan error
}

// Manager coordinates resumable downloads keyed by resource ID. All state
// transitions go through the manager so a resource can never have two
// concurrent transfers.
type Manager struct {
	transport TransportClient
	settings  store.KeyValueStore
	policy    retry.Policy
	clk       clock.Clock
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]*activeTransfer
}

// NewManager creates a Manager. The settings store persists resume metadata;
// the clock drives the retry waits in StartWithRetry.
func NewManager(
	transport TransportClient,
	settings store.KeyValueStore,
	policy retry.Policy,
	clk clock.Clock,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		transport: transport,
		settings:  settings,
		policy:    policy,
		clk:       clk,
		logger:    logger.With("component", "transfer_manager"),
		active:    make(map[string]*activeTransfer),
	}
}

// Start begins downloading the given task. If a paused transfer for the same
// resource already exists, Start resumes it instead of creating a duplicate.
// Progress, completion and failure are reported through cb; Start itself
// returns as soon as the transfer has been issued.
func (m *Manager) Start(ctx context.Context, task *domain.TransferTask, cb Callbacks) error {
	_, err := m.start(ctx, task, cb)
	return err
}

// StartWithRetry runs Start and waits for the outcome, retrying failed
// attempts on the manager's retry schedule: one immediate attempt, then
// delayed retries. After the budget is exhausted the last error is returned.
func (m *Manager) StartWithRetry(ctx context.Context, task *domain.TransferTask, cb Callbacks) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		done, err := m.start(ctx, task, cb)
		if err == nil {
			err = <-done
			if err == nil {
				return nil
			}
		}
		lastErr = err

		delay, ok := m.policy.DelayFor(attempt)
		if !ok {
			return fmt.Errorf("transfer failed after %d attempts: %w", attempt, lastErr)
		}

		m.logger.Warn("transfer attempt failed, retrying",
			"resource_id", task.ResourceID,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clk.After(delay):
		}
	}
}

func (m *Manager) start(ctx context.Context, task *domain.TransferTask, cb Callbacks) (<-chan error, error) {
	m.mu.Lock()
	if existing, ok := m.active[task.ResourceID]; ok {
		if existing.status == domain.TransferStatusPaused {
			done := existing.done
			m.mu.Unlock()
			// A paused transfer keeps its original callbacks.
			if err := m.Resume(ctx, task.ResourceID); err != nil {
				return nil, err
			}
			return done, nil
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTransferActive, task.ResourceID)
	}

	// Reserve the slot before releasing the lock so a concurrent Start for
	// the same resource cannot also pass the check and issue a second
	// transport task.
	entry := &activeTransfer{
		task:   *task,
		cb:     cb,
		status: domain.TransferStatusDownloading,
		done:   make(chan error, 1),
	}
	m.active[task.ResourceID] = entry
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		delete(m.active, task.ResourceID)
		m.mu.Unlock()
	}

	// Persist resume metadata before issuing the transfer so a crash
	// mid-download can still be recovered.
	if err := m.persistResumeMetadata(ctx, task); err != nil {
		release()
		return nil, err
	}

	handle, err := m.transport.Create(ctx, task)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}

	m.mu.Lock()
	entry.handle = handle
	m.mu.Unlock()
	handle.SetCallbacks(m.wrapCallbacks(task.ResourceID, entry))

	if err := handle.Start(); err != nil {
		release()
		return nil, fmt.Errorf("failed to start transfer: %w", err)
	}

	m.logger.Info("transfer started",
		"resource_id", task.ResourceID,
		"source", task.SourceURL,
		"destination", task.Destination)
	return entry.done, nil
}

// wrapCallbacks layers the manager's bookkeeping under the caller's
// callbacks: completion clears the persisted resume metadata and the
// in-memory handle; failure clears only the in-memory handle so the resume
// metadata can seed a later attempt.
func (m *Manager) wrapCallbacks(resourceID string, entry *activeTransfer) Callbacks {
	return Callbacks{
		OnProgress: func(transferred, total int64) {
			if entry.cb.OnProgress != nil {
				entry.cb.OnProgress(transferred, total)
			}
		},
		OnComplete: func(path string) {
			m.mu.Lock()
			delete(m.active, resourceID)
			m.mu.Unlock()

			if err := m.settings.Delete(context.Background(), resumeKeyPrefix+resourceID); err != nil {
				m.logger.Error("failed to clear resume metadata",
					"resource_id", resourceID, "error", err)
			}

			m.logger.Info("transfer completed", "resource_id", resourceID, "path", path)
			entry.done <- nil
			if entry.cb.OnComplete != nil {
				entry.cb.OnComplete(path)
			}
		},
		OnError: func(err error) {
			m.mu.Lock()
			delete(m.active, resourceID)
			m.mu.Unlock()

			m.logger.Error("transfer failed", "resource_id", resourceID, "error", err)
			entry.done <- err
			if entry.cb.OnError != nil {
				entry.cb.OnError(err)
			}
		},
	}
}

// Pause halts the transfer for the given resource at its current offset.
// Fails with ErrTransferNotFound if no transfer is downloading.
func (m *Manager) Pause(ctx context.Context, resourceID string) error {
	m.mu.Lock()
	entry, ok := m.active[resourceID]
	if !ok || entry.status != domain.TransferStatusDownloading || entry.handle == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTransferNotFound, resourceID)
	}
	entry.status = domain.TransferStatusPaused
	m.mu.Unlock()

	if err := entry.handle.Pause(); err != nil {
		return err
	}

	m.logger.Info("transfer paused", "resource_id", resourceID)
	return nil
}

// Resume continues a paused transfer from its persisted offset, reusing the
// callbacks registered at start. Fails with ErrNotPaused if the resource has
// no paused transfer.
func (m *Manager) Resume(ctx context.Context, resourceID string) error {
	m.mu.Lock()
	entry, ok := m.active[resourceID]
	if !ok || entry.status != domain.TransferStatusPaused {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotPaused, resourceID)
	}
	entry.status = domain.TransferStatusDownloading
	m.mu.Unlock()

	if err := entry.handle.Resume(); err != nil {
		return err
	}

	m.logger.Info("transfer resumed", "resource_id", resourceID)
	return nil
}

// Cancel stops the transfer, forgets it, clears its resume metadata and
// deletes any partial artifact so a truncated file is never mistaken for a
// complete one.
func (m *Manager) Cancel(ctx context.Context, resourceID string) error {
	m.mu.Lock()
	entry, ok := m.active[resourceID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTransferNotFound, resourceID)
	}
	delete(m.active, resourceID)
	handle := entry.handle
	m.mu.Unlock()

	if handle != nil {
		if err := handle.Stop(); err != nil {
			m.logger.Error("failed to stop transport task",
				"resource_id", resourceID, "error", err)
		}
	}

	if err := m.settings.Delete(ctx, resumeKeyPrefix+resourceID); err != nil {
		m.logger.Error("failed to clear resume metadata",
			"resource_id", resourceID, "error", err)
	}

	m.removePartialArtifacts(entry.task.Destination)

	m.logger.Info("transfer cancelled", "resource_id", resourceID)
	return nil
}

// Status reports downloading or paused for an active transfer; the second
// return value is false when the manager holds no transfer for the resource.
func (m *Manager) Status(resourceID string) (domain.TransferStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.active[resourceID]
	if !ok {
		return "", false
	}
	return entry.status, true
}

// Recover reattaches to transport tasks that survived a process restart,
// seeding the in-memory table so pause/resume/cancel work transparently on
// them. The given callbacks are registered on every recovered transfer.
// Returns the number of transfers recovered.
func (m *Manager) Recover(ctx context.Context, cb Callbacks) (int, error) {
	handles, err := m.transport.SurvivingTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list surviving transfers: %w", err)
	}

	count := 0
	for _, handle := range handles {
		task := handle.Task()

		m.mu.Lock()
		if _, exists := m.active[task.ResourceID]; exists {
			m.mu.Unlock()
			continue
		}

		entry := &activeTransfer{
			task:   task,
			handle: handle,
			cb:     cb,
			status: handle.State(),
			done:   make(chan error, 1),
		}
		m.active[task.ResourceID] = entry
		m.mu.Unlock()

		handle.SetCallbacks(m.wrapCallbacks(task.ResourceID, entry))

		// A handle the transport reports as downloading keeps going; a
		// paused one waits for an explicit Resume.
		if entry.status == domain.TransferStatusDownloading {
			if err := handle.Start(); err != nil {
				m.logger.Error("failed to restart recovered transfer",
					"resource_id", task.ResourceID, "error", err)
				m.mu.Lock()
				delete(m.active, task.ResourceID)
				m.mu.Unlock()
				continue
			}
		}

		m.logger.Info("recovered transfer",
			"resource_id", task.ResourceID,
			"status", entry.status,
			"bytes_transferred", task.BytesTransferred)
		count++
	}

	return count, nil
}

func (m *Manager) persistResumeMetadata(ctx context.Context, task *domain.TransferTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal resume metadata: %w", err)
	}
	if err := m.settings.Set(ctx, resumeKeyPrefix+task.ResourceID, string(data)); err != nil {
		return fmt.Errorf("failed to persist resume metadata: %w", err)
	}
	return nil
}

// removePartialArtifacts deletes the destination and its .part sibling,
// ignoring files that were never written.
func (m *Manager) removePartialArtifacts(destination string) {
	for _, path := range []string{destination, destination + ".part"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Error("failed to remove partial artifact", "path", path, "error", err)
		}
	}
}
