package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/echonote/echonote-api/internal/domain"
	"github.com/echonote/echonote-api/internal/events"
	"github.com/echonote/echonote-api/internal/pipeline"
	"github.com/echonote/echonote-api/internal/retry"
	"github.com/echonote/echonote-api/internal/store"
)

// State represents the worker lifecycle state.
type State string

// Possible worker states
const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Common worker errors
var (
	ErrNotRunning = errors.New("worker is not running")
	ErrNotPaused  = errors.New("worker is not paused")
)

// Processor runs one item's audio through the processing pipeline.
type Processor interface {
	// Process produces the transcript and derived metadata for the audio
	// file at audioPath. Errors wrapping pipeline.ErrPrecondition are
	// terminal; everything else is retryable.
	Process(ctx context.Context, audioPath string) (pipeline.Document, error)
}

// Config holds tuning knobs for the queue worker.
type Config struct {
	// YieldInterval is the pause inserted between drained items so
	// cooperating work on the same host is not starved. Zero disables it.
	YieldInterval time.Duration

	// StuckCheckInterval is how often the periodic stuck-item check runs.
	// Zero disables the periodic check.
	StuckCheckInterval time.Duration

	// StuckAge is how long an item may sit in processing before the
	// periodic check treats it as abandoned.
	StuckAge time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		YieldInterval:      50 * time.Millisecond,
		StuckCheckInterval: 5 * time.Minute,
		StuckAge:           30 * time.Minute,
	}
}

// Worker drains the persistent job queue sequentially: at most one item is
// ever in flight per Worker instance. It owns only transient state (retry
// timers, the drain flag); the queue store is the single source of truth.
type Worker struct {
	queue     store.JobQueueStore
	notes     store.NoteStore
	processor Processor
	policy    retry.Policy
	bus       events.Bus
	clk       clock.Clock
	config    Config
	logger    *slog.Logger

	mu          sync.Mutex
	state       State
	draining    bool
	pendingWake bool
	sub         *events.Subscription
	retryTimers map[uuid.UUID]*clock.Timer
	ctx         context.Context
	cancel      context.CancelFunc
	stuckStop   chan struct{}
	wg          sync.WaitGroup
}

// NewWorker creates a Worker. The bus is injected so tests can observe
// published events with a deterministic in-memory fake, and the clock is
// injected so backoff tests can use a virtual clock.
func NewWorker(
	queue store.JobQueueStore,
	notes store.NoteStore,
	processor Processor,
	policy retry.Policy,
	bus events.Bus,
	clk clock.Clock,
	config Config,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		queue:       queue,
		notes:       notes,
		processor:   processor,
		policy:      policy,
		bus:         bus,
		clk:         clk,
		config:      config,
		logger:      logger.With("component", "queue_worker"),
		state:       StateStopped,
		retryTimers: make(map[uuid.UUID]*clock.Timer),
	}
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start transitions the worker to running. It is idempotent: starting a
// running worker is a no-op. Before processing anything it performs crash
// recovery (processing items and retryable failures are demoted to pending),
// subscribes to item-added events, and triggers an initial drain.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateRunning {
		w.mu.Unlock()
		return nil
	}
	w.state = StateRunning
	w.ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))
	w.mu.Unlock()

	if err := w.recover(ctx); err != nil {
		w.mu.Lock()
		w.state = StateStopped
		w.cancel()
		w.mu.Unlock()
		return err
	}

	w.subscribe()

	if w.config.StuckCheckInterval > 0 {
		w.mu.Lock()
		w.stuckStop = make(chan struct{})
		w.mu.Unlock()
		w.wg.Add(1)
		go w.stuckCheckLoop()
	}

	w.logger.Info("worker started")
	w.TriggerProcessing()
	return nil
}

// Stop transitions the worker to stopped: it unsubscribes from item-added
// events, cancels every pending retry timer, and halts the periodic stuck
// check. The item currently in flight, if any, finishes on its own. Stop is
// idempotent.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return
	}
	w.state = StateStopped
	sub := w.sub
	w.sub = nil
	stuckStop := w.stuckStop
	w.stuckStop = nil
	cancel := w.cancel
	w.cancelRetryTimersLocked()
	w.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if stuckStop != nil {
		close(stuckStop)
	}
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// Pause stops new items from being started without interrupting the item
// currently in flight. The pause flag is persisted so other consumers of the
// same queue observe it too. Retry timers are cancelled; the retryable items
// are picked up again by recovery or a later drain.
func (w *Worker) Pause(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateRunning {
		w.mu.Unlock()
		return ErrNotRunning
	}
	w.state = StatePaused
	sub := w.sub
	w.sub = nil
	w.cancelRetryTimersLocked()
	w.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}

	if err := w.queue.SetPaused(ctx, true); err != nil {
		return err
	}
	if err := w.bus.Publish(ctx, events.NewPausedChanged(true)); err != nil {
		w.logger.Error("failed to publish pause event", "error", err)
	}

	w.logger.Info("worker paused")
	return nil
}

// Resume clears the persisted pause flag, resubscribes to item-added events,
// and triggers a drain to catch up on items that arrived while paused.
func (w *Worker) Resume(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StatePaused {
		w.mu.Unlock()
		return ErrNotPaused
	}
	w.state = StateRunning
	w.mu.Unlock()

	if err := w.queue.SetPaused(ctx, false); err != nil {
		return err
	}
	if err := w.bus.Publish(ctx, events.NewPausedChanged(false)); err != nil {
		w.logger.Error("failed to publish resume event", "error", err)
	}

	w.subscribe()
	w.logger.Info("worker resumed")
	w.TriggerProcessing()
	return nil
}

// TriggerProcessing starts a drain loop unless one is already active, in
// which case the active loop will pick up the new items itself.
func (w *Worker) TriggerProcessing() {
	w.mu.Lock()
	if w.state != StateRunning {
		w.mu.Unlock()
		return
	}
	if w.draining {
		// The active loop rechecks the queue before exiting.
		w.pendingWake = true
		w.mu.Unlock()
		return
	}
	w.draining = true
	ctx := w.ctx
	w.mu.Unlock()

	w.wg.Add(1)
	go w.drain(ctx)
}

// recover reconciles state left behind by a crash: items stuck in processing
// are demoted to pending, and failed items with retry budget left are
// requeued so they do not wait for timers that no longer exist. Running it
// twice in a row is harmless.
func (w *Worker) recover(ctx context.Context) error {
	reset, err := w.queue.ResetStuckItems(ctx, 0)
	if err != nil {
		return err
	}

	requeued, err := w.queue.RequeueRetryableFailures(ctx, w.policy.MaxAttempts())
	if err != nil {
		return err
	}

	if reset > 0 || requeued > 0 {
		w.logger.Info("recovered interrupted items",
			"reset_processing", reset,
			"requeued_failed", requeued)
	}
	return nil
}

func (w *Worker) subscribe() {
	sub := w.bus.Subscribe(events.EventItemAdded, events.HandlerFunc(
		func(ctx context.Context, event events.Event) error {
			w.TriggerProcessing()
			return nil
		}))

	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()
}

// drain repeatedly claims and processes the oldest pending item until the
// queue is idle, the pause flag is set, or the worker leaves the running
// state. Items are processed strictly one at a time.
func (w *Worker) drain(ctx context.Context) {
	defer w.wg.Done()

	for {
		for w.shouldContinue(ctx) {
			item, err := w.queue.ClaimNextPending(ctx)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					w.logger.Error("failed to claim next pending item", "error", err)
				}
				break
			}

			w.processItem(ctx, item)

			// Short yield between items so cooperating work gets a turn.
			if w.config.YieldInterval > 0 {
				w.clk.Sleep(w.config.YieldInterval)
			}
		}

		// Close the race between observing an idle queue and clearing the
		// drain flag: a trigger that arrived in between set pendingWake.
		w.mu.Lock()
		if w.pendingWake && w.state == StateRunning {
			w.pendingWake = false
			w.mu.Unlock()
			continue
		}
		w.pendingWake = false
		w.draining = false
		w.mu.Unlock()
		return
	}
}

func (w *Worker) shouldContinue(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	w.mu.Lock()
	running := w.state == StateRunning
	w.mu.Unlock()
	if !running {
		return false
	}

	paused, err := w.queue.IsPaused(ctx)
	if err != nil {
		w.logger.Error("failed to read pause flag", "error", err)
		return false
	}
	return !paused
}

// processItem runs one claimed item through the pipeline and records the
// outcome. Every pipeline error is absorbed here: nothing escapes to crash
// the process.
func (w *Worker) processItem(ctx context.Context, item *domain.QueueItem) {
	logger := w.logger.With("note_id", item.NoteID, "retry_count", item.RetryCount)

	if err := w.bus.Publish(ctx, events.NewItemStarted(item.NoteID)); err != nil {
		logger.Error("failed to publish item started event", "error", err)
	}

	if err := w.notes.UpdateNoteStatus(ctx, item.NoteID, domain.NoteStatusProcessing); err != nil {
		logger.Error("failed to update note status to processing", "error", err)
	}

	logger.Info("processing item", "audio_path", item.AudioPath)

	doc, err := w.processor.Process(ctx, item.AudioPath)
	if err != nil {
		w.handleFailure(ctx, item, err, logger)
		return
	}

	if err := w.notes.SaveTranscript(ctx, item.NoteID, doc.Transcript, doc.Summary); err != nil {
		w.handleFailure(ctx, item, err, logger)
		return
	}

	if err := w.queue.MarkCompleted(ctx, item.NoteID); err != nil {
		logger.Error("failed to mark item completed", "error", err)
		return
	}

	if err := w.bus.Publish(ctx, events.NewItemCompleted(item.NoteID)); err != nil {
		logger.Error("failed to publish item completed event", "error", err)
	}

	logger.Info("item completed")
}

// handleFailure records the error, then either schedules a retry or declares
// the item terminally failed. Precondition failures never schedule a retry:
// the missing capability will still be missing next time.
func (w *Worker) handleFailure(ctx context.Context, item *domain.QueueItem, procErr error, logger *slog.Logger) {
	logger.Error("item processing failed", "error", procErr)

	newCount, err := w.queue.MarkFailed(ctx, item.NoteID, procErr.Error())
	if err != nil {
		logger.Error("failed to mark item failed", "error", err)
		return
	}

	if err := w.notes.UpdateNoteStatus(ctx, item.NoteID, domain.NoteStatusFailed); err != nil {
		logger.Error("failed to update note status to failed", "error", err)
	}

	if pipeline.IsPrecondition(procErr) {
		logger.Warn("precondition failure, not retrying")
		w.publishFailed(ctx, item.NoteID, procErr, newCount, true, logger)
		return
	}

	if w.policy.Exhausted(newCount) {
		logger.Warn("retry budget exhausted", "attempts", newCount)
		w.publishFailed(ctx, item.NoteID, procErr, newCount, true, logger)
		return
	}

	delay, _ := w.policy.DelayFor(newCount)
	w.scheduleRetry(item.NoteID, delay)
	w.publishFailed(ctx, item.NoteID, procErr, newCount, false, logger)
}

func (w *Worker) publishFailed(ctx context.Context, noteID uuid.UUID, procErr error, retryCount int, terminal bool, logger *slog.Logger) {
	event := events.NewItemFailed(noteID, procErr.Error(), retryCount, terminal)
	if err := w.bus.Publish(ctx, event); err != nil {
		logger.Error("failed to publish item failed event", "error", err)
	}
}

// scheduleRetry arms a timer that flips the item back to pending and
// re-triggers the drain loop. Timers are keyed by note ID; arming a second
// timer for the same note cancels the first.
func (w *Worker) scheduleRetry(noteID uuid.UUID, delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateRunning {
		return
	}

	if existing, ok := w.retryTimers[noteID]; ok {
		existing.Stop()
	}

	w.logger.Info("retry scheduled", "note_id", noteID, "delay", delay)
	w.retryTimers[noteID] = w.clk.AfterFunc(delay, func() {
		w.onRetryTimer(noteID)
	})
}

func (w *Worker) onRetryTimer(noteID uuid.UUID) {
	w.mu.Lock()
	delete(w.retryTimers, noteID)
	ctx := w.ctx
	w.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}

	if err := w.queue.RequeueForRetry(ctx, noteID); err != nil {
		w.logger.Error("failed to requeue item for retry", "note_id", noteID, "error", err)
		return
	}

	// The drain loop preserves FIFO order; the timer never processes the
	// item directly.
	w.TriggerProcessing()
}

// cancelRetryTimersLocked stops and forgets every armed retry timer.
// Callers must hold w.mu.
func (w *Worker) cancelRetryTimersLocked() {
	for noteID, timer := range w.retryTimers {
		timer.Stop()
		delete(w.retryTimers, noteID)
	}
}

// stuckCheckLoop periodically demotes items that have sat in processing
// longer than the configured age. It complements the startup recovery for
// long-lived processes that never restart.
func (w *Worker) stuckCheckLoop() {
	defer w.wg.Done()

	w.mu.Lock()
	stop := w.stuckStop
	ctx := w.ctx
	w.mu.Unlock()

	ticker := w.clk.Ticker(w.config.StuckCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			reset, err := w.queue.ResetStuckItems(ctx, w.config.StuckAge)
			if err != nil {
				w.logger.Error("stuck item check failed", "error", err)
				continue
			}
			if reset > 0 {
				w.logger.Warn("reset stuck items", "count", reset)
				w.TriggerProcessing()
			}
		}
	}
}
