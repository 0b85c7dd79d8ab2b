package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echonote/echonote-api/internal/domain"
	"github.com/echonote/echonote-api/internal/events"
	"github.com/echonote/echonote-api/internal/pipeline"
	"github.com/echonote/echonote-api/internal/retry"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockProcessor is a configurable Processor that counts invocations and
// tracks how many run concurrently.
type mockProcessor struct {
	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
	ProcessFn   func(ctx context.Context, audioPath string) (pipeline.Document, error)
}

func newMockProcessor() *mockProcessor {
	return &mockProcessor{
		ProcessFn: func(ctx context.Context, audioPath string) (pipeline.Document, error) {
			return pipeline.Document{AudioPath: audioPath, Transcript: "hello world"}, nil
		},
	}
}

func (p *mockProcessor) Process(ctx context.Context, audioPath string) (pipeline.Document, error) {
	p.mu.Lock()
	p.calls++
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
	fn := p.ProcessFn
	p.mu.Unlock()

	doc, err := fn(ctx, audioPath)

	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
	return doc, err
}

func (p *mockProcessor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *mockProcessor) MaxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInFlight
}

type fixture struct {
	queue     *MockQueueStore
	notes     *MockNoteStore
	processor *mockProcessor
	bus       *events.InMemoryBus
	clk       *clock.Mock
	worker    *Worker
}

func newFixture(t *testing.T, policy retry.Policy) *fixture {
	t.Helper()

	f := &fixture{
		queue:     NewMockQueueStore(),
		notes:     NewMockNoteStore(),
		processor: newMockProcessor(),
		bus:       events.NewInMemoryBus(discardLogger()),
		clk:       clock.NewMock(),
	}

	config := Config{
		YieldInterval:      0, // no yield so the virtual clock never blocks the loop
		StuckCheckInterval: 0,
	}
	f.worker = NewWorker(f.queue, f.notes, f.processor, policy, f.bus, f.clk, config, discardLogger())

	t.Cleanup(f.worker.Stop)
	return f
}

// enqueue persists an item and publishes the item-added event, the way a
// producer would.
func (f *fixture) enqueue(t *testing.T, noteID uuid.UUID) {
	t.Helper()
	item, err := domain.NewQueueItem(noteID, "/tmp/"+noteID.String()+".wav")
	require.NoError(t, err)
	require.NoError(t, f.queue.Enqueue(context.Background(), item))
	require.NoError(t, f.bus.Publish(context.Background(), events.NewItemAdded(noteID)))
}

func (f *fixture) waitForStatus(t *testing.T, noteID uuid.UUID, want domain.ItemStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		status, ok := f.queue.StatusOf(noteID)
		return ok && status == want
	}, waitFor, tick, "item never reached status %s", want)
}

func TestWorkerStartIsIdempotent(t *testing.T) {
	f := newFixture(t, retry.DefaultJobPolicy())

	require.NoError(t, f.worker.Start(context.Background()))
	require.NoError(t, f.worker.Start(context.Background()))
	assert.Equal(t, StateRunning, f.worker.State())

	f.worker.Stop()
	f.worker.Stop()
	assert.Equal(t, StateStopped, f.worker.State())
}

func TestWorkerProcessesEnqueuedItem(t *testing.T) {
	f := newFixture(t, retry.DefaultJobPolicy())

	var mu sync.Mutex
	var completed []events.ItemCompleted
	f.bus.Subscribe(events.EventItemCompleted, events.HandlerFunc(
		func(ctx context.Context, event events.Event) error {
			mu.Lock()
			defer mu.Unlock()
			completed = append(completed, event.(events.ItemCompleted))
			return nil
		}))

	require.NoError(t, f.worker.Start(context.Background()))

	noteID := uuid.New()
	f.enqueue(t, noteID)

	f.waitForStatus(t, noteID, domain.ItemStatusCompleted)

	// Exactly one completion event for exactly one processed item
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, completed, 1)
	assert.Equal(t, noteID, completed[0].NoteID)

	note, err := f.notes.GetNote(context.Background(), noteID)
	require.NoError(t, err)
	require.NotNil(t, note.Transcript)
	assert.Equal(t, "hello world", *note.Transcript)
}

func TestWorkerRetriesThenSucceeds(t *testing.T) {
	policy, err := retry.NewPolicy([]time.Duration{5 * time.Second, 30 * time.Second, 5 * time.Minute})
	require.NoError(t, err)

	f := newFixture(t, policy)

	// Fail the first two attempts, succeed on the third
	var mu sync.Mutex
	attempts := 0
	f.processor.ProcessFn = func(ctx context.Context, audioPath string) (pipeline.Document, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts <= 2 {
			return pipeline.Document{}, fmt.Errorf("engine hiccup %d", attempts)
		}
		return pipeline.Document{Transcript: "third time lucky"}, nil
	}

	failedCh := make(chan events.ItemFailed, 4)
	f.bus.Subscribe(events.EventItemFailed, events.HandlerFunc(
		func(ctx context.Context, event events.Event) error {
			failedCh <- event.(events.ItemFailed)
			return nil
		}))

	require.NoError(t, f.worker.Start(context.Background()))

	noteID := uuid.New()
	f.enqueue(t, noteID)

	// First attempt fails and schedules a 5s retry
	failed := <-failedCh
	assert.Equal(t, 1, failed.RetryCount)
	assert.False(t, failed.Terminal)

	// Nothing happens before the delay elapses
	f.clk.Add(4 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.processor.Calls())

	// Delay elapses, second attempt fails and schedules a 30s retry
	f.clk.Add(time.Second)
	failed = <-failedCh
	assert.Equal(t, 2, failed.RetryCount)
	assert.False(t, failed.Terminal)

	f.clk.Add(29 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, f.processor.Calls())

	// Third attempt succeeds
	f.clk.Add(time.Second)
	f.waitForStatus(t, noteID, domain.ItemStatusCompleted)
	assert.Equal(t, 2, f.queue.RetryCountOf(noteID))
	assert.Equal(t, 3, f.processor.Calls())
}

func TestWorkerRetryBudgetExhausted(t *testing.T) {
	policy, err := retry.NewPolicy([]time.Duration{time.Second, time.Second})
	require.NoError(t, err)

	f := newFixture(t, policy)
	f.processor.ProcessFn = func(ctx context.Context, audioPath string) (pipeline.Document, error) {
		return pipeline.Document{}, errors.New("always broken")
	}

	failedCh := make(chan events.ItemFailed, 4)
	f.bus.Subscribe(events.EventItemFailed, events.HandlerFunc(
		func(ctx context.Context, event events.Event) error {
			failedCh <- event.(events.ItemFailed)
			return nil
		}))

	require.NoError(t, f.worker.Start(context.Background()))

	noteID := uuid.New()
	f.enqueue(t, noteID)

	failed := <-failedCh
	assert.False(t, failed.Terminal)
	f.clk.Add(time.Second)

	failed = <-failedCh
	assert.True(t, failed.Terminal, "second failure exhausts a 2-attempt budget")
	assert.Equal(t, 2, failed.RetryCount)

	// Exhausted means failed forever: no timer is armed, no transition happens
	f.clk.Add(time.Hour)
	time.Sleep(20 * time.Millisecond)
	status, ok := f.queue.StatusOf(noteID)
	require.True(t, ok)
	assert.Equal(t, domain.ItemStatusFailed, status)
	assert.Equal(t, 2, f.queue.RetryCountOf(noteID))
}

func TestWorkerPreconditionFailureIsTerminal(t *testing.T) {
	f := newFixture(t, retry.DefaultJobPolicy())
	f.processor.ProcessFn = func(ctx context.Context, audioPath string) (pipeline.Document, error) {
		return pipeline.Document{}, pipeline.ErrNoEngine
	}

	failedCh := make(chan events.ItemFailed, 2)
	f.bus.Subscribe(events.EventItemFailed, events.HandlerFunc(
		func(ctx context.Context, event events.Event) error {
			failedCh <- event.(events.ItemFailed)
			return nil
		}))

	require.NoError(t, f.worker.Start(context.Background()))

	noteID := uuid.New()
	f.enqueue(t, noteID)

	failed := <-failedCh
	assert.True(t, failed.Terminal, "precondition failures are terminal immediately")

	// No retry is ever scheduled
	f.clk.Add(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.processor.Calls())
	status, _ := f.queue.StatusOf(noteID)
	assert.Equal(t, domain.ItemStatusFailed, status)
}

func TestWorkerCrashRecovery(t *testing.T) {
	f := newFixture(t, retry.DefaultJobPolicy())

	// Simulate a crash: an item was left in processing by a previous run
	noteID := uuid.New()
	item, err := domain.NewQueueItem(noteID, "/tmp/b.wav")
	require.NoError(t, err)
	item.Status = domain.ItemStatusProcessing
	require.NoError(t, f.queue.Enqueue(context.Background(), item))

	require.NoError(t, f.worker.Start(context.Background()))

	f.waitForStatus(t, noteID, domain.ItemStatusCompleted)
	assert.Equal(t, 1, f.processor.Calls(), "recovered item is processed exactly once")
}

func TestResetStuckItemsIsIdempotent(t *testing.T) {
	queue := NewMockQueueStore()
	ctx := context.Background()

	stuck, err := domain.NewQueueItem(uuid.New(), "/tmp/stuck.wav")
	require.NoError(t, err)
	stuck.Status = domain.ItemStatusProcessing
	require.NoError(t, queue.Enqueue(ctx, stuck))

	done, err := domain.NewQueueItem(uuid.New(), "/tmp/done.wav")
	require.NoError(t, err)
	done.Status = domain.ItemStatusCompleted
	require.NoError(t, queue.Enqueue(ctx, done))

	count, err := queue.ResetStuckItems(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Second run demotes nothing and never touches completed items
	count, err = queue.ResetStuckItems(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, count)

	status, _ := queue.StatusOf(done.NoteID)
	assert.Equal(t, domain.ItemStatusCompleted, status)
}

func TestWorkerSingleFlight(t *testing.T) {
	f := newFixture(t, retry.DefaultJobPolicy())

	// Slow the processor down so overlapping drains would be visible
	f.processor.ProcessFn = func(ctx context.Context, audioPath string) (pipeline.Document, error) {
		time.Sleep(5 * time.Millisecond)
		return pipeline.Document{Transcript: "ok"}, nil
	}

	require.NoError(t, f.worker.Start(context.Background()))

	noteIDs := make([]uuid.UUID, 5)
	for i := range noteIDs {
		noteIDs[i] = uuid.New()
		f.enqueue(t, noteIDs[i])
	}

	// Hammer the trigger from several goroutines while the drain is active
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				f.worker.TriggerProcessing()
			}
		}()
	}
	wg.Wait()

	for _, noteID := range noteIDs {
		f.waitForStatus(t, noteID, domain.ItemStatusCompleted)
	}

	assert.Equal(t, 1, f.processor.MaxConcurrent(), "never more than one item in flight")
	assert.Equal(t, len(noteIDs), f.processor.Calls())
}

func TestWorkerPauseContainment(t *testing.T) {
	f := newFixture(t, retry.DefaultJobPolicy())

	// A processor we can hold mid-item
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	f.processor.ProcessFn = func(ctx context.Context, audioPath string) (pipeline.Document, error) {
		started <- struct{}{}
		<-release
		return pipeline.Document{Transcript: "ok"}, nil
	}

	require.NoError(t, f.worker.Start(context.Background()))

	first := uuid.New()
	second := uuid.New()
	f.enqueue(t, first)
	f.enqueue(t, second)

	// Wait until the first item is mid-processing, then pause
	<-started
	require.NoError(t, f.worker.Pause(context.Background()))
	close(release)

	// The in-flight item finishes; the second never starts
	f.waitForStatus(t, first, domain.ItemStatusCompleted)
	time.Sleep(50 * time.Millisecond)
	status, ok := f.queue.StatusOf(second)
	require.True(t, ok)
	assert.Equal(t, domain.ItemStatusPending, status)
	assert.Equal(t, 1, f.processor.Calls())

	// Resume catches up on the waiting item
	require.NoError(t, f.worker.Resume(context.Background()))
	f.waitForStatus(t, second, domain.ItemStatusCompleted)
}

func TestWorkerPausedEnqueueStaysPending(t *testing.T) {
	f := newFixture(t, retry.DefaultJobPolicy())

	require.NoError(t, f.worker.Start(context.Background()))
	require.NoError(t, f.worker.Pause(context.Background()))

	paused, err := f.queue.IsPaused(context.Background())
	require.NoError(t, err)
	assert.True(t, paused, "pause flag is persisted for other queue consumers")

	noteID := uuid.New()
	f.enqueue(t, noteID)

	time.Sleep(50 * time.Millisecond)
	status, ok := f.queue.StatusOf(noteID)
	require.True(t, ok)
	assert.Equal(t, domain.ItemStatusPending, status)

	require.NoError(t, f.worker.Resume(context.Background()))
	f.waitForStatus(t, noteID, domain.ItemStatusCompleted)
}

func TestWorkerStopCancelsRetryTimers(t *testing.T) {
	f := newFixture(t, retry.DefaultJobPolicy())
	f.processor.ProcessFn = func(ctx context.Context, audioPath string) (pipeline.Document, error) {
		return pipeline.Document{}, errors.New("transient")
	}

	failedCh := make(chan events.ItemFailed, 2)
	f.bus.Subscribe(events.EventItemFailed, events.HandlerFunc(
		func(ctx context.Context, event events.Event) error {
			failedCh <- event.(events.ItemFailed)
			return nil
		}))

	require.NoError(t, f.worker.Start(context.Background()))

	noteID := uuid.New()
	f.enqueue(t, noteID)
	<-failedCh

	f.worker.Stop()

	// The armed retry never fires after stop
	f.clk.Add(time.Hour)
	time.Sleep(20 * time.Millisecond)
	status, _ := f.queue.StatusOf(noteID)
	assert.Equal(t, domain.ItemStatusFailed, status)
	assert.Equal(t, 1, f.processor.Calls())
}

func TestWorkerPauseWhenNotRunning(t *testing.T) {
	f := newFixture(t, retry.DefaultJobPolicy())

	assert.ErrorIs(t, f.worker.Pause(context.Background()), ErrNotRunning)
	assert.ErrorIs(t, f.worker.Resume(context.Background()), ErrNotPaused)
}
