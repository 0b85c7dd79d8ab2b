package transfer

import (
	"context"

	"github.com/echonote/echonote-api/internal/domain"
)

// ProgressFunc reports download progress as (bytesTransferred, bytesTotal).
// Total is -1 until the transport learns the full size.
type ProgressFunc func(transferred, total int64)

// CompleteFunc is invoked once with the final artifact path.
type CompleteFunc func(path string)

// ErrorFunc is invoked once when the transfer fails.
type ErrorFunc func(err error)

// Callbacks bundles the three callback registrations a caller attaches to a
// transfer. Any field may be nil.
type Callbacks struct {
	OnProgress ProgressFunc
	OnComplete CompleteFunc
	OnError    ErrorFunc
}

// Handle is one transport-level transfer. A handle created by
// TransportClient.Create is inert until Start is called, so callbacks can be
// registered without racing the first progress report.
type Handle interface {
	// Task returns a snapshot of the transfer's current record.
	Task() domain.TransferTask

	// SetCallbacks registers the progress/completion/error callbacks.
	// Must be called before Start.
	SetCallbacks(cb Callbacks)

	// Start begins (or, for a recovered handle, would continue) the
	// transfer in the background.
	Start() error

	// Pause halts the transfer at the current byte offset without
	// discarding progress.
	Pause() error

	// Resume continues a paused transfer from its offset.
	Resume() error

	// Stop aborts the transfer. Partial data on disk is left for the
	// caller to clean up or reuse.
	Stop() error

	// State reports downloading or paused.
	State() domain.TransferStatus
}

// TransportClient is the transport layer that performs the actual byte
// movement. Implementations must be able to enumerate tasks that survived a
// process restart so the manager can reattach to them.
type TransportClient interface {
	// Create prepares a handle for the given task without starting it.
	Create(ctx context.Context, task *domain.TransferTask) (Handle, error)

	// SurvivingTasks lists handles for transfers that outlived the previous
	// process. Recovered handles start out paused.
	SurvivingTasks(ctx context.Context) ([]Handle, error)
}
