package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Common pipeline errors.
var (
	// ErrPrecondition marks failures a retry cannot fix: the missing
	// capability or authorization will still be missing on the next attempt.
	// The worker treats these as immediately terminal and does not consume a
	// retry slot.
	ErrPrecondition = errors.New("precondition failed")

	// ErrNoEngine is returned when no transcription engine is available on
	// this host.
	ErrNoEngine = fmt.Errorf("%w: no transcription engine available", ErrPrecondition)
)

// IsPrecondition reports whether err is a precondition failure that no
// amount of retrying can resolve.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPrecondition)
}

// Document is the value passed between pipeline stages. Each stage receives
// the previous stage's output and returns an updated copy.
type Document struct {
	// AudioPath locates the captured audio on disk.
	AudioPath string

	// Transcript is filled in by the transcription stage. An empty
	// transcript after a successful run is a legitimate no-op (silent
	// recording), not an error.
	Transcript string

	// Summary is derived metadata produced by an optional later stage.
	Summary *string
}

// Stage is one step of the processing pipeline.
type Stage interface {
	// Name identifies the stage in logs.
	Name() string

	// Run transforms the document. Returning an error aborts the pipeline;
	// wrap ErrPrecondition for failures that must not be retried.
	Run(ctx context.Context, doc Document) (Document, error)
}
