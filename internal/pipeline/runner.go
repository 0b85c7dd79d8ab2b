package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// Runner drives one document through engine selection, transcription, and
// the configured post-processing stages, strictly in sequence.
type Runner struct {
	selector Selector
	registry *Registry
	stages   []Stage
	logger   *slog.Logger
}

// NewRunner creates a Runner. The stages run after transcription, in the
// order given; each receives the previous stage's output.
func NewRunner(selector Selector, registry *Registry, stages []Stage, logger *slog.Logger) *Runner {
	return &Runner{
		selector: selector,
		registry: registry,
		stages:   stages,
		logger:   logger.With("component", "pipeline_runner"),
	}
}

// Process runs the full pipeline for the audio file at audioPath. The
// returned error wraps ErrPrecondition when no engine is available on this
// host; all other failures are transient from the worker's point of view.
func (r *Runner) Process(ctx context.Context, audioPath string) (Document, error) {
	doc := Document{AudioPath: audioPath}

	engineID, err := r.selector.SelectEngine(ctx, r.registry.DeviceContext())
	if err != nil {
		return doc, err
	}

	engine, err := r.registry.Engine(engineID)
	if err != nil {
		// Selector chose an engine the registry does not hold; retrying
		// cannot change that.
		return doc, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}

	r.logger.Debug("engine selected", "engine", engineID, "audio_path", audioPath)

	transcript, err := engine.Transcribe(ctx, audioPath)
	if err != nil {
		return doc, fmt.Errorf("transcription failed (%s): %w", engineID, err)
	}
	doc.Transcript = transcript

	// Degenerate output short-circuits the rest of the pipeline; the item
	// still completes successfully.
	if doc.Transcript == "" {
		r.logger.Info("empty transcript, skipping post-processing", "audio_path", audioPath)
		return doc, nil
	}

	for _, stage := range r.stages {
		doc, err = stage.Run(ctx, doc)
		if err != nil {
			return doc, fmt.Errorf("stage %s failed: %w", stage.Name(), err)
		}
	}

	return doc, nil
}
