package pipeline

import "context"

// MockEngine is a simple implementation of the Engine interface for testing
type MockEngine struct {
	EngineID     EngineID
	TranscribeFn func(ctx context.Context, audioPath string) (string, error)
}

// NewMockEngine creates a MockEngine with the given ID that echoes a fixed
// transcript.
func NewMockEngine(id EngineID, transcript string) *MockEngine {
	return &MockEngine{
		EngineID: id,
		TranscribeFn: func(ctx context.Context, audioPath string) (string, error) {
			return transcript, nil
		},
	}
}

// ID returns the engine identifier used for selection.
func (e *MockEngine) ID() EngineID {
	return e.EngineID
}

// Transcribe produces a transcript for the audio file at audioPath.
func (e *MockEngine) Transcribe(ctx context.Context, audioPath string) (string, error) {
	return e.TranscribeFn(ctx, audioPath)
}
