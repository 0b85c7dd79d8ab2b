package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCapabilitySelector(t *testing.T) {
	t.Parallel()

	selector := NewCapabilitySelector()

	tests := []struct {
		name    string
		device  DeviceContext
		want    EngineID
		wantErr error
	}{
		{"native preferred", DeviceContext{SupportsNative: true, SupportsCompact: true}, EngineNative, nil},
		{"compact fallback", DeviceContext{SupportsCompact: true}, EngineCompact, nil},
		{"no engine", DeviceContext{}, "", ErrNoEngine},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := selector.SelectEngine(context.Background(), tc.device)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.True(t, IsPrecondition(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRunnerProcess(t *testing.T) {
	t.Parallel()

	t.Run("transcribes and normalizes", func(t *testing.T) {
		t.Parallel()
		engine := NewMockEngine(EngineNative, "  hello   world. second  sentence  ")
		runner := NewRunner(
			NewCapabilitySelector(),
			NewRegistry(engine),
			[]Stage{NewNormalizeStage()},
			discardLogger(),
		)

		doc, err := runner.Process(context.Background(), "/tmp/a.wav")
		require.NoError(t, err)
		assert.Equal(t, "Hello world. Second sentence", doc.Transcript)
	})

	t.Run("falls back to compact engine", func(t *testing.T) {
		t.Parallel()
		engine := NewMockEngine(EngineCompact, "fallback transcript")
		runner := NewRunner(
			NewCapabilitySelector(),
			NewRegistry(engine),
			nil,
			discardLogger(),
		)

		doc, err := runner.Process(context.Background(), "/tmp/a.wav")
		require.NoError(t, err)
		assert.Equal(t, "Fallback transcript", normalize(doc.Transcript))
	})

	t.Run("no engine is a precondition failure", func(t *testing.T) {
		t.Parallel()
		runner := NewRunner(
			NewCapabilitySelector(),
			NewRegistry(),
			nil,
			discardLogger(),
		)

		_, err := runner.Process(context.Background(), "/tmp/a.wav")
		require.Error(t, err)
		assert.True(t, IsPrecondition(err))
	})

	t.Run("empty transcript skips later stages", func(t *testing.T) {
		t.Parallel()
		engine := NewMockEngine(EngineNative, "")
		failing := &failingStage{err: errors.New("should not run")}
		runner := NewRunner(
			NewCapabilitySelector(),
			NewRegistry(engine),
			[]Stage{failing},
			discardLogger(),
		)

		doc, err := runner.Process(context.Background(), "/tmp/silent.wav")
		require.NoError(t, err)
		assert.Empty(t, doc.Transcript)
		assert.Zero(t, failing.calls)
	})

	t.Run("engine error is transient", func(t *testing.T) {
		t.Parallel()
		engine := &MockEngine{
			EngineID: EngineNative,
			TranscribeFn: func(ctx context.Context, audioPath string) (string, error) {
				return "", errors.New("decoder crashed")
			},
		}
		runner := NewRunner(NewCapabilitySelector(), NewRegistry(engine), nil, discardLogger())

		_, err := runner.Process(context.Background(), "/tmp/a.wav")
		require.Error(t, err)
		assert.False(t, IsPrecondition(err))
	})

	t.Run("stage error propagates", func(t *testing.T) {
		t.Parallel()
		engine := NewMockEngine(EngineNative, "some text")
		stageErr := errors.New("summarizer unavailable")
		runner := NewRunner(
			NewCapabilitySelector(),
			NewRegistry(engine),
			[]Stage{&failingStage{err: stageErr}},
			discardLogger(),
		)

		_, err := runner.Process(context.Background(), "/tmp/a.wav")
		require.ErrorIs(t, err, stageErr)
	})
}

type failingStage struct {
	err   error
	calls int
}

func (s *failingStage) Name() string { return "failing" }

func (s *failingStage) Run(ctx context.Context, doc Document) (Document, error) {
	s.calls++
	return doc, s.err
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   \n\t ", ""},
		{"collapses spaces", "a   b\n c", "A b c"},
		{"capitalizes sentences", "first. second! third? fourth", "First. Second! Third? Fourth"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, normalize(tc.in))
		})
	}
}
