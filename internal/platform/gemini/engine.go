package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/genai"

	"github.com/echonote/echonote-api/internal/config"
	"github.com/echonote/echonote-api/internal/pipeline"
)

const transcribePrompt = `Transcribe this voice note verbatim. Return only the spoken words, with no commentary.`

// TranscriptionEngine implements pipeline.Engine by sending the captured
// audio to a Gemini model. The same implementation backs both the native and
// compact engine slots, differing only in which model they call.
type TranscriptionEngine struct {
	logger *slog.Logger
	client *genai.Client
	id     pipeline.EngineID
	model  string
}

var _ pipeline.Engine = (*TranscriptionEngine)(nil)

// NewTranscriptionEngine creates an engine for the given slot and model.
func NewTranscriptionEngine(
	ctx context.Context,
	logger *slog.Logger,
	cfg config.LLMConfig,
	id pipeline.EngineID,
	model string,
) (*TranscriptionEngine, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return &TranscriptionEngine{
		logger: logger.With("component", "gemini_engine", "engine_id", string(id)),
		client: client,
		id:     id,
		model:  model,
	}, nil
}

func (e *TranscriptionEngine) ID() pipeline.EngineID { return e.id }

// Transcribe sends the audio file to the model and returns the spoken text.
func (e *TranscriptionEngine) Transcribe(ctx context.Context, audioPath string) (string, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to read audio file: %w", err)
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(audio, audioMIMEType(audioPath)),
		genai.NewPartFromText(transcribePrompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, nil)
	if err != nil {
		e.logger.ErrorContext(ctx, "Gemini API call failed", "error", err)
		return "", fmt.Errorf("transcription request failed: %w", err)
	}

	return extractText(resp)
}

func audioMIMEType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mp3"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	default:
		return "audio/mp4"
	}
}
