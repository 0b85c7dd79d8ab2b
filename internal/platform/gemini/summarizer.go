package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/echonote/echonote-api/internal/config"
	"github.com/echonote/echonote-api/internal/pipeline"
)

// Error definitions for the gemini package.
var (
	// ErrInvalidConfig is returned when the summarizer configuration is incomplete.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrInvalidResponse is returned when the API response carries no usable text.
	ErrInvalidResponse = errors.New("invalid gemini response")

	// ErrContentBlocked is returned when the API refuses to summarize the transcript.
	ErrContentBlocked = errors.New("content blocked by safety filters")
)

const summaryPrompt = `Summarize the following voice note transcript in one or two sentences.
Keep the speaker's intent; do not add information that is not in the transcript.

Transcript:
%s`

// Summarizer is a pipeline stage that asks Gemini for a short summary of the
// transcript. API failures bubble up as plain errors so the worker's retry
// policy governs them; a blocked or malformed response is permanent and
// wrapped accordingly.
type Summarizer struct {
	logger *slog.Logger
	client *genai.Client
	model  string
}

var _ pipeline.Stage = (*Summarizer)(nil)

// NewSummarizer creates a Summarizer from the LLM configuration.
func NewSummarizer(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Summarizer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return &Summarizer{
		logger: logger.With("component", "gemini_summarizer"),
		client: client,
		model:  cfg.ModelName,
	}, nil
}

func (s *Summarizer) Name() string { return "gemini_summary" }

// Run summarizes doc.Transcript and stores the result in doc.Summary. A
// document without a transcript passes through untouched.
func (s *Summarizer) Run(ctx context.Context, doc pipeline.Document) (pipeline.Document, error) {
	if strings.TrimSpace(doc.Transcript) == "" {
		return doc, nil
	}

	contents := genai.Text(fmt.Sprintf(summaryPrompt, doc.Transcript))
	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Gemini API call failed", "error", err)
		return doc, fmt.Errorf("summary request failed: %w", err)
	}

	summary, err := extractText(resp)
	if err != nil {
		return doc, err
	}

	doc.Summary = &summary
	s.logger.DebugContext(ctx, "summary generated",
		"transcript_length", len(doc.Transcript),
		"summary_length", len(summary))
	return doc, nil
}
