package pipeline

import (
	"context"
	"strings"
	"unicode"
)

// NormalizeStage cleans up raw engine output: collapses runs of whitespace,
// strips leading/trailing space, and capitalizes sentence starts. It never
// fails.
type NormalizeStage struct{}

// NewNormalizeStage creates a NormalizeStage.
func NewNormalizeStage() *NormalizeStage {
	return &NormalizeStage{}
}

// Name identifies the stage in logs.
func (s *NormalizeStage) Name() string { return "normalize" }

// Run transforms the document.
func (s *NormalizeStage) Run(ctx context.Context, doc Document) (Document, error) {
	doc.Transcript = normalize(doc.Transcript)
	return doc, nil
}

func normalize(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}

	out := strings.Join(fields, " ")

	// Capitalize the first letter and any letter following sentence-ending
	// punctuation.
	runes := []rune(out)
	capitalizeNext := true
	for i, r := range runes {
		if capitalizeNext && unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			capitalizeNext = false
			continue
		}
		switch r {
		case '.', '!', '?':
			capitalizeNext = true
		}
	}

	return string(runes)
}

// Ensure NormalizeStage implements Stage
var _ Stage = (*NormalizeStage)(nil)
