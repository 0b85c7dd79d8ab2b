// Package gemini integrates Google's Gemini API as an optional pipeline
// stage that summarizes transcripts.
package gemini
