// Package pipeline contains the staged processing that turns a captured
// audio note into a transcript and derived metadata. A Runner selects a
// transcription engine for the host it runs on, then passes a Document
// through each configured stage in order. Stage failures are classified as
// transient (retryable) or precondition (terminal) so the worker can decide
// whether a retry could ever succeed.
package pipeline
