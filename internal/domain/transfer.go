package domain

import (
	"errors"
	"time"
)

// TransferStatus represents the state of a resumable transfer
type TransferStatus string

// Possible transfer status values
const (
	TransferStatusDownloading TransferStatus = "downloading"
	TransferStatusPaused      TransferStatus = "paused"
	TransferStatusCompleted   TransferStatus = "completed"
	TransferStatusFailed      TransferStatus = "failed"
	TransferStatusCancelled   TransferStatus = "cancelled"
)

// Common validation errors for TransferTask
var (
	ErrEmptyResourceID        = errors.New("transfer resource ID cannot be empty")
	ErrEmptySourceURL         = errors.New("transfer source URL cannot be empty")
	ErrEmptyDestination       = errors.New("transfer destination cannot be empty")
	ErrInvalidTransferStatus  = errors.New("invalid transfer status")
	ErrNegativeBytes          = errors.New("transfer byte counts cannot be negative")
	ErrTransferredExceedTotal = errors.New("bytes transferred cannot exceed bytes total")
)

// TransferTask describes one resumable artifact download. BytesTotal is -1
// until the transport reports the full size. Completed and cancelled are
// terminal states.
type TransferTask struct {
	ResourceID       string            `json:"resource_id"`
	SourceURL        string            `json:"source_url"`
	Destination      string            `json:"destination"`
	Headers          map[string]string `json:"headers,omitempty"`
	BytesTotal       int64             `json:"bytes_total"`
	BytesTransferred int64             `json:"bytes_transferred"`
	Status           TransferStatus    `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewTransferTask creates a downloading TransferTask for the given resource.
// BytesTotal starts at -1 (unknown) and is filled in by the first progress
// report from the transport. Returns an error if validation fails.
func NewTransferTask(resourceID, sourceURL, destination string, headers map[string]string) (*TransferTask, error) {
	task := &TransferTask{
		ResourceID:  resourceID,
		SourceURL:   sourceURL,
		Destination: destination,
		Headers:     headers,
		BytesTotal:  -1,
		Status:      TransferStatusDownloading,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the TransferTask has valid data.
// Returns an error if any field fails validation.
func (t *TransferTask) Validate() error {
	if t.ResourceID == "" {
		return ErrEmptyResourceID
	}

	if t.SourceURL == "" {
		return ErrEmptySourceURL
	}

	if t.Destination == "" {
		return ErrEmptyDestination
	}

	if !isValidTransferStatus(t.Status) {
		return ErrInvalidTransferStatus
	}

	if t.BytesTransferred < 0 {
		return ErrNegativeBytes
	}

	if t.BytesTotal >= 0 && t.BytesTransferred > t.BytesTotal {
		return ErrTransferredExceedTotal
	}

	return nil
}

// IsTerminal reports whether the transfer has reached a state that permits
// no further transitions.
func (t *TransferTask) IsTerminal() bool {
	return t.Status == TransferStatusCompleted || t.Status == TransferStatusCancelled
}

// RecordProgress advances the byte counters. Progress is monotonic within a
// task lifetime: a report below the current high-water mark is ignored so a
// resumed transfer can never appear to move backwards.
func (t *TransferTask) RecordProgress(transferred, total int64) {
	if total >= 0 {
		t.BytesTotal = total
	}
	if transferred > t.BytesTransferred {
		t.BytesTransferred = transferred
	}
	t.UpdatedAt = time.Now().UTC()
}

func isValidTransferStatus(status TransferStatus) bool {
	switch status {
	case TransferStatusDownloading, TransferStatusPaused, TransferStatusCompleted,
		TransferStatusFailed, TransferStatusCancelled:
		return true
	default:
		return false
	}
}
