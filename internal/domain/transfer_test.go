package domain

import (
	"testing"
)

func TestNewTransferTask(t *testing.T) {
	t.Parallel()
	task, err := NewTransferTask(
		"model-small-en",
		"https://models.example.com/small-en.bin",
		"/var/data/models/small-en.bin",
		map[string]string{"Authorization": "Bearer abc"},
	)

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if task.Status != TransferStatusDownloading {
		t.Errorf("Expected status %s, got %s", TransferStatusDownloading, task.Status)
	}

	if task.BytesTotal != -1 {
		t.Errorf("Expected unknown total (-1), got %d", task.BytesTotal)
	}

	if task.BytesTransferred != 0 {
		t.Errorf("Expected zero bytes transferred, got %d", task.BytesTransferred)
	}

	// Missing fields
	if _, err := NewTransferTask("", "https://x", "/y", nil); err != ErrEmptyResourceID {
		t.Errorf("Expected error %v, got %v", ErrEmptyResourceID, err)
	}
	if _, err := NewTransferTask("r", "", "/y", nil); err != ErrEmptySourceURL {
		t.Errorf("Expected error %v, got %v", ErrEmptySourceURL, err)
	}
	if _, err := NewTransferTask("r", "https://x", "", nil); err != ErrEmptyDestination {
		t.Errorf("Expected error %v, got %v", ErrEmptyDestination, err)
	}
}

func TestTransferTaskValidateBytes(t *testing.T) {
	t.Parallel()
	task := TransferTask{
		ResourceID:  "r",
		SourceURL:   "https://x",
		Destination: "/y",
		Status:      TransferStatusDownloading,
	}

	task.BytesTransferred = -5
	if err := task.Validate(); err != ErrNegativeBytes {
		t.Errorf("Expected error %v, got %v", ErrNegativeBytes, err)
	}

	task.BytesTransferred = 200
	task.BytesTotal = 100
	if err := task.Validate(); err != ErrTransferredExceedTotal {
		t.Errorf("Expected error %v, got %v", ErrTransferredExceedTotal, err)
	}
}

func TestTransferTaskRecordProgress(t *testing.T) {
	t.Parallel()
	task := TransferTask{
		ResourceID:  "r",
		SourceURL:   "https://x",
		Destination: "/y",
		BytesTotal:  -1,
		Status:      TransferStatusDownloading,
	}

	task.RecordProgress(400_000, 1_000_000)
	if task.BytesTransferred != 400_000 || task.BytesTotal != 1_000_000 {
		t.Errorf("Unexpected counters after progress: %d/%d", task.BytesTransferred, task.BytesTotal)
	}

	// A stale report must never move the counter backwards.
	task.RecordProgress(350_000, 1_000_000)
	if task.BytesTransferred != 400_000 {
		t.Errorf("Expected bytes transferred to stay at 400000, got %d", task.BytesTransferred)
	}

	task.RecordProgress(1_000_000, 1_000_000)
	if task.BytesTransferred != 1_000_000 {
		t.Errorf("Expected bytes transferred 1000000, got %d", task.BytesTransferred)
	}
}

func TestTransferTaskIsTerminal(t *testing.T) {
	t.Parallel()
	task := TransferTask{
		ResourceID:  "r",
		SourceURL:   "https://x",
		Destination: "/y",
	}

	terminal := map[TransferStatus]bool{
		TransferStatusDownloading: false,
		TransferStatusPaused:      false,
		TransferStatusFailed:      false,
		TransferStatusCompleted:   true,
		TransferStatusCancelled:   true,
	}

	for status, want := range terminal {
		task.Status = status
		if task.IsTerminal() != want {
			t.Errorf("IsTerminal for %s: expected %v", status, want)
		}
	}
}
