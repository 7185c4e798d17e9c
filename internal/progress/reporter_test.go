package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer guards a bytes.Buffer shared with the update goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{256 * 1024 * 1024, "256.00 MB"},
		{1024 * 1024 * 1024, "1.00 GB"},
		{2 * 1024 * 1024 * 1024 * 1024, "2.00 TB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.input); got != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m 30s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.input); got != tt.expected {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestReporterItemTracking(t *testing.T) {
	reporter := NewReporter(Options{Total: 5, Workers: 2})

	reporter.ItemStarted()
	reporter.ItemStarted()
	reporter.ItemStarted()
	reporter.ItemFinished(OutcomeDone, 100)
	reporter.ItemFinished(OutcomeSkipped, 0)

	s := reporter.Snapshot()
	if s.Done != 1 || s.Skipped != 1 || s.Failed != 0 {
		t.Errorf("unexpected counts %+v", s)
	}
	if s.InProgress != 1 {
		t.Errorf("expected 1 in-progress, got %d", s.InProgress)
	}
	if s.Pending != 2 {
		t.Errorf("expected 2 pending, got %d", s.Pending)
	}
	if s.Bytes != 100 {
		t.Errorf("expected 100 bytes, got %d", s.Bytes)
	}

	reporter.ItemFinished(OutcomeFailed, 0)
	if s := reporter.Snapshot(); s.Failed != 1 || s.InProgress != 0 {
		t.Errorf("unexpected counts after failure %+v", s)
	}

	reporter.ItemStarted()
	reporter.ItemFinished(OutcomeAborted, 0)
	if s := reporter.Snapshot(); s.Failed != 1 || s.Pending != 2 {
		t.Errorf("expected aborted item to count as pending, got %+v", s)
	}
}

func TestReporterOutput(t *testing.T) {
	var out syncBuffer
	reporter := NewReporter(Options{
		Total:          2,
		Workers:        1,
		Output:         &out,
		UpdateInterval: 10 * time.Millisecond,
	})

	reporter.Start()
	reporter.ItemStarted()
	reporter.ItemFinished(OutcomeDone, 2048)
	time.Sleep(50 * time.Millisecond)
	reporter.Stop()
	reporter.Stop()

	got := out.String()
	if !strings.Contains(got, "[isimip] Items: 2 total | Workers: 1") {
		t.Errorf("missing header in %q", got)
	}
	if !strings.Contains(got, "[isimip] Progress: 50.0%") {
		t.Errorf("missing progress line in %q", got)
	}
	if !strings.Contains(got, "1 done | 0 skipped | 0 failed | 1 not run | 2.00 KB") {
		t.Errorf("missing final status in %q", got)
	}
}

func TestReporterNilIsNoop(t *testing.T) {
	var reporter *Reporter
	reporter.Start()
	reporter.ItemStarted()
	reporter.ItemFinished(OutcomeDone, 1)
	reporter.Stop()
}
