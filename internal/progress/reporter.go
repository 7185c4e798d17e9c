package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Outcome classifies a finished item.
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeSkipped
	OutcomeFailed
	// OutcomeAborted returns an interrupted item to the not-run count.
	OutcomeAborted
)

// Options configures the progress reporter.
type Options struct {
	// Total is the number of planned work items.
	Total int

	// Workers is the concurrency limit (for display).
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to print a status line.
	// Default: 10s
	UpdateInterval time.Duration
}

// Reporter tracks item counts and prints them periodically.
type Reporter struct {
	opts Options

	done       atomic.Int32
	skipped    atomic.Int32
	failed     atomic.Int32
	inProgress atomic.Int32
	bytes      atomic.Int64

	mu        sync.Mutex
	startTime time.Time
	stopCh    chan struct{}
	loopDone  chan struct{}
	started   bool
	stopped   bool
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Total      int
	Done       int
	Skipped    int
	Failed     int
	InProgress int
	Pending    int
	Bytes      int64
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = 10 * time.Second
	}

	return &Reporter{
		opts:     opts,
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Start prints the header and begins periodic updates.
func (r *Reporter) Start() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[isimip] Items: %d total | Workers: %d\n", r.opts.Total, r.opts.Workers)

	go r.updateLoop()
}

// Stop halts periodic updates and prints the final status. It is safe to
// call more than once.
func (r *Reporter) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.loopDone
}

// ItemStarted marks an item as in progress.
func (r *Reporter) ItemStarted() {
	if r == nil {
		return
	}
	r.inProgress.Add(1)
}

// ItemFinished moves an in-progress item to its outcome. bytes is the
// downloaded size, zero when nothing was fetched.
func (r *Reporter) ItemFinished(o Outcome, bytes int64) {
	if r == nil {
		return
	}
	r.inProgress.Add(-1)
	r.bytes.Add(bytes)
	switch o {
	case OutcomeDone:
		r.done.Add(1)
	case OutcomeSkipped:
		r.skipped.Add(1)
	case OutcomeFailed:
		r.failed.Add(1)
	}
}

// Snapshot returns the current counters.
func (r *Reporter) Snapshot() Snapshot {
	s := Snapshot{
		Total:      r.opts.Total,
		Done:       int(r.done.Load()),
		Skipped:    int(r.skipped.Load()),
		Failed:     int(r.failed.Load()),
		InProgress: int(r.inProgress.Load()),
		Bytes:      r.bytes.Load(),
	}
	s.Pending = max(s.Total-s.Done-s.Skipped-s.Failed-s.InProgress, 0)
	return s
}

func (r *Reporter) updateLoop() {
	defer close(r.loopDone)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	s := r.Snapshot()

	var percent float64
	if s.Total > 0 {
		percent = float64(s.Done+s.Skipped+s.Failed) / float64(s.Total) * 100
	}

	fmt.Fprintf(r.opts.Output, "[isimip] Progress: %.1f%% | %d done | %d skipped | %d failed | %d in-progress | %d pending | %s\n",
		percent, s.Done, s.Skipped, s.Failed, s.InProgress, s.Pending, FormatBytes(s.Bytes))
}

func (r *Reporter) printFinalStatus() {
	s := r.Snapshot()
	fmt.Fprintf(r.opts.Output, "[isimip] Finished in %s: %d done | %d skipped | %d failed | %d not run | %s\n",
		formatDuration(time.Since(r.startTime)),
		s.Done, s.Skipped, s.Failed, s.Pending+s.InProgress, FormatBytes(s.Bytes))
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
