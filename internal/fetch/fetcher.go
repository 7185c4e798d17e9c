package fetch

import (
	"context"
	"errors"
	"fmt"
)

// ErrDownloadFailure wraps every error a failed fetch reports.
var ErrDownloadFailure = errors.New("download failed")

// Status is the outcome of one fetch.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Result reports the outcome of Fetch.
type Result struct {
	Status   Status
	Bytes    int64
	Attempts int
	Err      error
}

// Fetcher downloads remote files into a Store.
type Fetcher struct {
	client *Client
	store  *Store
}

// NewFetcher creates a Fetcher writing into store.
func NewFetcher(client *Client, store *Store) *Fetcher {
	return &Fetcher{client: client, store: store}
}

// Fetch downloads url into key unless key already exists, in which case no
// request is made. Failures are reported in the result, never panicked or
// returned as a batch-level error.
func (f *Fetcher) Fetch(ctx context.Context, url, key string) Result {
	exists, err := f.store.Exists(ctx, key)
	if err != nil {
		return Result{Status: StatusFailed, Err: fmt.Errorf("%w: stat %s: %v", ErrDownloadFailure, key, err)}
	}
	if exists {
		return Result{Status: StatusSkipped}
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= f.client.RetryAttempts(); attempt++ {
		if attempt > 0 {
			if err := f.client.Backoff(ctx, attempt); err != nil {
				lastErr = err
				break
			}
		}
		attempts++

		n, err := f.download(ctx, url, key)
		if err == nil {
			return Result{Status: StatusDownloaded, Bytes: n, Attempts: attempts}
		}
		lastErr = err

		if ctx.Err() != nil || !IsRetryable(err) {
			break
		}
	}

	return Result{
		Status:   StatusFailed,
		Attempts: attempts,
		Err:      fmt.Errorf("%w: %s: %w", ErrDownloadFailure, url, lastErr),
	}
}

func (f *Fetcher) download(ctx context.Context, url, key string) (int64, error) {
	body, err := f.client.Get(ctx, url)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	// net/http reports a body shorter than Content-Length as
	// io.ErrUnexpectedEOF, which aborts the write before commit.
	return f.store.Write(ctx, key, body)
}
