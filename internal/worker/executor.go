// Package worker runs the per-item fetch and crop pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"isimip/internal/dataset"
	"isimip/internal/fetch"
	"isimip/internal/logger"
	"isimip/internal/observability"
	"isimip/internal/progress"
	"isimip/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ItemError ties a per-item failure to its work item.
type ItemError struct {
	Item dataset.WorkItem
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Item.Key(), e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// Fetcher downloads one remote file into a local key.
type Fetcher interface {
	Fetch(ctx context.Context, url, key string) fetch.Result
}

// CropUnit subsets one local file.
type CropUnit interface {
	Crop(ctx context.Context, rawKey string, bbox dataset.BoundingBox) CropResult
}

// ArtifactStore answers existence checks on the output tree.
type ArtifactStore interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// ExecutorConfig holds configuration for the parallel executor.
type ExecutorConfig struct {
	Concurrency int
	LaunchDelay time.Duration // Minimum gap between item launches; 0 disables throttling
	BoundingBox dataset.BoundingBox
	Logger      *slog.Logger
	Recorder    *observability.Recorder
	Progress    *progress.Reporter
}

// Executor runs work items through fetch and crop on a bounded pool of goroutines.
type Executor struct {
	paths   dataset.PathBuilder
	store   ArtifactStore
	fetcher Fetcher
	cropper CropUnit
	config  ExecutorConfig
}

// NewExecutor creates a new parallel executor.
func NewExecutor(paths dataset.PathBuilder, store ArtifactStore, fetcher Fetcher, cropper CropUnit, config ExecutorConfig) *Executor {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.LaunchDelay < 0 {
		config.LaunchDelay = 0
	}
	if config.BoundingBox == (dataset.BoundingBox{}) {
		config.BoundingBox = dataset.Globe
	}
	if config.Logger == nil {
		config.Logger = logger.New()
	}

	return &Executor{
		paths:   paths,
		store:   store,
		fetcher: fetcher,
		cropper: cropper,
		config:  config,
	}
}

type job struct {
	index int
	item  dataset.WorkItem
}

// Run processes every item and returns the summary in plan order. It blocks
// until all dispatched items finish. When ctx is cancelled no further items
// are dispatched and the remaining ones are reported as not run.
func (e *Executor) Run(ctx context.Context, items iter.Seq[dataset.WorkItem]) api.Summary {
	log := logger.FromContext(ctx, e.config.Logger)
	log.Info("executor starting", "concurrency", e.config.Concurrency, "launch_delay", e.config.LaunchDelay, "bbox", e.config.BoundingBox.String())
	if e.config.BoundingBox.IsGlobe() {
		log.Warn("no bounding box set, cropped files will cover the whole globe")
	}

	summary := api.Summary{
		RunID:     logger.RunIDFromContext(ctx),
		StartedAt: time.Now().UTC(),
	}

	var (
		mu      sync.Mutex
		results = make(map[int]api.ItemResult)
	)
	record := func(index int, r api.ItemResult) {
		mu.Lock()
		results[index] = r
		mu.Unlock()
	}

	jobs := make(chan job)
	var wg sync.WaitGroup
	for range e.config.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				record(j.index, e.processItem(ctx, j.item))
			}
		}()
	}

	var limiter *rate.Limiter
	if e.config.LaunchDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(e.config.LaunchDelay), 1)
	}

	n := 0
	for item := range items {
		index := n
		n++

		if ctx.Err() != nil {
			record(index, notRun(item, ctx.Err()))
			continue
		}
		if limiter != nil {
			// Wait also fails early when the deadline would pass first.
			if err := limiter.Wait(ctx); err != nil {
				record(index, notRun(item, err))
				continue
			}
		}

		select {
		case jobs <- job{index: index, item: item}:
		case <-ctx.Done():
			record(index, notRun(item, ctx.Err()))
		}
	}
	close(jobs)
	wg.Wait()

	for i := range n {
		summary.Add(results[i])
	}
	summary.FinishedAt = time.Now().UTC()

	log.Info("executor finished",
		"total", summary.Total,
		"cropped", summary.Cropped,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"not_run", summary.NotRun,
	)
	return summary
}

// processItem runs fetch then crop for one item. Failures are contained in
// the returned result.
func (e *Executor) processItem(ctx context.Context, item dataset.WorkItem) api.ItemResult {
	result := newResult(item)
	if ctx.Err() != nil {
		return notRun(item, ctx.Err())
	}

	tracer := otel.Tracer("isimip-worker")
	ctx, span := tracer.Start(ctx, "process_item",
		trace.WithAttributes(
			attribute.String("item.key", item.Key()),
			attribute.String("item.model", string(item.Model)),
			attribute.String("item.scenario", string(item.Scenario)),
			attribute.String("item.variable", string(item.Variable)),
			attribute.Int("item.year_start", item.YearStart),
			attribute.Int("item.year_end", item.YearEnd),
		),
	)
	defer span.End()

	log := logger.FromContext(ctx, e.config.Logger).With("item", item.Key())
	start := time.Now()

	e.config.Recorder.ItemStarted(ctx)
	e.config.Progress.ItemStarted()

	var itemErr *ItemError
	finish := func(status api.ItemStatus, err error) api.ItemResult {
		result.Status = status
		result.Duration = time.Since(start).Seconds()
		outcome := progress.OutcomeDone

		switch {
		case err != nil && ctx.Err() != nil:
			// Interrupted rather than failed.
			result.Status = api.StatusNotRun
			outcome = progress.OutcomeAborted
			itemErr = &ItemError{Item: item, Err: err}
			log.Warn("item interrupted", "error", err)
		case err != nil:
			outcome = progress.OutcomeFailed
			itemErr = &ItemError{Item: item, Err: err}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("item failed", "status", status, "error", err)
		case status == api.StatusSkipped:
			outcome = progress.OutcomeSkipped
			log.Info("item skipped, cropped output exists", "output", result.Output)
		default:
			log.Info("item cropped", "output", result.Output, "bytes", result.Bytes, "duration", time.Since(start))
		}
		if itemErr != nil {
			result.Error = itemErr.Error()
		}

		span.SetAttributes(attribute.String("item.status", string(result.Status)))
		e.config.Recorder.ItemFinished(ctx, string(item.Model), string(item.Scenario), string(result.Status))
		e.config.Progress.ItemFinished(outcome, result.Bytes)
		return result
	}

	paths, err := e.paths.BuildItem(item)
	if err != nil {
		return finish(api.StatusDownloadFailed, err)
	}
	result.Output = paths.Cropped

	exists, err := e.store.Exists(ctx, paths.Cropped)
	if err != nil {
		return finish(api.StatusDownloadFailed, fmt.Errorf("check %s: %w", paths.Cropped, err))
	}
	if exists {
		return finish(api.StatusSkipped, nil)
	}

	fr := e.fetcher.Fetch(ctx, paths.URL, paths.Raw)
	result.Bytes = fr.Bytes
	e.config.Recorder.BytesDownloaded(ctx, fr.Bytes)
	if fr.Status == fetch.StatusFailed {
		return finish(api.StatusDownloadFailed, fr.Err)
	}
	if fr.Status == fetch.StatusSkipped {
		log.Debug("raw file present, not downloaded again", "raw", paths.Raw)
	}

	cr := e.cropper.Crop(ctx, paths.Raw, e.config.BoundingBox)
	e.config.Recorder.CropObserved(ctx, cr.Duration, cr.Status == CropCropped)
	switch cr.Status {
	case CropCropped:
		return finish(api.StatusCropped, nil)
	case CropSkippedMissingSource:
		return finish(api.StatusCropFailed, fmt.Errorf("%w: source %s missing", ErrCropFailure, paths.Raw))
	default:
		err := cr.Err
		if err == nil {
			err = ErrCropFailure
		}
		return finish(api.StatusCropFailed, err)
	}
}

func newResult(item dataset.WorkItem) api.ItemResult {
	return api.ItemResult{
		Key:       item.Key(),
		Model:     string(item.Model),
		Scenario:  string(item.Scenario),
		Variable:  string(item.Variable),
		YearStart: item.YearStart,
		YearEnd:   item.YearEnd,
	}
}

func notRun(item dataset.WorkItem, cause error) api.ItemResult {
	r := newResult(item)
	r.Status = api.StatusNotRun
	if cause == nil {
		cause = errors.New("not dispatched")
	}
	r.Error = cause.Error()
	return r
}
