package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"isimip/internal/dataset"
	"isimip/internal/logger"
	"isimip/internal/worker/runtime"
	"isimip/pkg/api"
)

// ErrAggregationFailure wraps every per-target post-stage failure.
var ErrAggregationFailure = errors.New("aggregation failed")

// Aggregator writes a virtual dataset descriptor covering the files in
// sourceDir. Both paths are keys relative to the output root.
type Aggregator interface {
	Aggregate(ctx context.Context, sourceDir, descriptor string) error
}

// rExpr reads its two paths from the trailing command-line arguments so no
// path is ever interpolated into R source.
const rExpr = `args <- commandArgs(trailingOnly = TRUE); ` +
	`suppressPackageStartupMessages(library(loadeR)); ` +
	`makeAggregatedDataset(source.dir = normalizePath(args[[1]]), ` +
	`ncml.file = file.path(normalizePath(dirname(args[[2]])), basename(args[[2]])))`

// RscriptConfig configures an RscriptAggregator.
type RscriptConfig struct {
	// CondaEnv is the environment holding R and loadeR.
	CondaEnv string
	// Root is the output directory; it is the engine's working directory.
	Root  string
	Image string
	// Timeout bounds one descriptor. Default: 1h
	Timeout time.Duration
}

// RscriptAggregator calls loadeR::makeAggregatedDataset through conda run.
type RscriptAggregator struct {
	runtime runtime.Runtime
	config  RscriptConfig
}

// NewRscriptAggregator creates an aggregator running through rt.
func NewRscriptAggregator(rt runtime.Runtime, config RscriptConfig) *RscriptAggregator {
	if config.Timeout <= 0 {
		config.Timeout = time.Hour
	}
	return &RscriptAggregator{runtime: rt, config: config}
}

// Command returns the argument vector for one descriptor.
func (a *RscriptAggregator) Command(sourceDir, descriptor string) []string {
	return []string{"conda", "run", "-n", a.config.CondaEnv, "Rscript", "-e", rExpr, sourceDir, descriptor}
}

// Check verifies conda is available to the runtime.
func (a *RscriptAggregator) Check(ctx context.Context) error {
	return a.runtime.Check(ctx, "conda")
}

// Aggregate implements Aggregator.
func (a *RscriptAggregator) Aggregate(ctx context.Context, sourceDir, descriptor string) error {
	if err := os.MkdirAll(filepath.Join(a.config.Root, filepath.FromSlash(path.Dir(descriptor))), 0o755); err != nil {
		return fmt.Errorf("%w: create descriptor dir: %w", ErrAggregationFailure, err)
	}

	out, err := runtime.Run(ctx, a.runtime, runtime.StartOptions{
		Image:   a.config.Image,
		Command: a.Command(sourceDir, descriptor),
		WorkDir: a.config.Root,
		Timeout: a.config.Timeout,
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAggregationFailure, descriptor, err)
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("%w: %s: exit code %d: %s", ErrAggregationFailure, descriptor, out.ExitCode, out.LastLine())
	}
	return nil
}

// Aggregate writes ncml/{scenario}/{Model}_{scenario}.ncml for every target
// whose directory holds netCDF files.
func Aggregate(ctx context.Context, agg Aggregator, lister Lister, targets []Target, log *slog.Logger) []api.StageResult {
	if log == nil {
		log = logger.New()
	}
	return runStage(ctx, "aggregate", lister, targets, ".nc", log,
		func(ctx context.Context, t Target, _ []string) (string, error) {
			descriptor := dataset.DescriptorPath(t.Model, t.Scenario)
			if err := agg.Aggregate(ctx, t.Dir(), descriptor); err != nil {
				return "", err
			}
			return descriptor, nil
		})
}
