// Package aggregate runs the post-download stages over each model/scenario
// directory: NcML descriptor generation and the optional merge of cropped
// chunks into one file.
package aggregate

import (
	"context"
	"log/slog"

	"isimip/internal/dataset"
	"isimip/internal/logger"
	"isimip/pkg/api"
)

// Target is one model/scenario directory.
type Target struct {
	Model    dataset.Model
	Scenario dataset.Scenario
}

// Dir returns the target's directory key.
func (t Target) Dir() string {
	return dataset.Dir(t.Model, t.Scenario)
}

// Targets lists the model/scenario pairs of a selection in scenario, then
// model order.
func Targets(sel dataset.Selection) []Target {
	targets := make([]Target, 0, len(sel.Models)*len(sel.Scenarios))
	for _, s := range sel.Scenarios {
		for _, m := range sel.Models {
			targets = append(targets, Target{Model: m, Scenario: s})
		}
	}
	return targets
}

// Lister enumerates keys in the output tree.
type Lister interface {
	List(ctx context.Context, prefix, suffix string) ([]string, error)
}

// stageFunc processes one target's files and returns the output key.
type stageFunc func(ctx context.Context, t Target, files []string) (string, error)

// runStage calls fn for every target holding at least one file with suffix.
// A failing target is recorded and the others continue.
func runStage(ctx context.Context, name string, lister Lister, targets []Target, suffix string, base *slog.Logger, fn stageFunc) []api.StageResult {
	log := logger.FromContext(ctx, base).With("stage", name)

	var results []api.StageResult
	for _, t := range targets {
		if ctx.Err() != nil {
			log.Warn("stage interrupted", "error", ctx.Err())
			break
		}

		tlog := log.With("model", t.Model, "scenario", t.Scenario)
		files, err := lister.List(ctx, t.Dir(), suffix)
		if err != nil {
			tlog.Error("failed to list directory", "dir", t.Dir(), "error", err)
			results = append(results, api.StageResult{
				Model:    string(t.Model),
				Scenario: string(t.Scenario),
				Error:    err.Error(),
			})
			continue
		}
		if len(files) == 0 {
			tlog.Warn("no files, skipping", "dir", t.Dir())
			continue
		}

		r := api.StageResult{
			Model:    string(t.Model),
			Scenario: string(t.Scenario),
			Files:    len(files),
		}
		out, err := fn(ctx, t, files)
		if err != nil {
			tlog.Error("stage failed", "error", err)
			r.Error = err.Error()
		} else {
			r.Output = out
			tlog.Info("stage complete", "output", out, "files", len(files))
		}
		results = append(results, r)
	}
	return results
}
