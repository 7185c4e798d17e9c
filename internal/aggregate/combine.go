package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"isimip/internal/dataset"
	"isimip/internal/logger"
	"isimip/internal/worker/runtime"
	"isimip/pkg/api"
)

// CombinerConfig configures a Combiner.
type CombinerConfig struct {
	// Binary overrides the cdo executable.
	Binary string
	Root   string
	Image  string
	// Timeout bounds one engine call. Default: 1h
	Timeout time.Duration
}

// Combiner merges the cropped chunks of a model/scenario into one file with
// cdo. Chunks are concatenated in time per variable, and the variables are
// then merged into a single dataset.
type Combiner struct {
	runtime runtime.Runtime
	config  CombinerConfig
}

// NewCombiner creates a Combiner running through rt.
func NewCombiner(rt runtime.Runtime, config CombinerConfig) *Combiner {
	if config.Binary == "" {
		config.Binary = "cdo"
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Hour
	}
	return &Combiner{runtime: rt, config: config}
}

// Check verifies cdo is available to the runtime.
func (c *Combiner) Check(ctx context.Context) error {
	return c.runtime.Check(ctx, c.config.Binary)
}

// CombineFiles writes files merged into output, via output.tmp renamed on success.
func (c *Combiner) CombineFiles(ctx context.Context, files []string, output string) error {
	if len(files) == 0 {
		return fmt.Errorf("%w: %s: no input files", ErrAggregationFailure, output)
	}
	outPath := c.path(output)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("%w: create output dir: %w", ErrAggregationFailure, err)
	}

	tmp := output + ".tmp"
	var parts []string
	defer func() {
		for _, p := range parts {
			_ = os.Remove(c.path(p))
		}
		_ = os.Remove(c.path(tmp))
	}()

	groups := groupByVariable(files)
	if len(groups) == 1 {
		if err := c.run(ctx, "mergetime", groups[0].files, tmp); err != nil {
			return err
		}
	} else {
		for _, g := range groups {
			part := fmt.Sprintf("%s.%s.part", output, g.variable)
			parts = append(parts, part)
			if err := c.run(ctx, "mergetime", g.files, part); err != nil {
				return err
			}
		}
		if err := c.run(ctx, "merge", parts, tmp); err != nil {
			return err
		}
	}

	if err := os.Rename(c.path(tmp), outPath); err != nil {
		return fmt.Errorf("%w: rename %s: %w", ErrAggregationFailure, output, err)
	}
	return nil
}

func (c *Combiner) run(ctx context.Context, operator string, inputs []string, output string) error {
	cmd := append([]string{c.config.Binary, "-s", "-O", operator}, inputs...)
	cmd = append(cmd, output)

	out, err := runtime.Run(ctx, c.runtime, runtime.StartOptions{
		Image:   c.config.Image,
		Command: cmd,
		WorkDir: c.config.Root,
		Timeout: c.config.Timeout,
	})
	if err != nil {
		return fmt.Errorf("%w: cdo %s %s: %w", ErrAggregationFailure, operator, output, err)
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("%w: cdo %s %s: exit code %d: %s", ErrAggregationFailure, operator, output, out.ExitCode, out.LastLine())
	}
	return nil
}

func (c *Combiner) path(key string) string {
	return filepath.Join(c.config.Root, filepath.FromSlash(key))
}

// Combine writes combined/{scenario}/{Model}_combined.nc for every target
// whose directory holds cropped files.
func Combine(ctx context.Context, c *Combiner, lister Lister, targets []Target, log *slog.Logger) []api.StageResult {
	if log == nil {
		log = logger.New()
	}
	return runStage(ctx, "combine", lister, targets, dataset.CroppedSuffix, log,
		func(ctx context.Context, t Target, files []string) (string, error) {
			out := dataset.CombinedPath(t.Model, t.Scenario)
			if err := c.CombineFiles(ctx, files, out); err != nil {
				return "", err
			}
			return out, nil
		})
}

type variableGroup struct {
	variable string
	files    []string
}

// groupByVariable splits chunk files by the variable field of their name,
// keeping each group's files in chronological (lexical) order.
func groupByVariable(files []string) []variableGroup {
	index := map[string]int{}
	var groups []variableGroup
	for _, f := range files {
		v := variableOf(f)
		i, ok := index[v]
		if !ok {
			i = len(groups)
			index[v] = i
			groups = append(groups, variableGroup{variable: v})
		}
		groups[i].files = append(groups[i].files, f)
	}
	for i := range groups {
		slices.Sort(groups[i].files)
	}
	slices.SortFunc(groups, func(a, b variableGroup) int { return strings.Compare(a.variable, b.variable) })
	return groups
}

// variableOf extracts the variable from
// {model}_{member}_w5e5_{scenario}_{variable}_global_daily_{ys}_{ye}_cropped.nc.
func variableOf(key string) string {
	fields := strings.Split(path.Base(key), "_")
	if len(fields) < 5 {
		return "unknown"
	}
	return fields[4]
}
