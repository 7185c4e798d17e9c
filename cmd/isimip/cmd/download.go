package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"isimip/internal/aggregate"
	"isimip/internal/dataset"
	"isimip/internal/fetch"
	"isimip/internal/logger"
	"isimip/internal/progress"
	"isimip/internal/worker"
	"isimip/pkg/api"

	"github.com/spf13/cobra"
)

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download and crop climate files",
		Long: `Download every file of the selection, crop it to the bounding box and delete the
global original.

Items whose cropped output already exists are skipped without contacting the server.
One failed item never stops the others; the command exits non-zero if any failed.

Example:
  isimip download --model GFDL-ESM4 --variable tas --scenario historical --bbox=-120,-100,30,40
  isimip download --model all --variable pr --scenario ssp585 --concurrency 5 --conda-env climate4r`,
		RunE: runDownload,
	}

	addSelectionFlags(cmd, true)

	flags := cmd.Flags()
	flags.String("bbox", "", "bounding box xmin,xmax,ymin,ymax (default: whole globe)")
	flags.Int("concurrency", 0, "items processed at once (default: 5 for --model all, else 1)")
	flags.Duration("launch-delay", 0, "minimum delay between item launches (default 1s)")
	flags.Int("retries", 0, "download retries for transient failures")
	flags.Duration("retry-backoff", 0, "initial retry backoff (default 1s)")
	flags.String("conda-env", "", `conda environment for NcML aggregation ("no" to skip)`)
	flags.Bool("ask-env", false, "prompt for the conda environment")
	flags.Bool("combine", false, "merge cropped chunks per model and scenario afterwards")
	flags.Bool("json", false, "print the run summary as JSON")

	return cmd
}

func runDownload(cmd *cobra.Command, _ []string) error {
	sel, err := selection(cmd)
	if err != nil {
		return err
	}
	bboxFlag, _ := cmd.Flags().GetString("bbox")
	bbox, err := dataset.ParseBoundingBox(bboxFlag)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	ctx, cfg := a.ctx, a.cfg
	log := logger.FromContext(ctx, a.log)

	if ask, _ := cmd.Flags().GetBool("ask-env"); ask && !cmd.Flags().Changed("conda-env") {
		env, err := promptCondaEnv(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		cfg.CondaEnv = env
	}

	engine, err := worker.ParseEngine(cfg.CropEngine)
	if err != nil {
		return err
	}
	cropper := worker.NewCropper(a.runtime, a.store, worker.CropperConfig{
		Engine:  engine,
		Binary:  cfg.CropBinary,
		Image:   cfg.RuntimeImage,
		Timeout: cfg.CropTimeout,
		Logger:  a.log,
	})

	var (
		aggregator *aggregate.RscriptAggregator
		combiner   *aggregate.Combiner
	)
	if cfg.AggregationEnabled() {
		aggregator = aggregate.NewRscriptAggregator(a.runtime, aggregate.RscriptConfig{
			CondaEnv: cfg.CondaEnv,
			Root:     a.store.Root(),
			Image:    cfg.RuntimeImage,
		})
	}
	if cfg.Combine {
		combiner = newCombiner(a)
	}

	// Fail before any download when a tool is missing.
	if err := a.runtime.Check(ctx, cropper.Binary()); err != nil {
		return err
	}
	if aggregator != nil {
		if err := aggregator.Check(ctx); err != nil {
			return err
		}
	}
	if combiner != nil {
		if err := combiner.Check(ctx); err != nil {
			return err
		}
	}

	opts := fetch.DefaultOptions()
	opts.RetryAttempts = cfg.RetryAttempts
	opts.RetryBackoff = cfg.RetryBackoff
	fetcher := fetch.NewFetcher(fetch.NewClient(opts), a.store)

	total := dataset.Count(sel)
	concurrency := cfg.WorkerConcurrency(sel.AllModels())
	reporter := progress.NewReporter(progress.Options{
		Total:   total,
		Workers: concurrency,
		Output:  cmd.ErrOrStderr(),
	})

	executor := worker.NewExecutor(dataset.NewPathBuilder(cfg.BaseURL), a.store, fetcher, cropper, worker.ExecutorConfig{
		Concurrency: concurrency,
		LaunchDelay: cfg.LaunchDelay,
		BoundingBox: bbox,
		Logger:      a.log,
		Recorder:    a.recorder,
		Progress:    reporter,
	})

	log.Info("download starting",
		"models", len(sel.Models),
		"variables", len(sel.Variables),
		"scenarios", len(sel.Scenarios),
		"items", total,
		"output", a.store.Root(),
	)

	reporter.Start()
	summary := executor.Run(ctx, dataset.Plan(sel))
	reporter.Stop()

	runPostStages(ctx, a, &summary, aggregate.Targets(sel), aggregator, combiner)

	if err := printSummary(cmd, &summary); err != nil {
		return err
	}
	return summaryError(ctx, &summary)
}

// runPostStages runs combine and aggregation after the batch. Both are
// skipped when the run was interrupted.
func runPostStages(ctx context.Context, a *app, summary *api.Summary, targets []aggregate.Target, agg *aggregate.RscriptAggregator, combiner *aggregate.Combiner) {
	log := logger.FromContext(ctx, a.log)
	if ctx.Err() != nil {
		if agg != nil || combiner != nil {
			log.Warn("run interrupted, skipping post stages")
		}
		return
	}

	if combiner != nil {
		summary.Combined = aggregate.Combine(ctx, combiner, a.store, targets, a.log)
	}
	if agg != nil {
		summary.Aggregations = aggregate.Aggregate(ctx, agg, a.store, targets, a.log)
	} else {
		log.Info("aggregation disabled, no conda environment configured")
	}
}

func newCombiner(a *app) *aggregate.Combiner {
	return aggregate.NewCombiner(a.runtime, aggregate.CombinerConfig{
		Root:  a.store.Root(),
		Image: a.cfg.RuntimeImage,
	})
}

// promptCondaEnv asks for the aggregation environment on out and reads one line from in.
func promptCondaEnv(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, `Conda environment with climate4R for NcML aggregation (empty or "no" to skip): `)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read conda environment: %w", err)
	}
	return strings.TrimSpace(line), nil
}
