package cmd

import (
	"errors"

	"isimip/internal/aggregate"
	"isimip/internal/logger"
	"isimip/pkg/api"

	"github.com/spf13/cobra"
)

var errNoCondaEnv = errors.New(`no conda environment: set --conda-env, --ask-env or ISIMIP_CONDA_ENV (not "no")`)

func newAggregateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Write NcML descriptors for downloaded directories",
		Long: `Run loadeR::makeAggregatedDataset through conda for every model/scenario directory
of the selection, writing ncml/{scenario}/{Model}_{scenario}.ncml. Empty or missing
directories are skipped.

Example:
  isimip aggregate --model all --scenario ssp585 --conda-env climate4r`,
		RunE: runAggregate,
	}
	addSelectionFlags(cmd, false)
	cmd.Flags().String("conda-env", "", "conda environment holding R and loadeR")
	cmd.Flags().Bool("ask-env", false, "prompt for the conda environment")
	cmd.Flags().Bool("json", false, "print the results as JSON")
	return cmd
}

func runAggregate(cmd *cobra.Command, _ []string) error {
	sel, err := selection(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if ask, _ := cmd.Flags().GetBool("ask-env"); ask && !cmd.Flags().Changed("conda-env") {
		env, err := promptCondaEnv(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		a.cfg.CondaEnv = env
	}
	if !a.cfg.AggregationEnabled() {
		return errNoCondaEnv
	}

	agg := aggregate.NewRscriptAggregator(a.runtime, aggregate.RscriptConfig{
		CondaEnv: a.cfg.CondaEnv,
		Root:     a.store.Root(),
		Image:    a.cfg.RuntimeImage,
	})
	if err := agg.Check(a.ctx); err != nil {
		return err
	}

	summary := api.Summary{
		RunID:        logger.RunIDFromContext(a.ctx),
		Aggregations: aggregate.Aggregate(a.ctx, agg, a.store, aggregate.Targets(sel), a.log),
	}
	if err := printSummary(cmd, &summary); err != nil {
		return err
	}
	return summaryError(a.ctx, &summary)
}

func newCombineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "combine",
		Short: "Merge cropped chunks per model and scenario",
		Long: `Concatenate the cropped chunks of every model/scenario directory of the selection
in time, merging variables into one file at combined/{scenario}/{Model}_combined.nc.
Requires cdo.

Example:
  isimip combine --model GFDL-ESM4,UKESM1-0-LL --scenario historical`,
		RunE: runCombine,
	}
	addSelectionFlags(cmd, false)
	cmd.Flags().Bool("json", false, "print the results as JSON")
	return cmd
}

func runCombine(cmd *cobra.Command, _ []string) error {
	sel, err := selection(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	combiner := newCombiner(a)
	if err := combiner.Check(a.ctx); err != nil {
		return err
	}

	summary := api.Summary{
		RunID:    logger.RunIDFromContext(a.ctx),
		Combined: aggregate.Combine(a.ctx, combiner, a.store, aggregate.Targets(sel), a.log),
	}
	if err := printSummary(cmd, &summary); err != nil {
		return err
	}
	return summaryError(a.ctx, &summary)
}
