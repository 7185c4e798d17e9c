package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "isimip",
		Short: "isimip fetches and crops ISIMIP3b bias-adjusted climate data",
		Long: `isimip is a command line tool for retrieving ISIMIP3b bias-adjusted daily climate
projections and subsetting them to a region of interest.

For every selected (model, scenario, variable, year chunk) it downloads the global
file, crops it to a bounding box with CDO or NCO and removes the global original.
Files that were already cropped are skipped, so an interrupted run can simply be
started again.

Common workflows:

  Preview the work for a selection:
    isimip plan --model GFDL-ESM4 --variable tas --scenario historical

  Download and crop one model to the western United States:
    isimip download --model GFDL-ESM4 --variable tas,pr --scenario historical \
      --bbox=-120,-100,30,40 --output data

  Everything for one scenario, then NcML descriptors through conda/loadeR:
    isimip download --model all --variable pr --scenario ssp585 --conda-env climate4r

  Merge cropped chunks per model afterwards:
    isimip combine --model all --scenario ssp585 --output data

Configuration:
  Settings are read from isimip.yaml (or --config), then ISIMIP_* environment
  variables, then flags. For example:
    ISIMIP_OUTPUT_DIR      Output directory (default: isimip_data)
    ISIMIP_CONCURRENCY     Items processed at once (default: 5 for --model all, else 1)
    ISIMIP_CROP_ENGINE     cdo or ncks (default: cdo)
    ISIMIP_RUNTIME         exec, docker or kubernetes (default: exec)
    ISIMIP_CONDA_ENV       Conda environment for NcML aggregation (empty or "no" disables)`,
	}

	addGlobalFlags(root)

	root.AddCommand(newDownloadCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newAggregateCmd())
	root.AddCommand(newCombineCmd())

	return root
}

// Execute runs the CLI until completion or SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewRootCmd().ExecuteContext(ctx)
}

func addGlobalFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default is ./isimip.yaml)")
	flags.StringP("output", "o", "isimip_data", "output directory")
	flags.String("base-url", "", "remote archive root (default: files.isimip.org)")
	flags.String("runtime", "exec", "external tool runtime: exec, docker or kubernetes")
	flags.String("runtime-image", "", "container image with cdo/ncks/Rscript for the docker and kubernetes runtimes")
	flags.String("kube-namespace", "default", "namespace of the tool Jobs (kubernetes runtime)")
	flags.String("kube-volume-claim", "", "PersistentVolumeClaim holding --output, mounted at /data (kubernetes runtime)")
	flags.String("crop-engine", "cdo", "crop engine: cdo or ncks")
	flags.String("crop-binary", "", "crop engine executable (default: engine name on PATH)")
	flags.Duration("crop-timeout", 0, "maximum duration of one crop (default 30m)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "json", "log format: json or text")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	flags.String("otel-endpoint", "", "OTLP gRPC collector for traces, e.g. localhost:4317")
}

// addSelectionFlags registers --model, --scenario and optionally --variable
// as required flags.
func addSelectionFlags(cmd *cobra.Command, withVariables bool) {
	flags := cmd.Flags()
	flags.StringSliceP("model", "m", nil, `models, comma separated, or "all"`)
	flags.StringSliceP("scenario", "s", nil, `scenarios (historical, ssp126, ssp585) or "all"`)
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("scenario")

	if withVariables {
		flags.StringSliceP("variable", "v", nil, "variables, comma separated (hurs, huss, pr, prsn, ps, tas, tasmax, tasmin)")
		_ = cmd.MarkFlagRequired("variable")
	}
}
