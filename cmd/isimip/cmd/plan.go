package cmd

import (
	"fmt"
	"text/tabwriter"

	"isimip/internal/config"
	"isimip/internal/dataset"

	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "List the files a download would process",
		Long: `Expand the selection into work items and print each one with its remote URL
and local path. Nothing is downloaded.

Example:
  isimip plan --model all --variable tas --scenario historical,ssp585`,
		RunE: runPlan,
	}
	addSelectionFlags(cmd, true)
	cmd.Flags().Bool("urls", false, "print only the URLs, one per line")
	return cmd
}

func runPlan(cmd *cobra.Command, _ []string) error {
	sel, err := selection(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	paths := dataset.NewPathBuilder(cfg.BaseURL)
	out := cmd.OutOrStdout()

	if urlsOnly, _ := cmd.Flags().GetBool("urls"); urlsOnly {
		for item := range dataset.Plan(sel) {
			p, err := paths.BuildItem(item)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, p.URL)
		}
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ITEM\tLOCAL\tURL")
	for item := range dataset.Plan(sel) {
		p, err := paths.BuildItem(item)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", item.Key(), p.Cropped, p.URL)
	}
	w.Flush()

	fmt.Fprintf(out, "Total: %d items (%d models, %d variables, %d scenarios)\n",
		dataset.Count(sel), len(sel.Models), len(sel.Variables), len(sel.Scenarios))
	return nil
}
