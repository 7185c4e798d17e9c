package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"isimip/pkg/api"

	"github.com/spf13/cobra"
)

var (
	errRunFailed   = errors.New("run finished with failures")
	errInterrupted = errors.New("run interrupted")
)

// printSummary writes the summary to stdout, as JSON when --json is set.
func printSummary(cmd *cobra.Command, s *api.Summary) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	out := cmd.OutOrStdout()
	if s.Total == 0 {
		fmt.Fprintf(out, "Run %s\n", s.RunID)
	} else {
		fmt.Fprintf(out, "Run %s: %d items | %d cropped | %d skipped | %d failed | %d not run\n",
			s.RunID, s.Total, s.Cropped, s.Skipped, s.Failed, s.NotRun)
	}

	if s.Failed > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ITEM\tSTATUS\tERROR")
		for _, r := range s.Items {
			if r.Status.Failed() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Key, r.Status, truncate(r.Error, 80))
			}
		}
		w.Flush()
	}

	printStage(cmd, "Combined", s.Combined)
	printStage(cmd, "Aggregated", s.Aggregations)
	return nil
}

func printStage(cmd *cobra.Command, title string, results []api.StageResult) {
	if len(results) == 0 {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s:\n", title)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "MODEL\tSCENARIO\tFILES\tRESULT")
	for _, r := range results {
		result := r.Output
		if r.Error != "" {
			result = "error: " + truncate(r.Error, 80)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Model, r.Scenario, r.Files, result)
	}
	w.Flush()
}

// summaryError maps the summary onto the command's exit status.
func summaryError(ctx context.Context, s *api.Summary) error {
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %d of %d items not run", errInterrupted, s.NotRun, s.Total)
	case !s.OK():
		return fmt.Errorf("%w: %d items, %d post-stage targets", errRunFailed, s.Failed, s.StageFailures())
	}
	return nil
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
