package main

import (
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/segment-cli/internal/export"
	"github.com/sells-group/segment-cli/internal/model"
)

var featuresCmd = &cobra.Command{
	Use:   "features <input>",
	Short: "Build the per-customer feature table from a transaction file",
	Long:  "Reads a CSV, XLSX or zipped transaction file (local path or URL), applies the cleaning rules and writes one feature row per customer as CSV.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("features"); err != nil {
			return err
		}

		snapshot, _ := cmd.Flags().GetString("snapshot")
		out, _ := cmd.Flags().GetString("out")
		metricsFile, _ := cmd.Flags().GetString("metrics-file")

		opts, err := featureOptions(snapshot)
		if err != nil {
			return err
		}

		reg, m := cliMetrics()
		defer writeMetricsFile(metricsFile, reg)

		table, err := buildFeatures(ctx, args[0], opts, m)
		if err != nil {
			return eris.Wrap(err, "features")
		}

		w, closeFn, err := openOutput(out, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if err := export.WriteFeatures(w, table); err != nil {
			_ = closeFn()
			return err
		}
		if err := closeFn(); err != nil {
			return eris.Wrap(err, "features: close output")
		}

		formatFilterStats(cmd.ErrOrStderr(), table.Stats)
		return nil
	},
}

func init() {
	featuresCmd.Flags().String("snapshot", "", "reference date for recency (YYYY-MM-DD); default is one day after the latest purchase")
	featuresCmd.Flags().String("out", "", "output CSV path (default stdout)")
	featuresCmd.Flags().String("metrics-file", "", "write Prometheus metrics to this textfile on exit")
	rootCmd.AddCommand(featuresCmd)
}

// formatFilterStats writes the filter summary of a feature build to w.
func formatFilterStats(w io.Writer, s model.FilterStats) {
	_, _ = fmt.Fprintf(w, "snapshot %s: %d rows in, %d kept (missing customer %d, cancelled %d, qty<=0 %d, price<=0 %d); %d customers kept, %d excluded\n",
		s.SnapshotDate.Format("2006-01-02"),
		s.InputRows, s.KeptRows,
		s.DroppedMissingCustomer, s.DroppedCancelled, s.DroppedNonPositiveQty, s.DroppedNonPositivePrice,
		s.CustomersKept, s.CustomersExcluded,
	)
}
