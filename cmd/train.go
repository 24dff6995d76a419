package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/export"
	"github.com/sells-group/segment-cli/internal/model"
	"github.com/sells-group/segment-cli/internal/train"
)

var trainCmd = &cobra.Command{
	Use:   "train <input>",
	Short: "Fit a segment model and save it as a new artifact version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		applyTrainFlags(cmd)
		if err := cfg.Validate("train"); err != nil {
			return err
		}

		snapshot, _ := cmd.Flags().GetString("snapshot")
		assignmentsOut, _ := cmd.Flags().GetString("assignments-out")
		format, _ := cmd.Flags().GetString("format")
		save, _ := cmd.Flags().GetBool("save")
		metricsFile, _ := cmd.Flags().GetString("metrics-file")

		opts, err := featureOptions(snapshot)
		if err != nil {
			return err
		}
		params := trainParams()

		reg, m := cliMetrics()
		defer writeMetricsFile(metricsFile, reg)

		artifacts, err := openArtifactStore(ctx)
		if err != nil {
			return err
		}
		defer artifacts.Close() //nolint:errcheck

		st, err := openRunStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.CreateRun(ctx, model.RunKindTrain, params)
		if err != nil {
			return err
		}

		start := time.Now()
		res, table, err := func() (*train.Result, *model.FeatureTable, error) {
			table, err := buildFeatures(ctx, args[0], opts, m)
			if err != nil {
				return nil, nil, err
			}
			res, err := train.New(artifacts).Train(ctx, table, params)
			return res, table, err
		}()
		if err != nil {
			m.ObserveTrain(time.Since(start), 0, err)
			if ferr := st.FailRun(ctx, run.ID, err); ferr != nil {
				zap.L().Warn("mark run failed", zap.String("run_id", run.ID), zap.Error(ferr))
			}
			return eris.Wrap(err, "train")
		}
		m.ObserveTrain(time.Since(start), res.Artifact.Training.Inertia, nil)

		if save {
			if _, err := st.SaveAssignments(ctx, run.ID, res.Artifact.Version, res.Assignments); err != nil {
				_ = st.FailRun(ctx, run.ID, err)
				return err
			}
		}
		stats := table.Stats
		if err := st.CompleteRun(ctx, run.ID, res.Artifact.Version, &stats); err != nil {
			return err
		}

		if assignmentsOut != "" {
			w, closeFn, err := openOutput(assignmentsOut, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := export.WriteAssignments(w, format, res.Assignments); err != nil {
				_ = closeFn()
				return err
			}
			if err := closeFn(); err != nil {
				return eris.Wrap(err, "train: close assignments output")
			}
		}

		formatFilterStats(cmd.ErrOrStderr(), stats)
		formatTrainResult(cmd.OutOrStdout(), run.ID, res)
		return nil
	},
}

func init() {
	f := trainCmd.Flags()
	f.Int("k", 0, "number of segments (default from config)")
	f.Int64("seed", 0, "random seed (default from config)")
	f.Int("restarts", 0, "k-means restarts (default from config)")
	f.String("labeler", "", "segment labeling strategy: rfm or ordinal (default from config)")
	f.String("snapshot", "", "reference date for recency (YYYY-MM-DD)")
	f.String("assignments-out", "", "write training-set assignments to this path (- for stdout)")
	f.String("format", export.FormatCSV, "assignments format: csv or json")
	f.Bool("save", false, "persist training-set assignments to the run store")
	f.String("metrics-file", "", "write Prometheus metrics to this textfile on exit")
	rootCmd.AddCommand(trainCmd)
}

// applyTrainFlags overrides config values with explicitly set flags.
func applyTrainFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("k") {
		cfg.Train.K, _ = f.GetInt("k")
	}
	if f.Changed("seed") {
		cfg.Train.Seed, _ = f.GetInt64("seed")
	}
	if f.Changed("restarts") {
		cfg.Train.Restarts, _ = f.GetInt("restarts")
	}
	if f.Changed("labeler") {
		cfg.Train.Labeler, _ = f.GetString("labeler")
	}
}

// formatTrainResult writes a summary of a saved model to out.
func formatTrainResult(out io.Writer, runID string, res *train.Result) {
	a := res.Artifact
	counts := make(map[int]int, a.K())
	for _, as := range res.Assignments {
		counts[as.SegmentID]++
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", runID)
	_, _ = fmt.Fprintf(w, "Version:\t%s\n", a.Version)
	_, _ = fmt.Fprintf(w, "Columns:\t%s\n", strings.Join(a.FeatureColumnOrder, ", "))
	_, _ = fmt.Fprintf(w, "Customers:\t%d\n", a.Training.Customers)
	_, _ = fmt.Fprintf(w, "Inertia:\t%.4f\n", a.Training.Inertia)
	if res.Info.Checksum != "" {
		_, _ = fmt.Fprintf(w, "Checksum:\t%s\n", res.Info.Checksum)
	}
	_ = w.Flush()

	ids := make([]int, 0, len(a.SegmentLabelMap))
	for id := range a.SegmentLabelMap {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "\nSEGMENT\tLABEL\tCUSTOMERS")
	for _, id := range ids {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\n", id, a.SegmentLabelMap[id], counts[id])
	}
	_ = w.Flush()
}
