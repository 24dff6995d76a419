package main

import (
	"errors"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/artifact"
	"github.com/sells-group/segment-cli/internal/export"
	"github.com/sells-group/segment-cli/internal/model"
	"github.com/sells-group/segment-cli/internal/scoring"
)

var scoreCmd = &cobra.Command{
	Use:   "score [input]",
	Short: "Assign customers to segments with a saved model",
	Long: "Scores a transaction file (local path or URL) or a prepared feature CSV (--features) against an artifact version. " +
		"The batch must produce exactly the artifact's feature columns.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("score"); err != nil {
			return err
		}

		version, _ := cmd.Flags().GetString("version")
		featuresPath, _ := cmd.Flags().GetString("features")
		snapshot, _ := cmd.Flags().GetString("snapshot")
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		summaryOut, _ := cmd.Flags().GetString("summary-out")
		metricsFile, _ := cmd.Flags().GetString("metrics-file")
		save := cfg.Score.SaveAssignments
		if cmd.Flags().Changed("save") {
			save, _ = cmd.Flags().GetBool("save")
		}

		if (len(args) == 0) == (featuresPath == "") {
			return eris.New("score: give exactly one of <input> or --features")
		}
		if version != model.LatestVersion && !artifact.ValidVersion(version) {
			return &model.InvalidParameterError{Name: "version", Value: version, Reason: "not a valid artifact version"}
		}

		reg, m := cliMetrics()
		defer writeMetricsFile(metricsFile, reg)

		artifacts, err := openArtifactStore(ctx)
		if err != nil {
			return err
		}
		defer artifacts.Close() //nolint:errcheck

		a, err := artifacts.Load(ctx, version)
		if err != nil {
			return eris.Wrap(err, "score: load artifact")
		}
		scorer, err := scoring.New(a, cfg.Score.Workers)
		if err != nil {
			return err
		}

		start := time.Now()
		var table *model.FeatureTable
		if featuresPath != "" {
			f, err := os.Open(featuresPath) //nolint:gosec
			if err != nil {
				return eris.Wrapf(err, "score: open %s", featuresPath)
			}
			table, err = export.ReadFeatures(f, a.FeatureColumnOrder)
			_ = f.Close()
			if err != nil {
				m.ObserveScore(time.Since(start), scoreOutcome(err))
				return eris.Wrap(err, "score")
			}
		} else {
			opts, err := featureOptions(snapshot)
			if err != nil {
				return err
			}
			opts.Columns = a.FeatureColumnOrder
			table, err = buildFeatures(ctx, args[0], opts, m)
			if err != nil {
				return eris.Wrap(err, "score")
			}
		}

		assignments, err := scorer.ScoreTable(ctx, table)
		if err != nil {
			m.ObserveScore(time.Since(start), scoreOutcome(err))
			return err
		}
		m.ObserveScore(time.Since(start), "ok")
		summaries := scoring.Summarize(a, table, assignments)
		for _, s := range summaries {
			m.AddScored(s.SegmentLabel, s.Customers)
		}

		if save {
			runID, err := persistScores(cmd, a.Version, table, assignments)
			if err != nil {
				return err
			}
			zap.L().Info("score run saved", zap.String("run_id", runID), zap.Int("assignments", len(assignments)))
		}

		w, closeFn, err := openOutput(out, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if err := export.WriteAssignments(w, format, assignments); err != nil {
			_ = closeFn()
			return err
		}
		if err := closeFn(); err != nil {
			return eris.Wrap(err, "score: close output")
		}

		if summaryOut != "" {
			sw, closeSummary, err := openOutput(summaryOut, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := export.WriteSummaries(sw, format, summaries); err != nil {
				_ = closeSummary()
				return err
			}
			if err := closeSummary(); err != nil {
				return eris.Wrap(err, "score: close summary output")
			}
		}

		zap.L().Info("batch scored",
			zap.String("artifact_version", a.Version),
			zap.Int("customers", len(assignments)),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil
	},
}

func init() {
	f := scoreCmd.Flags()
	f.String("version", model.LatestVersion, "artifact version to score with")
	f.String("features", "", "score a feature CSV written by the features command instead of raw transactions")
	f.String("snapshot", "", "reference date for recency (YYYY-MM-DD)")
	f.String("format", export.FormatCSV, "output format: csv or json")
	f.String("out", "", "assignments output path (default stdout)")
	f.String("summary-out", "", "write per-segment summary to this path")
	f.Bool("save", false, "persist assignments to the run store (default from config)")
	f.String("metrics-file", "", "write Prometheus metrics to this textfile on exit")
	rootCmd.AddCommand(scoreCmd)
}

// persistScores records a score run and its assignments.
func persistScores(cmd *cobra.Command, version string, table *model.FeatureTable, assignments []model.SegmentAssignment) (string, error) {
	ctx := cmd.Context()
	st, err := openRunStore(ctx)
	if err != nil {
		return "", err
	}
	defer st.Close() //nolint:errcheck

	run, err := st.CreateRun(ctx, model.RunKindScore, map[string]string{"artifact_version": version})
	if err != nil {
		return "", err
	}
	if _, err := st.SaveAssignments(ctx, run.ID, version, assignments); err != nil {
		if ferr := st.FailRun(ctx, run.ID, err); ferr != nil {
			zap.L().Warn("mark run failed", zap.String("run_id", run.ID), zap.Error(ferr))
		}
		return "", err
	}
	stats := table.Stats
	if err := st.CompleteRun(ctx, run.ID, version, &stats); err != nil {
		return "", err
	}
	return run.ID, nil
}

func scoreOutcome(err error) string {
	switch {
	case errors.Is(err, model.ErrEmptyBatch):
		return "empty"
	case errors.Is(err, model.ErrSchemaMismatch):
		return "schema_mismatch"
	default:
		return "error"
	}
}
