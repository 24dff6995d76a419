package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/artifact"
	"github.com/sells-group/segment-cli/internal/db"
	"github.com/sells-group/segment-cli/internal/features"
	"github.com/sells-group/segment-cli/internal/ingest"
	"github.com/sells-group/segment-cli/internal/metrics"
	"github.com/sells-group/segment-cli/internal/model"
	"github.com/sells-group/segment-cli/internal/store"
	"github.com/sells-group/segment-cli/internal/train"
)

// openArtifactStore opens the configured artifact backend and migrates it.
func openArtifactStore(ctx context.Context) (artifact.Store, error) {
	switch cfg.Artifacts.Backend {
	case "file":
		return artifact.NewFileStore(cfg.Artifacts.Dir)
	case "sqlite":
		s, err := artifact.NewSQLiteStore(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		pool, err := db.NewPostgresPool(ctx, cfg.Store.DatabaseURL, poolConfig())
		if err != nil {
			return nil, err
		}
		s := artifact.NewPostgresStore(pool, pool.Close)
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("unsupported artifact backend: %s", cfg.Artifacts.Backend)
	}
}

// openRunStore opens the run history database and migrates it.
func openRunStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "segment.db"
		}
		s, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		st = s
	case "postgres":
		s, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, poolConfig())
		if err != nil {
			return nil, err
		}
		st = s
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func poolConfig() *db.PoolConfig {
	return &db.PoolConfig{MaxConns: cfg.Store.MaxConns, MinConns: cfg.Store.MinConns}
}

// featureOptions maps the features config section onto engine options. A
// non-empty snapshot overrides the configured snapshot date.
func featureOptions(snapshot string) (features.Options, error) {
	opts := features.DefaultOptions()
	opts.CancellationPrefix = cfg.Features.CancellationPrefix
	opts.SnapshotOffset = time.Duration(cfg.Features.SnapshotOffsetHours) * time.Hour
	if len(cfg.Features.Columns) > 0 {
		opts.Columns = cfg.Features.Columns
	}
	opts.Workers = cfg.Features.Workers

	if snapshot == "" {
		snapshot = cfg.Features.SnapshotDate
	}
	if snapshot != "" {
		t, err := features.ParseSnapshot(snapshot)
		if err != nil {
			return features.Options{}, err
		}
		opts.SnapshotDate = t
	}
	return opts, nil
}

func ingestOptions() ingest.Options {
	return ingest.Options{
		Strict:      cfg.Ingest.Strict,
		SheetName:   cfg.Ingest.SheetName,
		DateLayouts: cfg.Ingest.DateLayouts,
		HTTP:        ingest.HTTPOptions{UserAgent: "segment-cli"},
		FTP:         ingest.FTPOptions{Timeout: time.Duration(cfg.Ingest.FTPTimeoutSeconds) * time.Second},
	}
}

func trainParams() train.Params {
	p := train.DefaultParams()
	p.K = cfg.Train.K
	p.Seed = cfg.Train.Seed
	p.Restarts = cfg.Train.Restarts
	p.MaxIterations = cfg.Train.MaxIterations
	p.Tolerance = cfg.Train.Tolerance
	p.Labeler = cfg.Train.Labeler
	p.Workers = cfg.Features.Workers
	return p
}

// buildFeatures ingests input and builds its feature table.
func buildFeatures(ctx context.Context, input string, opts features.Options, m *metrics.Metrics) (*model.FeatureTable, error) {
	res, err := ingest.Load(ctx, input, ingestOptions())
	if err != nil {
		return nil, err
	}
	zap.L().Info("transactions loaded",
		zap.String("source", res.Source),
		zap.String("format", res.Format),
		zap.String("encoding", res.Encoding),
		zap.Int("rows", res.Rows),
		zap.Int("skipped", res.Skipped),
	)

	table, err := features.Build(ctx, res.Records, opts)
	if err != nil {
		return nil, err
	}
	m.AddIngestRows("skipped", res.Skipped)
	m.AddIngestRows("kept", table.Stats.KeptRows)
	m.AddIngestRows("filtered", table.Stats.DroppedRows())
	return table, nil
}

// cliMetrics returns a private registry and its metrics. Commands write the
// registry to --metrics-file for a textfile collector.
func cliMetrics() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	return reg, metrics.New(reg)
}

func writeMetricsFile(path string, reg *prometheus.Registry) {
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		zap.L().Warn("write metrics file", zap.String("path", path), zap.Error(err))
	}
}

// openOutput returns stdout for "" or "-", else a created file.
func openOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path) //nolint:gosec
	if err != nil {
		return nil, nil, eris.Wrapf(err, "create %s", path)
	}
	return f, f.Close, nil
}
