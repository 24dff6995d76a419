package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/artifact"
	"github.com/sells-group/segment-cli/internal/metrics"
	"github.com/sells-group/segment-cli/internal/model"
	"github.com/sells-group/segment-cli/internal/server"
	"github.com/sells-group/segment-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve batch scoring and artifact inspection over HTTP",
	Long:  "Loads the latest artifact and serves POST /score. SIGHUP or POST /reload swaps in the newest artifact without dropping in-flight requests.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		artifacts, err := openArtifactStore(ctx)
		if err != nil {
			return err
		}
		defer artifacts.Close() //nolint:errcheck

		m := metrics.New(prometheus.DefaultRegisterer)
		current := artifact.NewCurrent(artifacts)
		if a, err := current.Reload(ctx, model.LatestVersion); err != nil {
			if !errors.Is(err, model.ErrArtifactNotFound) {
				return err
			}
			zap.L().Warn("no artifact available; /score returns 503 until a reload succeeds", zap.Error(err))
		} else {
			m.SetCurrentArtifact(a.Version)
		}

		var runs store.Store
		if st, err := openRunStore(ctx); err != nil {
			zap.L().Warn("run store unavailable; persisted scoring disabled", zap.Error(err))
		} else {
			runs = st
			defer st.Close() //nolint:errcheck
		}

		opts, err := featureOptions("")
		if err != nil {
			return err
		}

		srv := server.New(server.Config{
			RateLimitRPS:   cfg.Server.RateLimitRPS,
			RateLimitBurst: cfg.Server.RateLimitBurst,
			MaxBodyBytes:   int64(cfg.Server.MaxBodyMB) << 20,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Features:       opts,
			Ingest:         ingestOptions(),
			Workers:        cfg.Score.Workers,
		}, current, artifacts, runs, m, prometheus.DefaultGatherer)

		go reloadOnHangup(ctx, current, m)

		return startServer(ctx, cfg.Server.Port, srv.Handler())
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// startServer serves handler until ctx is done, then shuts down gracefully.
func startServer(ctx context.Context, port int, handler http.Handler) error {
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- eris.Wrap(err, "server listen")
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}

func reloadOnHangup(ctx context.Context, current *artifact.Current, m *metrics.Metrics) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			a, err := current.Reload(ctx, model.LatestVersion)
			if err != nil {
				m.IncArtifactLoad("error")
				zap.L().Error("reload on SIGHUP failed", zap.Error(err))
				continue
			}
			m.IncArtifactLoad("ok")
			m.SetCurrentArtifact(a.Version)
		}
	}
}
