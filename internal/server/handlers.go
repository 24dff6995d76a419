package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/artifact"
	"github.com/sells-group/segment-cli/internal/features"
	"github.com/sells-group/segment-cli/internal/ingest"
	"github.com/sells-group/segment-cli/internal/model"
	"github.com/sells-group/segment-cli/internal/scoring"
	"github.com/sells-group/segment-cli/internal/store"
)

type healthResponse struct {
	Status          string `json:"status"`
	ArtifactVersion string `json:"artifact_version,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if a := s.current.Get(); a != nil {
		resp.ArtifactVersion = a.Version
	} else {
		resp.Status = "no_model"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	infos, err := s.artifacts.List(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if infos == nil {
		infos = []model.ArtifactInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")
	a, err := s.artifacts.Load(r.Context(), version)
	if err != nil {
		s.metrics.IncArtifactLoad(loadOutcome(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.metrics.IncArtifactLoad("ok")
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	version := r.URL.Query().Get("version")
	if version == "" {
		version = model.LatestVersion
	}
	if version != model.LatestVersion && !artifact.ValidVersion(version) {
		writeError(w, http.StatusBadRequest, "invalid artifact version")
		return
	}

	a, err := s.current.Reload(r.Context(), version)
	if err != nil {
		s.metrics.IncArtifactLoad(loadOutcome(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.metrics.IncArtifactLoad("ok")
	s.metrics.SetCurrentArtifact(a.Version)
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", ArtifactVersion: a.Version})
}

type scoreResponse struct {
	ArtifactVersion string                    `json:"artifact_version"`
	RunID           string                    `json:"run_id,omitempty"`
	Stats           model.FilterStats         `json:"stats"`
	SkippedRows     int                       `json:"skipped_rows"`
	Assignments     []model.SegmentAssignment `json:"assignments"`
	Summary         []model.SegmentSummary    `json:"summary"`
}

// handleScore scores a transaction CSV posted as the request body.
// Query parameters: snapshot (YYYY-MM-DD or RFC 3339) and save=true.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	a := s.current.Get()
	if a == nil {
		writeError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}

	opts := s.cfg.Features
	if raw := r.URL.Query().Get("snapshot"); raw != "" {
		snap, err := features.ParseSnapshot(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid snapshot: "+raw)
			return
		}
		opts.SnapshotDate = snap
	}
	save := r.URL.Query().Get("save") == "true"
	if save && s.runs == nil {
		writeError(w, http.StatusNotImplemented, "no run store configured")
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	loaded, err := ingest.ReadCSV(ctx, body, s.cfg.Ingest)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	scorer, err := scoring.New(a, s.cfg.Workers)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	batch, err := scorer.Score(ctx, loaded.Records, opts)
	if err != nil {
		s.metrics.ObserveScore(time.Since(start), scoreOutcome(err))
		writeError(w, statusFor(err), err.Error())
		return
	}

	resp := scoreResponse{
		ArtifactVersion: a.Version,
		Stats:           batch.Table.Stats,
		SkippedRows:     loaded.Skipped,
		Assignments:     batch.Assignments,
		Summary:         scoring.Summarize(a, batch.Table, batch.Assignments),
	}

	if save {
		runID, err := s.persist(r, a.Version, batch)
		if err != nil {
			s.metrics.ObserveScore(time.Since(start), "error")
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.RunID = runID
	}

	s.metrics.ObserveScore(time.Since(start), "ok")
	for _, sum := range resp.Summary {
		s.metrics.AddScored(sum.SegmentLabel, sum.Customers)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) persist(r *http.Request, version string, batch *scoring.Batch) (string, error) {
	ctx := r.Context()
	run, err := s.runs.CreateRun(ctx, model.RunKindScore, map[string]string{
		"artifact_version": version,
		"source":           "http",
	})
	if err != nil {
		return "", err
	}
	if _, err := s.runs.SaveAssignments(ctx, run.ID, version, batch.Assignments); err != nil {
		if ferr := s.runs.FailRun(ctx, run.ID, err); ferr != nil {
			zap.L().Warn("server: mark run failed", zap.String("run_id", run.ID), zap.Error(ferr))
		}
		return "", err
	}
	stats := batch.Table.Stats
	if err := s.runs.CompleteRun(ctx, run.ID, version, &stats); err != nil {
		return "", err
	}
	return run.ID, nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotImplemented, "no run store configured")
		return
	}
	q := r.URL.Query()
	filter := store.RunFilter{
		Kind:   model.RunKind(q.Get("kind")),
		Status: model.RunStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleCustomerSegment(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotImplemented, "no run store configured")
		return
	}
	id := ingest.NormalizeCustomerID(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "customer id is required")
		return
	}
	cs, err := s.runs.GetCustomerSegment(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func loadOutcome(err error) string {
	switch {
	case errors.Is(err, model.ErrArtifactCorrupt):
		return "corrupt"
	case errors.Is(err, model.ErrArtifactNotFound):
		return "not_found"
	default:
		return "error"
	}
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
