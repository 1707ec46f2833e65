package httpapi

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"dipscan/internal/domain"
	"dipscan/internal/engine"
	"dipscan/internal/run"
	"dipscan/internal/store"
)

// Server serves the backtest HTTP API.
type Server struct {
	orch   *run.Orchestrator
	models *run.ModelRegistry
	log    *slog.Logger
}

// NewServer creates the API server.
func NewServer(orch *run.Orchestrator, models *run.ModelRegistry, log *slog.Logger) *Server {
	return &Server{orch: orch, models: models, log: log}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/training/runs", s.handleStartTraining)
	mux.HandleFunc("GET /api/training/runs", s.handleListTraining)
	mux.HandleFunc("GET /api/training/runs/{id}", s.handleRunStatus)
	mux.HandleFunc("GET /api/training/runs/{id}/results", s.handleRunResults)
	mux.HandleFunc("GET /api/training/runs/{id}/picks", s.handleRunPicks)
	mux.HandleFunc("GET /api/training/runs/{id}/export", s.handleRunExport)
	mux.HandleFunc("POST /api/training/runs/{id}/evaluate", s.handleEvaluate)
	mux.HandleFunc("DELETE /api/training/runs/{id}", s.handleDeleteRun)

	mux.HandleFunc("POST /api/analysis/runs", s.handleStartAnalysis)
	mux.HandleFunc("GET /api/analysis/runs", s.handleListAnalysis)
	mux.HandleFunc("GET /api/analysis/runs/{id}", s.handleRunStatus)
	mux.HandleFunc("GET /api/analysis/runs/{id}/results", s.handleRunResults)
	mux.HandleFunc("GET /api/analysis/runs/{id}/picks", s.handleRunPicks)
	mux.HandleFunc("GET /api/analysis/runs/{id}/export", s.handleRunExport)
	mux.HandleFunc("DELETE /api/analysis/runs/{id}", s.handleDeleteRun)

	mux.HandleFunc("GET /api/models", s.handleListModels)
	mux.HandleFunc("POST /api/models", s.handleCreateModel)
	mux.HandleFunc("GET /api/models/defaults", s.handleModelDefaults)
	mux.HandleFunc("GET /api/models/{id}", s.handleGetModel)
	mux.HandleFunc("DELETE /api/models/{id}", s.handleDeleteModel)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeDomainError maps the service errors to HTTP statuses: bad
// submissions are 400, missing records 404, incomplete runs 409.
func writeDomainError(w http.ResponseWriter, err error) {
	var cfgErr *run.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, cfgErr.Reason)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, run.ErrNotReady):
		writeError(w, http.StatusConflict, "run not completed")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(domain.DateFormat, s)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

func (s *Server) handleStartTraining(w http.ResponseWriter, r *http.Request) {
	var req trainingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid start_date %q", req.StartDate))
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid end_date %q", req.EndDate))
		return
	}

	created, err := s.orch.StartTraining(r.Context(), run.TrainingParams{
		StartDate: start,
		EndDate:   end,
		HoldYears: req.HoldYears,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, toRunJSON(created))
}

func (s *Server) handleStartAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid start_date %q", req.StartDate))
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid end_date %q", req.EndDate))
		return
	}

	threshold := domain.DefaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	created, err := s.orch.StartAnalysis(r.Context(), run.AnalysisParams{
		StartDate: start,
		EndDate:   end,
		HoldYears: req.HoldYears,
		Weights:   req.Weights,
		Threshold: threshold,
		ModelID:   req.ModelID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, toRunJSON(created))
}

func (s *Server) handleListTraining(w http.ResponseWriter, r *http.Request) {
	s.listRuns(w, r, domain.RunKindTraining)
}

func (s *Server) handleListAnalysis(w http.ResponseWriter, r *http.Request) {
	s.listRuns(w, r, domain.RunKindAnalysis)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request, kind domain.RunKind) {
	runs, err := s.orch.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]runJSON, 0, len(runs))
	for i := range runs {
		if runs[i].Kind != kind {
			continue
		}
		out = append(out, toRunJSON(&runs[i]))
	}
	writeJSON(w, runsResponse{Runs: out})
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.orch.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, toRunJSON(rec))
}

func (s *Server) handleRunResults(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Results(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := resultsResponse{
		Run:        toRunJSON(res.Run),
		TotalPicks: len(res.Picks),
		Horizons:   make(map[string]*engine.HorizonAnalysis, len(res.Horizons)),
	}
	for years, a := range res.Horizons {
		resp.Horizons[horizonLabel(years)] = a
	}
	if res.Evaluations != nil {
		resp.Evaluations = make(map[string]engine.Evaluation, len(res.Evaluations))
		for years, ev := range res.Evaluations {
			resp.Evaluations[horizonLabel(years)] = ev
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleRunPicks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	picks, err := s.orch.Picks(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]pickJSON, 0, len(picks))
	for i := range picks {
		out = append(out, toPickJSON(&picks[i]))
	}
	writeJSON(w, picksResponse{RunID: id, Picks: out})
}

// handleRunExport streams a run's picks as a CSV attachment.
func (s *Server) handleRunExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.orch.Status(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	picks, err := s.orch.Picks(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("picks-%s.csv", id)))

	cw := csv.NewWriter(w)
	header := []string{
		"loser_date", "ticker", "daily_loss_pct", "ranking", "industry",
		"dividend_yield", "volume", "confidence_score",
		"purchase_date", "purchase_price",
	}
	for _, years := range rec.HoldYears {
		header = append(header,
			fmt.Sprintf("return_%s", horizonLabel(years)),
			fmt.Sprintf("spy_return_%s", horizonLabel(years)))
	}
	cw.Write(header)

	for i := range picks {
		p := &picks[i]
		row := []string{
			p.LoserDate.Format(domain.DateFormat),
			p.Ticker,
			formatFloat(p.DailyLossPct),
			strconv.Itoa(p.Ranking),
			p.Industry,
			formatFloat(p.DividendYield),
			strconv.FormatInt(p.Volume, 10),
			formatFloat(p.ConfidenceScore),
			formatDatePtr(p.PurchaseDate),
			formatFloatPtr(p.PurchasePrice),
		}
		for _, years := range rec.HoldYears {
			row = append(row, formatFloatPtr(p.Return(years)), formatFloatPtr(p.SPYReturn(years)))
		}
		cw.Write(row)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.log.Error("writing CSV export", "run_id", id, "error", err)
	}
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	threshold := domain.DefaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	ev, err := s.orch.Evaluate(r.Context(), r.PathValue("id"), req.Weights, threshold, req.HoldYears)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, ev)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Models
// ---------------------------------------------------------------------------

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.models.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if models == nil {
		models = []domain.ScoringModel{}
	}
	writeJSON(w, modelsResponse{Models: models})
}

func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	m, err := s.models.Create(r.Context(), req.Name, req.Weights, req.Threshold)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, m)
}

func (s *Server) handleModelDefaults(w http.ResponseWriter, r *http.Request) {
	weights, threshold := s.models.Defaults()
	writeJSON(w, defaultsResponse{Weights: weights, Threshold: threshold})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.models.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, m)
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.models.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// CSV formatting
// ---------------------------------------------------------------------------

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(domain.DateFormat)
}
