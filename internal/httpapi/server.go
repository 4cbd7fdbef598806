package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"yieldscope/internal/earnings"
	"yieldscope/internal/history"
	"yieldscope/internal/ingest"
	"yieldscope/internal/model"
)

// Refresher runs a single ingestion pass.
type Refresher interface {
	RefreshAllMetrics(ctx context.Context) (int, error)
}

type Server struct {
	history   *history.Service
	engine    *earnings.Engine
	refresher Refresher
	logger    *zap.Logger
}

// NewServer wires the read and write services. refresher may be nil, in
// which case /admin/refresh is not routed.
func NewServer(hist *history.Service, engine *earnings.Engine, refresher Refresher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{history: hist, engine: engine, refresher: refresher, logger: logger}
}

// Router returns the routes served by s.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	// pools
	r.HandleFunc("/pools/{pool_id}/apy", s.handlePoolAPY).Methods(http.MethodGet)
	r.HandleFunc("/pools/{pool_id}/yield-sources", s.handleYieldSources).Methods(http.MethodGet)
	r.HandleFunc("/pools/{pool_id}/history", s.handlePoolHistory).Methods(http.MethodGet)

	// users
	r.HandleFunc("/users/{user_id}/positions", s.handlePositions).Methods(http.MethodGet)
	r.HandleFunc("/users/{user_id}/earnings", s.handleEarnings).Methods(http.MethodPost)
	r.HandleFunc("/users/{user_id}/deposits", s.handleCreateDeposit).Methods(http.MethodPost)
	r.HandleFunc("/users/{user_id}/deposits", s.listHandler(model.KindDeposit)).Methods(http.MethodGet)
	r.HandleFunc("/users/{user_id}/withdrawals", s.handleCreateWithdrawal).Methods(http.MethodPost)
	r.HandleFunc("/users/{user_id}/withdrawals", s.listHandler(model.KindWithdrawal)).Methods(http.MethodGet)
	r.HandleFunc("/users/{user_id}/rebalances", s.handleRebalance).Methods(http.MethodPost)
	r.HandleFunc("/users/{user_id}/deployments", s.handleDeployment).Methods(http.MethodPost)
	r.HandleFunc("/users/{user_id}/risk-adjustments", s.handleRiskAdjustment).Methods(http.MethodPost)

	if s.refresher != nil {
		r.HandleFunc("/admin/refresh", s.handleRefresh).Methods(http.MethodPost)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePoolAPY(w http.ResponseWriter, r *http.Request) {
	report, err := s.history.PoolReport(r.Context(), mux.Vars(r)["pool_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleYieldSources(w http.ResponseWriter, r *http.Request) {
	report, err := s.history.PoolReport(r.Context(), mux.Vars(r)["pool_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report.YieldSources())
}

func (s *Server) handlePoolHistory(w http.ResponseWriter, r *http.Request) {
	window := history.Window7d
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := history.ParseWindow(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		window = parsed
	}

	poolID := mux.Vars(r)["pool_id"]
	snaps, err := s.history.WindowHistory(r.Context(), poolID, window)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pool_id":   poolID,
		"window":    window,
		"snapshots": snaps,
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.PositionsFor(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	n, err := s.refresher.RefreshAllMetrics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"appended": n})
}

func (s *Server) listHandler(kind model.ActionKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		skip, err := intParam(r, "skip")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		limit, err := intParam(r, "limit")
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		items, total, err := s.engine.ListActions(r.Context(), mux.Vars(r)["user_id"], kind, skip, limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
	}
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &model.ValidationError{Field: name, Reason: "not an integer"}
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	var verr *model.ValidationError
	var perr *model.ProviderError
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrRunInProgress):
		return http.StatusConflict
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &perr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
