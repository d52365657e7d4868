package server

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"github.com/x5th/x-leverage/internal/event"
	"github.com/x5th/x-leverage/internal/state"
)

const (
	defaultLimit   = 50
	maxLimit       = 500
	maxCommandBody = 64 << 10
)

// handlerFunc returns the HTTP status and body of a successful call.
type handlerFunc func(r *http.Request, params map[string]string) (int, interface{}, error)

func (s *Server) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method, path, endpoint string
		h                      handlerFunc
	}{
		{"POST", "/v1/commands/{type}", "submit_command", s.submitCommand},
		{"GET", "/v1/owners/{owner}/balances/{asset}", "get_balance", s.getBalance},
		{"GET", "/v1/owners/{owner}/positions", "list_positions", s.listPositions},
		{"GET", "/v1/owners/{owner}/journals", "list_journals", s.listJournals},
		{"GET", "/v1/pool", "get_pool", s.getPool},
		{"GET", "/v1/liquidations", "list_liquidations", s.listLiquidations},
		{"GET", "/v1/liquidations/recent", "recent_liquidations", s.recentLiquidations},
		{"GET", "/v1/admin/integrity", "verify_integrity", s.verifyIntegrity},
		{"POST", "/v1/admin/snapshot", "take_snapshot", s.takeSnapshot},
		{"POST", "/v1/admin/projections/rebuild", "rebuild_projections", s.rebuildProjections},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, s.instrument(rt.endpoint, rt.h)); err != nil {
			return fmt.Errorf("register %s %s: %w", rt.method, rt.path, err)
		}
	}
	return nil
}

func (s *Server) instrument(endpoint string, h handlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		httpStatus, body, err := h(r, params)
		if err != nil {
			code := writeError(w, err)
			httpStatus = runtime.HTTPStatusFromCode(code)
			if s.deps.Metrics != nil {
				s.deps.Metrics.QueryErrors.WithLabelValues(endpoint, code.String()).Inc()
			}
		} else {
			writeJSON(w, httpStatus, body)
		}
		if m := s.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(httpStatus)).Inc()
			m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

// commandResponse reports how a submitted command was recorded.
type commandResponse struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Rejected  bool   `json:"rejected,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Category  string `json:"category,omitempty"`
}

func (s *Server) submitCommand(r *http.Request, params map[string]string) (int, interface{}, error) {
	et, ok := event.ParseEventType(params["type"])
	if !ok {
		return 0, nil, fmt.Errorf("%w: unknown command %q", errBadRequest, params["type"])
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}

	receipt, err := s.deps.Ingest.Submit(r.Context(), et, body)
	if err != nil && !receipt.Rejected {
		return 0, nil, err
	}

	resp := commandResponse{
		Sequence:  receipt.Sequence,
		StateHash: hex.EncodeToString(receipt.StateHash[:]),
		Duplicate: receipt.Duplicate,
		Rejected:  receipt.Rejected,
	}
	if receipt.Rejected {
		resp.Reason = state.Reason(err)
		resp.Category = state.Classify(err).String()
		return runtime.HTTPStatusFromCode(codeFor(err)), resp, nil
	}
	return http.StatusOK, resp, nil
}

func (s *Server) getBalance(r *http.Request, params map[string]string) (int, interface{}, error) {
	owner, err := parseOwner(params["owner"])
	if err != nil {
		return 0, nil, err
	}
	resp, err := s.deps.Query.GetBalance(r.Context(), owner, params["asset"])
	return http.StatusOK, resp, err
}

func (s *Server) listPositions(r *http.Request, params map[string]string) (int, interface{}, error) {
	owner, err := parseOwner(params["owner"])
	if err != nil {
		return 0, nil, err
	}
	asOf, err := optionalInt(r, "as_of_sequence")
	if err != nil {
		return 0, nil, err
	}
	if asOf != nil {
		resp, err := s.deps.Query.GetPositionsAsOf(r.Context(), owner, *asOf)
		return http.StatusOK, resp, err
	}
	resp, err := s.deps.Query.GetPositions(r.Context(), owner)
	return http.StatusOK, resp, err
}

func (s *Server) listJournals(r *http.Request, params map[string]string) (int, interface{}, error) {
	owner, err := parseOwner(params["owner"])
	if err != nil {
		return 0, nil, err
	}
	limit, before, err := paging(r)
	if err != nil {
		return 0, nil, err
	}
	resp, err := s.deps.Query.GetJournalHistory(r.Context(), owner, limit, before)
	return http.StatusOK, resp, err
}

func (s *Server) getPool(r *http.Request, _ map[string]string) (int, interface{}, error) {
	asOf, err := optionalInt(r, "as_of_sequence")
	if err != nil {
		return 0, nil, err
	}
	resp, err := s.deps.Query.GetPool(r.Context(), asOf)
	return http.StatusOK, resp, err
}

func (s *Server) listLiquidations(r *http.Request, _ map[string]string) (int, interface{}, error) {
	owner, err := optionalOwner(r)
	if err != nil {
		return 0, nil, err
	}
	limit, before, err := paging(r)
	if err != nil {
		return 0, nil, err
	}
	resp, err := s.deps.Query.GetLiquidationHistory(r.Context(), owner, limit, before)
	return http.StatusOK, resp, err
}

func (s *Server) recentLiquidations(r *http.Request, _ map[string]string) (int, interface{}, error) {
	owner, err := optionalOwner(r)
	if err != nil {
		return 0, nil, err
	}
	limit, _, err := paging(r)
	if err != nil {
		return 0, nil, err
	}
	resp, err := s.deps.Query.GetRecentLiquidations(r.Context(), owner, limit)
	return http.StatusOK, resp, err
}

func (s *Server) verifyIntegrity(r *http.Request, _ map[string]string) (int, interface{}, error) {
	report, err := s.deps.Query.VerifyIntegrity(r.Context())
	if err != nil {
		return 0, nil, err
	}
	httpStatus := http.StatusOK
	if !report.IsHealthy {
		httpStatus = http.StatusConflict
	}
	return httpStatus, report, nil
}

func (s *Server) takeSnapshot(r *http.Request, _ map[string]string) (int, interface{}, error) {
	seq, err := s.deps.Admin.TakeSnapshot(r.Context())
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]int64{"sequence": seq}, nil
}

func (s *Server) rebuildProjections(r *http.Request, _ map[string]string) (int, interface{}, error) {
	if err := s.deps.Admin.RebuildProjections(r.Context()); err != nil {
		return 0, nil, err
	}
	return http.StatusAccepted, map[string]string{"status": "rebuilding"}, nil
}

// --- request parsing ---

func parseOwner(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: invalid owner %q", errBadRequest, s)
	}
	return id, nil
}

func optionalOwner(r *http.Request) (uuid.UUID, error) {
	v := r.URL.Query().Get("owner")
	if v == "" {
		return uuid.Nil, nil
	}
	return parseOwner(v)
}

func optionalInt(r *http.Request, name string) (*int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: invalid %s %q", errBadRequest, name, v)
	}
	return &n, nil
}

// paging reads limit (default 50, capped at 500) and before_sequence.
func paging(r *http.Request) (int, *int64, error) {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, nil, fmt.Errorf("%w: invalid limit %q", errBadRequest, v)
		}
		limit = min(n, maxLimit)
	}
	before, err := optionalInt(r, "before_sequence")
	return limit, before, err
}
