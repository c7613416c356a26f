// Package server exposes the settlement engine over HTTP: operation
// endpoints, state and history reads, admin controls, and a WebSocket
// stream of committed records.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"PegVault/internal/book"
	"PegVault/internal/engine"
	"PegVault/internal/errs"
	"PegVault/internal/observability"
	"PegVault/internal/query"
)

type Server struct {
	engine  *engine.Engine
	query   *query.Service
	health  *observability.HealthChecker
	metrics *observability.Metrics
	hub     *Hub
	log     zerolog.Logger
}

// NewServer wires the HTTP surface. query may be nil when the service runs
// without Postgres; history endpoints then return 404.
func NewServer(
	eng *engine.Engine,
	qs *query.Service,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	hub *Hub,
) *Server {
	return &Server{
		engine:  eng,
		query:   qs,
		health:  health,
		metrics: metrics,
		hub:     hub,
		log:     observability.NewLogger("http"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/mint", s.handleMint)
		r.Post("/redeem", s.handleRedeem)

		r.Route("/positions", func(r chi.Router) {
			r.Post("/", s.handleEnterPosition)
			r.Get("/", s.handleListPositions)
			r.Get("/{id}", s.handleGetPosition)
			r.Post("/{id}/margin", s.handleAdjustMargin)
			r.Post("/{id}/exit", s.handleExitPosition)
			r.Post("/{id}/liquidate", s.handleLiquidate)
		})

		r.Get("/records", s.handleRecords)
		r.Get("/records/{sequence}", s.handleRecord)
		r.Get("/integrity", s.handleIntegrity)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/thresholds", s.handleThresholds)
			r.Post("/dev-mode", s.handleDevMode)
			r.Post("/pause", s.handlePause)
			r.Post("/unpause", s.handleUnpause)
		})

		if s.hub != nil {
			r.Get("/ws", s.hub.ServeHTTP)
		}
	})

	return r
}

// callerID reads the caller identity from the X-Caller-ID header. Role
// checks happen inside the engine against the capability table; the HTTP
// layer only establishes who is calling.
func callerID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-Caller-ID")
	if raw == "" {
		return uuid.Nil, fmt.Errorf("missing X-Caller-ID header: %w", errs.ErrInvalidAddress)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed X-Caller-ID: %w", errs.ErrInvalidAddress)
	}
	return id, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("malformed request body: %w", errs.ErrInvalidParameter)
	}
	return nil
}

// === Vault ===

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req mintRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	collateralIn, err := toFixed(req.CollateralIn)
	if err != nil {
		writeError(w, err)
		return
	}
	minOut, err := toFixed(req.MinSyntheticOut)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := s.engine.Mint(caller, collateralIn, minOut)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mintResponse{
		SyntheticOut: fromFixed(out),
		Sequence:     s.engine.Sequence() - 1,
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req redeemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	syntheticIn, err := toFixed(req.SyntheticIn)
	if err != nil {
		writeError(w, err)
		return
	}
	minOut, err := toFixed(req.MinCollateralOut)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := s.engine.Redeem(caller, syntheticIn, minOut)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, redeemResponse{
		CollateralOut: fromFixed(out),
		Sequence:      s.engine.Sequence() - 1,
	})
}

// === Positions ===

func (s *Server) handleEnterPosition(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req enterPositionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	margin, err := toFixed(req.Margin)
	if err != nil {
		writeError(w, err)
		return
	}

	id, err := s.engine.EnterPosition(caller, margin, req.Leverage)
	if err != nil {
		writeError(w, err)
		return
	}

	pos, _ := s.engine.GetPosition(id)
	writeJSON(w, http.StatusCreated, enterPositionResponse{
		PositionID: id,
		Margin:     fromFixed(pos.Margin),
		Exposure:   fromFixed(pos.Exposure),
		EntryPrice: fromFixed(pos.EntryPrice),
	})
}

func (s *Server) handleAdjustMargin(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req adjustMarginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	amount, err := toFixed(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	switch req.Action {
	case "add":
		err = s.engine.AddMargin(caller, id, amount)
	case "remove":
		err = s.engine.RemoveMargin(caller, id, amount)
	default:
		err = fmt.Errorf("action must be add or remove: %w", errs.ErrInvalidParameter)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	pos, _ := s.engine.GetPosition(id)
	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

func (s *Server) handleExitPosition(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	payout, err := s.engine.ExitPosition(caller, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, exitPositionResponse{Payout: fromFixed(payout)})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	reward, err := s.engine.Liquidate(caller, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, liquidateResponse{LiquidatorReward: fromFixed(reward)})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := positionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	pos, ok := s.engine.GetPosition(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "position not found"})
		return
	}
	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	rawOwner := r.URL.Query().Get("owner")
	if rawOwner == "" {
		writeError(w, fmt.Errorf("owner query parameter required: %w", errs.ErrInvalidParameter))
		return
	}
	owner, err := uuid.Parse(rawOwner)
	if err != nil {
		writeError(w, fmt.Errorf("malformed owner: %w", errs.ErrInvalidParameter))
		return
	}

	positions := s.engine.PositionsOf(owner)
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, toPositionResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// === State and history ===

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		Sequence:        st.Sequence,
		Tick:            st.Tick,
		Price:           fromFixed(st.Price),
		PriceOK:         st.PriceOK,
		TotalMinted:     fromFixed(st.Vault.TotalMinted),
		TotalCollateral: fromFixed(st.Vault.TotalCollateral),
		HedgerDeposits:  fromFixed(st.Vault.HedgerDeposits),
		CollateralRatio: fromFixed(st.CollateralRatio),
		TotalMargin:     fromFixed(st.TotalMargin),
		TotalExposure:   fromFixed(st.TotalExposure),
		ActivePositions: st.ActivePositions,
		DevMode:         st.Vault.DevMode,
		Paused:          st.Vault.Paused,
	})
}

// observeQuery records request count and latency for a history endpoint.
func (s *Server) observeQuery(endpoint, status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if s.query == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "record history disabled"})
		return
	}
	start := time.Now()

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, fmt.Errorf("limit must be 1-1000: %w", errs.ErrInvalidParameter))
			return
		}
		limit = n
	}

	var before *int64
	if raw := r.URL.Query().Get("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("malformed before cursor: %w", errs.ErrInvalidParameter))
			return
		}
		before = &n
	}

	records, err := s.query.GetRecords(r.Context(), r.URL.Query().Get("event_type"), limit, before)
	if err != nil {
		s.log.Error().Err(err).Msg("record query failed")
		s.observeQuery("records", "error", start)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "query failed"})
		return
	}
	s.observeQuery("records", "ok", start)
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if s.query == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "record history disabled"})
		return
	}

	seq, err := strconv.ParseInt(chi.URLParam(r, "sequence"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("malformed sequence: %w", errs.ErrInvalidParameter))
		return
	}
	start := time.Now()

	rec, err := s.query.GetRecord(r.Context(), seq)
	if err != nil {
		s.log.Error().Err(err).Msg("record query failed")
		s.observeQuery("record", "error", start)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "query failed"})
		return
	}
	s.observeQuery("record", "ok", start)
	if rec == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "record not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	if s.query == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "record history disabled"})
		return
	}

	start := time.Now()
	report, err := s.query.VerifyIntegrity(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("integrity check failed")
		s.observeQuery("integrity", "error", start)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "integrity check failed"})
		return
	}
	s.observeQuery("integrity", "ok", start)
	writeJSON(w, http.StatusOK, report)
}

// === Admin ===

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req thresholdsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	minRatio, err := toFixed(req.MinMintRatio)
	if err != nil {
		writeError(w, err)
		return
	}
	criticalRatio, err := toFixed(req.CriticalRatio)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.engine.UpdateCollateralizationThresholds(caller, minRatio, criticalRatio); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDevMode(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req devModeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.engine.SetDevMode(caller, req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.Pause(caller); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.Unpause(caller); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// === Helpers ===

func positionID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("malformed position id: %w", errs.ErrInvalidParameter)
	}
	return id, nil
}

func toPositionResponse(p book.Position) positionResponse {
	return positionResponse{
		PositionID:         p.ID,
		Owner:              p.Owner.String(),
		Margin:             fromFixed(p.Margin),
		Leverage:           p.Leverage,
		Exposure:           fromFixed(p.Exposure),
		EntryPrice:         fromFixed(p.EntryPrice),
		Status:             p.Status.String(),
		OpenedAtTick:       p.OpenedAtTick,
		LastAdjustedAtTick: p.LastAdjustedAtTick,
	}
}
