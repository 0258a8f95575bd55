// Package handlers exposes the aggregated dashboard over REST and WebSocket.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/defi-guard/dashboard-aggregator/internal/aggregator"
	"github.com/defi-guard/dashboard-aggregator/internal/client"
	"github.com/defi-guard/dashboard-aggregator/internal/dedup"
	"github.com/defi-guard/dashboard-aggregator/internal/metrics"
	"github.com/defi-guard/dashboard-aggregator/internal/model"
	"github.com/defi-guard/dashboard-aggregator/internal/realtime"
)

// Server wires the HTTP routes to the aggregator and the pass-through clients.
type Server struct {
	controller *aggregator.Controller
	screening  *client.ScreeningClient
	defiRisk   *client.DeFiRiskClient
	osint      *client.OSINTClient
	hub        *realtime.Hub
	collector  *metrics.Collector
	validate   *validator.Validate
	logger     *slog.Logger
	started    time.Time
}

// NewServer builds the handler set.
func NewServer(controller *aggregator.Controller, screening *client.ScreeningClient, defiRisk *client.DeFiRiskClient, osint *client.OSINTClient, hub *realtime.Hub, collector *metrics.Collector, logger *slog.Logger) *Server {
	return &Server{
		controller: controller,
		screening:  screening,
		defiRisk:   defiRisk,
		osint:      osint,
		hub:        hub,
		collector:  collector,
		validate:   validator.New(),
		logger:     logger,
		started:    time.Now().UTC(),
	}
}

// Router builds the mux router with all routes and middleware. metricsHandler
// serves the Prometheus exposition endpoint. CORS wraps the router itself so
// preflight requests are answered even for method-mismatched routes.
func (s *Server) Router(metricsHandler http.Handler) http.Handler {
	r := mux.NewRouter()
	r.Use(s.observeMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)
	api.HandleFunc("/threat-intel", s.handleThreatIntel).Methods(http.MethodGet)
	api.HandleFunc("/threat-intel/refresh", s.handleThreatIntelRefresh).Methods(http.MethodPost)
	api.HandleFunc("/stablecoins", s.handleStablecoins).Methods(http.MethodGet)
	api.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/cache", s.handleClearCache).Methods(http.MethodDelete)

	screening := api.PathPrefix("/screening").Subrouter()
	screening.HandleFunc("/address", s.handleScreenAddress).Methods(http.MethodPost)
	screening.HandleFunc("/transaction", s.handleScreenTransaction).Methods(http.MethodPost)
	screening.HandleFunc("/bulk", s.handleScreenBulk).Methods(http.MethodPost)

	defi := api.PathPrefix("/defi").Subrouter()
	defi.HandleFunc("/protocols", s.handleListProtocols).Methods(http.MethodGet)
	defi.HandleFunc("/protocols", s.handleCreateProtocol).Methods(http.MethodPost)
	defi.HandleFunc("/assessments", s.handleListAssessments).Methods(http.MethodGet)
	defi.HandleFunc("/assessments", s.handleCreateAssessment).Methods(http.MethodPost)
	defi.HandleFunc("/assessments/{id}", s.handleGetAssessment).Methods(http.MethodGet)
	defi.HandleFunc("/assessments/{id}/progress", s.handleAssessmentProgress).Methods(http.MethodGet)
	defi.HandleFunc("/detectors", s.handleListDetectors).Methods(http.MethodGet)

	osint := api.PathPrefix("/osint").Subrouter()
	osint.HandleFunc("/countries", s.handleListCountries).Methods(http.MethodGet)
	osint.HandleFunc("/news", s.handleOSINTNews).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.hub.ServeWS).Methods(http.MethodGet)
	return s.corsMiddleware(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "dashboard-aggregator",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	vm := s.controller.Snapshot()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":             "running",
		"uptime":             time.Since(s.started).String(),
		"last_updated":       vm.LastUpdated,
		"source_errors":      vm.SourceErrors,
		"websocket_clients":  s.hub.ClientCount(),
		"threat_intel_items": len(vm.ThreatIntel),
		"stablecoins":        len(vm.Stablecoins),
		"active_alerts":      len(vm.StablecoinAlerts),
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handleThreatIntel(w http.ResponseWriter, r *http.Request) {
	vm := s.controller.Snapshot()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"items":   vm.ThreatIntel,
		"loading": vm.ThreatIntelLoading,
		"health":  vm.ThreatIntelHealth,
	})
}

func (s *Server) handleThreatIntelRefresh(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") != "false"
	items, err := s.controller.RefreshThreatIntel(r.Context(), force)
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleStablecoins(w http.ResponseWriter, r *http.Request) {
	vm := s.controller.Snapshot()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"coins":  vm.Stablecoins,
		"health": vm.StablecoinHealth,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	vm := s.controller.Snapshot()
	alerts := vm.StablecoinAlerts
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		alerts = dedup.Top(alerts, limit)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"total":  len(vm.StablecoinAlerts),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Refresh(r.Context(), false); err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.controller.ClearCache(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cache cleared"})
}

// Screening requests are validated before they leave this process; the batch
// caps mirror the guard inside the screening client.

type screenAddressRequest struct {
	Address                    string `json:"address" validate:"required"`
	IncludeTransactionAnalysis bool   `json:"includeTransactionAnalysis"`
	MaxHops                    int    `json:"maxHops" validate:"gte=0,lte=10"`
}

type screenTransactionRequest struct {
	TxHash          string `json:"txHash" validate:"required"`
	Direction       string `json:"direction" validate:"omitempty,oneof=inputs outputs both"`
	IncludeMetadata bool   `json:"includeMetadata"`
}

type screenBulkRequest struct {
	Addresses                  []string `json:"addresses" validate:"max=100"`
	Transactions               []string `json:"transactions" validate:"max=50"`
	BatchID                    string   `json:"batchId"`
	IncludeTransactionAnalysis bool     `json:"includeTransactionAnalysis"`
}

func (s *Server) handleScreenAddress(w http.ResponseWriter, r *http.Request) {
	var req screenAddressRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	result, err := s.screening.ScreenAddress(r.Context(), client.AddressScreeningRequest{
		Address:                    req.Address,
		IncludeTransactionAnalysis: req.IncludeTransactionAnalysis,
		MaxHops:                    req.MaxHops,
	})
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleScreenTransaction(w http.ResponseWriter, r *http.Request) {
	var req screenTransactionRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	result, err := s.screening.ScreenTransaction(r.Context(), client.TransactionScreeningRequest{
		TxHash:          req.TxHash,
		Direction:       req.Direction,
		IncludeMetadata: req.IncludeMetadata,
	})
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleScreenBulk(w http.ResponseWriter, r *http.Request) {
	var req screenBulkRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if len(req.Addresses) == 0 && len(req.Transactions) == 0 {
		s.respondError(w, http.StatusBadRequest, "batch must contain at least one address or transaction")
		return
	}
	result, err := s.screening.ScreenBulk(r.Context(), client.BulkScreeningRequest{
		Addresses:                  req.Addresses,
		Transactions:               req.Transactions,
		BatchID:                    req.BatchID,
		IncludeTransactionAnalysis: req.IncludeTransactionAnalysis,
	})
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListProtocols(w http.ResponseWriter, r *http.Request) {
	protocols, err := s.defiRisk.ListProtocols(r.Context())
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"protocols": protocols})
}

type createProtocolRequest struct {
	Name            string `json:"name" validate:"required"`
	Chain           string `json:"chain" validate:"required"`
	Category        string `json:"category" validate:"required"`
	ContractAddress string `json:"contractAddress"`
}

func (s *Server) handleCreateProtocol(w http.ResponseWriter, r *http.Request) {
	var req createProtocolRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	protocol, err := s.defiRisk.CreateProtocol(r.Context(), client.CreateProtocolRequest{
		Name:            req.Name,
		Chain:           req.Chain,
		Category:        req.Category,
		ContractAddress: req.ContractAddress,
	})
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, protocol)
}

func (s *Server) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	assessments, err := s.defiRisk.ListAssessments(r.Context())
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"assessments": assessments})
}

type createAssessmentRequest struct {
	ProtocolID string `json:"protocolId" validate:"required"`
}

func (s *Server) handleCreateAssessment(w http.ResponseWriter, r *http.Request) {
	var req createAssessmentRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	assessment, err := s.defiRisk.CreateAssessment(r.Context(), client.CreateAssessmentRequest{ProtocolID: req.ProtocolID})
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}

	// Track the assessment to completion and stream progress to clients.
	s.controller.WatchAssessment(assessment.ID, func(a model.Assessment, p model.AssessmentProgress) {
		s.hub.BroadcastData(map[string]any{
			"assessment": a,
			"progress":   p,
		})
	})
	s.respondJSON(w, http.StatusAccepted, assessment)
}

func (s *Server) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	assessment, err := s.defiRisk.GetAssessment(r.Context(), id)
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, assessment)
}

func (s *Server) handleAssessmentProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	progress, err := s.defiRisk.GetAssessmentProgress(r.Context(), id)
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, progress)
}

func (s *Server) handleListDetectors(w http.ResponseWriter, r *http.Request) {
	detectors, err := s.defiRisk.ListDetectors(r.Context())
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"detectors": detectors})
}

func (s *Server) handleListCountries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := client.CountryFilter{
		Region:           q.Get("region"),
		RegulatoryStatus: q.Get("regulatory_status"),
	}
	if raw := q.Get("crypto_friendly"); raw != "" {
		friendly, err := strconv.ParseBool(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "crypto_friendly must be a boolean")
			return
		}
		filter.CryptoFriendly = &friendly
	}
	countries, err := s.osint.ListCountries(r.Context(), filter)
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"countries": countries})
}

func (s *Server) handleOSINTNews(w http.ResponseWriter, r *http.Request) {
	fresh := r.URL.Query().Get("fresh") == "true"
	articles, err := s.osint.ListNews(r.Context(), fresh)
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"articles": articles})
}

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// respondUpstreamError maps the client error taxonomy onto response codes:
// bad upstream answers are 502, unreachable upstreams 503, throttled fresh
// scrapes 429.
func (s *Server) respondUpstreamError(w http.ResponseWriter, err error) {
	var httpErr *client.HTTPError
	var malformedErr *client.MalformedResponseError

	switch {
	case errors.Is(err, aggregator.ErrFreshScrapeThrottled):
		s.respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, aggregator.ErrAllSourcesDown):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &httpErr), errors.As(err, &malformedErr):
		s.respondError(w, http.StatusBadGateway, err.Error())
	default:
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encoding failed", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The websocket upgrade hijacks the connection; wrapping its
		// ResponseWriter would break the upgrader.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if s.collector != nil {
			s.collector.ObserveHTTP(route, r.Method, strconv.Itoa(rec.status), time.Since(started))
		}
		s.logger.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(started).String())
	})
}
