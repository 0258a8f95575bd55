package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defi-guard/dashboard-aggregator/internal/aggregator"
	"github.com/defi-guard/dashboard-aggregator/internal/cache"
	"github.com/defi-guard/dashboard-aggregator/internal/client"
	"github.com/defi-guard/dashboard-aggregator/internal/model"
	"github.com/defi-guard/dashboard-aggregator/internal/realtime"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubThreat struct{ items []model.ThreatIntelItem }

func (s stubThreat) ListNews(context.Context, int, bool) ([]model.ThreatIntelItem, error) {
	return s.items, nil
}

func (s stubThreat) Health(context.Context) (model.ServiceHealth, error) {
	return model.ServiceHealth{Status: "healthy"}, nil
}

type stubStablecoin struct {
	coins  []model.StablecoinSnapshot
	alerts []model.StablecoinAlert
}

func (s stubStablecoin) CurrentMetrics(context.Context) ([]model.StablecoinSnapshot, error) {
	return s.coins, nil
}

func (s stubStablecoin) ActiveAlerts(context.Context) ([]model.StablecoinAlert, error) {
	return s.alerts, nil
}

func (s stubStablecoin) Health(context.Context) (model.ServiceHealth, error) {
	return model.ServiceHealth{Status: "healthy"}, nil
}

type stubAssessments struct{}

func (stubAssessments) GetAssessment(context.Context, string) (model.Assessment, error) {
	return model.Assessment{Status: model.AssessmentCompleted}, nil
}

func (stubAssessments) GetAssessmentProgress(context.Context, string) (model.AssessmentProgress, error) {
	return model.AssessmentProgress{}, nil
}

func (stubAssessments) ListAssessments(context.Context) ([]model.Assessment, error) {
	return nil, nil
}

// newTestServer wires a Server over stub sources. screeningURL may point at an
// httptest upstream for pass-through routes; unused routes tolerate the zero
// value because nothing dials until a request arrives.
func newTestServer(t *testing.T, screeningURL string) (*Server, *aggregator.Controller) {
	t.Helper()
	logger := testLogger()

	snapshots := cache.New(cache.NewMemoryStore(), 0, logger)
	controller := aggregator.New(
		stubThreat{items: []model.ThreatIntelItem{{ID: "ti-1", Title: "exploit"}}},
		stubStablecoin{
			coins:  []model.StablecoinSnapshot{{Symbol: "USDT", Status: model.PegStatusStable}},
			alerts: []model.StablecoinAlert{{ID: "a-1", CoinSymbol: "USDT", AlertType: model.AlertTypeDepeg, Severity: model.SeverityHigh}},
		},
		stubAssessments{}, nil, snapshots, nil, logger, aggregator.Options{})
	t.Cleanup(controller.Stop)

	hub := realtime.NewHub(nil, logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	screening := client.NewScreeningClient(client.Config{BaseURL: screeningURL}, logger)
	defiRisk := client.NewDeFiRiskClient(client.Config{BaseURL: screeningURL}, logger)
	osint := client.NewOSINTClient(client.Config{BaseURL: screeningURL}, logger)
	return NewServer(controller, screening, defiRisk, osint, hub, nil, logger), controller
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Router(nil).ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := doRequest(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestDashboardServesMergedViewModel(t *testing.T) {
	s, controller := newTestServer(t, "")
	require.NoError(t, controller.Refresh(context.Background(), false))

	rec := doRequest(s, http.MethodGet, "/api/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var vm aggregator.ViewModel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vm))
	assert.Len(t, vm.ThreatIntel, 1)
	assert.Len(t, vm.Stablecoins, 1)
	assert.Len(t, vm.StablecoinAlerts, 1)
	assert.False(t, vm.Loading)
	assert.NotEmpty(t, vm.LastUpdated)
}

func TestAlertsLimitValidation(t *testing.T) {
	s, controller := newTestServer(t, "")
	require.NoError(t, controller.Refresh(context.Background(), false))

	rec := doRequest(s, http.MethodGet, "/api/alerts?limit=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/alerts?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Alerts []model.StablecoinAlert `json:"alerts"`
		Total  int                     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Len(t, payload.Alerts, 1)
	assert.Equal(t, 1, payload.Total)
}

func TestScreenAddressValidation(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := doRequest(s, http.MethodPost, "/api/screening/address", `{"maxHops": 3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing address fails validation")

	rec = doRequest(s, http.MethodPost, "/api/screening/address", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScreenBulkValidation(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := doRequest(s, http.MethodPost, "/api/screening/bulk", `{"addresses": [], "transactions": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty batch rejected")

	addresses := make([]string, 101)
	for i := range addresses {
		addresses[i] = "1A"
	}
	body, _ := json.Marshal(map[string]any{"addresses": addresses})
	rec = doRequest(s, http.MethodPost, "/api/screening/bulk", string(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "batch over the address cap rejected")
}

func TestScreenAddressPassThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/screening/address", r.URL.Path)
		w.Write([]byte(`{"success": true, "data": {"address": "1A", "riskScore": 80, "riskLevel": "HIGH", "sanctionMatches": []}}`))
	}))
	defer upstream.Close()

	s, _ := newTestServer(t, upstream.URL)
	rec := doRequest(s, http.MethodPost, "/api/screening/address", `{"address": "1A"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result model.AddressScreeningResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, model.RiskLevelHigh, result.RiskLevel)
}

func TestUpstreamFailureMapsToBadGateway(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	s, _ := newTestServer(t, upstream.URL)
	rec := doRequest(s, http.MethodPost, "/api/screening/address", `{"address": "1A"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestUnreachableUpstreamMapsToServiceUnavailable(t *testing.T) {
	s, _ := newTestServer(t, "http://127.0.0.1:1")
	rec := doRequest(s, http.MethodPost, "/api/screening/address", `{"address": "1A"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClearCacheEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := doRequest(s, http.MethodDelete, "/api/cache", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cache cleared")
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodOptions, "/api/dashboard", nil)
	rec := httptest.NewRecorder()
	s.Router(nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
