package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/defi-guard/dashboard-aggregator/internal/model"
)

// StablecoinClient talks to the stablecoin peg-monitoring service.
type StablecoinClient struct {
	http   *resty.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewStablecoinClient creates a client for the stablecoin monitor.
func NewStablecoinClient(cfg Config, logger *slog.Logger) *StablecoinClient {
	return &StablecoinClient{http: newHTTP(cfg), logger: logger, now: time.Now}
}

// CurrentMetrics fetches the monitored coins and derives peg deviation and
// status from the canonical threshold table. The monitor reports raw prices;
// target, deviation and status are computed here so every consumer sees the
// same classification.
func (c *StablecoinClient) CurrentMetrics(ctx context.Context) ([]model.StablecoinSnapshot, error) {
	const endpoint = "/metrics/current"

	resp, err := c.http.R().SetContext(ctx).Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("stablecoin metrics request: %w", err)
	}
	if resp.IsError() {
		return nil, &HTTPError{Status: resp.StatusCode(), Endpoint: endpoint}
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return nil, &MalformedResponseError{Endpoint: endpoint, Detail: "response body is not valid JSON"}
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, &MalformedResponseError{Endpoint: endpoint, Detail: "expected a JSON array of coins"}
	}

	raw := root.Array()
	coins := make([]model.StablecoinSnapshot, 0, len(raw))
	for _, coin := range raw {
		const target = 1.0
		price := coin.Get("price").Float()
		deviation := (price - target) / target * 100

		coins = append(coins, model.StablecoinSnapshot{
			Symbol:              coin.Get("symbol").String(),
			Name:                coin.Get("name").String(),
			CurrentPrice:        price,
			TargetPrice:         target,
			DeviationPercentage: deviation,
			Status:              model.PegStatusFor(deviation),
			LastUpdated:         coin.Get("last_updated").String(),
			MarketCap:           coin.Get("market_cap").Float(),
			Volume24h:           coin.Get("volume_24h").Float(),
		})
	}
	return coins, nil
}

// ActiveAlerts fetches the monitor's open depeg/recovery/volatility alerts.
// The alert feed is loosely shaped; every field gets a safe default so the
// view-model never carries holes.
func (c *StablecoinClient) ActiveAlerts(ctx context.Context) ([]model.StablecoinAlert, error) {
	const endpoint = "/alerts/active"

	resp, err := c.http.R().SetContext(ctx).Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("stablecoin alerts request: %w", err)
	}
	if resp.IsError() {
		return nil, &HTTPError{Status: resp.StatusCode(), Endpoint: endpoint}
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return nil, &MalformedResponseError{Endpoint: endpoint, Detail: "response body is not valid JSON"}
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, &MalformedResponseError{Endpoint: endpoint, Detail: "expected a JSON array of alerts"}
	}

	raw := root.Array()
	alerts := make([]model.StablecoinAlert, 0, len(raw))
	for _, a := range raw {
		alert := model.StablecoinAlert{
			ID:           a.Get("id").String(),
			CoinSymbol:   a.Get("symbol").String(),
			AlertType:    normalizeAlertType(a.Get("type").String()),
			Severity:     model.NormalizeSeverity(a.Get("severity").String()),
			Message:      a.Get("message").String(),
			PriceAtAlert: a.Get("price").Float(),
			Deviation:    a.Get("deviation").Float(),
			Timestamp:    c.parseTimestamp(a.Get("timestamp").String()),
		}
		if alert.CoinSymbol == "" {
			alert.CoinSymbol = "Unknown"
		}
		if alert.Message == "" {
			alert.Message = "Stablecoin alert"
		}
		if alert.ID == "" {
			alert.ID = contentID("alert", alert.CoinSymbol, string(alert.AlertType), string(alert.Severity))
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// Health reads the monitor's root health document.
func (c *StablecoinClient) Health(ctx context.Context) (model.ServiceHealth, error) {
	const endpoint = "/"

	resp, err := c.http.R().SetContext(ctx).Get(endpoint)
	if err != nil {
		return model.ServiceHealth{}, fmt.Errorf("stablecoin health request: %w", err)
	}
	if resp.IsError() {
		return model.ServiceHealth{}, &HTTPError{Status: resp.StatusCode(), Endpoint: endpoint}
	}
	fields, err := parseHealth(resp.Body(), endpoint)
	if err != nil {
		return model.ServiceHealth{}, err
	}
	return model.ServiceHealth{Status: fields["status"], LastUpdated: fields["last_updated"]}, nil
}

func (c *StablecoinClient) parseTimestamp(raw string) time.Time {
	if raw == "" {
		return c.now().UTC()
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return c.now().UTC()
	}
	return ts
}

func normalizeAlertType(raw string) model.AlertType {
	switch model.AlertType(raw) {
	case model.AlertTypeDepeg, model.AlertTypeRecovery, model.AlertTypeVolatility:
		return model.AlertType(raw)
	default:
		return model.AlertTypeVolatility
	}
}
