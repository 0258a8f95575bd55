package client

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/defi-guard/dashboard-aggregator/internal/model"
)

// ThreatIntelClient talks to the threat-intelligence scraping service.
type ThreatIntelClient struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewThreatIntelClient creates a client for the threat-intelligence service.
func NewThreatIntelClient(cfg Config, logger *slog.Logger) *ThreatIntelClient {
	return &ThreatIntelClient{http: newHTTP(cfg), logger: logger}
}

// ListNews fetches up to limit threat-intel articles. freshScrape asks the
// backend to re-scrape its sources instead of serving its own cache; callers
// should use it sparingly, it is an expensive upstream operation.
func (c *ThreatIntelClient) ListNews(ctx context.Context, limit int, freshScrape bool) ([]model.ThreatIntelItem, error) {
	const endpoint = "/api/v1/threat-intel"

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"limit":        strconv.Itoa(limit),
			"fresh_scrape": strconv.FormatBool(freshScrape),
		}).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("threat intel request: %w", err)
	}
	if resp.IsError() {
		return nil, &HTTPError{Status: resp.StatusCode(), Endpoint: endpoint}
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return nil, &MalformedResponseError{Endpoint: endpoint, Detail: "response body is not valid JSON"}
	}
	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return nil, &MalformedResponseError{Endpoint: endpoint, Detail: "data field is not an array"}
	}

	raw := data.Array()
	items := make([]model.ThreatIntelItem, 0, len(raw))
	for _, it := range raw {
		item := model.ThreatIntelItem{
			ID:            it.Get("id").String(),
			Title:         it.Get("title").String(),
			Summary:       it.Get("description").String(),
			URL:           it.Get("source_url").String(),
			Source:        it.Get("source_name").String(),
			PublishedDate: it.Get("published_date").String(),
			ThreatLevel:   int(it.Get("severity_score").Int()),
			Classification: model.Classification{
				ExploitType:  it.Get("attack_type").String(),
				AttackVector: it.Get("additional_data.attack_vector").String(),
				Severity:     model.NormalizeSeverity(it.Get("risk_level").String()),
			},
		}
		item.ProtocolsMentioned = []string{}
		if p := it.Get("protocol_name").String(); p != "" {
			item.ProtocolsMentioned = []string{p}
		}
		if item.ID == "" {
			item.ID = contentID("threat", item.Title, item.URL, item.PublishedDate)
		}
		items = append(items, item)
	}

	c.logger.Debug("threat intel fetched", "items", len(items), "fresh_scrape", freshScrape)
	return items, nil
}

// Health reads the service's root health document.
func (c *ThreatIntelClient) Health(ctx context.Context) (model.ServiceHealth, error) {
	const endpoint = "/"

	resp, err := c.http.R().SetContext(ctx).Get(endpoint)
	if err != nil {
		return model.ServiceHealth{}, fmt.Errorf("threat intel health request: %w", err)
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
