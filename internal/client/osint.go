package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/defi-guard/dashboard-aggregator/internal/model"
)

// CountryFilter narrows the OSINT country listing. Nil/zero fields are
// omitted from the query.
type CountryFilter struct {
	Region           string
	CryptoFriendly   *bool
	RegulatoryStatus string
}

// OSINTClient talks to the stablecoin OSINT service (regulatory landscape
// and news derived from public sources).
type OSINTClient struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewOSINTClient creates a client for the OSINT service.
func NewOSINTClient(cfg Config, logger *slog.Logger) *OSINTClient {
	return &OSINTClient{http: newHTTP(cfg), logger: logger}
}

// ListCountries fetches the tracked jurisdictions, optionally filtered.
func (c *OSINTClient) ListCountries(ctx context.Context, filter CountryFilter) ([]model.Country, error) {
	const endpoint = "/api/v1/countries/"

	req := c.http.R().SetContext(ctx)
	if filter.Region != "" {
		req.SetQueryParam("region", filter.Region)
	}
	if filter.CryptoFriendly != nil {
		req.SetQueryParam("crypto_friendly", strconv.FormatBool(*filter.CryptoFriendly))
	}
	if filter.RegulatoryStatus != "" {
		req.SetQueryParam("regulatory_status", filter.RegulatoryStatus)
	}

	resp, err := req.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("osint countries request: %w", err)
	}
	if resp.IsError() {
		return nil, &HTTPError{Status: resp.StatusCode(), Endpoint: endpoint}
	}

	data, err := unwrapEnvelope(resp.Body(), endpoint)
	if err != nil {
		return nil, err
	}
	var countries []model.Country
	if err := decodeList(data, "countries", &countries); err != nil {
		return nil, &MalformedResponseError{Endpoint: endpoint, Detail: err.Error()}
	}
	return countries, nil
}

// ListNews fetches OSINT news articles. fresh forces the backend to
// re-scrape its sources before answering.
func (c *OSINTClient) ListNews(ctx context.Context, fresh bool) ([]model.NewsArticle, error) {
	endpoint := "/api/v1/news"
	if fresh {
		endpoint = "/api/v1/news/fresh"
	}

	resp, err := c.http.R().SetContext(ctx).Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("osint news request: %w", err)
	}
	if resp.IsError() {
		return nil, &HTTPError{Status: resp.StatusCode(), Endpoint: endpoint}
	}

	data, err := unwrapEnvelope(resp.Body(), endpoint)
	if err != nil {
		return nil, err
	}

	node := data
	if !node.IsArray() {
		node = data.Get("articles")
	}
	if !node.IsArray() {
		return nil, &MalformedResponseError{Endpoint: endpoint, Detail: "neither data nor data.articles is an array"}
	}

	raw := node.Array()
	articles := make([]model.NewsArticle, 0, len(raw))
	for _, it := range raw {
		article := model.NewsArticle{
			ID:          it.Get("id").String(),
			Title:       it.Get("title").String(),
			Summary:     it.Get("summary").String(),
			URL:         it.Get("url").String(),
			PublishedAt: it.Get("published_at").String(),
			Category:    it.Get("category").String(),
			ImpactScore: it.Get("impact_score").Float(),
			SourceID:    it.Get("source_id").String(),
			Sentiment:   it.Get("sentiment").String(),
		}
		if article.Summary == "" {
			article.Summary = it.Get("content").String()
		}
		if article.PublishedAt == "" {
			article.PublishedAt = it.Get("created_at").String()
		}
		article.MentionedStablecoins = stringList(it.Get("mentioned_stablecoins").Raw)
		article.MentionedCountries = stringList(it.Get("mentioned_countries").Raw)
		if article.ID == "" {
			article.ID = contentID("osint-news", article.Title, article.URL, article.PublishedAt)
		}
		articles = append(articles, article)
	}
	return articles, nil
}

func stringList(raw string) []string {
	var out []string
	if raw == "" {
		return []string{}
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}
