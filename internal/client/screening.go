package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/defi-guard/dashboard-aggregator/internal/model"
)

// Client-side bulk batch guards. The backend is not known to enforce its own
// caps, so oversized batches are rejected before they leave this process.
const (
	MaxBulkAddresses    = 100
	MaxBulkTransactions = 50
)

// DefaultMaxHops is the transaction-graph traversal depth used when a
// request does not specify one.
const DefaultMaxHops = 5

// AddressScreeningRequest is the payload for screening a single address.
type AddressScreeningRequest struct {
	Address                    string `json:"address"`
	IncludeTransactionAnalysis bool   `json:"includeTransactionAnalysis"`
	MaxHops                    int    `json:"maxHops"`
}

// TransactionScreeningRequest is the payload for screening one transaction.
type TransactionScreeningRequest struct {
	TxHash          string `json:"txHash"`
	Direction       string `json:"direction"`
	IncludeMetadata bool   `json:"includeMetadata"`
}

// BulkScreeningRequest is the payload for screening a batch of addresses
// and/or transactions.
type BulkScreeningRequest struct {
	Addresses                  []string `json:"addresses,omitempty"`
	Transactions               []string `json:"transactions,omitempty"`
	BatchID                    string   `json:"batchId,omitempty"`
	IncludeTransactionAnalysis bool     `json:"includeTransactionAnalysis"`
}

// ScreeningClient talks to the sanctions/address-screening service.
type ScreeningClient struct {
	http   *resty.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewScreeningClient creates a client for the sanction detector.
func NewScreeningClient(cfg Config, logger *slog.Logger) *ScreeningClient {
	return &ScreeningClient{http: newHTTP(cfg), logger: logger, now: time.Now}
}

// ScreenAddress screens one address against the loaded sanction lists.
func (c *ScreeningClient) ScreenAddress(ctx context.Context, req AddressScreeningRequest) (model.AddressScreeningResult, error) {
	const endpoint = "/api/screening/address"
	if req.MaxHops <= 0 {
		req.MaxHops = DefaultMaxHops
	}

	var result model.AddressScreeningResult
	data, err := c.post(ctx, endpoint, req)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(data.Raw), &result); err != nil {
		return result, &MalformedResponseError{Endpoint: endpoint, Detail: fmt.Sprintf("decoding result: %v", err)}
	}
	if result.RiskLevel == "" {
		result.RiskLevel = model.RiskLevelForScore(result.RiskScore)
	}
	if result.SanctionMatches == nil {
		result.SanctionMatches = []model.SanctionMatch{}
	}
	return result, nil
}

// ScreenTransaction screens one transaction's input/output addresses.
func (c *ScreeningClient) ScreenTransaction(ctx context.Context, req TransactionScreeningRequest) (model.TransactionScreeningResult, error) {
	const endpoint = "/api/screening/transaction"
	if req.Direction == "" {
		req.Direction = "both"
	}

	var result model.TransactionScreeningResult
	data, err := c.post(ctx, endpoint, req)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(data.Raw), &result); err != nil {
		return result, &MalformedResponseError{Endpoint: endpoint, Detail: fmt.Sprintf("decoding result: %v", err)}
	}
	if result.OverallRiskLevel == "" {
		result.OverallRiskLevel = model.RiskLevelForScore(result.OverallRiskScore)
	}
	return result, nil
}

// ScreenBulk screens a batch of addresses and transactions. The summary is
// recomputed from the per-item results: the upstream summary has drifted
// between API revisions and only its highRiskItems count is trusted.
func (c *ScreeningClient) ScreenBulk(ctx context.Context, req BulkScreeningRequest) (model.BulkScreeningResponse, error) {
	const endpoint = "/api/screening/bulk"

	var out model.BulkScreeningResponse
	if len(req.Addresses) > MaxBulkAddresses {
		return out, fmt.Errorf("bulk batch has %d addresses, limit is %d", len(req.Addresses), MaxBulkAddresses)
	}
	if len(req.Transactions) > MaxBulkTransactions {
		return out, fmt.Errorf("bulk batch has %d transactions, limit is %d", len(req.Transactions), MaxBulkTransactions)
	}
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(endpoint)
	if err != nil {
		return out, fmt.Errorf("bulk screening request: %w", err)
	}
	if resp.IsError() {
		return out, &HTTPError{Status: resp.StatusCode(), Endpoint: endpoint}
	}

	body := resp.Body()
	data, err := unwrapEnvelope(body, endpoint)
	if err != nil {
		return out, err
	}

	var addresses []model.AddressScreeningResult
	if node := data.Get("addresses"); node.Exists() {
		if err := json.Unmarshal([]byte(node.Raw), &addresses); err != nil {
			return out, &MalformedResponseError{Endpoint: endpoint, Detail: fmt.Sprintf("decoding addresses: %v", err)}
		}
	}
	var transactions []model.TransactionScreeningResult
	if node := data.Get("transactions"); node.Exists() {
		if err := json.Unmarshal([]byte(node.Raw), &transactions); err != nil {
			return out, &MalformedResponseError{Endpoint: endpoint, Detail: fmt.Sprintf("decoding transactions: %v", err)}
		}
	}

	summary := model.BulkScreeningSummary{
		TotalProcessed: len(addresses) + len(transactions),
		HighRiskCount:  int(data.Get("summary.highRiskItems").Int()),
	}
	for _, a := range addresses {
		summary.SanctionMatchesCount += len(a.SanctionMatches)
		summary.ProcessingTimeMs += a.ProcessingTimeMs
	}
	for _, t := range transactions {
		summary.SanctionMatchesCount += t.SanctionMatchesCount
		summary.ProcessingTimeMs += t.ProcessingTimeMs
	}

	timestamp := gjson.GetBytes(body, "timestamp").String()
	if timestamp == "" {
		timestamp = c.now().UTC().Format(time.RFC3339)
	}

	out = model.BulkScreeningResponse{
		BatchID: req.BatchID,
		Summary: summary,
		Results: model.BulkScreeningResults{
			Addresses:    addresses,
			Transactions: transactions,
		},
		Timestamp: timestamp,
	}
	if out.Results.Addresses == nil {
		out.Results.Addresses = []model.AddressScreeningResult{}
	}
	if out.Results.Transactions == nil {
		out.Results.Transactions = []model.TransactionScreeningResult{}
	}

	c.logger.Debug("bulk screening completed",
		"batch_id", out.BatchID,
		"total_processed", summary.TotalProcessed,
		"sanction_matches", summary.SanctionMatchesCount)
	return out, nil
}

// Health reads the detector's root health document.
func (c *ScreeningClient) Health(ctx context.Context) (model.ServiceHealth, error) {
	const endpoint = "/"

	resp, err := c.http.R().SetContext(ctx).Get(endpoint)
	if err != nil {
		return model.ServiceHealth{}, fmt.Errorf("screening health request: %w", err)
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

func (c *ScreeningClient) post(ctx context.Context, endpoint string, body any) (gjson.Result, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("screening request %s: %w", endpoint, err)
	}
	if resp.IsError() {
		return gjson.Result{}, &HTTPError{Status: resp.StatusCode(), Endpoint: endpoint}
	}
	return unwrapEnvelope(resp.Body(), endpoint)
}
