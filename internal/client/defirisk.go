package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/defi-guard/dashboard-aggregator/internal/model"
)

// CreateProtocolRequest is the payload for registering a protocol.
type CreateProtocolRequest struct {
	Name            string `json:"name"`
	Chain           string `json:"chain"`
	Category        string `json:"category"`
	ContractAddress string `json:"contractAddress,omitempty"`
}

// CreateAssessmentRequest is the payload for starting an assessment. Older
// API revisions accepted more fields; only protocolId is guaranteed honored.
type CreateAssessmentRequest struct {
	ProtocolID string `json:"protocolId"`
}

// DeFiRiskClient talks to the DeFi protocol risk-assessment service.
type DeFiRiskClient struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewDeFiRiskClient creates a client for the risk-assessment service.
func NewDeFiRiskClient(cfg Config, logger *slog.Logger) *DeFiRiskClient {
	return &DeFiRiskClient{http: newHTTP(cfg), logger: logger}
}

// ListProtocols fetches the registered protocols.
func (c *DeFiRiskClient) ListProtocols(ctx context.Context) ([]model.Protocol, error) {
	const endpoint = "/api/protocols"
	data, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var protocols []model.Protocol
	if err := decodeList(data, "protocols", &protocols); err != nil {
		return nil, &MalformedResponseError{Endpoint: endpoint, Detail: err.Error()}
	}
	return protocols, nil
}

// CreateProtocol registers a new protocol.
func (c *DeFiRiskClient) CreateProtocol(ctx context.Context, req CreateProtocolRequest) (model.Protocol, error) {
	const endpoint = "/api/protocols"

	var protocol model.Protocol
	data, err := c.post(ctx, endpoint, req)
	if err != nil {
		return protocol, err
	}
	if err := json.Unmarshal([]byte(data.Raw), &protocol); err != nil {
		return protocol, &MalformedResponseError{Endpoint: endpoint, Detail: fmt.Sprintf("decoding protocol: %v", err)}
	}
	return protocol, nil
}

// ListAssessments fetches all assessments.
func (c *DeFiRiskClient) ListAssessments(ctx context.Context) ([]model.Assessment, error) {
	const endpoint = "/api/assessments"
	data, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var assessments []model.Assessment
	if err := decodeList(data, "assessments", &assessments); err != nil {
		return nil, &MalformedResponseError{Endpoint: endpoint, Detail: err.Error()}
	}
	for i := range assessments {
		normalizeAssessment(&assessments[i])
	}
	return assessments, nil
}

// CreateAssessment starts a new assessment; the returned record is PENDING
// until the backend picks it up.
func (c *DeFiRiskClient) CreateAssessment(ctx context.Context, req CreateAssessmentRequest) (model.Assessment, error) {
	const endpoint = "/api/assessments"

	var assessment model.Assessment
	data, err := c.post(ctx, endpoint, req)
	if err != nil {
		return assessment, err
	}
	if err := json.Unmarshal([]byte(data.Raw), &assessment); err != nil {
		return assessment, &MalformedResponseError{Endpoint: endpoint, Detail: fmt.Sprintf("decoding assessment: %v", err)}
	}
	normalizeAssessment(&assessment)
	return assessment, nil
}

// GetAssessment fetches one assessment with its findings.
func (c *DeFiRiskClient) GetAssessment(ctx context.Context, id string) (model.Assessment, error) {
	endpoint := "/api/assessments/" + id

	var assessment model.Assessment
	data, err := c.get(ctx, endpoint)
	if err != nil {
		return assessment, err
	}
	if err := json.Unmarshal([]byte(data.Raw), &assessment); err != nil {
		return assessment, &MalformedResponseError{Endpoint: endpoint, Detail: fmt.Sprintf("decoding assessment: %v", err)}
	}
	normalizeAssessment(&assessment)
	return assessment, nil
}

// GetAssessmentProgress fetches the progress document for an in-flight
// assessment.
func (c *DeFiRiskClient) GetAssessmentProgress(ctx context.Context, id string) (model.AssessmentProgress, error) {
	endpoint := "/api/assessments/" + id + "/progress"

	var progress model.AssessmentProgress
	data, err := c.get(ctx, endpoint)
	if err != nil {
		return progress, err
	}
	if err := json.Unmarshal([]byte(data.Raw), &progress); err != nil {
		return progress, &MalformedResponseError{Endpoint: endpoint, Detail: fmt.Sprintf("decoding progress: %v", err)}
	}
	return progress, nil
}

// ListDetectors fetches the static-analysis detectors the service can run.
func (c *DeFiRiskClient) ListDetectors(ctx context.Context) ([]model.Detector, error) {
	const endpoint = "/api/detectors"
	data, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var detectors []model.Detector
	if err := decodeList(data, "detectors", &detectors); err != nil {
		return nil, &MalformedResponseError{Endpoint: endpoint, Detail: err.Error()}
	}
	return detectors, nil
}

func (c *DeFiRiskClient) get(ctx context.Context, endpoint string) (gjson.Result, error) {
	resp, err := c.http.R().SetContext(ctx).Get(endpoint)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("risk assessment request %s: %w", endpoint, err)
	}
	if resp.IsError() {
		return gjson.Result{}, &HTTPError{Status: resp.StatusCode(), Endpoint: endpoint}
	}
	return unwrapEnvelope(resp.Body(), endpoint)
}

func (c *DeFiRiskClient) post(ctx context.Context, endpoint string, body any) (gjson.Result, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("risk assessment request %s: %w", endpoint, err)
	}
	if resp.IsError() {
		return gjson.Result{}, &HTTPError{Status: resp.StatusCode(), Endpoint: endpoint}
	}
	return unwrapEnvelope(resp.Body(), endpoint)
}

// decodeList decodes data into out whether the envelope carries a bare array
// or nests it under a named field; API revisions have shipped both.
func decodeList(data gjson.Result, field string, out any) error {
	node := data
	if !node.IsArray() {
		node = data.Get(field)
	}
	if !node.IsArray() {
		return fmt.Errorf("neither data nor data.%s is an array", field)
	}
	if err := json.Unmarshal([]byte(node.Raw), out); err != nil {
		return fmt.Errorf("decoding %s: %v", field, err)
	}
	return nil
}

func normalizeAssessment(a *model.Assessment) {
	if a.RiskLevel == "" {
		a.RiskLevel = model.RiskLevelForScore(a.OverallScore)
	}
	if a.Findings == nil {
		a.Findings = []model.Finding{}
	}
	if a.Recommendations == nil {
		a.Recommendations = []string{}
	}
}
