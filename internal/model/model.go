// Package model holds the normalized record types shared by the upstream
// clients, the aggregator and the HTTP layer. Every type here is produced by
// a client normalization step; raw upstream shapes never leave internal/client.
package model

import "time"

// Severity is the four-level severity scale used by alert-like records.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for tie-breaking: critical > high > medium > low.
// Unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// NormalizeSeverity maps an arbitrary upstream severity string onto the
// four-level scale, defaulting to medium.
func NormalizeSeverity(raw string) Severity {
	switch Severity(raw) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(raw)
	default:
		return SeverityMedium
	}
}

// PegStatus classifies a stablecoin's deviation from its peg.
type PegStatus string

const (
	PegStatusStable   PegStatus = "stable"
	PegStatusWarning  PegStatus = "warning"
	PegStatusDepegged PegStatus = "depegged"
)

// Canonical peg-deviation thresholds, in percent of the target price.
// The monitor backend reports the same cutoffs on the raw price scale
// (0.005 / 0.002 against a 1.0 peg); this is the single table used
// everywhere in this service.
const (
	DepegThresholdPct   = 0.5
	WarningThresholdPct = 0.2
)

// PegStatusFor derives the peg status from a deviation percentage.
func PegStatusFor(deviationPct float64) PegStatus {
	abs := deviationPct
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs > DepegThresholdPct:
		return PegStatusDepegged
	case abs > WarningThresholdPct:
		return PegStatusWarning
	default:
		return PegStatusStable
	}
}

// RiskLevel is the screening/assessment risk scale.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// RiskLevelForScore maps a 0-100 risk score onto a risk level. The backend's
// own riskLevel field is authoritative when present; this is the display
// fallback for records that omit it.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score <= 25:
		return RiskLevelLow
	case score <= 50:
		return RiskLevelMedium
	case score <= 75:
		return RiskLevelHigh
	default:
		return RiskLevelCritical
	}
}

// ServiceHealth is the minimal health view consumed from every upstream.
type ServiceHealth struct {
	Status      string `json:"status"`
	LastUpdated string `json:"last_updated"`
}

// ThreatIntelItem is one normalized threat-intelligence article.
type ThreatIntelItem struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Summary            string         `json:"summary"`
	URL                string         `json:"url"`
	Source             string         `json:"source"`
	PublishedDate      string         `json:"published_date"`
	ThreatLevel        int            `json:"threat_level"`
	ProtocolsMentioned []string       `json:"protocols_mentioned"`
	Classification     Classification `json:"classification"`
}

// Classification carries the backend's attack taxonomy for a threat item.
// Severity and ThreatLevel are independently supplied upstream and may
// disagree; nothing here assumes a mapping between them.
type Classification struct {
	ExploitType  string   `json:"exploit_type,omitempty"`
	AttackVector string   `json:"attack_vector,omitempty"`
	Severity     Severity `json:"severity"`
}

// StablecoinSnapshot is one monitored stablecoin with derived peg state.
type StablecoinSnapshot struct {
	Symbol              string    `json:"symbol"`
	Name                string    `json:"name"`
	CurrentPrice        float64   `json:"current_price"`
	TargetPrice         float64   `json:"target_price"`
	DeviationPercentage float64   `json:"deviation_percentage"`
	Status              PegStatus `json:"status"`
	LastUpdated         string    `json:"last_updated"`
	MarketCap           float64   `json:"market_cap,omitempty"`
	Volume24h           float64   `json:"volume_24h,omitempty"`
}

// AlertType is the kind of stablecoin event an alert reports.
type AlertType string

const (
	AlertTypeDepeg      AlertType = "depeg"
	AlertTypeRecovery   AlertType = "recovery"
	AlertTypeVolatility AlertType = "volatility"
)

// StablecoinAlert is one depeg/recovery/volatility event. Upstream ids are
// not reliable dedup keys (they may be omitted or regenerated), so duplicate
// detection uses a content fingerprint instead (internal/dedup).
type StablecoinAlert struct {
	ID           string    `json:"id"`
	CoinSymbol   string    `json:"coin_symbol"`
	AlertType    AlertType `json:"alert_type"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	PriceAtAlert float64   `json:"price_at_alert"`
	Deviation    float64   `json:"deviation"`
	Timestamp    time.Time `json:"timestamp"`
}

// SanctionMatch is one watchlist hit for a screened address or transaction.
type SanctionMatch struct {
	ListSource     string  `json:"listSource"`
	EntityName     string  `json:"entityName"`
	EntityID       string  `json:"entityId"`
	MatchType      string  `json:"matchType"`
	Confidence     float64 `json:"confidence"`
	MatchedAddress string  `json:"matchedAddress"`
}

// AddressScreeningResult is the screening verdict for a single address.
type AddressScreeningResult struct {
	Address          string          `json:"address"`
	RiskScore        int             `json:"riskScore"`
	RiskLevel        RiskLevel       `json:"riskLevel"`
	SanctionMatches  []SanctionMatch `json:"sanctionMatches"`
	Confidence       float64         `json:"confidence"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
	Timestamp        string          `json:"timestamp"`
}

// TransactionAddress is one input/output address inside a screened transaction.
type TransactionAddress struct {
	Address         string          `json:"address"`
	RiskScore       int             `json:"riskScore"`
	RiskLevel       RiskLevel       `json:"riskLevel"`
	SanctionMatches []SanctionMatch `json:"sanctionMatches"`
}

// TransactionScreeningResult is the screening verdict for one transaction.
type TransactionScreeningResult struct {
	TxHash               string               `json:"txHash"`
	InputAddresses       []TransactionAddress `json:"inputAddresses"`
	OutputAddresses      []TransactionAddress `json:"outputAddresses"`
	OverallRiskScore     int                  `json:"overallRiskScore"`
	OverallRiskLevel     RiskLevel            `json:"overallRiskLevel"`
	SanctionMatchesCount int                  `json:"sanctionMatchesCount"`
	Confidence           float64              `json:"confidence"`
	ProcessingTimeMs     int64                `json:"processingTimeMs"`
	Timestamp            string               `json:"timestamp"`
}

// BulkScreeningSummary aggregates one bulk screening batch.
type BulkScreeningSummary struct {
	TotalProcessed       int   `json:"totalProcessed"`
	HighRiskCount        int   `json:"highRiskCount"`
	SanctionMatchesCount int   `json:"sanctionMatchesCount"`
	ProcessingTimeMs     int64 `json:"processingTimeMs"`
}

// BulkScreeningResults carries the per-item results of a bulk batch.
type BulkScreeningResults struct {
	Addresses    []AddressScreeningResult     `json:"addresses"`
	Transactions []TransactionScreeningResult `json:"transactions"`
}

// BulkScreeningResponse is the normalized response for a bulk batch. The
// summary is recomputed client-side from the per-item results rather than
// trusted from upstream.
type BulkScreeningResponse struct {
	BatchID   string               `json:"batchId"`
	Summary   BulkScreeningSummary `json:"summary"`
	Results   BulkScreeningResults `json:"results"`
	Timestamp string               `json:"timestamp"`
}

// AssessmentStatus is the lifecycle state of a DeFi risk assessment.
type AssessmentStatus string

const (
	AssessmentPending    AssessmentStatus = "PENDING"
	AssessmentInProgress AssessmentStatus = "IN_PROGRESS"
	AssessmentCompleted  AssessmentStatus = "COMPLETED"
	AssessmentFailed     AssessmentStatus = "FAILED"
)

// Terminal reports whether the status ends the assessment lifecycle.
func (s AssessmentStatus) Terminal() bool {
	return s == AssessmentCompleted || s == AssessmentFailed
}

// Protocol is one registered DeFi protocol.
type Protocol struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Chain             string            `json:"chain"`
	Category          string            `json:"category"`
	ContractAddresses []string          `json:"contract_addresses"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Finding is one issue raised by an assessment.
type Finding struct {
	Category       string   `json:"category"`
	Severity       Severity `json:"severity"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// Assessment is one DeFi protocol risk assessment.
type Assessment struct {
	ID              string           `json:"id"`
	ProtocolID      string           `json:"protocolId"`
	Status          AssessmentStatus `json:"status"`
	OverallScore    int              `json:"overallScore"`
	RiskLevel       RiskLevel        `json:"riskLevel"`
	Findings        []Finding        `json:"findings"`
	Recommendations []string         `json:"recommendations"`
	CreatedAt       string           `json:"createdAt,omitempty"`
	UpdatedAt       string           `json:"updatedAt,omitempty"`
}

// AssessmentProgress reports how far an in-flight assessment has advanced.
type AssessmentProgress struct {
	Stage                    string `json:"stage"`
	ProgressPercentage       int    `json:"progress_percentage"`
	CurrentStep              string `json:"current_step"`
	EstimatedTimeRemainingMs int64  `json:"estimated_time_remaining_ms,omitempty"`
}

// Detector is one static-analysis detector offered by the assessment service.
type Detector struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Impact      string `json:"impact,omitempty"`
	Confidence  string `json:"confidence,omitempty"`
}

// Country is one jurisdiction tracked by the stablecoin OSINT service.
type Country struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Code             string `json:"code"`
	Region           string `json:"region"`
	CryptoFriendly   bool   `json:"crypto_friendly"`
	RegulatoryStatus string `json:"regulatory_status"`
	Notes            string `json:"notes,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

// NewsArticle is one OSINT news article.
type NewsArticle struct {
	ID                   string   `json:"id"`
	Title                string   `json:"title"`
	Summary              string   `json:"summary"`
	URL                  string   `json:"url"`
	PublishedAt          string   `json:"published_at"`
	Category             string   `json:"category"`
	ImpactScore          float64  `json:"impact_score"`
	SourceID             string   `json:"source_id,omitempty"`
	MentionedStablecoins []string `json:"mentioned_stablecoins"`
	MentionedCountries   []string `json:"mentioned_countries"`
	Sentiment            string   `json:"sentiment,omitempty"`
}
