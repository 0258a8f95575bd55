package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPegStatusThresholds(t *testing.T) {
	cases := []struct {
		deviationPct float64
		want         PegStatus
	}{
		{0, PegStatusStable},
		{0.2, PegStatusStable},
		{-0.2, PegStatusStable},
		{0.21, PegStatusWarning},
		{-0.3, PegStatusWarning},
		{0.5, PegStatusWarning},
		{0.51, PegStatusDepegged},
		{-0.9, PegStatusDepegged},
		{4.2, PegStatusDepegged},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, PegStatusFor(tc.deviationPct), "deviation %v%%", tc.deviationPct)
	}
}

func TestRiskLevelBands(t *testing.T) {
	assert.Equal(t, RiskLevelLow, RiskLevelForScore(0))
	assert.Equal(t, RiskLevelLow, RiskLevelForScore(25))
	assert.Equal(t, RiskLevelMedium, RiskLevelForScore(26))
	assert.Equal(t, RiskLevelMedium, RiskLevelForScore(50))
	assert.Equal(t, RiskLevelHigh, RiskLevelForScore(51))
	assert.Equal(t, RiskLevelHigh, RiskLevelForScore(75))
	assert.Equal(t, RiskLevelCritical, RiskLevelForScore(76))
	assert.Equal(t, RiskLevelCritical, RiskLevelForScore(100))
}

func TestSeverityRankOrdering(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Greater(t, SeverityLow.Rank(), Severity("bogus").Rank())
}

func TestNormalizeSeverityDefaultsToMedium(t *testing.T) {
	assert.Equal(t, SeverityHigh, NormalizeSeverity("high"))
	assert.Equal(t, SeverityMedium, NormalizeSeverity(""))
	assert.Equal(t, SeverityMedium, NormalizeSeverity("HIGH"))
	assert.Equal(t, SeverityMedium, NormalizeSeverity("urgent"))
}

func TestAssessmentStatusTerminal(t *testing.T) {
	assert.False(t, AssessmentPending.Terminal())
	assert.False(t, AssessmentInProgress.Terminal())
	assert.True(t, AssessmentCompleted.Terminal())
	assert.True(t, AssessmentFailed.Terminal())
}
