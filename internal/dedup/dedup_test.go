package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defi-guard/dashboard-aggregator/internal/model"
)

func alertAt(symbol string, typ model.AlertType, sev model.Severity, deviation, price float64, ts time.Time) model.StablecoinAlert {
	return model.StablecoinAlert{
		ID:           "id-" + symbol,
		CoinSymbol:   symbol,
		AlertType:    typ,
		Severity:     sev,
		Message:      "alert",
		PriceAtAlert: price,
		Deviation:    deviation,
		Timestamp:    ts,
	}
}

func TestCollapse_JitteredDuplicates(t *testing.T) {
	earlier := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := earlier.Add(30 * time.Second)

	// Same underlying USDT depeg reported twice with float jitter:
	// deviations within 0.01, prices within 0.0001.
	a := alertAt("USDT", model.AlertTypeDepeg, model.SeverityHigh, 0.512, 0.9950, earlier)
	b := alertAt("USDT", model.AlertTypeDepeg, model.SeverityHigh, 0.513, 0.9951, later)

	out := Collapse([]model.StablecoinAlert{a, b})
	require.Len(t, out, 1, "jittered duplicates should collapse to one record")
	assert.Equal(t, later, out[0].Timestamp, "the later report should win the tie-break")
}

func TestCollapse_SeverityWinsOverRecency(t *testing.T) {
	earlier := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Minute)

	critical := alertAt("USDC", model.AlertTypeDepeg, model.SeverityCritical, 0.6, 0.994, earlier)
	high := critical
	high.Severity = model.SeverityHigh
	high.Timestamp = later

	// Distinct fingerprints (severity is part of the key), so both survive,
	// but ordering puts the critical one first despite being older.
	out := Collapse([]model.StablecoinAlert{high, critical})
	require.Len(t, out, 2)
	assert.Equal(t, model.SeverityCritical, out[0].Severity)
	assert.Equal(t, model.SeverityHigh, out[1].Severity)
}

func TestCollapse_Idempotent(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	in := []model.StablecoinAlert{
		alertAt("USDT", model.AlertTypeDepeg, model.SeverityHigh, 0.512, 0.9950, base),
		alertAt("USDT", model.AlertTypeDepeg, model.SeverityHigh, 0.513, 0.9951, base.Add(time.Second)),
		alertAt("DAI", model.AlertTypeVolatility, model.SeverityLow, 0.1, 0.9990, base),
		alertAt("USDC", model.AlertTypeRecovery, model.SeverityMedium, 0.05, 1.0001, base),
	}

	once := Collapse(in)
	twice := Collapse(once)
	assert.Equal(t, once, twice)
}

func TestCollapse_EmptyAndAllIdentical(t *testing.T) {
	assert.Empty(t, Collapse(nil))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	same := make([]model.StablecoinAlert, 6)
	for i := range same {
		same[i] = alertAt("FRAX", model.AlertTypeDepeg, model.SeverityCritical, 0.9, 0.991, base.Add(time.Duration(i)*time.Second))
	}
	out := Collapse(same)
	require.Len(t, out, 1)
	assert.Equal(t, base.Add(5*time.Second), out[0].Timestamp)
}

func TestCollapse_OrderedBySignificance(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	in := []model.StablecoinAlert{
		alertAt("DAI", model.AlertTypeVolatility, model.SeverityLow, 0.1, 0.999, base.Add(3*time.Hour)),
		alertAt("USDT", model.AlertTypeDepeg, model.SeverityCritical, 0.8, 0.992, base),
		alertAt("USDC", model.AlertTypeDepeg, model.SeverityHigh, 0.6, 0.994, base.Add(time.Hour)),
		alertAt("TUSD", model.AlertTypeDepeg, model.SeverityHigh, 0.7, 0.993, base.Add(2*time.Hour)),
	}

	out := Collapse(in)
	require.Len(t, out, 4)
	assert.Equal(t, "USDT", out[0].CoinSymbol)
	// High-severity pair ordered most recent first.
	assert.Equal(t, "TUSD", out[1].CoinSymbol)
	assert.Equal(t, "USDC", out[2].CoinSymbol)
	assert.Equal(t, "DAI", out[3].CoinSymbol)
}

func TestTop_CapsResult(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	in := make([]model.StablecoinAlert, 0, 8)
	symbols := []string{"USDT", "USDC", "DAI", "TUSD", "FRAX", "LUSD", "GUSD", "PYUSD"}
	for i, sym := range symbols {
		in = append(in, alertAt(sym, model.AlertTypeDepeg, model.SeverityHigh, 0.5+float64(i)*0.05, 0.995, base.Add(time.Duration(i)*time.Minute)))
	}

	out := Top(in, 5)
	assert.Len(t, out, 5)
	// Cap keeps the most significant entries: same severity, newest first.
	assert.Equal(t, "PYUSD", out[0].CoinSymbol)
}

func TestFingerprint_ZeroDefaults(t *testing.T) {
	a := model.StablecoinAlert{CoinSymbol: " USDT ", AlertType: model.AlertTypeDepeg, Severity: model.SeverityHigh}
	fp := Fingerprint(a)
	assert.Equal(t, "usdt|depeg|high|0.00|0.000", fp)
}
