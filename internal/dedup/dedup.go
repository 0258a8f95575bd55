// Package dedup collapses near-duplicate stablecoin alerts using content
// fingerprints. Upstream ids are unreliable (omitted or regenerated between
// polls), so identity is derived from the fields that describe the underlying
// event, with numeric fields bucketed to absorb floating-point jitter.
package dedup

import (
	"fmt"
	"sort"
	"strings"

	"github.com/defi-guard/dashboard-aggregator/internal/model"
)

// Numeric bucket widths. Two reports of the same event may differ by up to
// 0.01 in deviation and 0.0001 in price, so the fingerprint keeps two and
// three decimal places respectively; finer buckets would split pairs that
// are inside the declared tolerance.
const (
	deviationDecimals = 2
	priceDecimals     = 3
)

// Fingerprint computes the content key that identifies the real-world event
// behind an alert. Missing numeric fields are zero before bucketing, so a
// fingerprint never contains a NaN-like hole.
func Fingerprint(a model.StablecoinAlert) string {
	return strings.Join([]string{
		strings.ToLower(strings.TrimSpace(a.CoinSymbol)),
		strings.ToLower(strings.TrimSpace(string(a.AlertType))),
		strings.ToLower(strings.TrimSpace(string(a.Severity))),
		fmt.Sprintf("%.*f", deviationDecimals, a.Deviation),
		fmt.Sprintf("%.*f", priceDecimals, a.PriceAtAlert),
	}, "|")
}

// Collapse returns at most one alert per fingerprint, ordered by severity
// rank descending then timestamp descending. Within a fingerprint the higher
// severity wins; on a severity tie the most recent report wins. Collapse is
// idempotent: Collapse(Collapse(x)) == Collapse(x).
func Collapse(alerts []model.StablecoinAlert) []model.StablecoinAlert {
	if len(alerts) == 0 {
		return []model.StablecoinAlert{}
	}

	kept := make(map[string]model.StablecoinAlert, len(alerts))
	for _, a := range alerts {
		fp := Fingerprint(a)
		prev, ok := kept[fp]
		if !ok || moreSignificant(a, prev) {
			kept[fp] = a
		}
	}

	out := make([]model.StablecoinAlert, 0, len(kept))
	for _, a := range kept {
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return moreSignificant(out[i], out[j])
	})
	return out
}

// Top collapses alerts and truncates the result to n entries. The UI-facing
// paths cap at a small n to bound rendering cost; the full collapsed set is
// what gets cached.
func Top(alerts []model.StablecoinAlert, n int) []model.StablecoinAlert {
	out := Collapse(alerts)
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func moreSignificant(a, b model.StablecoinAlert) bool {
	ra, rb := a.Severity.Rank(), b.Severity.Rank()
	if ra != rb {
		return ra > rb
	}
	return a.Timestamp.After(b.Timestamp)
}
