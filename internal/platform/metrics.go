package platform

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Canonical metric names shared by every connector.
const (
	MetricImpressions     = "impressions"
	MetricClicks          = "clicks"
	MetricCost            = "cost"
	MetricConversions     = "conversions"
	MetricConversionValue = "conversionValue"

	MetricReach           = "reach"
	MetricFrequency       = "frequency"
	MetricSessions        = "sessions"
	MetricEngagedSessions = "engagedSessions"
	MetricBounceRate      = "bounceRate"

	MetricCTR               = "ctr"
	MetricCPC               = "cpc"
	MetricConversionRate    = "conversionRate"
	MetricCostPerConversion = "costPerConversion"
	MetricROAS              = "roas"
)

var derivedMetrics = []string{MetricCTR, MetricCPC, MetricConversionRate, MetricCostPerConversion, MetricROAS}

// IsDerived reports whether name is a ratio computed from other metrics.
// Derived metrics are never summed.
func IsDerived(name string) bool {
	return slices.Contains(derivedMetrics, name)
}

// Derive returns a copy of base with the ratio metrics added. A ratio is
// omitted when its denominator is missing or zero.
func Derive(base map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(base)+len(derivedMetrics))
	for k, v := range base {
		if !IsDerived(k) {
			out[k] = v
		}
	}
	ratio := func(name, num, den string, scale float64) {
		d, ok := base[den]
		if !ok || d == 0 {
			return
		}
		out[name] = round(base[num]/d*scale, 4)
	}
	ratio(MetricCTR, MetricClicks, MetricImpressions, 100)
	ratio(MetricCPC, MetricCost, MetricClicks, 1)
	ratio(MetricConversionRate, MetricConversions, MetricClicks, 100)
	ratio(MetricCostPerConversion, MetricCost, MetricConversions, 1)
	ratio(MetricROAS, MetricConversionValue, MetricCost, 1)
	return out
}

// SumInto adds every non-derived metric of src into dst.
func SumInto(dst, src map[string]float64) {
	for k, v := range src {
		if IsDerived(k) {
			continue
		}
		dst[k] += v
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// FillMissingDays returns one point per day of r, in order. Days absent
// from points become zero-valued for keys; duplicate days keep the last.
func FillMissingDays(points []DailyDataPoint, r DateRange, keys ...string) []DailyDataPoint {
	byDate := make(map[string]map[string]float64, len(points))
	for _, p := range points {
		if r.Contains(p.Date) {
			byDate[p.Date] = p.Metrics
		}
	}
	out := make([]DailyDataPoint, 0, r.Days())
	for _, d := range r.Dates() {
		m, ok := byDate[d]
		if !ok {
			m = make(map[string]float64, len(keys))
			for _, k := range keys {
				m[k] = 0
			}
		}
		out = append(out, DailyDataPoint{Date: d, Metrics: m})
	}
	return out
}

// Number decodes JSON numbers that platforms sometimes send as strings.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*n = Number(f)
	return nil
}

// Float returns n as a float64.
func (n Number) Float() float64 { return float64(n) }
