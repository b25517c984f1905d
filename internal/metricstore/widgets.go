package metricstore

import (
	"fmt"
	"math"
	"sort"

	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
)

// Widget kinds.
const (
	WidgetMetric     = "metric"
	WidgetTimeseries = "timeseries"
	WidgetBreakdown  = "breakdown"
	WidgetTable      = "table"
)

// WidgetSpec asks for one display shape of an aggregate.
type WidgetSpec struct {
	Type    string   `json:"type" validate:"required,oneof=metric timeseries breakdown table"`
	Title   string   `json:"title,omitempty"`
	Metric  string   `json:"metric,omitempty"`
	Metrics []string `json:"metrics,omitempty"`
	// GroupBy selects the breakdown dimension: "platform" (default) or "account".
	GroupBy string `json:"groupBy,omitempty" validate:"omitempty,oneof=platform account"`
}

// SeriesPoint is one value of a time series.
type SeriesPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// BreakdownItem is one category of a breakdown.
type BreakdownItem struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Share float64 `json:"share"` // percent of the total
}

// WidgetData is the projected shape. Only the fields of Type are set.
type WidgetData struct {
	Type          string           `json:"type"`
	Title         string           `json:"title,omitempty"`
	Metric        string           `json:"metric,omitempty"`
	Value         *float64         `json:"value,omitempty"`
	Previous      *float64         `json:"previous,omitempty"`
	ChangePercent *float64         `json:"changePercent,omitempty"`
	Series        []SeriesPoint    `json:"series,omitempty"`
	Breakdown     []BreakdownItem  `json:"breakdown,omitempty"`
	Columns       []string         `json:"columns,omitempty"`
	Rows          []map[string]any `json:"rows,omitempty"`
}

// TransformToWidgetData projects agg into the shape spec asks for. It does
// no I/O.
func TransformToWidgetData(agg *Aggregated, spec WidgetSpec) (WidgetData, error) {
	out := WidgetData{Type: spec.Type, Title: spec.Title, Metric: spec.Metric}
	metric := spec.Metric
	if metric == "" && len(spec.Metrics) > 0 {
		metric = spec.Metrics[0]
	}

	switch spec.Type {
	case WidgetMetric:
		if metric == "" {
			return out, fmt.Errorf("metric widget needs a metric")
		}
		out.Metric = metric
		if v, ok := agg.Totals[metric]; ok {
			out.Value = &v
		}
		if p, ok := agg.PreviousTotals[metric]; ok {
			out.Previous = &p
		}
		if out.Value != nil && out.Previous != nil && *out.Previous != 0 {
			change := math.Round((*out.Value-*out.Previous) / *out.Previous * 10000) / 100
			out.ChangePercent = &change
		}

	case WidgetTimeseries:
		if metric == "" {
			return out, fmt.Errorf("timeseries widget needs a metric")
		}
		out.Metric = metric
		out.Series = make([]SeriesPoint, 0, len(agg.ByDate))
		for _, d := range agg.ByDate {
			out.Series = append(out.Series, SeriesPoint{Date: d.Date, Value: d.Metrics[metric]})
		}

	case WidgetBreakdown:
		if metric == "" {
			return out, fmt.Errorf("breakdown widget needs a metric")
		}
		out.Metric = metric
		out.Breakdown = breakdown(agg, metric, spec.GroupBy)

	case WidgetTable:
		cols := spec.Metrics
		if len(cols) == 0 {
			cols = []string{
				platform.MetricImpressions, platform.MetricClicks, platform.MetricCost,
				platform.MetricConversions, platform.MetricCTR, platform.MetricCPC,
			}
		}
		out.Columns = append([]string{"date"}, cols...)
		out.Rows = make([]map[string]any, 0, len(agg.ByDate))
		for _, d := range agg.ByDate {
			row := map[string]any{"date": d.Date}
			for _, c := range cols {
				if v, ok := d.Metrics[c]; ok {
					row[c] = v
				} else {
					row[c] = nil
				}
			}
			out.Rows = append(out.Rows, row)
		}

	default:
		return out, fmt.Errorf("unknown widget type %q", spec.Type)
	}
	return out, nil
}

func breakdown(agg *Aggregated, metric, groupBy string) []BreakdownItem {
	var items []BreakdownItem
	if groupBy == "account" {
		names := make(map[string]string, len(agg.Accounts))
		for _, a := range agg.Accounts {
			names[a.ID] = a.Name
		}
		for id, m := range agg.ByAccount {
			label := names[id]
			if label == "" {
				label = id
			}
			items = append(items, BreakdownItem{Label: label, Value: m[metric]})
		}
	} else {
		for kind, m := range agg.BySource {
			items = append(items, BreakdownItem{Label: kind.DisplayName(), Value: m[metric]})
		}
	}

	var total float64
	for _, it := range items {
		total += it.Value
	}
	for i := range items {
		if total != 0 {
			items[i].Share = math.Round(items[i].Value/total*10000) / 100
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Value != items[j].Value {
			return items[i].Value > items[j].Value
		}
		return items[i].Label < items[j].Label
	})
	return items
}
