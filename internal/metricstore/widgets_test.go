package metricstore

import (
	"testing"

	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
)

func sampleAggregate() *Aggregated {
	return &Aggregated{
		Totals:         map[string]float64{"clicks": 150, "cost": 30},
		PreviousTotals: map[string]float64{"clicks": 100, "cost": 0},
		ByDate: []DatePoint{
			{Date: "2024-01-01", Metrics: map[string]float64{"clicks": 50, "cost": 10}},
			{Date: "2024-01-02", Metrics: map[string]float64{"clicks": 100, "cost": 20, "ctr": 2.5}},
		},
		BySource: map[platform.Kind]map[string]float64{
			platform.GoogleAds: {"clicks": 120},
			platform.MetaAds:   {"clicks": 30},
		},
		ByAccount: map[string]map[string]float64{"a1": {"clicks": 150}},
		Accounts:  []AccountSummary{{ID: "a1", Name: "Main"}},
	}
}

func TestMetricWidget(t *testing.T) {
	w, err := TransformToWidgetData(sampleAggregate(), WidgetSpec{Type: WidgetMetric, Metric: "clicks"})
	if err != nil {
		t.Fatal(err)
	}
	if *w.Value != 150 || *w.Previous != 100 || *w.ChangePercent != 50 {
		t.Fatalf("widget = %+v", w)
	}

	w, _ = TransformToWidgetData(sampleAggregate(), WidgetSpec{Type: WidgetMetric, Metric: "cost"})
	if w.ChangePercent != nil {
		t.Fatalf("change against zero should be omitted, got %v", *w.ChangePercent)
	}
}

func TestTimeseriesWidget(t *testing.T) {
	w, err := TransformToWidgetData(sampleAggregate(), WidgetSpec{Type: WidgetTimeseries, Metric: "clicks"})
	if err != nil {
		t.Fatal(err)
	}
	if len(w.Series) != 2 || w.Series[1].Date != "2024-01-02" || w.Series[1].Value != 100 {
		t.Fatalf("series = %+v", w.Series)
	}
}

func TestBreakdownWidget(t *testing.T) {
	w, err := TransformToWidgetData(sampleAggregate(), WidgetSpec{Type: WidgetBreakdown, Metric: "clicks"})
	if err != nil {
		t.Fatal(err)
	}
	if len(w.Breakdown) != 2 || w.Breakdown[0].Label != "Google Ads" || w.Breakdown[0].Share != 80 {
		t.Fatalf("breakdown = %+v", w.Breakdown)
	}

	w, _ = TransformToWidgetData(sampleAggregate(), WidgetSpec{Type: WidgetBreakdown, Metric: "clicks", GroupBy: "account"})
	if len(w.Breakdown) != 1 || w.Breakdown[0].Label != "Main" {
		t.Fatalf("account breakdown = %+v", w.Breakdown)
	}
}

func TestTableWidget(t *testing.T) {
	w, err := TransformToWidgetData(sampleAggregate(), WidgetSpec{Type: WidgetTable, Metrics: []string{"clicks", "ctr"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(w.Columns) != 3 || len(w.Rows) != 2 {
		t.Fatalf("table = %+v", w)
	}
	if w.Rows[0]["ctr"] != nil || w.Rows[1]["ctr"] != 2.5 {
		t.Fatalf("rows = %+v", w.Rows)
	}
}

func TestWidgetErrors(t *testing.T) {
	for _, spec := range []WidgetSpec{
		{Type: "pie"},
		{Type: WidgetMetric},
		{Type: WidgetTimeseries},
	} {
		if _, err := TransformToWidgetData(sampleAggregate(), spec); err == nil {
			t.Errorf("%+v: expected an error", spec)
		}
	}
}
