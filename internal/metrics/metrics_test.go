package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAccountSyncsCounter(t *testing.T) {
	before := testutil.ToFloat64(AccountSyncs.WithLabelValues("ga4", "success"))
	AccountSyncs.WithLabelValues("ga4", Outcome(nil)).Inc()
	AccountSyncs.WithLabelValues("ga4", Outcome(errors.New("x"))).Inc()

	if got := testutil.ToFloat64(AccountSyncs.WithLabelValues("ga4", "success")); got != before+1 {
		t.Fatalf("success count = %v, want %v", got, before+1)
	}
}

func TestObserveSweepSetsLastSuccess(t *testing.T) {
	ObserveSweep(2*time.Second, false)
	if got := testutil.ToFloat64(HealingLastSuccess); got != 0 {
		t.Fatalf("failed sweep must not set last success, got %v", got)
	}
	ObserveSweep(time.Second, true)
	if got := testutil.ToFloat64(HealingLastSuccess); got == 0 {
		t.Fatal("last success not set")
	}
}
