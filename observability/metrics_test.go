package observability

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"nftmarket/core/types"
)

func TestMarketMetricsObserve(t *testing.T) {
	m := Market()
	before := testutil.ToFloat64(m.operations.WithLabelValues("list", "error"))
	m.ObserveOperation("list", "validation", 5*time.Millisecond)
	if got := testutil.ToFloat64(m.operations.WithLabelValues("list", "error")); got != before+1 {
		t.Fatalf("expected error outcome increment, got %v", got)
	}
	if got := testutil.ToFloat64(m.errors.WithLabelValues("list", "validation")); got < 1 {
		t.Fatalf("expected validation error counted, got %v", got)
	}

	trades := testutil.ToFloat64(m.trades)
	volume := testutil.ToFloat64(m.volume)
	m.ObserveTrade(uint256.NewInt(1000))
	if got := testutil.ToFloat64(m.trades); got != trades+1 {
		t.Fatalf("expected trade counted, got %v", got)
	}
	if got := testutil.ToFloat64(m.volume); got != volume+1000 {
		t.Fatalf("expected volume 1000 added, got %v", got)
	}
}

type stubEvent struct{ typ string }

func (s stubEvent) EventType() string   { return s.typ }
func (s stubEvent) Event() *types.Event { return &types.Event{Type: s.typ} }

func TestEventMetricsCountsByType(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.emitted.WithLabelValues("market.listed"))
	m.Emit(stubEvent{typ: "market.listed"})
	if got := testutil.ToFloat64(m.emitted.WithLabelValues("market.listed")); got != before+1 {
		t.Fatalf("expected event counted, got %v", got)
	}
}

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	before := testutil.ToFloat64(m.requests.WithLabelValues("market_list", "success"))
	m.Observe("market_list", 0, time.Millisecond)
	if got := testutil.ToFloat64(m.requests.WithLabelValues("market_list", "success")); got != before+1 {
		t.Fatalf("expected request counted, got %v", got)
	}
	m.RecordThrottle("rate_limit")
	if got := testutil.ToFloat64(m.throttles.WithLabelValues("rate_limit")); got < 1 {
		t.Fatalf("expected throttle counted, got %v", got)
	}
}
