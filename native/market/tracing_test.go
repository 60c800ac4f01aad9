package market

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(engine *Engine) *tracetest.SpanRecorder {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	engine.SetTracer(provider.Tracer("test"))
	return recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) string {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestOperationsOpenSpans(t *testing.T) {
	engine, host, _ := setupEngine(t)
	recorder := recordSpans(engine)
	listed(t, engine, host, "punk-1", 1000)
	if err := engine.List(testBob, testContract, "punk-1", u(900)); !errors.Is(err, ErrNotSeller) {
		t.Fatalf("expected ErrNotSeller, got %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	ok, rejected := spans[0], spans[1]
	if ok.Name() != "market.list" || spanAttr(ok, "market.asset_id") != "punk-1" || spanAttr(ok, "market.op") != "list" {
		t.Fatalf("unexpected span %s %v", ok.Name(), ok.Attributes())
	}
	if ok.Status().Code == codes.Error || spanAttr(ok, "market.error_kind") != "" {
		t.Fatalf("successful operation marked as failed: %v", ok.Status())
	}
	if rejected.Status().Code != codes.Error || spanAttr(rejected, "market.error_kind") != "authorization" {
		t.Fatalf("unexpected rejected span %v %v", rejected.Status(), rejected.Attributes())
	}
	if len(rejected.Events()) == 0 {
		t.Fatalf("expected recorded error event")
	}
}

func TestRunIsAtomic(t *testing.T) {
	engine, host, emitter := setupEngine(t)
	recorder := recordSpans(engine)
	commits := host.commits
	purses := len(host.purses)

	boom := errors.New("boom")
	err := engine.Run("setup", func() error {
		mint(host, "punk-9", testSeller)
		host.fund(testAlice, 500)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if host.commits != commits {
		t.Fatalf("failed unit committed")
	}
	if len(host.purses) != purses {
		t.Fatalf("failed unit not reverted")
	}
	if _, ok := host.owners[assetKey(testContract, "punk-9")]; ok {
		t.Fatalf("failed unit kept the mint")
	}

	if err := engine.Run("setup", func() error {
		host.fund(testAlice, 500)
		return nil
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(host.purses) != purses+1 {
		t.Fatalf("expected a new purse")
	}
	if host.commits != commits+1 {
		t.Fatalf("expected one commit, got %d", host.commits-commits)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("setup unit emitted %v", emitter.types())
	}
	spans := recorder.Ended()
	if len(spans) != 2 || spans[1].Name() != "market.setup" || spans[0].Status().Code != codes.Error {
		t.Fatalf("unexpected spans %d", len(spans))
	}
}

func TestRunAsOwnerRejectsOthers(t *testing.T) {
	engine, host, _ := setupEngine(t)
	called := false
	err := engine.RunAsOwner("mint", testBob, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrNotOwner) || called {
		t.Fatalf("expected ErrNotOwner without running, got %v", err)
	}
	if err := engine.RunAsOwner("mint", testOwner, func() error {
		mint(host, "punk-7", testSeller)
		return nil
	}); err != nil {
		t.Fatalf("owner run: %v", err)
	}
	if host.owners[assetKey(testContract, "punk-7")] != testSeller {
		t.Fatalf("expected mint applied")
	}
}
