package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchTimeout = 10 * time.Second
	return cfg
}

// okUnit returns a unit that succeeds instantly and stamps its output text
// with the invocation number. In parallel mode invocations are not
// slot-ordered, so the stamps identify calls, not indices.
func okUnit(calls *atomic.Int64) Unit {
	return func(ctx context.Context) (*Output, error) {
		n := calls.Add(1) - 1
		return &Output{
			Image:    []byte{0x89, 'P', 'N', 'G'},
			MIMEType: "image/png",
			Text:     fmt.Sprintf("call-%d", n),
		}, nil
	}
}

func TestRun_BatchSizeValidation(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{name: "zero", size: 0},
		{name: "negative", size: -3},
		{name: "above ceiling", size: DefaultConfig().MaxBatchSize + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(testConfig())
			var calls atomic.Int64

			_, err := p.Run(context.Background(), tt.size, okUnit(&calls), ModeAuto)
			if !errors.Is(err, ErrBatchSizeInvalid) {
				t.Fatalf("expected ErrBatchSizeInvalid, got %v", err)
			}
			if calls.Load() != 0 {
				t.Errorf("unit invoked %d times before validation", calls.Load())
			}
		})
	}
}

func TestRun_AllSucceed(t *testing.T) {
	for _, mode := range []Mode{ModeSequential, ModeParallel} {
		t.Run(fmt.Sprintf("mode_%d", mode), func(t *testing.T) {
			p := NewProcessor(testConfig())
			var calls atomic.Int64

			result, err := p.Run(context.Background(), 4, okUnit(&calls), mode)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.SuccessCount() != 4 || result.FailureCount() != 0 {
				t.Fatalf("got %d successes, %d failures", result.SuccessCount(), result.FailureCount())
			}
			if calls.Load() != 4 {
				t.Errorf("expected 4 unit calls, got %d", calls.Load())
			}
			// Every invocation's output must be present exactly once.
			got := make(map[string]bool)
			for _, s := range result.Successes {
				got[s.Text] = true
			}
			for i := 0; i < 4; i++ {
				if !got[fmt.Sprintf("call-%d", i)] {
					t.Errorf("missing output of invocation %d: %v", i, got)
				}
			}
			if mode == ModeSequential {
				// Sequential invocation order is index order.
				for i, s := range result.Successes {
					if want := fmt.Sprintf("call-%d", i); s.Text != want {
						t.Errorf("success %d: text %q, want %q", i, s.Text, want)
					}
				}
			}
		})
	}
}

func TestRun_SingleUnitFailureDoesNotAbort(t *testing.T) {
	p := NewProcessor(testConfig())
	var calls atomic.Int64

	unit := func(ctx context.Context) (*Output, error) {
		n := calls.Add(1) - 1
		if n == 1 {
			return nil, errors.New("boom")
		}
		return &Output{Image: []byte("img"), MIMEType: "image/png", Text: fmt.Sprintf("call-%d", n)}, nil
	}

	result, err := p.Run(context.Background(), 3, unit, ModeSequential)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuccessCount() != 2 {
		t.Errorf("expected 2 successes, got %d", result.SuccessCount())
	}
	if result.FailureCount() != 1 {
		t.Fatalf("expected 1 failure, got %d", result.FailureCount())
	}
	if f := result.Failures[0]; f.Index != 1 || f.Message != "boom" {
		t.Errorf("unexpected failure entry: %+v", f)
	}
}

func TestRun_NoImageIsFailure(t *testing.T) {
	p := NewProcessor(testConfig())

	// Text-only responses are valid for a single call but count as batch
	// failures.
	unit := func(ctx context.Context) (*Output, error) {
		return &Output{Text: "I cannot draw that"}, nil
	}

	result, err := p.Run(context.Background(), 2, unit, ModeSequential)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuccessCount() != 0 || result.FailureCount() != 2 {
		t.Fatalf("got %d successes, %d failures", result.SuccessCount(), result.FailureCount())
	}
	for _, f := range result.Failures {
		if f.Message != MsgGenerationFailed {
			t.Errorf("failure message %q, want %q", f.Message, MsgGenerationFailed)
		}
	}
}

func TestRun_CancelBeforeRun(t *testing.T) {
	for _, mode := range []Mode{ModeSequential, ModeParallel} {
		t.Run(fmt.Sprintf("mode_%d", mode), func(t *testing.T) {
			p := NewProcessor(testConfig())
			var calls atomic.Int64

			p.Cancel()
			result, err := p.Run(context.Background(), 4, okUnit(&calls), mode)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if calls.Load() != 0 {
				t.Errorf("unit invoked %d times after cancel", calls.Load())
			}
			if result.FailureCount() != 4 {
				t.Fatalf("expected 4 cancelled failures, got %d", result.FailureCount())
			}
			for i, f := range result.Failures {
				if f.Index != i || f.Message != MsgCancelled {
					t.Errorf("failure %d: %+v", i, f)
				}
			}

			// The flag is consumed: a fresh run on the same processor works.
			result, err = p.Run(context.Background(), 2, okUnit(&calls), mode)
			if err != nil {
				t.Fatalf("unexpected error on reuse: %v", err)
			}
			if result.SuccessCount() != 2 {
				t.Errorf("reused processor: expected 2 successes, got %d", result.SuccessCount())
			}
		})
	}
}

func TestRun_CancelMidSequentialRecordsRemaining(t *testing.T) {
	p := NewProcessor(testConfig())
	var calls atomic.Int64

	unit := func(ctx context.Context) (*Output, error) {
		if calls.Add(1) == 2 {
			p.Cancel()
		}
		return &Output{Image: []byte("img"), MIMEType: "image/png"}, nil
	}

	result, err := p.Run(context.Background(), 5, unit, ModeSequential)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 unit calls, got %d", calls.Load())
	}
	if result.SuccessCount() != 2 {
		t.Errorf("expected 2 successes, got %d", result.SuccessCount())
	}
	// Indices 2..4 are all recorded as cancelled; the batch size accounting
	// stays exact.
	if result.FailureCount() != 3 {
		t.Fatalf("expected 3 cancelled failures, got %d", result.FailureCount())
	}
	for i, f := range result.Failures {
		if f.Index != i+2 || f.Message != MsgCancelled {
			t.Errorf("failure %d: %+v", i, f)
		}
	}
}

func TestRun_ParallelTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.BatchTimeout = 100 * time.Millisecond // 50ms per unit at batch size 2
	p := NewProcessor(cfg)

	unit := func(ctx context.Context) (*Output, error) {
		select {
		case <-time.After(2 * time.Second):
			return &Output{Image: []byte("img")}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	start := time.Now()
	result, err := p.Run(context.Background(), 2, unit, ModeParallel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("batch did not return promptly after timeout: %v", elapsed)
	}
	if result.FailureCount() != 2 {
		t.Fatalf("expected 2 timeout failures, got %d", result.FailureCount())
	}
	for _, f := range result.Failures {
		if f.Message != MsgTimeout {
			t.Errorf("failure message %q, want %q", f.Message, MsgTimeout)
		}
	}
}

func TestRun_SingleUnitIgnoresParallelPreference(t *testing.T) {
	p := NewProcessor(testConfig())
	var calls atomic.Int64

	result, err := p.Run(context.Background(), 1, okUnit(&calls), ModeParallel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 unit call, got %d", calls.Load())
	}
	if result.SuccessCount() != 1 {
		t.Errorf("expected 1 success, got %d", result.SuccessCount())
	}
}

func TestRun_ConcurrencyCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentRequests = 2
	p := NewProcessor(cfg)

	var inFlight, peak atomic.Int64
	unit := func(ctx context.Context) (*Output, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return &Output{Image: []byte("img"), MIMEType: "image/png"}, nil
	}

	result, err := p.Run(context.Background(), 6, unit, ModeParallel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuccessCount() != 6 {
		t.Errorf("expected 6 successes, got %d", result.SuccessCount())
	}
	if peak.Load() > 2 {
		t.Errorf("observed %d units in flight, ceiling is 2", peak.Load())
	}
}

func TestRun_ParallelRandomDelays(t *testing.T) {
	p := NewProcessor(testConfig())
	var calls atomic.Int64

	unit := func(ctx context.Context) (*Output, error) {
		n := calls.Add(1) - 1
		time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
		return &Output{
			Image:    []byte("img"),
			MIMEType: "image/png",
			Text:     fmt.Sprintf("call-%d", n),
		}, nil
	}

	result, err := p.Run(context.Background(), 6, unit, ModeParallel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuccessCount() != 6 || result.FailureCount() != 0 {
		t.Fatalf("got %d successes, %d failures", result.SuccessCount(), result.FailureCount())
	}
	// Randomized completion order must not lose or duplicate outputs.
	got := make(map[string]bool)
	for _, s := range result.Successes {
		got[s.Text] = true
	}
	for i := 0; i < 6; i++ {
		if !got[fmt.Sprintf("call-%d", i)] {
			t.Errorf("missing output of invocation %d: %v", i, got)
		}
	}
}

func TestReassembleOrdersByIndex(t *testing.T) {
	// Outcomes are slotted by launch index; the reduction must preserve that
	// order and attribute failures to their slots.
	outcomes := []unitOutcome{
		{out: &Output{Image: []byte("a"), MIMEType: "image/png", Text: "slot-0"}},
		{out: &Output{Image: []byte("b"), MIMEType: "image/png", Text: "slot-1"}},
		{errMsg: "deliberate failure"},
		{out: &Output{Image: []byte("c"), MIMEType: "image/png", Text: "slot-3"}},
		{errMsg: MsgTimeout},
		{out: &Output{Image: []byte("d"), MIMEType: "image/png", Text: "slot-5"}},
	}

	result := &Result{}
	reassemble(outcomes, result)

	if result.SuccessCount() != 4 || result.FailureCount() != 2 {
		t.Fatalf("got %d successes, %d failures", result.SuccessCount(), result.FailureCount())
	}
	wantTexts := []string{"slot-0", "slot-1", "slot-3", "slot-5"}
	for i, s := range result.Successes {
		if s.Text != wantTexts[i] {
			t.Errorf("success %d: text %q, want %q", i, s.Text, wantTexts[i])
		}
	}
	if f := result.Failures[0]; f.Index != 2 || f.Message != "deliberate failure" {
		t.Errorf("unexpected first failure: %+v", f)
	}
	if f := result.Failures[1]; f.Index != 4 || f.Message != MsgTimeout {
		t.Errorf("unexpected second failure: %+v", f)
	}
}

func TestRun_UnitPanicIsCaptured(t *testing.T) {
	for _, mode := range []Mode{ModeSequential, ModeParallel} {
		p := NewProcessor(testConfig())
		var calls atomic.Int64

		unit := func(ctx context.Context) (*Output, error) {
			if calls.Add(1) == 1 {
				panic("unit exploded")
			}
			return &Output{Image: []byte("img"), MIMEType: "image/png"}, nil
		}

		result, err := p.Run(context.Background(), 3, unit, mode)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.SuccessCount() != 2 || result.FailureCount() != 1 {
			t.Fatalf("got %d successes, %d failures", result.SuccessCount(), result.FailureCount())
		}
	}
}

func TestRun_StrategyPanicYieldsPartialResult(t *testing.T) {
	p := NewProcessor(testConfig())

	// A panic outside the unit (here: the progress observer) aborts the
	// strategy but must not escape Run; completed units survive and the
	// batch-level failure is recorded under index -1.
	var reports atomic.Int64
	p.SetProgressCallback(func(fraction float64, description string) {
		if reports.Add(1) == 2 {
			panic("observer exploded")
		}
	})

	var calls atomic.Int64
	result, err := p.Run(context.Background(), 3, okUnit(&calls), ModeSequential)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 unit call before the panic, got %d", calls.Load())
	}
	if result.SuccessCount() != 1 {
		t.Errorf("expected the completed unit to survive, got %d successes", result.SuccessCount())
	}
	if result.FailureCount() != 1 {
		t.Fatalf("expected 1 batch-level failure, got %d", result.FailureCount())
	}
	if f := result.Failures[0]; f.Index != -1 {
		t.Errorf("failure index %d, want -1", f.Index)
	}

	// The processor remains usable afterwards.
	p.SetProgressCallback(nil)
	result, err = p.Run(context.Background(), 2, okUnit(&calls), ModeSequential)
	if err != nil {
		t.Fatalf("unexpected error on reuse: %v", err)
	}
	if result.SuccessCount() != 2 {
		t.Errorf("reused processor: expected 2 successes, got %d", result.SuccessCount())
	}
}

func TestRun_AutoModeRespectsConfig(t *testing.T) {
	cfg := testConfig()
	cfg.EnableParallelGeneration = false
	p := NewProcessor(cfg)

	// With parallel generation disabled, ModeAuto must run sequentially:
	// a unit started at index i only after index i-1 completed.
	var active atomic.Int64
	unit := func(ctx context.Context) (*Output, error) {
		if active.Add(1) > 1 {
			t.Error("units overlapped in sequential auto mode")
		}
		defer active.Add(-1)
		time.Sleep(5 * time.Millisecond)
		return &Output{Image: []byte("img"), MIMEType: "image/png"}, nil
	}

	result, err := p.Run(context.Background(), 3, unit, ModeAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuccessCount() != 3 {
		t.Errorf("expected 3 successes, got %d", result.SuccessCount())
	}
}

func TestRun_DegeneratePoolFallsBackToSequential(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentRequests = 0
	p := NewProcessor(cfg)
	var calls atomic.Int64

	result, err := p.Run(context.Background(), 3, okUnit(&calls), ModeParallel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuccessCount() != 3 {
		t.Errorf("expected 3 successes via fallback, got %d", result.SuccessCount())
	}
}

func TestRun_ProgressCallback(t *testing.T) {
	p := NewProcessor(testConfig())

	var fractions []float64
	p.SetProgressCallback(func(fraction float64, description string) {
		fractions = append(fractions, fraction)
	})

	var calls atomic.Int64
	if _, err := p.Run(context.Background(), 4, okUnit(&calls), ModeSequential); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Sequential: 0/4, 1/4, 2/4, 3/4 before each unit, then 1.0 with the
	// summary after the loop.
	want := []float64{0, 0.25, 0.5, 0.75, 1.0}
	if len(fractions) != len(want) {
		t.Fatalf("got %d progress calls, want %d", len(fractions), len(want))
	}
	for i := range want {
		if fractions[i] != want[i] {
			t.Errorf("progress %d: fraction %v, want %v", i, fractions[i], want[i])
		}
	}
}

func TestRun_ContextCancellation(t *testing.T) {
	p := NewProcessor(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int64
	result, err := p.Run(ctx, 3, okUnit(&calls), ModeSequential)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("unit invoked %d times with cancelled context", calls.Load())
	}
	if result.FailureCount() != 3 {
		t.Errorf("expected 3 cancelled failures, got %d", result.FailureCount())
	}
}
