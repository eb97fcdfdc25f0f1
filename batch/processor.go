// Package batch runs N independent image generation calls as one batch,
// either sequentially or with bounded concurrency, and reduces the partial
// successes and failures into a single Result.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Mode selects the execution strategy for a batch run.
type Mode int

const (
	// ModeAuto runs concurrently when the batch has more than one unit and
	// parallel generation is enabled in the Config.
	ModeAuto Mode = iota

	// ModeSequential forces strictly in-order execution.
	ModeSequential

	// ModeParallel forces concurrent execution (bounded by
	// Config.MaxConcurrentRequests).
	ModeParallel
)

// Failure messages recorded in Result.Failures.
const (
	MsgCancelled        = "cancelled"
	MsgTimeout          = "timeout"
	MsgGenerationFailed = "generation failed"
)

// ErrBatchSizeInvalid is returned by Run when the requested batch size is
// outside [1, Config.MaxBatchSize]. No units are invoked in that case.
var ErrBatchSizeInvalid = errors.New("batch size out of range")

// Config holds the batch engine tunables. Zero values are not usable;
// start from DefaultConfig.
type Config struct {
	// MaxBatchSize is the hard ceiling on units per run.
	MaxBatchSize int

	// DefaultBatchSize is used by callers when no explicit size is given.
	DefaultBatchSize int

	// EnableParallelGeneration governs ModeAuto selection.
	EnableParallelGeneration bool

	// BatchTimeout is the total time budget for a concurrent run. It is
	// divided evenly across units to produce the per-unit timeout.
	// Sequential runs are not subject to it.
	BatchTimeout time.Duration

	// MaxConcurrentRequests bounds how many units are in flight at once.
	MaxConcurrentRequests int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:             8,
		DefaultBatchSize:         4,
		EnableParallelGeneration: true,
		BatchTimeout:             300 * time.Second,
		MaxConcurrentRequests:    4,
	}
}

// Output is what a single generation unit produces: zero or one image plus
// accumulated text. A nil/empty Image without an error is a valid single-call
// outcome but counts as a failure for batch purposes.
type Output struct {
	Image    []byte
	MIMEType string
	Text     string
}

// Unit performs exactly one prompt-to-image call against the remote API.
type Unit func(ctx context.Context) (*Output, error)

// ProgressFunc observes batch progress. It is advisory only: fraction is in
// [0, 1] and description is human-readable. In concurrent runs callbacks
// arrive in completion order.
type ProgressFunc func(fraction float64, description string)

// Processor fans a single request out into N unit calls and aggregates the
// outcome. A Processor may be reused across runs, but Run must not be called
// concurrently on the same instance.
type Processor struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	progress ProgressFunc

	cancelled atomic.Bool
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithLogger sets a structured logger for the processor.
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a Processor with the given config.
func NewProcessor(cfg Config, opts ...ProcessorOption) *Processor {
	p := &Processor{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the processor's configuration.
func (p *Processor) Config() Config {
	return p.cfg
}

// SetLogger sets a structured logger for the processor.
func (p *Processor) SetLogger(logger *slog.Logger) *Processor {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger = logger
	return p
}

// SetProgressCallback sets the observer invoked after every completed unit.
// Pass nil to remove it.
func (p *Processor) SetProgressCallback(fn ProgressFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.progress = fn
}

// Cancel requests cooperative cancellation of the run in progress (or arms
// cancellation for the next run). The flag is checked at unit-start
// boundaries only: a remote call that has already started runs to completion
// or timeout and cannot be interrupted.
func (p *Processor) Cancel() {
	p.cancelled.Store(true)
}

// Run executes batchSize invocations of unit and aggregates them into a
// Result. Individual unit failures never abort the batch; the only error Run
// returns is ErrBatchSizeInvalid, raised before any unit is invoked.
//
// The cancellation flag is consumed by Run: if Cancel was called before Run,
// every unit is recorded as a cancelled failure without invoking the remote
// call, and the flag is cleared when Run returns so the Processor can be
// reused. Run is not reentrant.
func (p *Processor) Run(ctx context.Context, batchSize int, unit Unit, mode Mode) (res *Result, err error) {
	if batchSize < 1 || batchSize > p.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d (must be between 1 and %d)", ErrBatchSizeInvalid, batchSize, p.cfg.MaxBatchSize)
	}

	parallel := mode == ModeParallel
	if mode == ModeAuto {
		parallel = p.cfg.EnableParallelGeneration && batchSize > 1
	}
	// A single unit never pays the concurrency overhead.
	if batchSize == 1 {
		parallel = false
	}
	if parallel && p.cfg.MaxConcurrentRequests <= 0 {
		p.logger.Warn("concurrent strategy unavailable, falling back to sequential",
			"max_concurrent_requests", p.cfg.MaxConcurrentRequests,
		)
		parallel = false
	}

	result := &Result{}
	start := time.Now()
	defer p.cancelled.Store(false)
	defer func() {
		// A panicking strategy still yields the partial result, with a
		// synthetic index -1 failure entry.
		if r := recover(); r != nil {
			p.logger.Error("batch execution failed",
				"batch_size", batchSize,
				"panic", fmt.Sprint(r),
			)
			result.AddFailure(-1, fmt.Sprintf("batch execution failed: %v", r))
			result.Elapsed = time.Since(start)
			res, err = result, nil
		}
	}()

	p.logger.Debug("starting batch generation",
		"batch_size", batchSize,
		"parallel", parallel,
	)

	if parallel {
		p.runParallel(ctx, batchSize, unit, result)
	} else {
		p.runSequential(ctx, batchSize, unit, result)
	}

	result.Elapsed = time.Since(start)
	p.report(1.0, result.Summary())

	p.logger.Info("batch generation completed",
		"batch_size", batchSize,
		"success_count", result.SuccessCount(),
		"failure_count", result.FailureCount(),
		"duration_ms", result.Elapsed.Milliseconds(),
	)

	return result, nil
}

// runSequential iterates units in index order. Unit failures do not stop the
// loop; cancellation records the current and all remaining indices as
// cancelled failures and stops.
func (p *Processor) runSequential(ctx context.Context, batchSize int, unit Unit, result *Result) {
	for i := 0; i < batchSize; i++ {
		if p.isCancelled(ctx) {
			for j := i; j < batchSize; j++ {
				result.AddFailure(j, MsgCancelled)
			}
			return
		}

		p.report(float64(i)/float64(batchSize), fmt.Sprintf("generating %d/%d", i+1, batchSize))

		out, err := runUnit(ctx, unit)
		switch {
		case err != nil:
			result.AddFailure(i, err.Error())
		case out == nil || len(out.Image) == 0:
			result.AddFailure(i, MsgGenerationFailed)
		default:
			result.AddSuccess(out.Image, out.MIMEType, out.Text)
		}
	}
}

// runParallel launches all units through a bounded worker pool and
// reassembles the outcomes in original index order, regardless of completion
// order.
func (p *Processor) runParallel(ctx context.Context, batchSize int, unit Unit, result *Result) {
	workers := p.cfg.MaxConcurrentRequests
	if workers > batchSize {
		workers = batchSize
	}
	perUnitTimeout := time.Duration(0)
	if p.cfg.BatchTimeout > 0 {
		perUnitTimeout = p.cfg.BatchTimeout / time.Duration(batchSize)
	}

	outcomes := make([]unitOutcome, batchSize)
	var completed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i := 0; i < batchSize; i++ {
		g.Go(func() error {
			outcomes[i] = p.attempt(ctx, unit, perUnitTimeout)
			done := completed.Add(1)
			p.report(float64(done)/float64(batchSize), fmt.Sprintf("generating %d/%d", done, batchSize))
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures are captured per unit

	reassemble(outcomes, result)
}

// reassemble reduces per-slot outcomes into the result in original index
// order, regardless of completion order.
func reassemble(outcomes []unitOutcome, result *Result) {
	for i, oc := range outcomes {
		if oc.errMsg != "" {
			result.AddFailure(i, oc.errMsg)
			continue
		}
		result.AddSuccess(oc.out.Image, oc.out.MIMEType, oc.out.Text)
	}
}

type unitOutcome struct {
	out    *Output
	errMsg string
}

// attempt runs one unit with the pre-start cancellation check and the
// per-unit timeout. On timeout the in-flight call is abandoned, not killed;
// its eventual result is discarded.
func (p *Processor) attempt(ctx context.Context, unit Unit, timeout time.Duration) unitOutcome {
	if p.isCancelled(ctx) {
		return unitOutcome{errMsg: MsgCancelled}
	}

	unitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		unitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type unitResult struct {
		out *Output
		err error
	}
	ch := make(chan unitResult, 1)
	go func() {
		out, err := runUnit(unitCtx, unit)
		ch <- unitResult{out, err}
	}()

	select {
	case <-unitCtx.Done():
		if errors.Is(unitCtx.Err(), context.DeadlineExceeded) {
			return unitOutcome{errMsg: MsgTimeout}
		}
		return unitOutcome{errMsg: MsgCancelled}
	case r := <-ch:
		switch {
		case r.err != nil:
			return unitOutcome{errMsg: r.err.Error()}
		case r.out == nil || len(r.out.Image) == 0:
			return unitOutcome{errMsg: MsgGenerationFailed}
		default:
			return unitOutcome{out: r.out}
		}
	}
}

// runUnit invokes the unit, converting a panic into an error so a single bad
// unit cannot take down the batch.
func runUnit(ctx context.Context, unit Unit) (out *Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("generation panicked: %v", r)
		}
	}()
	return unit(ctx)
}

func (p *Processor) isCancelled(ctx context.Context) bool {
	return p.cancelled.Load() || ctx.Err() != nil
}

func (p *Processor) report(fraction float64, description string) {
	p.mu.Lock()
	fn := p.progress
	p.mu.Unlock()

	if fn != nil {
		fn(fraction, description)
	}
}
