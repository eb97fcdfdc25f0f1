package imagebatch

import (
	"context"
	"time"

	"github.com/mhpenta/imagebatch/batch"
)

// BatchOptions control a single GenerateBatch run.
type BatchOptions struct {
	// BatchSize is the number of images to generate. Zero means the batch
	// engine's configured default.
	BatchSize int

	// Mode selects sequential or concurrent execution (default ModeAuto).
	Mode batch.Mode

	// Progress, if set, is invoked after every completed unit. Advisory only.
	Progress batch.ProgressFunc
}

// GenerateBatch fans one prompt out into N independent generation calls and
// aggregates their results. Every unit shares the same prompt, conversation
// history, reference images and sampling parameters.
//
// Individual unit failures are collected into the result, never returned as
// an error; the only errors GenerateBatch returns are batch-size validation
// and model-routing failures, both raised before any remote call is made.
//
// A unit that returns text but no image is recorded as a failure: the purpose
// of a batch is image production.
func (m *Manager) GenerateBatch(
	ctx context.Context,
	prompt string,
	history []ConversationTurn,
	images []InputImage,
	config *GenerateConfig,
	opts *BatchOptions,
) (*batch.Result, error) {
	if err := ValidatePrompt(prompt); err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultConfig()
	}
	if opts == nil {
		opts = &BatchOptions{}
	}

	m.mu.RLock()
	proc := m.batchProc
	m.mu.RUnlock()

	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = proc.Config().DefaultBatchSize
	}

	// Resolve routing once, before any unit runs, so a misconfigured model
	// fails the whole request instead of producing N identical failures.
	gen, actualConfig, err := m.getGeneratorForConfig(config)
	if err != nil {
		m.logger.Error("failed to get generator for batch",
			"model", string(m.resolveModel(config)),
			"error", err.Error(),
		)
		return nil, err
	}

	model := m.resolveModel(config)
	start := time.Now()

	m.logger.Debug("starting batch generation",
		"model", string(model),
		"batch_size", batchSize,
		"prompt_length", len(prompt),
		"history_turns", len(history),
		"input_images", len(images),
	)

	proc.SetProgressCallback(opts.Progress)

	unit := func(ctx context.Context) (*batch.Output, error) {
		// Each unit pays the rate limit separately; a limited unit is a unit
		// failure, not a batch failure.
		if err := m.checkRateLimit(ctx, model, config, prompt); err != nil {
			return nil, err
		}

		result, err := m.generateTurn(ctx, gen, history, prompt, images, actualConfig)
		if err != nil {
			return nil, err
		}

		out := &batch.Output{Text: result.Text}
		if len(result.Images) > 0 {
			out.Image = result.Images[0].Data
			out.MIMEType = result.Images[0].MIMEType
		}
		return out, nil
	}

	result, err := proc.Run(ctx, batchSize, unit, opts.Mode)
	if err != nil {
		return nil, err
	}

	m.logger.Info("batch generation finished",
		"model", string(model),
		"batch_size", batchSize,
		"success_count", result.SuccessCount(),
		"failure_count", result.FailureCount(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

// CancelBatch requests cooperative cancellation of the batch run in progress.
// Units that have not started are skipped; in-flight remote calls run to
// completion or timeout and their results are discarded.
func (m *Manager) CancelBatch() {
	m.mu.RLock()
	proc := m.batchProc
	m.mu.RUnlock()

	proc.Cancel()
}

// generateTurn performs one conversation-aware generation call. Providers
// that accept an explicit history get the full turn log; others fall back to
// a single-shot generate or multi-image edit, mirroring the managed
// conversation fallback.
func (m *Manager) generateTurn(
	ctx context.Context,
	gen ImageGenerator,
	history []ConversationTurn,
	prompt string,
	images []InputImage,
	config *GenerateConfig,
) (*GenerateResult, error) {
	if hg, ok := gen.(HistoryImageGenerator); ok && len(history) > 0 {
		return hg.GenerateWithHistory(ctx, history, prompt, images, config)
	}
	if len(images) > 0 {
		return gen.EditMultiple(ctx, images, prompt, config)
	}
	return gen.Generate(ctx, prompt, config)
}
