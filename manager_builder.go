package imagebatch

import (
	"log/slog"

	"github.com/mhpenta/imagebatch/batch"
)

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLogger sets a structured logger for the manager.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
		m.batchProc.SetLogger(logger)
	}
}

// WithBatchConfig sets the batch engine configuration, typically from
// config.Settings.BatchConfig().
func WithBatchConfig(cfg batch.Config) ManagerOption {
	return func(m *Manager) {
		m.batchProc = batch.NewProcessor(cfg, batch.WithLogger(m.logger))
	}
}

// WithStorage sets a storage backend for persisting generated images.
func WithStorage(storage Storage) ManagerOption {
	return func(m *Manager) {
		m.storage = storage
	}
}

// WithDefaultModel sets the default model used when config.Model is empty.
func WithDefaultModel(model Model) ManagerOption {
	return func(m *Manager) {
		m.defaultModel = model
	}
}

// NewManager creates a Manager with the given providers and options.
//
// Example:
//
//	gen, err := gemini.NewWithAPIKey(ctx, apiKey)
//	if err != nil {
//	    return err
//	}
//	manager := imagebatch.NewManager(gen)
//
// With options:
//
//	manager := imagebatch.NewManager(gen,
//	    imagebatch.WithLogger(slog.Default()),
//	    imagebatch.WithDefaultModel(imagebatch.ModelNanoBanana2),
//	)
func NewManager(defaultProvider ImageGenerator, opts ...ManagerOption) *Manager {
	m := New()

	models := defaultProvider.Models()
	for i := range models {
		info := &models[i]

		m.providers[info.Provider] = defaultProvider

		m.RegisterModel(Model(info.Name),
			ModelMapping{
				Provider:        info.Provider,
				ActualModelName: info.APIModelName,
			},
			info)
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}
