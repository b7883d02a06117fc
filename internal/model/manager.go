package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-service/internal/core"
)

// Manager owns the process-wide model lifecycle. The handle is created at
// most once per process; jobs only read it through Synthesize. On GPU
// exhaustion the handle is deliberately left loaded: reloading a
// multi-gigabyte model is prohibitively slow and must never happen per-job.
type Manager struct {
	engine core.SynthesisEngine
	device string
	log    *logger.Logger

	mu     sync.Mutex
	handle *core.ModelHandle
}

// NewManager creates a manager for the given engine and device placement.
func NewManager(engine core.SynthesisEngine, device string, log *logger.Logger) *Manager {
	return &Manager{
		engine: engine,
		device: device,
		log:    log,
		mu:     sync.Mutex{},
		handle: nil,
	}
}

// EnsureLoaded loads the model if it is not already resident and returns the
// handle. The call is idempotent: once loaded, it returns the existing
// handle without touching the engine. A failed load leaves the manager
// unloaded so a later call can retry.
func (m *Manager) EnsureLoaded(ctx context.Context) (*core.ModelHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle != nil {
		return m.handle, nil
	}

	started := time.Now()

	handle, err := m.engine.Load(ctx, m.device)
	if err != nil {
		return nil, fmt.Errorf("failed to load model on device %s: %w", m.device, err)
	}

	m.handle = handle
	m.log.System("Model loaded on device %s in %s (native rate %d Hz)",
		handle.Device, time.Since(started).Round(time.Millisecond), handle.SampleRate)

	return m.handle, nil
}

// Handle returns the current handle, or nil if the model never loaded.
func (m *Manager) Handle() *core.ModelHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.handle
}

// Synthesize delegates one inference call to the engine. It requires a
// loaded handle and reports failures upward unchanged; in particular an
// out-of-memory condition does not reset or reload the model.
func (m *Manager) Synthesize(
	ctx context.Context,
	text string,
	voice *core.ResolvedVoice,
	params core.GenerationParams,
) (*core.Waveform, error) {
	if m.Handle() == nil {
		return nil, fmt.Errorf("%w: model load never completed", core.ErrModelUnavailable)
	}

	waveform, err := m.engine.Synthesize(ctx, text, voice, params)
	if err != nil {
		if errors.Is(err, core.ErrOutOfMemory) {
			m.log.Warn("GPU allocation failure during synthesis; model handle left loaded: %v", err)
		}

		return nil, fmt.Errorf("synthesis failed: %w", err)
	}

	return waveform, nil
}
