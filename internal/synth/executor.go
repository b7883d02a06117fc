// Package synth serializes synthesis calls through an exclusive-access gate.
// The loaded model is not proven safe for concurrent invocation and GPU
// memory is a single shared finite resource, so at most one synthesis is
// ever in flight per process.
package synth

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/book-expert/logger"
	"golang.org/x/sync/semaphore"

	"github.com/book-expert/speech-service/internal/core"
)

// DefaultMaxQueueDepth bounds how many jobs may wait for the gate before new
// arrivals fail fast.
const DefaultMaxQueueDepth = 8

// Backend is the gated synthesis capability, satisfied by *model.Manager.
type Backend interface {
	Synthesize(
		ctx context.Context,
		text string,
		voice *core.ResolvedVoice,
		params core.GenerationParams,
	) (*core.Waveform, error)
}

// Executor runs synthesis calls one at a time. Waiting jobs are admitted
// FIFO up to a bounded depth; beyond it they are rejected immediately so
// tail latency stays bounded and waiting jobs cannot pile up without limit.
type Executor struct {
	backend       Backend
	gate          *semaphore.Weighted
	occupancy     atomic.Int64
	maxQueueDepth int64
	log           *logger.Logger
}

// NewExecutor creates an executor over the given backend. A non-positive
// maxQueueDepth falls back to DefaultMaxQueueDepth.
func NewExecutor(backend Backend, maxQueueDepth int, log *logger.Logger) *Executor {
	depth := int64(maxQueueDepth)
	if depth <= 0 {
		depth = DefaultMaxQueueDepth
	}

	return &Executor{
		backend:       backend,
		gate:          semaphore.NewWeighted(1),
		occupancy:     atomic.Int64{},
		maxQueueDepth: depth,
		log:           log,
	}
}

// Run executes one synthesis under the gate. Admission is checked before
// waiting: if the queue is already at depth the job fails fast with
// ErrOverloaded. The job's deadline applies only while waiting for the gate;
// once synthesis starts it is never cancelled, since a partially executed
// GPU call cannot be aborted without risking the model's internal state.
func (e *Executor) Run(
	ctx context.Context,
	text string,
	voice *core.ResolvedVoice,
	params core.GenerationParams,
) (*core.Waveform, error) {
	// Occupancy counts jobs that have been admitted but have not yet
	// acquired the gate, i.e. the waiting queue.
	if e.occupancy.Add(1) > e.maxQueueDepth {
		e.occupancy.Add(-1)

		return nil, fmt.Errorf(
			"%w: synthesis queue depth %d exceeded",
			core.ErrOverloaded, e.maxQueueDepth,
		)
	}

	// semaphore.Weighted serves waiters in FIFO order, which prevents
	// starvation under sustained load.
	acquireErr := e.gate.Acquire(ctx, 1)

	e.occupancy.Add(-1)

	if acquireErr != nil {
		return nil, classifyAcquireError(acquireErr)
	}
	defer e.gate.Release(1)

	// The gate is held; shield the model call from the job's deadline.
	return e.backend.Synthesize(context.WithoutCancel(ctx), text, voice, params)
}

func classifyAcquireError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf(
			"%w: deadline expired while waiting for the synthesis gate: %w",
			core.ErrSynthesisTimeout, err,
		)
	}

	// A cancelled job abandons its place in line the same way.
	return fmt.Errorf("%w: abandoned while waiting for the synthesis gate: %w",
		core.ErrSynthesisTimeout, err)
}
