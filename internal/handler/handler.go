// Package handler implements the per-job entry point: input validation,
// orchestration of voice resolution, synthesis, and encoding, and the
// mapping of internal failures onto stable external error codes.
package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/text"
)

// DefaultMaxTextChars bounds utterance length when the configuration does
// not; unbounded text means unbounded GPU memory use.
const DefaultMaxTextChars = 2000

// voiceResolveAttempts bounds the purely-local retry of voice resolution.
// Only transient decode-side faults are retried; deterministic rejections
// fail immediately.
const voiceResolveAttempts = 2

// Generation parameter bounds enforced before any resource is touched.
const (
	maxTemperature  = 2.0
	maxExaggeration = 2.0
	maxCFGWeight    = 1.0
	minSpeed        = 0.5
	maxSpeed        = 2.0
)

// Validation errors, all wrapping core.ErrInvalidInput.
var (
	ErrTextEmpty         = fmt.Errorf("%w: text cannot be empty", core.ErrInvalidInput)
	ErrTextTooLong       = fmt.Errorf("%w: text exceeds maximum length", core.ErrInvalidInput)
	ErrFormatUnknown     = fmt.Errorf("%w: unknown output format", core.ErrInvalidInput)
	ErrTemperatureRange  = fmt.Errorf("%w: temperature out of range [0, 2]", core.ErrInvalidInput)
	ErrExaggerationRange = fmt.Errorf("%w: exaggeration out of range [0, 2]", core.ErrInvalidInput)
	ErrCFGWeightRange    = fmt.Errorf("%w: cfg_weight out of range [0, 1]", core.ErrInvalidInput)
	ErrSpeedRange        = fmt.Errorf("%w: speed out of range [0.5, 2]", core.ErrInvalidInput)
)

// jobState tracks the per-job state machine for logging and diagnostics.
type jobState string

const (
	stateReceived       jobState = "received"
	stateValidating     jobState = "validating"
	stateResolvingVoice jobState = "resolving_voice"
	stateSynthesizing   jobState = "synthesizing"
	stateEncoding       jobState = "encoding"
	stateCompleted      jobState = "completed"
	stateFailed         jobState = "failed"
)

// Handler processes job requests. It never retries synthesis itself; retry
// policy on resource exhaustion belongs to the external queue runtime.
type Handler struct {
	resolver     core.VoiceResolver
	synthesizer  core.Synthesizer
	encoder      core.AudioEncoder
	normalizer   *text.Normalizer
	maxTextChars int
	log          *logger.Logger
}

// New creates a job handler. A non-positive maxTextChars falls back to
// DefaultMaxTextChars.
func New(
	resolver core.VoiceResolver,
	synthesizer core.Synthesizer,
	encoder core.AudioEncoder,
	maxTextChars int,
	log *logger.Logger,
) *Handler {
	if maxTextChars <= 0 {
		maxTextChars = DefaultMaxTextChars
	}

	return &Handler{
		resolver:     resolver,
		synthesizer:  synthesizer,
		encoder:      encoder,
		normalizer:   text.NewNormalizer(),
		maxTextChars: maxTextChars,
		log:          log,
	}
}

// Handle processes one request into exactly one result. Validation failures
// never reach the synthesis gate; every downstream failure is returned
// immediately as a structured result with a non-empty error kind.
func (h *Handler) Handle(ctx context.Context, req core.JobRequest) core.JobResult {
	h.transition(req.JobID, stateReceived)
	h.transition(req.JobID, stateValidating)

	utterance, err := h.validate(req)
	if err != nil {
		return h.fail(req.JobID, err)
	}

	h.transition(req.JobID, stateResolvingVoice)

	voice, err := h.resolveVoice(ctx, req.VoiceRef)
	if err != nil {
		return h.fail(req.JobID, err)
	}

	h.transition(req.JobID, stateSynthesizing)

	waveform, err := h.synthesizer.Run(ctx, utterance, voice, req.Params)
	if err != nil {
		return h.fail(req.JobID, err)
	}

	h.transition(req.JobID, stateEncoding)

	artifact, err := h.encoder.Encode(ctx, waveform, req.OutputFormat)
	if err != nil {
		return h.fail(req.JobID, err)
	}

	h.transition(req.JobID, stateCompleted)

	return core.JobResult{
		Status:      core.StatusSuccess,
		ErrorKind:   "",
		ErrorDetail: "",
		Audio:       artifact,
		Metadata: core.ResultMetadata{
			Format:          req.OutputFormat,
			DurationSeconds: waveform.Duration().Seconds(),
			SampleRate:      waveform.SampleRate,
			SizeBytes:       len(artifact),
		},
	}
}

// validate enforces input limits and parameter ranges before any shared
// resource is touched, and returns the normalized utterance.
func (h *Handler) validate(req core.JobRequest) (string, error) {
	if !req.OutputFormat.Valid() {
		return "", fmt.Errorf("%w: %q", ErrFormatUnknown, req.OutputFormat)
	}

	if len(req.Text) > h.maxTextChars {
		return "", fmt.Errorf("%w: %d > %d chars", ErrTextTooLong, len(req.Text), h.maxTextChars)
	}

	utterance, err := h.normalizer.Normalize(req.Text)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}

	if utterance == "" {
		return "", ErrTextEmpty
	}

	paramErr := validateParams(req.Params)
	if paramErr != nil {
		return "", paramErr
	}

	return utterance, nil
}

func validateParams(params core.GenerationParams) error {
	if params.Temperature < 0 || params.Temperature > maxTemperature {
		return fmt.Errorf("%w: got %f", ErrTemperatureRange, params.Temperature)
	}

	if params.Exaggeration < 0 || params.Exaggeration > maxExaggeration {
		return fmt.Errorf("%w: got %f", ErrExaggerationRange, params.Exaggeration)
	}

	if params.CFGWeight < 0 || params.CFGWeight > maxCFGWeight {
		return fmt.Errorf("%w: got %f", ErrCFGWeightRange, params.CFGWeight)
	}

	if params.Speed != 0 && (params.Speed < minSpeed || params.Speed > maxSpeed) {
		return fmt.Errorf("%w: got %f", ErrSpeedRange, params.Speed)
	}

	return nil
}

// resolveVoice resolves the reference with a small bounded retry. Resolution
// is side-effect free and local, so a transient I/O hiccup is worth one more
// attempt; deterministic rejections are not retried.
func (h *Handler) resolveVoice(ctx context.Context, ref []byte) (*core.ResolvedVoice, error) {
	var lastErr error

	for attempt := 1; attempt <= voiceResolveAttempts; attempt++ {
		voice, err := h.resolver.Resolve(ctx, ref)
		if err == nil {
			return voice, nil
		}

		lastErr = err

		if errors.Is(err, core.ErrVoiceResolutionFailed) ||
			errors.Is(err, core.ErrInvalidVoiceReference) {
			break
		}

		h.log.Warn("Transient voice resolution failure (attempt %d/%d): %v",
			attempt, voiceResolveAttempts, err)
	}

	return nil, lastErr
}

// fail maps a failure onto its stable external code. Encoding failures are
// logged with full context but surfaced opaque, so no model or codec detail
// leaks to callers.
func (h *Handler) fail(jobID string, err error) core.JobResult {
	kind := core.ClassifyError(err)

	detail := err.Error()
	if kind == core.CodeInternalError {
		detail = "internal error"
	}

	h.log.Error("Job %s %s (%s): %v", jobID, stateFailed, kind, err)

	return core.JobResult{
		Status:      core.StatusError,
		ErrorKind:   kind,
		ErrorDetail: detail,
		Audio:       nil,
		Metadata:    core.ResultMetadata{},
	}
}

func (h *Handler) transition(jobID string, state jobState) {
	h.log.Info("Job %s: %s", jobID, state)
}
