package core

import "errors"

// Sentinel errors forming the service's failure taxonomy. Every failure path
// wraps exactly one of these so the queue boundary can map it to a stable
// external code.
var (
	// ErrInvalidInput indicates bad text, format, or generation parameters.
	// Retrying the same request cannot succeed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidVoiceReference indicates a caller-supplied reference sample
	// that failed to decode or was too short or silent.
	ErrInvalidVoiceReference = errors.New("invalid voice reference")
	// ErrVoiceResolutionFailed indicates the resolver could not produce a
	// usable voice sample for the request.
	ErrVoiceResolutionFailed = errors.New("voice resolution failed")
	// ErrOverloaded indicates the synthesis queue depth was exceeded. The
	// caller should retry later with backoff.
	ErrOverloaded = errors.New("synthesis queue overloaded")
	// ErrSynthesisTimeout indicates the job deadline expired while waiting
	// for the synthesis gate.
	ErrSynthesisTimeout = errors.New("synthesis timeout")
	// ErrOutOfMemory indicates a GPU allocation failure during synthesis.
	// It signals exhaustion, not corruption: the model handle stays loaded.
	ErrOutOfMemory = errors.New("gpu out of memory")
	// ErrEncodingFailed indicates the audio codec invocation errored. This
	// is always a server-side failure, never attributed to the caller.
	ErrEncodingFailed = errors.New("audio encoding failed")
	// ErrModelUnavailable indicates the model load never completed.
	ErrModelUnavailable = errors.New("model unavailable")
)

// Stable external error codes returned to callers.
const (
	CodeInvalidInput          = "invalid_input"
	CodeVoiceResolutionFailed = "voice_resolution_failed"
	CodeOverloaded            = "overloaded"
	CodeSynthesisTimeout      = "synthesis_timeout"
	CodeOutOfMemory           = "out_of_memory"
	CodeModelUnavailable      = "model_unavailable"
	CodeInternalError         = "internal_error"
)

// ClassifyError maps an error chain to its stable external code. Encoding
// failures and unrecognized errors both map to the opaque internal code so
// no model or codec detail leaks to callers.
func ClassifyError(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrVoiceResolutionFailed),
		errors.Is(err, ErrInvalidVoiceReference):
		return CodeVoiceResolutionFailed
	case errors.Is(err, ErrOverloaded):
		return CodeOverloaded
	case errors.Is(err, ErrSynthesisTimeout):
		return CodeSynthesisTimeout
	case errors.Is(err, ErrOutOfMemory):
		return CodeOutOfMemory
	case errors.Is(err, ErrModelUnavailable):
		return CodeModelUnavailable
	default:
		return CodeInternalError
	}
}
