// Package core defines the domain types, interfaces, and error taxonomy for
// the speech synthesis service.
package core

import (
	"context"
	"time"
)

// OutputFormat identifies the delivery format of a synthesized audio artifact.
type OutputFormat string

// Supported output formats.
const (
	FormatWAV OutputFormat = "wav"
	FormatMP3 OutputFormat = "mp3"
)

// Extension returns the file extension for the format, without a leading dot.
func (f OutputFormat) Extension() string {
	return string(f)
}

// Valid reports whether the format is one the service can produce.
func (f OutputFormat) Valid() bool {
	switch f {
	case FormatWAV, FormatMP3:
		return true
	default:
		return false
	}
}

// GenerationParams holds the per-job numeric knobs forwarded to the model.
type GenerationParams struct {
	Temperature  float64 `json:"temperature"`
	Exaggeration float64 `json:"exaggeration"`
	CFGWeight    float64 `json:"cfg_weight"`
	Speed        float64 `json:"speed"`
	Seed         int     `json:"seed"`
}

// DefaultGenerationParams returns the generation knobs used when the caller
// supplies none.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Temperature:  0.8,
		Exaggeration: 0.5,
		CFGWeight:    0.5,
		Speed:        1.0,
		Seed:         0,
	}
}

// Waveform is the raw synthesis output: mono samples in [-1.0, 1.0] at the
// model's native sample rate. It is transient and never outlives its job.
type Waveform struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the playback duration of the waveform.
func (w *Waveform) Duration() time.Duration {
	if w == nil || w.SampleRate <= 0 {
		return 0
	}

	seconds := float64(len(w.Samples)) / float64(w.SampleRate)

	return time.Duration(seconds * float64(time.Second))
}

// VoiceSource identifies where a resolved voice reference came from.
type VoiceSource string

// Voice reference sources.
const (
	VoiceSourceBakedDefault VoiceSource = "baked_default"
	VoiceSourceCaller       VoiceSource = "caller"
)

// ResolvedVoice is a decoded, validated speaker reference sample at the
// model's expected sample rate.
type ResolvedVoice struct {
	Samples    []float64
	SampleRate int
	Source     VoiceSource
}

// ModelHandle describes the loaded TTS model. It is owned exclusively by the
// model lifecycle manager and shared read-only with the synthesis executor.
type ModelHandle struct {
	Device     string
	SampleRate int
	LoadedAt   time.Time
}

// JobStatus is the terminal status of a processed job.
type JobStatus string

// Job statuses.
const (
	StatusSuccess JobStatus = "success"
	StatusError   JobStatus = "error"
)

// JobRequest is the validated unit of work handed to the job handler. The
// voice reference, when present, is the raw encoded audio bytes already
// fetched from wherever the caller staged them.
type JobRequest struct {
	JobID        string
	Text         string
	VoiceRef     []byte
	OutputFormat OutputFormat
	Params       GenerationParams
}

// ResultMetadata describes a successfully produced audio artifact.
type ResultMetadata struct {
	Format          OutputFormat `json:"format"`
	DurationSeconds float64      `json:"duration_seconds"`
	SampleRate      int          `json:"sample_rate"`
	SizeBytes       int          `json:"size_bytes"`
}

// JobResult is the single result produced for a job request. Audio holds the
// encoded artifact bytes; persisting or referencing them is the queue
// boundary's concern.
type JobResult struct {
	Status      JobStatus
	ErrorKind   string
	ErrorDetail string
	Audio       []byte
	Metadata    ResultMetadata
}

// ObjectStore is the blob store used for audio artifacts and staged voice
// references.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// SynthesisEngine is the boundary to the underlying TTS model. The model is
// opaque: load it on a device, probe its health, and invoke inference.
type SynthesisEngine interface {
	Load(ctx context.Context, device string) (*ModelHandle, error)
	Healthy(ctx context.Context) error
	Synthesize(
		ctx context.Context,
		text string,
		voice *ResolvedVoice,
		params GenerationParams,
	) (*Waveform, error)
}

// VoiceResolver resolves an optional caller-supplied reference to a usable
// voice sample, falling back to the baked default when absent.
type VoiceResolver interface {
	Resolve(ctx context.Context, ref []byte) (*ResolvedVoice, error)
}

// Synthesizer executes one synthesis under the process-wide GPU discipline.
type Synthesizer interface {
	Run(
		ctx context.Context,
		text string,
		voice *ResolvedVoice,
		params GenerationParams,
	) (*Waveform, error)
}

// AudioEncoder converts a raw waveform into a delivery-ready artifact.
type AudioEncoder interface {
	Encode(ctx context.Context, waveform *Waveform, format OutputFormat) ([]byte, error)
}

// JobHandler processes one job request into exactly one job result.
type JobHandler interface {
	Handle(ctx context.Context, req JobRequest) JobResult
}
