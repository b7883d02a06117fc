// Package voice resolves a requested voice identity to an actual reference
// audio sample: either the baked default shipped with the worker image or a
// validated caller-supplied override.
package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/book-expert/speech-service/internal/audio"
	"github.com/book-expert/speech-service/internal/core"
)

// DefaultMinReferenceSeconds is the minimum non-silent duration a reference
// sample must carry to usefully condition the model.
const DefaultMinReferenceSeconds = 1.0

// mp3StereoChannels is the channel count go-mp3 always decodes to.
const mp3StereoChannels = 2

// Candidate locations searched for the baked default reference when the
// configured path does not exist.
const (
	localVoicesDir   = "voices"
	systemVoicesDir  = "/var/lib/speech-service/voices"
	defaultVoiceFile = "default.wav"
)

// Static errors.
var (
	ErrBakedReferenceNotFound = errors.New("baked voice reference not found")
	ErrUnsupportedEncoding    = errors.New("unsupported reference audio encoding")
	ErrReferenceTooShort      = errors.New("reference audio too short or silent")
	ErrReferenceEmpty         = errors.New("reference audio is empty")
)

// Options configures a Resolver.
type Options struct {
	// BakedReferencePath is the configured location of the default voice
	// sample. Relative and missing paths fall back to standard locations.
	BakedReferencePath string
	// ModelSampleRate is the rate the model expects references at.
	ModelSampleRate int
	// MinReferenceSeconds is the minimum non-silent duration; zero means
	// DefaultMinReferenceSeconds.
	MinReferenceSeconds float64
	// FallbackToDefault, when true, substitutes the baked default for an
	// unusable caller reference instead of failing the job.
	FallbackToDefault bool
}

// Resolver resolves voice references. The baked default is decoded once at
// construction and cached; Resolve performs only local decoding, never
// network calls.
type Resolver struct {
	baked             *core.ResolvedVoice
	modelSampleRate   int
	minRefSeconds     float64
	fallbackToDefault bool
	log               *logger.Logger
}

// NewResolver loads and validates the baked default reference, returning a
// resolver ready for per-job use.
func NewResolver(opts Options, log *logger.Logger) (*Resolver, error) {
	minRefSeconds := opts.MinReferenceSeconds
	if minRefSeconds <= 0 {
		minRefSeconds = DefaultMinReferenceSeconds
	}

	resolver := &Resolver{
		baked:             nil,
		modelSampleRate:   opts.ModelSampleRate,
		minRefSeconds:     minRefSeconds,
		fallbackToDefault: opts.FallbackToDefault,
		log:               log,
	}

	bakedPath, err := resolveBakedPath(opts.BakedReferencePath)
	if err != nil {
		return nil, err
	}

	data, readErr := os.ReadFile(bakedPath)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read baked voice reference '%s': %w", bakedPath, readErr)
	}

	baked, decodeErr := resolver.decodeReference(data)
	if decodeErr != nil {
		return nil, fmt.Errorf("baked voice reference '%s' unusable: %w", bakedPath, decodeErr)
	}

	baked.Source = core.VoiceSourceBakedDefault
	resolver.baked = baked

	log.Info("Baked voice reference loaded from %s (%d samples at %d Hz)",
		bakedPath, len(baked.Samples), baked.SampleRate)

	return resolver, nil
}

// Resolve returns the voice sample for a job. An absent reference always
// yields the same cached baked default. A present reference is decoded,
// resampled to the model rate, and validated for minimum non-silent
// duration.
func (r *Resolver) Resolve(_ context.Context, ref []byte) (*core.ResolvedVoice, error) {
	if len(ref) == 0 {
		return r.baked, nil
	}

	resolved, err := r.decodeReference(ref)
	if err != nil {
		if r.fallbackToDefault {
			r.log.Warn("Caller voice reference unusable, falling back to baked default: %v", err)

			return r.baked, nil
		}

		return nil, fmt.Errorf("%w: %w", core.ErrVoiceResolutionFailed, err)
	}

	resolved.Source = core.VoiceSourceCaller

	return resolved, nil
}

// decodeReference decodes wav or mp3 bytes to a mono sample at the model
// rate and enforces the minimum non-silent duration.
func (r *Resolver) decodeReference(data []byte) (*core.ResolvedVoice, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidVoiceReference, ErrReferenceEmpty)
	}

	samples, sampleRate, err := decodeAny(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidVoiceReference, err)
	}

	if r.modelSampleRate > 0 && sampleRate != r.modelSampleRate {
		samples = audio.Resample(samples, sampleRate, r.modelSampleRate)
		sampleRate = r.modelSampleRate
	}

	if audio.NonSilentSeconds(samples, sampleRate) < r.minRefSeconds {
		return nil, fmt.Errorf(
			"%w: %w: need at least %.1fs of non-silent audio",
			core.ErrInvalidVoiceReference, ErrReferenceTooShort, r.minRefSeconds,
		)
	}

	return &core.ResolvedVoice{
		Samples:    samples,
		SampleRate: sampleRate,
		Source:     core.VoiceSourceCaller,
	}, nil
}

// decodeAny sniffs the container by magic bytes and decodes accordingly.
// wav covers the lossless path, mp3 the lossy one.
func decodeAny(data []byte) ([]float64, int, error) {
	switch {
	case looksLikeWAV(data):
		waveform, err := audio.DecodeWAV(data)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to decode wav reference: %w", err)
		}

		return waveform.Samples, waveform.SampleRate, nil
	case looksLikeMP3(data):
		return decodeMP3(data)
	default:
		return nil, 0, ErrUnsupportedEncoding
	}
}

func decodeMP3(data []byte) ([]float64, int, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode mp3 reference: %w", err)
	}

	pcm, readErr := io.ReadAll(decoder)
	if readErr != nil {
		return nil, 0, fmt.Errorf("failed to read mp3 pcm data: %w", readErr)
	}

	// go-mp3 always emits 16-bit little-endian stereo.
	samples, convErr := audio.FloatFromPCM16(pcm, mp3StereoChannels)
	if convErr != nil {
		return nil, 0, fmt.Errorf("failed to convert mp3 pcm data: %w", convErr)
	}

	return samples, decoder.SampleRate(), nil
}

func looksLikeWAV(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WAVE"))
}

func looksLikeMP3(data []byte) bool {
	if len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")) {
		return true
	}

	// Bare MPEG frame sync: eleven set bits.
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// resolveBakedPath checks the configured path first, then the standard
// locations a worker image bakes the default voice into.
func resolveBakedPath(configured string) (string, error) {
	candidates := make([]string, 0, 3)
	if configured != "" {
		candidates = append(candidates, configured)
	}

	candidates = append(
		candidates,
		filepath.Join(localVoicesDir, defaultVoiceFile),
		filepath.Join(systemVoicesDir, defaultVoiceFile),
	)

	for _, candidate := range candidates {
		resolved, found, err := statCandidate(candidate)
		if err != nil {
			return "", err
		}

		if found {
			return resolved, nil
		}
	}

	return "", fmt.Errorf("%w: searched %v", ErrBakedReferenceNotFound, candidates)
}

// statCandidate reports whether a candidate path exists, resolving it to an
// absolute path when it does. Errors other than "not found" are fatal.
func statCandidate(path string) (string, bool, error) {
	_, statErr := os.Stat(path)
	if statErr == nil {
		absPath, absErr := filepath.Abs(path)
		if absErr != nil {
			return "", false, fmt.Errorf("could not resolve absolute path for %q: %w", path, absErr)
		}

		return absPath, true, nil
	}

	if !os.IsNotExist(statErr) {
		return "", false, fmt.Errorf("error checking voice path %q: %w", path, statErr)
	}

	return "", false, nil
}
