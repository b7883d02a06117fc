// Package voice_test tests voice reference resolution.
package voice_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-service/internal/audio"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/voice"
)

const modelSampleRate = 24000

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)

	return testLogger
}

// writeToneWAV writes a sine tone wav file and returns its path and bytes.
func writeToneWAV(t *testing.T, dir string, seconds float64, sampleRate int) (string, []byte) {
	t.Helper()

	frames := int(seconds * float64(sampleRate))
	samples := make([]float64, frames)

	for i := range samples {
		samples[i] = 0.4 * math.Sin(2*math.Pi*220*float64(i)/float64(sampleRate))
	}

	data, err := audio.EncodeWAV(&core.Waveform{Samples: samples, SampleRate: sampleRate})
	require.NoError(t, err)

	path := filepath.Join(dir, "tone.wav")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path, data
}

func newTestResolver(t *testing.T, fallback bool) *voice.Resolver {
	t.Helper()

	bakedPath, _ := writeToneWAV(t, t.TempDir(), 2.0, modelSampleRate)

	resolver, err := voice.NewResolver(voice.Options{
		BakedReferencePath:  bakedPath,
		ModelSampleRate:     modelSampleRate,
		MinReferenceSeconds: 1.0,
		FallbackToDefault:   fallback,
	}, newTestLogger(t))
	require.NoError(t, err)

	return resolver
}

func TestNewResolver_FailsWithoutBakedReference(t *testing.T) {
	t.Parallel()

	_, err := voice.NewResolver(voice.Options{
		BakedReferencePath:  filepath.Join(t.TempDir(), "missing.wav"),
		ModelSampleRate:     modelSampleRate,
		MinReferenceSeconds: 1.0,
		FallbackToDefault:   false,
	}, newTestLogger(t))
	require.Error(t, err)
	require.ErrorIs(t, err, voice.ErrBakedReferenceNotFound)
}

func TestResolve_AbsentReferenceReturnsSameBakedDefault(t *testing.T) {
	t.Parallel()

	resolver := newTestResolver(t, false)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, core.VoiceSourceBakedDefault, first.Source)

	second, err := resolver.Resolve(ctx, nil)
	require.NoError(t, err)

	// The cached default must be returned, not re-decoded content.
	assert.Same(t, first, second)
}

func TestResolve_CallerWAVReference(t *testing.T) {
	t.Parallel()

	resolver := newTestResolver(t, false)

	// A 48 kHz reference must come back resampled to the model rate.
	_, refData := writeToneWAV(t, t.TempDir(), 1.5, 48000)

	resolved, err := resolver.Resolve(context.Background(), refData)
	require.NoError(t, err)
	assert.Equal(t, core.VoiceSourceCaller, resolved.Source)
	assert.Equal(t, modelSampleRate, resolved.SampleRate)
	assert.NotEmpty(t, resolved.Samples)
}

func TestResolve_RejectsTooShortReference(t *testing.T) {
	t.Parallel()

	resolver := newTestResolver(t, false)

	_, refData := writeToneWAV(t, t.TempDir(), 0.3, modelSampleRate)

	_, err := resolver.Resolve(context.Background(), refData)
	require.Error(t, err)
	require.ErrorIs(t, err, core.ErrVoiceResolutionFailed)
	require.ErrorIs(t, err, core.ErrInvalidVoiceReference)
}

func TestResolve_RejectsSilentReference(t *testing.T) {
	t.Parallel()

	resolver := newTestResolver(t, false)

	silent := make([]float64, modelSampleRate*2)
	refData, err := audio.EncodeWAV(&core.Waveform{Samples: silent, SampleRate: modelSampleRate})
	require.NoError(t, err)

	_, resolveErr := resolver.Resolve(context.Background(), refData)
	require.Error(t, resolveErr)
	require.ErrorIs(t, resolveErr, core.ErrInvalidVoiceReference)
}

func TestResolve_RejectsUnsupportedEncoding(t *testing.T) {
	t.Parallel()

	resolver := newTestResolver(t, false)

	_, err := resolver.Resolve(context.Background(), []byte("OggS not really audio"))
	require.Error(t, err)
	require.ErrorIs(t, err, core.ErrVoiceResolutionFailed)
}

func TestResolve_FallbackToDefaultWhenConfigured(t *testing.T) {
	t.Parallel()

	resolver := newTestResolver(t, true)

	resolved, err := resolver.Resolve(context.Background(), []byte("garbage bytes"))
	require.NoError(t, err)
	assert.Equal(t, core.VoiceSourceBakedDefault, resolved.Source)
}
