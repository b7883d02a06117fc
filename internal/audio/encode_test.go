// Package audio_test tests PCM handling and artifact encoding.
package audio_test

import (
	"bytes"
	"context"
	"io"
	"math"
	"os/exec"
	"testing"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-service/internal/audio"
	"github.com/book-expert/speech-service/internal/core"
)

const testSampleRate = 24000

// sineWaveform generates an audible sine tone so silence detection and codec
// round-trips have real signal to work with.
func sineWaveform(t *testing.T, seconds float64, sampleRate int) *core.Waveform {
	t.Helper()

	frames := int(seconds * float64(sampleRate))
	samples := make([]float64, frames)

	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate))
	}

	return &core.Waveform{Samples: samples, SampleRate: sampleRate}
}

func TestWAVRoundTrip(t *testing.T) {
	t.Parallel()

	original := sineWaveform(t, 0.5, testSampleRate)

	encoded, err := audio.EncodeWAV(original)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := audio.DecodeWAV(encoded)
	require.NoError(t, err)

	require.Len(t, decoded.Samples, len(original.Samples))
	assert.Equal(t, original.SampleRate, decoded.SampleRate)

	// 16-bit quantization bounds the reconstruction error.
	for i := range original.Samples {
		assert.InDelta(t, original.Samples[i], decoded.Samples[i], 0.001)
	}
}

func TestDecodeWAV_RejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := audio.DecodeWAV([]byte("definitely not a wav file"))
	require.Error(t, err)
}

func TestEncodeWAV_RejectsEmptyWaveform(t *testing.T) {
	t.Parallel()

	_, err := audio.EncodeWAV(&core.Waveform{Samples: nil, SampleRate: testSampleRate})
	require.Error(t, err)
	require.ErrorIs(t, err, audio.ErrEmptyWaveform)
}

func TestResample_HalvesAndDoubles(t *testing.T) {
	t.Parallel()

	original := sineWaveform(t, 1.0, testSampleRate)

	down := audio.Resample(original.Samples, testSampleRate, testSampleRate/2)
	assert.InDelta(t, len(original.Samples)/2, len(down), 2)

	up := audio.Resample(original.Samples, testSampleRate, testSampleRate*2)
	assert.InDelta(t, len(original.Samples)*2, len(up), 2)
}

func TestNonSilentSeconds(t *testing.T) {
	t.Parallel()

	tone := sineWaveform(t, 1.0, testSampleRate)
	assert.Greater(t, audio.NonSilentSeconds(tone.Samples, testSampleRate), 0.9)

	silence := make([]float64, testSampleRate)
	assert.InDelta(t, 0.0, audio.NonSilentSeconds(silence, testSampleRate), 0.0001)
}

func TestFloatFromPCM16_DownmixesStereo(t *testing.T) {
	t.Parallel()

	// Two frames of stereo: (16384, 0) and (-16384, -16384).
	pcm := []byte{
		0x00, 0x40, 0x00, 0x00,
		0x00, 0xC0, 0x00, 0xC0,
	}

	samples, err := audio.FloatFromPCM16(pcm, 2)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.InDelta(t, 0.25, samples[0], 0.001)
	assert.InDelta(t, -0.5, samples[1], 0.001)
}

func TestFloatFromPCM16_RejectsMisalignedData(t *testing.T) {
	t.Parallel()

	_, err := audio.FloatFromPCM16([]byte{0x01, 0x02, 0x03}, 2)
	require.Error(t, err)
	require.ErrorIs(t, err, audio.ErrOddPCMByteCount)
}

func TestEncoder_WAVPath(t *testing.T) {
	t.Parallel()

	encoder := audio.NewEncoder("", 0, 0, nil)
	waveform := sineWaveform(t, 0.25, testSampleRate)

	data, err := encoder.Encode(context.Background(), waveform, core.FormatWAV)
	require.NoError(t, err)

	decoded, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Greater(t, decoded.Duration(), time.Duration(0))
}

func TestEncoder_RejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	encoder := audio.NewEncoder("", 0, 0, nil)
	waveform := sineWaveform(t, 0.1, testSampleRate)

	_, err := encoder.Encode(context.Background(), waveform, core.OutputFormat("ogg"))
	require.Error(t, err)
	require.ErrorIs(t, err, audio.ErrUnsupportedFormat)
}

func TestEncoder_MP3RoundTripPreservesDuration(t *testing.T) {
	t.Parallel()

	_, lookErr := exec.LookPath("ffmpeg")
	if lookErr != nil {
		t.Skip("ffmpeg not available")
	}

	encoder := audio.NewEncoder("", 0, 0, nil)
	waveform := sineWaveform(t, 1.0, testSampleRate)

	data, err := encoder.Encode(context.Background(), waveform, core.FormatMP3)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	require.NoError(t, err)

	pcm, err := io.ReadAll(decoder)
	require.NoError(t, err)

	// go-mp3 emits 16-bit stereo, so 4 bytes per output frame.
	gotSeconds := float64(len(pcm)/4) / float64(decoder.SampleRate())
	assert.InDelta(t, 1.0, gotSeconds, 0.15)
}

func TestEncoder_MP3FailsWithMissingBinary(t *testing.T) {
	t.Parallel()

	encoder := audio.NewEncoder("/nonexistent/ffmpeg", 0, 0, nil)
	waveform := sineWaveform(t, 0.1, testSampleRate)

	_, err := encoder.Encode(context.Background(), waveform, core.FormatMP3)
	require.Error(t, err)
	require.ErrorIs(t, err, core.ErrEncodingFailed)
}
