// Package audio implements the post-processing pipeline for raw synthesis
// waveforms: PCM conversion, resampling, channel normalization, and encoding
// into delivery formats.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/book-expert/speech-service/internal/core"
)

// PCM conversion constants.
const (
	pcmBitDepth       = 16
	pcm16Scale        = 32768.0
	pcm16Max          = 32767
	pcm16Min          = -32768
	wavAudioFormatPCM = 1
	bytesPerPCM16     = 2
)

// silenceThreshold is the absolute sample amplitude below which a sample is
// considered silent when measuring usable reference duration.
const silenceThreshold = 0.01

// Static errors for PCM handling.
var (
	ErrNotWAV          = errors.New("data is not a valid wav file")
	ErrEmptyWaveform   = errors.New("waveform has no samples")
	ErrBadSampleRate   = errors.New("sample rate must be positive")
	ErrOddPCMByteCount = errors.New("pcm data length is not sample-aligned")
)

// DecodeWAV decodes wav bytes into a mono waveform. Multi-channel input is
// downmixed by averaging across channels.
func DecodeWAV(data []byte) (*core.Waveform, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, ErrNotWAV
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read pcm data: %w", err)
	}

	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, ErrBadSampleRate
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = pcmBitDepth
	}

	scale := math.Pow(2, float64(bitDepth-1))
	frames := len(buf.Data) / channels
	samples := make([]float64, frames)

	for frame := range frames {
		var sum float64
		for ch := range channels {
			sum += float64(buf.Data[frame*channels+ch]) / scale
		}

		samples[frame] = sum / float64(channels)
	}

	return &core.Waveform{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
	}, nil
}

// EncodeWAV encodes a mono waveform as 16-bit PCM wav bytes. The wav encoder
// needs a seekable writer to finalize its header, so the encode goes through
// a temporary file.
func EncodeWAV(waveform *core.Waveform) ([]byte, error) {
	if waveform == nil || len(waveform.Samples) == 0 {
		return nil, ErrEmptyWaveform
	}

	if waveform.SampleRate <= 0 {
		return nil, ErrBadSampleRate
	}

	tempFile, err := os.CreateTemp("", "speech-encode-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for wav encode: %w", err)
	}

	tempPath := tempFile.Name()
	defer func() {
		_ = os.Remove(tempPath)
	}()

	writeErr := writeWAV(tempFile, waveform)

	closeErr := tempFile.Close()
	if writeErr != nil {
		return nil, writeErr
	}

	if closeErr != nil {
		return nil, fmt.Errorf("failed to close temp wav file: %w", closeErr)
	}

	data, readErr := os.ReadFile(tempPath)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read encoded wav data: %w", readErr)
	}

	return data, nil
}

func writeWAV(file *os.File, waveform *core.Waveform) error {
	encoder := wav.NewEncoder(
		file,
		waveform.SampleRate,
		pcmBitDepth,
		1,
		wavAudioFormatPCM,
	)

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: 1,
			SampleRate:  waveform.SampleRate,
		},
		Data:           make([]int, len(waveform.Samples)),
		SourceBitDepth: pcmBitDepth,
	}

	for i, sample := range waveform.Samples {
		buf.Data[i] = clampPCM16(sample)
	}

	err := encoder.Write(buf)
	if err != nil {
		return fmt.Errorf("failed to write pcm buffer: %w", err)
	}

	err = encoder.Close()
	if err != nil {
		return fmt.Errorf("failed to finalize wav encoder: %w", err)
	}

	return nil
}

func clampPCM16(sample float64) int {
	scaled := int(math.Round(sample * pcm16Scale))
	if scaled > pcm16Max {
		return pcm16Max
	}

	if scaled < pcm16Min {
		return pcm16Min
	}

	return scaled
}

// FloatFromPCM16 converts interleaved little-endian 16-bit PCM bytes into
// mono float64 samples, averaging across channels.
func FloatFromPCM16(data []byte, channels int) ([]float64, error) {
	if channels < 1 {
		channels = 1
	}

	if len(data)%(bytesPerPCM16*channels) != 0 {
		return nil, ErrOddPCMByteCount
	}

	frames := len(data) / (bytesPerPCM16 * channels)
	samples := make([]float64, frames)

	for frame := range frames {
		var sum float64

		for ch := range channels {
			offset := (frame*channels + ch) * bytesPerPCM16
			value := int16(binary.LittleEndian.Uint16(data[offset:]))
			sum += float64(value) / pcm16Scale
		}

		samples[frame] = sum / float64(channels)
	}

	return samples, nil
}

// Resample converts samples from one rate to another using linear
// interpolation. Speech-band fidelity is sufficient for voice references;
// delivery-format resampling is delegated to the codec.
func Resample(samples []float64, fromRate, toRate int) []float64 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)

	if outLen < 1 {
		outLen = 1
	}

	out := make([]float64, outLen)

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)

		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]

			continue
		}

		frac := pos - float64(idx)
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}

	return out
}

// NonSilentSeconds returns the total duration of samples above the silence
// threshold.
func NonSilentSeconds(samples []float64, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}

	var loud int

	for _, sample := range samples {
		if math.Abs(sample) > silenceThreshold {
			loud++
		}
	}

	return float64(loud) / float64(sampleRate)
}
