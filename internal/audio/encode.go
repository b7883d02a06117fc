package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-service/internal/core"
)

// Default encoder settings. The mp3 configuration is fixed per process so
// output size and encode latency stay predictable; it is never caller-tunable.
const (
	DefaultMP3BitrateKbps = 192
	DefaultMP3SampleRate  = 44100
	DefaultFFmpegPath     = "ffmpeg"

	// mp3Channels duplicates the mono model output to stereo, the
	// conventional channel count for mp3 delivery.
	mp3Channels = 2
)

// ErrUnsupportedFormat is returned for output formats the encoder cannot
// produce. Request validation should reject these before encoding.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Encoder converts raw waveforms into delivery artifacts. wav is produced
// in-process; mp3 is produced by invoking ffmpeg with deterministic
// arguments.
type Encoder struct {
	ffmpegPath     string
	mp3BitrateKbps int
	mp3SampleRate  int
	log            *logger.Logger
}

// NewEncoder creates an encoder with the given fixed mp3 settings. Zero
// values fall back to the package defaults.
func NewEncoder(ffmpegPath string, mp3BitrateKbps, mp3SampleRate int, log *logger.Logger) *Encoder {
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}

	if mp3BitrateKbps <= 0 {
		mp3BitrateKbps = DefaultMP3BitrateKbps
	}

	if mp3SampleRate <= 0 {
		mp3SampleRate = DefaultMP3SampleRate
	}

	return &Encoder{
		ffmpegPath:     ffmpegPath,
		mp3BitrateKbps: mp3BitrateKbps,
		mp3SampleRate:  mp3SampleRate,
		log:            log,
	}
}

// Encode converts the waveform into the requested format. Any codec failure
// is wrapped in core.ErrEncodingFailed: by this point the waveform has been
// validated, so encoding errors are server-side faults.
func (e *Encoder) Encode(
	ctx context.Context,
	waveform *core.Waveform,
	format core.OutputFormat,
) ([]byte, error) {
	switch format {
	case core.FormatWAV:
		data, err := EncodeWAV(waveform)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrEncodingFailed, err)
		}

		return data, nil
	case core.FormatMP3:
		return e.encodeMP3(ctx, waveform)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// encodeMP3 writes the waveform to a temporary wav file and transcodes it
// with ffmpeg. Stereo duplication and resampling to the delivery rate are
// handled by the codec arguments.
func (e *Encoder) encodeMP3(ctx context.Context, waveform *core.Waveform) ([]byte, error) {
	wavData, err := EncodeWAV(waveform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEncodingFailed, err)
	}

	inputPath, cleanupInput, err := e.writeTempFile("speech-mp3-in-*.wav", wavData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEncodingFailed, err)
	}
	defer cleanupInput()

	outputFile, err := os.CreateTemp("", "speech-mp3-out-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create output temp file: %w", core.ErrEncodingFailed, err)
	}

	outputPath := outputFile.Name()

	closeErr := outputFile.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("%w: failed to close output temp file: %w", core.ErrEncodingFailed, closeErr)
	}

	defer func() {
		removeErr := os.Remove(outputPath)
		if removeErr != nil && e.log != nil {
			e.log.Warn("Failed to remove temp file '%s': %v", outputPath, removeErr)
		}
	}()

	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", inputPath,
		"-ac", strconv.Itoa(mp3Channels),
		"-ar", strconv.Itoa(e.mp3SampleRate),
		"-b:a", strconv.Itoa(e.mp3BitrateKbps) + "k",
		"-f", "mp3",
		outputPath,
	}

	// #nosec G204 -- the binary path and arguments come from validated
	// service configuration, never from the job payload.
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	output, runErr := cmd.CombinedOutput()
	if runErr != nil {
		return nil, fmt.Errorf(
			"%w: ffmpeg invocation failed: %w - output: %s",
			core.ErrEncodingFailed, runErr, string(output),
		)
	}

	data, readErr := os.ReadFile(outputPath)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read encoded mp3: %w", core.ErrEncodingFailed, readErr)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: ffmpeg produced empty output", core.ErrEncodingFailed)
	}

	return data, nil
}

func (e *Encoder) writeTempFile(pattern string, data []byte) (string, func(), error) {
	file, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	path := file.Name()
	cleanup := func() {
		removeErr := os.Remove(path)
		if removeErr != nil && e.log != nil {
			e.log.Warn("Failed to remove temp file '%s': %v", path, removeErr)
		}
	}

	_, writeErr := file.Write(data)

	closeErr := file.Close()
	if writeErr != nil {
		cleanup()

		return "", nil, fmt.Errorf("failed to write temp file: %w", writeErr)
	}

	if closeErr != nil {
		cleanup()

		return "", nil, fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	return path, cleanup, nil
}
