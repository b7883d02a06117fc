// Package config provides the configuration structure for the speech-service.
package config

import (
	"errors"
	"fmt"

	"github.com/nnikolov3/configurator"
	"github.com/book-expert/logger"
)

// Recognized device placements.
const (
	DeviceCPU = "cpu"
	DeviceGPU = "gpu"
)

// Defaults applied for omitted options.
const (
	DefaultMaxTextChars           = 2000
	DefaultMaxQueueDepth          = 8
	DefaultSynthTimeoutMs         = 120000
	DefaultInlineResponseMaxBytes = 1 << 20
	DefaultMP3BitrateKbps         = 192
	DefaultMP3SampleRate          = 44100
	DefaultMinReferenceSeconds    = 1.0
	DefaultEngineLoadTimeoutSecs  = 600
)

// Validation errors.
var (
	ErrNATSURLEmpty       = errors.New("nats url cannot be empty")
	ErrJobsSubjectEmpty   = errors.New("speech jobs subject cannot be empty")
	ErrAudioBucketEmpty   = errors.New("audio object store bucket cannot be empty")
	ErrEngineBaseURLEmpty = errors.New("engine base url cannot be empty")
	ErrUnknownDevice      = errors.New("device must be cpu or gpu")
	ErrMaxTextChars       = errors.New("max_text_chars must be positive")
	ErrMaxQueueDepth      = errors.New("max_queue_depth must be positive")
	ErrSynthTimeout       = errors.New("synth_timeout_ms must be positive")
	ErrMP3Bitrate         = errors.New("mp3_bitrate_kbps must be positive")
	ErrMP3SampleRate      = errors.New("mp3_sample_rate must be positive")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	SpeechJobsSubject      string `toml:"speech_jobs_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	VoiceObjectStoreBucket string `toml:"voice_object_store_bucket"`
}

// EngineConfig holds the configuration for the model sidecar.
type EngineConfig struct {
	BaseURL            string `toml:"base_url"`
	Device             string `toml:"device"`
	LoadTimeoutSeconds int    `toml:"load_timeout_seconds"`
}

// VoiceConfig holds the configuration for voice reference resolution.
type VoiceConfig struct {
	BakedReferencePath  string  `toml:"baked_reference_path"`
	MinReferenceSeconds float64 `toml:"min_reference_seconds"`
	FallbackToDefault   bool    `toml:"fallback_to_default"`
}

// LimitsConfig holds the per-job resource limits.
type LimitsConfig struct {
	MaxTextChars           int `toml:"max_text_chars"`
	MaxQueueDepth          int `toml:"max_queue_depth"`
	SynthTimeoutMs         int `toml:"synth_timeout_ms"`
	InlineResponseMaxBytes int `toml:"inline_response_max_bytes"`
}

// AudioConfig holds the fixed audio delivery settings.
type AudioConfig struct {
	MP3BitrateKbps int    `toml:"mp3_bitrate_kbps"`
	MP3SampleRate  int    `toml:"mp3_sample_rate"`
	FFmpegPath     string `toml:"ffmpeg_path"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS   NATSConfig   `toml:"nats"`
	Engine EngineConfig `toml:"engine"`
	Voice  VoiceConfig  `toml:"voice"`
	Limits LimitsConfig `toml:"limits"`
	Audio  AudioConfig  `toml:"audio"`
	Paths  PathsConfig  `toml:"paths"`
}

// Load loads the configuration for the speech-service, applies defaults, and
// validates it.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	validationErr := cfg.Validate()
	if validationErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validationErr)
	}

	return &cfg, nil
}

// ApplyDefaults fills omitted options with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Engine.Device == "" {
		c.Engine.Device = DeviceGPU
	}

	if c.Engine.LoadTimeoutSeconds <= 0 {
		c.Engine.LoadTimeoutSeconds = DefaultEngineLoadTimeoutSecs
	}

	if c.Voice.MinReferenceSeconds <= 0 {
		c.Voice.MinReferenceSeconds = DefaultMinReferenceSeconds
	}

	if c.Limits.MaxTextChars <= 0 {
		c.Limits.MaxTextChars = DefaultMaxTextChars
	}

	if c.Limits.MaxQueueDepth <= 0 {
		c.Limits.MaxQueueDepth = DefaultMaxQueueDepth
	}

	if c.Limits.SynthTimeoutMs <= 0 {
		c.Limits.SynthTimeoutMs = DefaultSynthTimeoutMs
	}

	if c.Limits.InlineResponseMaxBytes < 0 {
		c.Limits.InlineResponseMaxBytes = DefaultInlineResponseMaxBytes
	}

	if c.Audio.MP3BitrateKbps <= 0 {
		c.Audio.MP3BitrateKbps = DefaultMP3BitrateKbps
	}

	if c.Audio.MP3SampleRate <= 0 {
		c.Audio.MP3SampleRate = DefaultMP3SampleRate
	}
}

// Validate ensures the configuration contains usable values.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return ErrNATSURLEmpty
	}

	if c.NATS.SpeechJobsSubject == "" {
		return ErrJobsSubjectEmpty
	}

	if c.NATS.AudioObjectStoreBucket == "" {
		return ErrAudioBucketEmpty
	}

	if c.Engine.BaseURL == "" {
		return ErrEngineBaseURLEmpty
	}

	if c.Engine.Device != DeviceCPU && c.Engine.Device != DeviceGPU {
		return fmt.Errorf("%w: got %q", ErrUnknownDevice, c.Engine.Device)
	}

	return c.validateLimits()
}

func (c *Config) validateLimits() error {
	if c.Limits.MaxTextChars <= 0 {
		return ErrMaxTextChars
	}

	if c.Limits.MaxQueueDepth <= 0 {
		return ErrMaxQueueDepth
	}

	if c.Limits.SynthTimeoutMs <= 0 {
		return ErrSynthTimeout
	}

	if c.Audio.MP3BitrateKbps <= 0 {
		return ErrMP3Bitrate
	}

	if c.Audio.MP3SampleRate <= 0 {
		return ErrMP3SampleRate
	}

	return nil
}
