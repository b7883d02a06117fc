// main package for the speech-client, a small CLI that submits one synthesis
// job over NATS and writes the returned audio artifact to disk.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nnikolov3/events"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/objectstore"
)

// Flag descriptions.
const (
	flagTextDesc    = "Text to convert to speech"
	flagVoiceDesc   = "Path to a voice reference audio file (wav or mp3)"
	flagFormatDesc  = "Output format: wav or mp3"
	flagOutputDesc  = "Output file path"
	flagNATSDesc    = "NATS server URL"
	flagSubjectDesc = "Subject the speech-service listens on"
	flagBucketDesc  = "Object store bucket holding audio artifacts"
	flagTimeoutDesc = "Overall request timeout"
)

// Defaults.
const (
	defaultFormat  = "mp3"
	defaultNATSURL = nats.DefaultURL
	defaultSubject = "speech.jobs"
	defaultBucket  = "SPEECH_AUDIO"
	defaultTimeout = 2 * time.Minute
	filePermission = 0o600
)

// Static errors.
var (
	ErrTextRequired = errors.New("--text must be provided")
	ErrJobFailed    = errors.New("job failed")
	ErrEmptyResult  = errors.New("result carries neither inline audio nor an artifact key")
)

type appFlags struct {
	text    string
	voice   string
	format  string
	output  string
	natsURL string
	subject string
	bucket  string
	timeout time.Duration
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()
	if flags.text == "" {
		flag.Usage()

		return ErrTextRequired
	}

	event, err := buildJobEvent(flags)
	if err != nil {
		return err
	}

	natsConnection, err := nats.Connect(flags.natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", flags.natsURL, err)
	}
	defer natsConnection.Close()

	result, err := requestSynthesis(natsConnection, flags, event)
	if err != nil {
		return err
	}

	if result.Status != core.StatusSuccess {
		return fmt.Errorf("%w: %s (%s)", ErrJobFailed, result.ErrorKind, result.ErrorDetail)
	}

	audioData, err := fetchArtifact(natsConnection, flags, result)
	if err != nil {
		return err
	}

	outputPath := flags.output
	if outputPath == "" {
		outputPath = "output." + result.Format
	}

	writeErr := os.WriteFile(outputPath, audioData, filePermission)
	if writeErr != nil {
		return fmt.Errorf("failed to write audio file: %w", writeErr)
	}

	fmt.Printf("Generated %s (%d bytes, %.2fs at %d Hz)\n",
		outputPath, len(audioData), result.DurationSeconds, result.SampleRate)

	return nil
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.text, "text", "", flagTextDesc)
	flag.StringVar(&flags.voice, "voice", "", flagVoiceDesc)
	flag.StringVar(&flags.format, "format", defaultFormat, flagFormatDesc)
	flag.StringVar(&flags.output, "output", "", flagOutputDesc)
	flag.StringVar(&flags.natsURL, "nats", defaultNATSURL, flagNATSDesc)
	flag.StringVar(&flags.subject, "subject", defaultSubject, flagSubjectDesc)
	flag.StringVar(&flags.bucket, "bucket", defaultBucket, flagBucketDesc)
	flag.DurationVar(&flags.timeout, "timeout", defaultTimeout, flagTimeoutDesc)
	flag.Parse()

	return flags
}

func buildJobEvent(flags appFlags) (*core.SpeechJobEvent, error) {
	event := &core.SpeechJobEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		JobID:          uuid.NewString(),
		Text:           flags.text,
		VoiceRefKey:    "",
		VoiceRefBase64: "",
		OutputFormat:   flags.format,
		Temperature:    0,
		Exaggeration:   0,
		CFGWeight:      0,
		Speed:          0,
		Seed:           0,
		TimeoutMs:      int(flags.timeout.Milliseconds()),
	}

	if flags.voice != "" {
		voiceData, err := os.ReadFile(flags.voice)
		if err != nil {
			return nil, fmt.Errorf("failed to read voice reference file: %w", err)
		}

		event.VoiceRefBase64 = base64.StdEncoding.EncodeToString(voiceData)
	}

	return event, nil
}

func requestSynthesis(
	natsConnection *nats.Conn,
	flags appFlags,
	event *core.SpeechJobEvent,
) (*core.SpeechResultEvent, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job event: %w", err)
	}

	reply, err := natsConnection.Request(flags.subject, payload, flags.timeout)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}

	var result core.SpeechResultEvent

	unmarshalErr := json.Unmarshal(reply.Data, &result)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal result event: %w", unmarshalErr)
	}

	return &result, nil
}

// fetchArtifact prefers the inline payload and falls back to downloading the
// artifact from the object store.
func fetchArtifact(
	natsConnection *nats.Conn,
	flags appFlags,
	result *core.SpeechResultEvent,
) ([]byte, error) {
	if result.AudioBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(result.AudioBase64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode inline audio: %w", err)
		}

		return data, nil
	}

	if result.AudioKey == "" {
		return nil, ErrEmptyResult
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, flags.bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	data, err := store.Download(ctx, result.AudioKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download artifact '%s': %w", result.AudioKey, err)
	}

	return data, nil
}
