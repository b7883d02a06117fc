// Package worker provides the NATS boundary of the service: it receives
// speech job events, drives the job handler, persists artifacts, and replies
// with exactly one result per delivered job.
package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/speech-service/internal/core"
)

// DefaultJobTimeout bounds a job that carries no explicit deadline.
const DefaultJobTimeout = 120 * time.Second

// ErrNoVoiceBucket indicates a job referenced a staged voice sample but the
// worker was built without a voice object store.
var ErrNoVoiceBucket = errors.New("no voice reference store configured")

// Options configures a Worker.
type Options struct {
	// Subject is the NATS subject carrying speech job events.
	Subject string
	// DefaultTimeout applies to jobs without a timeout_ms field; zero
	// means DefaultJobTimeout.
	DefaultTimeout time.Duration
	// InlineResponseMaxBytes is the largest artifact additionally inlined
	// base64 in the reply; zero disables inlining.
	InlineResponseMaxBytes int
}

// Worker subscribes to the jobs subject and processes each delivered job
// through the handler. Non-GPU stages of different jobs run concurrently;
// the synthesis executor is the only serialization point.
type Worker struct {
	natsConnection *nats.Conn
	opts           Options
	artifactStore  core.ObjectStore
	voiceStore     core.ObjectStore
	handler        core.JobHandler
	log            *logger.Logger
}

// New creates a worker. voiceStore may be nil when callers only use inline
// voice references.
func New(
	natsConnection *nats.Conn,
	opts Options,
	artifactStore core.ObjectStore,
	voiceStore core.ObjectStore,
	jobHandler core.JobHandler,
	log *logger.Logger,
) (*Worker, error) {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultJobTimeout
	}

	return &Worker{
		natsConnection: natsConnection,
		opts:           opts,
		artifactStore:  artifactStore,
		voiceStore:     voiceStore,
		handler:        jobHandler,
		log:            log,
	}, nil
}

// Run subscribes and serves until the context is cancelled, then drains the
// subscription.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.opts.Subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.opts.Subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

// handleMessage processes one delivered job. Every delivered message gets a
// reply, including malformed ones: the exactly-once result contract holds
// even when the payload never becomes a job.
func (w *Worker) handleMessage(msg *nats.Msg) {
	var event core.SpeechJobEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal job event: %v", err)
		w.reply(msg, errorResult(event, core.CodeInvalidInput, "malformed job payload"))

		return
	}

	timeout := w.opts.DefaultTimeout
	if event.TimeoutMs > 0 {
		timeout = time.Duration(event.TimeoutMs) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result := w.processJob(ctx, event)

	w.reply(msg, result)
}

// processJob builds the job request, runs the handler, and persists the
// artifact on success.
func (w *Worker) processJob(ctx context.Context, event core.SpeechJobEvent) core.SpeechResultEvent {
	req, err := w.buildJobRequest(ctx, event)
	if err != nil {
		w.log.Error("Failed to build job request for %s: %v", event.JobID, err)

		return errorResult(event, core.ClassifyError(err), err.Error())
	}

	jobResult := w.handler.Handle(ctx, req)
	if jobResult.Status != core.StatusSuccess {
		return errorResult(event, jobResult.ErrorKind, jobResult.ErrorDetail)
	}

	audioKey := uuid.NewString() + "." + jobResult.Metadata.Format.Extension()

	uploadErr := w.artifactStore.Upload(ctx, audioKey, jobResult.Audio)
	if uploadErr != nil {
		w.log.Error("Failed to upload artifact for job %s: %v", event.JobID, uploadErr)

		return errorResult(event, core.CodeInternalError, "failed to persist audio artifact")
	}

	resultEvent := core.SpeechResultEvent{
		Header:          event.Header,
		JobID:           event.JobID,
		Status:          core.StatusSuccess,
		ErrorKind:       "",
		ErrorDetail:     "",
		AudioKey:        audioKey,
		AudioBase64:     "",
		Format:          string(jobResult.Metadata.Format),
		DurationSeconds: jobResult.Metadata.DurationSeconds,
		SampleRate:      jobResult.Metadata.SampleRate,
		SizeBytes:       jobResult.Metadata.SizeBytes,
	}

	if w.opts.InlineResponseMaxBytes > 0 && len(jobResult.Audio) <= w.opts.InlineResponseMaxBytes {
		resultEvent.AudioBase64 = base64.StdEncoding.EncodeToString(jobResult.Audio)
	}

	return resultEvent
}

// buildJobRequest assembles the handler input, fetching a staged voice
// reference when the job points at one. Fetching happens here, at the queue
// boundary, so the resolver itself stays free of network calls.
func (w *Worker) buildJobRequest(
	ctx context.Context,
	event core.SpeechJobEvent,
) (core.JobRequest, error) {
	voiceRef, err := w.fetchVoiceReference(ctx, event)
	if err != nil {
		return core.JobRequest{}, err
	}

	params := core.DefaultGenerationParams()
	if event.Temperature > 0 {
		params.Temperature = event.Temperature
	}

	if event.Exaggeration > 0 {
		params.Exaggeration = event.Exaggeration
	}

	if event.CFGWeight > 0 {
		params.CFGWeight = event.CFGWeight
	}

	if event.Speed > 0 {
		params.Speed = event.Speed
	}

	params.Seed = event.Seed

	return core.JobRequest{
		JobID:        event.JobID,
		Text:         event.Text,
		VoiceRef:     voiceRef,
		OutputFormat: core.OutputFormat(event.OutputFormat),
		Params:       params,
	}, nil
}

func (w *Worker) fetchVoiceReference(
	ctx context.Context,
	event core.SpeechJobEvent,
) ([]byte, error) {
	if event.VoiceRefBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(event.VoiceRefBase64)
		if err != nil {
			return nil, fmt.Errorf("%w: voice_ref_base64 is not valid base64: %w",
				core.ErrInvalidInput, err)
		}

		return data, nil
	}

	if event.VoiceRefKey == "" {
		return nil, nil
	}

	if w.voiceStore == nil {
		return nil, fmt.Errorf("%w: %w", core.ErrVoiceResolutionFailed, ErrNoVoiceBucket)
	}

	data, err := w.voiceStore.Download(ctx, event.VoiceRefKey)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch voice reference '%s': %w",
			core.ErrVoiceResolutionFailed, event.VoiceRefKey, err)
	}

	return data, nil
}

func (w *Worker) reply(msg *nats.Msg, result core.SpeechResultEvent) {
	if msg.Reply == "" {
		w.log.Warn("Job %s has no reply subject; result dropped by transport", result.JobID)

		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		w.log.Error("Failed to marshal result for job %s: %v", result.JobID, err)

		return
	}

	respondErr := msg.Respond(data)
	if respondErr != nil {
		w.log.Error("Failed to publish result for job %s: %v", result.JobID, respondErr)
	}
}

func errorResult(event core.SpeechJobEvent, kind, detail string) core.SpeechResultEvent {
	return core.SpeechResultEvent{
		Header:          event.Header,
		JobID:           event.JobID,
		Status:          core.StatusError,
		ErrorKind:       kind,
		ErrorDetail:     detail,
		AudioKey:        "",
		AudioBase64:     "",
		Format:          "",
		DurationSeconds: 0,
		SampleRate:      0,
		SizeBytes:       0,
	}
}
