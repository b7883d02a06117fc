// main package for the speech-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/speech-service/internal/audio"
	"github.com/book-expert/speech-service/internal/config"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/handler"
	"github.com/book-expert/speech-service/internal/model"
	"github.com/book-expert/speech-service/internal/objectstore"
	"github.com/book-expert/speech-service/internal/synth"
	"github.com/book-expert/speech-service/internal/voice"
	"github.com/book-expert/speech-service/internal/worker"
)

const logFileName = "speech-service.log"

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, logFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// serve wires the pipeline and runs the worker loop until shutdown. The
// model is warmed before the subscription starts, so the cold start is paid
// once per process and never inside a job.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	artifactStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}

	// A typed nil must not leak into the interface: the worker treats a
	// nil voice store as "inline references only".
	var voiceStore core.ObjectStore

	if cfg.NATS.VoiceObjectStoreBucket != "" {
		store, storeErr := objectstore.New(jetstreamContext, cfg.NATS.VoiceObjectStoreBucket)
		if storeErr != nil {
			return fmt.Errorf("failed to open voice reference store: %w", storeErr)
		}

		voiceStore = store
	}

	jobHandler, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}

	speechWorker, err := worker.New(
		natsConnection,
		worker.Options{
			Subject:                cfg.NATS.SpeechJobsSubject,
			DefaultTimeout:         time.Duration(cfg.Limits.SynthTimeoutMs) * time.Millisecond,
			InlineResponseMaxBytes: cfg.Limits.InlineResponseMaxBytes,
		},
		artifactStore,
		voiceStore,
		jobHandler,
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	log.System("Speech-service initialized. Listening for jobs on subject: %s",
		cfg.NATS.SpeechJobsSubject)

	runErr := speechWorker.Run(ctx)
	if runErr != nil {
		return fmt.Errorf("worker stopped with error: %w", runErr)
	}

	return nil
}

// buildPipeline constructs resolver, executor, and encoder around a warmed
// model manager.
func buildPipeline(
	ctx context.Context,
	cfg *config.Config,
	log *logger.Logger,
) (*handler.Handler, error) {
	synthTimeout := time.Duration(cfg.Limits.SynthTimeoutMs) * time.Millisecond
	engine := model.NewSidecarEngine(cfg.Engine.BaseURL, synthTimeout, log)
	manager := model.NewManager(engine, cfg.Engine.Device, log)

	loadCtx, cancel := context.WithTimeout(
		ctx,
		time.Duration(cfg.Engine.LoadTimeoutSeconds)*time.Second,
	)
	defer cancel()

	handle, err := manager.EnsureLoaded(loadCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to warm model: %w", err)
	}

	resolver, err := voice.NewResolver(voice.Options{
		BakedReferencePath:  cfg.Voice.BakedReferencePath,
		ModelSampleRate:     handle.SampleRate,
		MinReferenceSeconds: cfg.Voice.MinReferenceSeconds,
		FallbackToDefault:   cfg.Voice.FallbackToDefault,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice resolver: %w", err)
	}

	executor := synth.NewExecutor(manager, cfg.Limits.MaxQueueDepth, log)
	encoder := audio.NewEncoder(
		cfg.Audio.FFmpegPath,
		cfg.Audio.MP3BitrateKbps,
		cfg.Audio.MP3SampleRate,
		log,
	)

	return handler.New(resolver, executor, encoder, cfg.Limits.MaxTextChars, log), nil
}
