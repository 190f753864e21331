// main package for the tts-uploader service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-uploader/internal/cloudinary"
	"github.com/book-expert/tts-uploader/internal/config"
	"github.com/book-expert/tts-uploader/internal/elevenlabs"
	"github.com/book-expert/tts-uploader/internal/objectstore"
	"github.com/book-expert/tts-uploader/internal/pipeline"
	"github.com/book-expert/tts-uploader/internal/voice"
	"github.com/book-expert/tts-uploader/internal/worker"
	"github.com/nats-io/nats.go"
)

const (
	bootstrapLogName = "tts-uploader-bootstrap.log"
	serviceLogName   = "tts-uploader.log"
	scriptMediaType  = "application/json"
	audioMediaType   = "audio/mpeg"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func loadConfig() (*config.Config, config.Secrets, error) {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return nil, config.Secrets{}, err
	}

	defer func() {
		_ = bootstrapLog.Close()
	}()

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, config.Secrets{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		bootstrapLog.Error("Invalid configuration: %v", err)

		return nil, config.Secrets{}, fmt.Errorf("invalid configuration: %w", err)
	}

	secrets, err := cfg.ResolveSecrets(os.Getenv)
	if err != nil {
		bootstrapLog.Error("Failed to resolve secrets: %v", err)

		return nil, config.Secrets{}, err
	}

	bootstrapLog.Info("Configuration loaded successfully (%s).", secrets)

	return cfg, secrets, nil
}

func newRunner(
	cfg *config.Config,
	secrets config.Secrets,
	stage *objectstore.NatsObjectStore,
	log *logger.Logger,
) (*pipeline.Runner, error) {
	speech, err := elevenlabs.New(elevenlabs.Options{
		BaseURL:       cfg.ElevenLabs.BaseURL,
		APIKey:        secrets.ElevenLabsAPIKey,
		ModelID:       cfg.ElevenLabs.ModelID,
		OutputFormat:  cfg.ElevenLabs.OutputFormat,
		VoiceSettings: *cfg.ElevenLabs.VoiceSettings,
		Retry:         cfg.Retry(),
		Logger:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	media, err := cloudinary.New(cloudinary.Options{
		BaseURL:      cfg.Cloudinary.BaseURL,
		CloudName:    cfg.Cloudinary.CloudName,
		APIKey:       secrets.CloudinaryAPIKey,
		APISecret:    secrets.CloudinaryAPISecret,
		ResourceType: cfg.Cloudinary.ResourceType,
		Folder:       cfg.Cloudinary.Folder,
		SignedParams: cfg.Cloudinary.SignedParams,
		UniqueSuffix: cfg.Cloudinary.UniquePublicIDs,
		Retry:        cfg.Retry(),
		Logger:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create media client: %w", err)
	}

	resolver, err := voice.NewResolver(cfg.ElevenLabs.Voices, cfg.ElevenLabs.DefaultVoice)
	if err != nil {
		return nil, fmt.Errorf("failed to build voice resolver: %w", err)
	}

	deps := pipeline.Dependencies{
		Synthesizer: speech,
		Uploader:    media,
		Resolver:    resolver,
		Observer:    pipeline.NewLogObserver(log),
	}
	// A typed nil pointer must not reach the interface field.
	if stage != nil {
		deps.Stage = stage
	}

	return pipeline.NewRunner(deps, pipeline.Options{
		PageSize:             cfg.PageSize(),
		DelayBetweenRequests: cfg.RequestDelay(),
		DelayBetweenBatches:  cfg.BatchDelay(),
		ContinueOnError:      cfg.Batch.ContinueOnError,
		OutputPrefix:         cfg.Batch.OutputPrefix,
		Extension:            elevenlabs.Extension(speech.OutputFormat()),
	})
}

func run() error {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogName)
	if err != nil {
		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("tts-uploader"))
	if err != nil {
		finalLog.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	scripts, err := objectstore.New(jetstreamContext, cfg.NATS.ScriptObjectStore, scriptMediaType)
	if err != nil {
		return err
	}

	var stage *objectstore.NatsObjectStore

	if cfg.NATS.StageAudio {
		stage, err = objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStore, audioMediaType)
		if err != nil {
			return err
		}

		finalLog.Info("Staging synthesized audio in bucket %s", stage.Bucket())
	}

	runner, err := newRunner(cfg, secrets, stage, finalLog)
	if err != nil {
		finalLog.Error("Failed to initialize pipeline: %v", err)

		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	finalLog.System("TTS-Uploader successfully initialized. Listening for batches on subject: %s",
		cfg.NATS.BatchRequestedSubject)

	natsWorker := worker.NewNatsWorker(natsConnection, cfg.NATS.BatchRequestedSubject, scripts, runner, finalLog, 0)

	err = natsWorker.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker stopped: %w", err)
	}

	finalLog.System("TTS-Uploader shut down.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
