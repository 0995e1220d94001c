// main package for the studio-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/audio-studio/internal/config"
	"github.com/book-expert/audio-studio/internal/export"
	"github.com/book-expert/audio-studio/internal/library"
	"github.com/book-expert/audio-studio/internal/objectstore"
	"github.com/book-expert/audio-studio/internal/records"
	"github.com/book-expert/audio-studio/internal/studio"
	"github.com/book-expert/audio-studio/internal/tts"
	"github.com/book-expert/audio-studio/internal/worker"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger %s: %w", fileName, err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "studio-service-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "studio-service.log")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

// serve wires the stack and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("studio-service"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return err
	}

	exportStore, err := objectstore.New(jetstreamContext, cfg.NATS.ExportObjectStoreBucket)
	if err != nil {
		return err
	}

	var assets library.AssetSource

	if cfg.Paths.LibraryDir != "" {
		assets = library.DirSource{Dir: cfg.Paths.LibraryDir}
	} else {
		libraryStore, libErr := objectstore.New(jetstreamContext, cfg.NATS.LibraryObjectStoreBucket)
		if libErr != nil {
			return libErr
		}

		assets = library.StoreSource{Store: libraryStore}
	}

	repo, err := records.Open(ctx, cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := repo.Close()
		if closeErr != nil {
			log.Warn("Failed to close record database: %v", closeErr)
		}
	}()

	loader, err := library.NewLoader(assets, audioStore, cfg.Studio.LibraryCacheSize, cfg.Studio.SampleRate)
	if err != nil {
		return err
	}

	speech := tts.NewHTTPClient(cfg.TTS.ServiceURL, cfg.TTSTimeout(),
		tts.WithAPIKey(cfg.TTS.APIKey),
		tts.WithModel(cfg.TTS.ModelID),
	)

	transcoder := export.NewFFmpegTranscoder(cfg.Export.FFmpegPath, cfg.Export.TempDir, log)
	exporter := export.NewExporter(transcoder, exportStore, repo, export.Settings{
		DefaultQuality: cfg.Export.DefaultQuality,
		DownloadPrefix: cfg.Export.DownloadPrefix,
		ShareBaseURL:   cfg.Export.ShareBaseURL,
	}, log)

	w, err := worker.NewNatsWorker(natsConnection, worker.Subjects{
		Render:   cfg.NATS.RenderSubject,
		Export:   cfg.NATS.ExportSubject,
		Saved:    cfg.NATS.SavedSubject,
		Exported: cfg.NATS.ExportedSubject,
		Library:  cfg.NATS.LibrarySubject,
	}, worker.Dependencies{
		Audio:         audioStore,
		Speech:        speech,
		Renderer:      studio.NewRenderer(cfg.RenderOptions(), loader),
		Submitter:     studio.NewSubmitter(audioStore, repo, cfg.Studio.AudioURLPrefix),
		Backgrounds:   loader,
		Exporter:      exporter,
		Modifications: repo,
	}, cfg.JobTimeout(), log)
	if err != nil {
		return err
	}

	log.System("Studio-Service successfully initialized. Listening for renders on subject: %s", cfg.NATS.RenderSubject)

	runErr := w.Run(ctx)
	if runErr != nil {
		return fmt.Errorf("worker stopped: %w", runErr)
	}

	log.System("Studio-Service stopped.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
