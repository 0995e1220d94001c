package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/audio-studio/internal/core"
	"github.com/book-expert/audio-studio/internal/export"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

func (w *NatsWorker) handleExport(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	event, err := parseEvent[core.ExportRequestedEvent](msg)
	if err != nil {
		w.log.Error("Failed to parse export event: %v", err)
		w.replyError(msg, err)

		return
	}

	completed, err := w.processExport(ctx, event)
	if err != nil {
		w.log.Error("Failed to export for workflow %s: %v", event.Header.WorkflowID, err)
		w.replyError(msg, err)

		return
	}

	err = w.respond(msg, completed)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}

	err = w.publish(w.subjects.Exported, completed)
	if err != nil {
		w.log.Error("Failed to announce export %s: %v", completed.ExportID, err)
	}
}

// processExport resolves the saved WAV and hands it to the exporter.
func (w *NatsWorker) processExport(
	ctx context.Context,
	event *core.ExportRequestedEvent,
) (*core.ExportCompletedEvent, error) {
	if w.deps.Exporter == nil {
		return nil, fmt.Errorf("%w: no exporter configured", ErrMissingDependency)
	}

	validateErr := event.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	audioKey := event.AudioKey
	conversationID := ""

	if event.ModificationID != "" {
		if w.deps.Modifications == nil {
			return nil, fmt.Errorf("%w: no modification lookup configured", ErrMissingDependency)
		}

		record, err := w.deps.Modifications.GetModification(ctx, event.ModificationID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve modification %s: %w", event.ModificationID, err)
		}

		audioKey = record.AudioKey
		conversationID = record.ConversationID
	}

	wav, err := w.deps.Audio.Download(ctx, audioKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download mix for key '%s': %w", audioKey, err)
	}

	result, err := w.deps.Exporter.Export(ctx, export.Request{
		UserID:         event.Header.UserID,
		ConversationID: conversationID,
		ModificationID: event.ModificationID,
		Title:          event.Title,
		Format:         event.Format,
		Quality:        event.Quality,
		WAV:            wav,
	})
	if err != nil {
		return nil, err
	}

	header := event.Header
	header.Timestamp = time.Now().UTC()
	header.EventID = uuid.NewString()

	return &core.ExportCompletedEvent{
		Header:      header,
		ExportID:    result.ExportID,
		Key:         result.Key,
		Format:      string(result.Format),
		Quality:     result.Quality.Bitrate,
		DownloadURL: result.DownloadURL,
		ShareURL:    result.ShareURL,
	}, nil
}
