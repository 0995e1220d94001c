package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/audio-studio/internal/core"
	"github.com/book-expert/audio-studio/internal/studio"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

func (w *NatsWorker) handleRender(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	event, err := parseEvent[core.RenderRequestedEvent](msg)
	if err != nil {
		w.log.Error("Failed to parse render event: %v", err)
		w.replyError(msg, err)

		return
	}

	saved, err := w.processRender(ctx, event)
	if err != nil {
		w.log.Error("Failed to process render for workflow %s: %v", event.Header.WorkflowID, err)
		w.replyError(msg, err)

		return
	}

	err = w.respond(msg, saved)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}

	err = w.publish(w.subjects.Saved, saved)
	if err != nil {
		w.log.Error("Failed to announce modification %s: %v", saved.ModificationID, err)
	}
}

// processRender checks preconditions, loads the voice, applies the requested
// settings to a fresh session and saves it.
func (w *NatsWorker) processRender(
	ctx context.Context,
	event *core.RenderRequestedEvent,
) (*core.ModificationSavedEvent, error) {
	if strings.TrimSpace(event.ConversationID) == "" {
		return nil, studio.ErrConversationIDRequired
	}

	validateErr := event.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	if event.Background != nil {
		bgErr := event.Background.Validate()
		if bgErr != nil {
			return nil, bgErr
		}
	}

	voice, err := w.voiceData(ctx, event)
	if err != nil {
		return nil, err
	}

	session, err := studio.NewSession(uuid.NewString(), event.Header.UserID, studio.SessionDeps{
		Renderer:    w.deps.Renderer,
		Submitter:   w.deps.Submitter,
		Backgrounds: w.deps.Backgrounds,
		Log:         w.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	loadErr := session.LoadVoice(ctx, voice)
	if loadErr != nil {
		return nil, loadErr
	}

	graph := session.Graph()
	graph.SetParameters(event.Effects)

	if event.VoiceVolumePercent != nil {
		graph.SetVoiceVolume(*event.VoiceVolumePercent)
	}

	if event.Background != nil {
		bgErr := session.SelectBackground(ctx, *event.Background)
		if bgErr != nil {
			return nil, bgErr
		}
	}

	snap := session.Snapshot()

	receipt, err := session.Save(ctx, event.ConversationID)
	if err != nil {
		return nil, err
	}

	w.log.Info("Saved modification %s for conversation %s (%.2fs, background %v)",
		receipt.ModificationID, event.ConversationID, snap.Voice.Seconds(), snap.Background)

	header := event.Header
	header.Timestamp = time.Now().UTC()
	header.EventID = uuid.NewString()

	saved := &core.ModificationSavedEvent{
		Header:          header,
		ModificationID:  receipt.ModificationID,
		ConversationID:  event.ConversationID,
		AudioKey:        receipt.AudioKey,
		AudioURL:        receipt.AudioURL,
		Effects:         snap.Params,
		DurationSeconds: snap.Voice.Seconds(),
	}

	if snap.Background != nil {
		saved.BackgroundSound = snap.Background.Reference()
	}

	return saved, nil
}

// voiceData returns the encoded voice, from the store or freshly synthesized.
func (w *NatsWorker) voiceData(ctx context.Context, event *core.RenderRequestedEvent) ([]byte, error) {
	if event.VoiceKey != "" {
		data, err := w.deps.Audio.Download(ctx, event.VoiceKey)
		if err != nil {
			return nil, fmt.Errorf("failed to download voice track for key '%s': %w", event.VoiceKey, err)
		}

		return data, nil
	}

	if w.deps.Speech == nil {
		return nil, fmt.Errorf("%w: no speech synthesizer configured", ErrMissingDependency)
	}

	data, err := w.deps.Speech.Synthesize(ctx, event.VoiceID, event.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize voice %s: %w", event.VoiceID, err)
	}

	return data, nil
}
