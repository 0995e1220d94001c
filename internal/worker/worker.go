// Package worker provides the NATS front door of the audio studio: render,
// export and library requests arrive as messages and are answered with
// reply events.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/audio-studio/internal/core"
	"github.com/book-expert/audio-studio/internal/export"
	"github.com/book-expert/audio-studio/internal/studio"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

const handleMessageTimeout = 30 * time.Second

var (
	// ErrMissingDependency indicates a worker built without a collaborator.
	ErrMissingDependency = errors.New("worker dependency missing")
	// ErrAlreadyStarted indicates a second Start call.
	ErrAlreadyStarted = errors.New("worker already started")
)

// ModificationLookup resolves saved modifications for export.
type ModificationLookup interface {
	GetModification(ctx context.Context, id string) (studio.ModificationRecord, error)
}

// Subjects names every subject the worker uses. Saved and Exported are
// publish-only; empty Library disables the library responder.
type Subjects struct {
	Render   string
	Export   string
	Saved    string
	Exported string
	Library  string
}

// Dependencies are the collaborators behind the handlers.
type Dependencies struct {
	Audio         core.ObjectStore
	Speech        core.SpeechSynthesizer
	Renderer      *studio.Renderer
	Submitter     *studio.Submitter
	Backgrounds   studio.BackgroundSource
	Exporter      *export.Exporter
	Modifications ModificationLookup
}

// NatsWorker listens for studio jobs on NATS subjects and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	deps           Dependencies
	timeout        time.Duration
	log            *logger.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNatsWorker creates a new instance of a NATS worker. A zero timeout
// uses the default per-message deadline.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	deps Dependencies,
	timeout time.Duration,
	log *logger.Logger,
) (*NatsWorker, error) {
	if natsConnection == nil || log == nil {
		return nil, fmt.Errorf("%w: nats connection and logger are required", ErrMissingDependency)
	}

	if deps.Audio == nil || deps.Renderer == nil || deps.Submitter == nil {
		return nil, fmt.Errorf("%w: audio store, renderer and submitter are required", ErrMissingDependency)
	}

	if timeout <= 0 {
		timeout = handleMessageTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		deps:           deps,
		timeout:        timeout,
		log:            log,
	}, nil
}

// Start subscribes every configured subject. Run calls it when needed.
func (w *NatsWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.subs != nil {
		return ErrAlreadyStarted
	}

	handlers := []struct {
		subject string
		handle  nats.MsgHandler
	}{
		{w.subjects.Render, w.handleRender},
		{w.subjects.Export, w.handleExport},
		{w.subjects.Library, w.handleLibrary},
	}

	subs := make([]*nats.Subscription, 0, len(handlers))

	for _, h := range handlers {
		if h.subject == "" {
			continue
		}

		sub, err := w.natsConnection.Subscribe(h.subject, h.handle)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}

			return fmt.Errorf("failed to subscribe to subject %s: %w", h.subject, err)
		}

		subs = append(subs, sub)
	}

	flushErr := w.natsConnection.Flush()
	if flushErr != nil {
		return fmt.Errorf("failed to flush subscriptions: %w", flushErr)
	}

	w.subs = subs
	w.log.Info("Worker listening on render=%q export=%q library=%q",
		w.subjects.Render, w.subjects.Export, w.subjects.Library)

	return nil
}

// Run starts the worker if needed and serves until ctx is done, then drains.
func (w *NatsWorker) Run(ctx context.Context) error {
	w.mu.Lock()
	started := w.subs != nil
	w.mu.Unlock()

	if !started {
		startErr := w.Start()
		if startErr != nil {
			return startErr
		}
	}

	<-ctx.Done()

	w.mu.Lock()
	subs := w.subs
	w.mu.Unlock()

	for _, sub := range subs {
		drainErr := sub.Drain()
		if drainErr != nil {
			return fmt.Errorf("failed to drain subscription %s: %w", sub.Subject, drainErr)
		}
	}

	return nil
}

// respond marshals and sends a reply when the message expects one.
func (w *NatsWorker) respond(msg *nats.Msg, payload any) error {
	if msg.Reply == "" {
		return nil
	}

	replyData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

// publish announces an event on a fan-out subject.
func (w *NatsWorker) publish(subject string, payload any) error {
	if subject == "" {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", subject, err)
	}

	err = w.natsConnection.Publish(subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish event on %s: %w", subject, err)
	}

	return nil
}

// replyError sends the structured {error} payload.
func (w *NatsWorker) replyError(msg *nats.Msg, cause error) {
	err := w.respond(msg, core.ErrorResponse{Error: cause.Error()})
	if err != nil {
		w.log.Error("Failed to send error reply on %s: %v", msg.Subject, err)
	}
}

func parseEvent[T any](msg *nats.Msg) (*T, error) {
	var event T

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}
