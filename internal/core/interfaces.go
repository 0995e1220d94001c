// Package core defines the collaborator interfaces and NATS event payloads of
// the audio studio service.
package core

import (
	"context"
	"errors"
	"strings"

	"github.com/book-expert/audio-studio/internal/audio"
	"github.com/book-expert/audio-studio/internal/library"
	"github.com/book-expert/audio-studio/internal/studio"
	"github.com/book-expert/events"
)

// Event validation errors.
var (
	ErrVoiceSourceRequired  = errors.New("either voiceKey or voiceId and text are required")
	ErrExportSourceRequired = errors.New("either modificationId or audioKey is required")
	ErrUserRequired         = errors.New("user authentication required")
)

// ObjectStore is a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// SpeechSynthesizer turns text into an encoded voice track.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, voiceID, text string) ([]byte, error)
}

// Transcoder converts a WAV blob into a distribution format.
type Transcoder interface {
	Transcode(ctx context.Context, wav []byte, format audio.Format, quality audio.Quality) ([]byte, error)
}

// ErrorResponse is the structured error payload sent as a reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RenderRequestedEvent asks for a voice track to be mixed and saved as a
// modification of a conversation. The voice comes either from an
// already-stored blob or from the speech synthesizer.
type RenderRequestedEvent struct {
	Header             events.EventHeader          `json:"header"`
	ConversationID     string                      `json:"conversationId"`
	VoiceKey           string                      `json:"voiceKey,omitempty"`
	VoiceID            string                      `json:"voiceId,omitempty"`
	Text               string                      `json:"text,omitempty"`
	Effects            studio.EffectParameters     `json:"effects"`
	VoiceVolumePercent *float64                    `json:"voiceVolume,omitempty"`
	Background         *studio.BackgroundSelection `json:"background,omitempty"`
}

// Validate checks the voice source. A missing conversation ID is reported
// with studio.ErrConversationIDRequired by the caller.
func (e *RenderRequestedEvent) Validate() error {
	if e.VoiceKey != "" {
		return nil
	}

	if strings.TrimSpace(e.VoiceID) == "" || strings.TrimSpace(e.Text) == "" {
		return ErrVoiceSourceRequired
	}

	return nil
}

// ModificationSavedEvent reports a persisted modification.
type ModificationSavedEvent struct {
	Header          events.EventHeader      `json:"header"`
	ModificationID  string                  `json:"modificationId"`
	ConversationID  string                  `json:"conversationId"`
	AudioKey        string                  `json:"audioKey"`
	AudioURL        string                  `json:"audioUrl"`
	Effects         studio.EffectParameters `json:"effects"`
	BackgroundSound string                  `json:"backgroundSound,omitempty"`
	DurationSeconds float64                 `json:"durationSeconds"`
}

// ExportRequestedEvent asks for a saved mix to be transcoded.
type ExportRequestedEvent struct {
	Header         events.EventHeader `json:"header"`
	ModificationID string             `json:"modificationId,omitempty"`
	AudioKey       string             `json:"audioKey,omitempty"`
	Format         string             `json:"format"`
	Quality        string             `json:"quality,omitempty"`
	Title          string             `json:"title"`
}

// Validate checks the source and the requesting user.
func (e *ExportRequestedEvent) Validate() error {
	if e.ModificationID == "" && e.AudioKey == "" {
		return ErrExportSourceRequired
	}

	if strings.TrimSpace(e.Header.UserID) == "" {
		return ErrUserRequired
	}

	return nil
}

// ExportCompletedEvent reports a finished export.
type ExportCompletedEvent struct {
	Header      events.EventHeader `json:"header"`
	ExportID    string             `json:"exportId"`
	Key         string             `json:"key"`
	Format      string             `json:"format"`
	Quality     string             `json:"quality"`
	DownloadURL string             `json:"downloadUrl"`
	ShareURL    string             `json:"shareUrl"`
}

// LibraryListing is the reply to a library request.
type LibraryListing struct {
	Category   string          `json:"category"`
	Categories []string        `json:"categories"`
	Tracks     []library.Track `json:"tracks"`
}

// LibraryRequest filters the library listing.
type LibraryRequest struct {
	Category string `json:"category,omitempty"`
}
