package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Submission errors.
var (
	ErrConversationIDRequired = errors.New("conversation ID is required")
	ErrEmptyArtifact          = errors.New("encoded audio is empty")
	ErrSubmissionFailed       = errors.New("failed to save audio modification")
)

// BlobStore persists encoded artifacts.
type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// ModificationStore persists modification records.
type ModificationStore interface {
	SaveModification(ctx context.Context, record ModificationRecord) error
}

// ModificationRecord is the persisted result of one save. Records are never
// edited; every save creates a new one.
type ModificationRecord struct {
	ID               string           `json:"id"`
	ConversationID   string           `json:"conversationId"`
	UserID           string           `json:"userId,omitempty"`
	AudioKey         string           `json:"audioFileId"`
	Effects          EffectParameters `json:"effects"`
	BackgroundSound  string           `json:"backgroundSound,omitempty"`
	BackgroundVolume *float64         `json:"backgroundVolume,omitempty"`
	DurationSeconds  float64          `json:"durationSeconds"`
	SizeBytes        int              `json:"sizeBytes"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// Submission is an encoded artifact plus the settings that produced it.
type Submission struct {
	ConversationID  string
	UserID          string
	Blob            []byte
	Effects         EffectParameters
	Background      *BackgroundSelection
	DurationSeconds float64
}

// Receipt identifies the stored artifact.
type Receipt struct {
	ModificationID string    `json:"modificationId"`
	AudioKey       string    `json:"audioKey"`
	AudioURL       string    `json:"audioUrl"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Submitter uploads an artifact and records it. It makes a single attempt;
// retrying is up to the caller. A blob whose record could not be written is
// deleted again, so a failed submission leaves nothing behind.
type Submitter struct {
	blobs     BlobStore
	records   ModificationStore
	urlPrefix string
	now       func() time.Time
}

// NewSubmitter returns a submitter. audioURLPrefix is prepended to the
// object key to form the playable URL in the receipt.
func NewSubmitter(blobs BlobStore, records ModificationStore, audioURLPrefix string) *Submitter {
	return &Submitter{
		blobs:     blobs,
		records:   records,
		urlPrefix: audioURLPrefix,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Check validates the submission without performing any I/O.
func (s *Submitter) Check(sub Submission) error {
	if strings.TrimSpace(sub.ConversationID) == "" {
		return ErrConversationIDRequired
	}

	if len(sub.Blob) == 0 {
		return ErrEmptyArtifact
	}

	if sub.Background != nil {
		return sub.Background.Validate()
	}

	return nil
}

// Submit stores the blob and its record and returns the receipt.
func (s *Submitter) Submit(ctx context.Context, sub Submission) (*Receipt, error) {
	checkErr := s.Check(sub)
	if checkErr != nil {
		return nil, checkErr
	}

	id := uuid.NewString()
	key := "modification-" + id + ".wav"

	err := s.blobs.Upload(ctx, key, sub.Blob)
	if err != nil {
		return nil, fmt.Errorf("%w: upload %s: %w", ErrSubmissionFailed, key, err)
	}

	record := ModificationRecord{
		ID:              id,
		ConversationID:  sub.ConversationID,
		UserID:          sub.UserID,
		AudioKey:        key,
		Effects:         sub.Effects.Clamp(),
		DurationSeconds: sub.DurationSeconds,
		SizeBytes:       len(sub.Blob),
		CreatedAt:       s.now(),
	}

	if sub.Background != nil {
		volume := clamp(sub.Background.VolumePercent, MinPercent, MaxPercent)
		record.BackgroundSound = sub.Background.Reference()
		record.BackgroundVolume = &volume
	}

	err = s.records.SaveModification(ctx, record)
	if err != nil {
		deleteErr := s.blobs.Delete(context.WithoutCancel(ctx), key)
		if deleteErr != nil {
			err = errors.Join(err, fmt.Errorf("remove orphaned %s: %w", key, deleteErr))
		}

		return nil, fmt.Errorf("%w: record %s: %w", ErrSubmissionFailed, id, err)
	}

	return &Receipt{
		ModificationID: id,
		AudioKey:       key,
		AudioURL:       s.urlPrefix + key,
		CreatedAt:      record.CreatedAt,
	}, nil
}
