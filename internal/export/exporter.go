package export

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/book-expert/audio-studio/internal/audio"
	"github.com/book-expert/audio-studio/internal/core"
	"github.com/book-expert/audio-studio/internal/records"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

const (
	defaultTitle   = "podcast"
	sharePathInfix = "/share/"
)

// ErrUserRequired indicates an export without an owner.
var ErrUserRequired = errors.New("user authentication required")

var unsafeTitleChars = regexp.MustCompile(`[^a-z0-9]`)

// Uploader stores exported files.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// Store persists export records.
type Store interface {
	SaveExport(ctx context.Context, record records.ExportRecord) (records.ExportRecord, error)
	UpdateExportStatus(ctx context.Context, id string, update records.ExportUpdate) error
}

// Request describes one export job.
type Request struct {
	UserID         string
	ConversationID string
	ModificationID string
	Title          string
	Format         string
	Quality        string
	WAV            []byte
}

// Result is a finished export.
type Result struct {
	ExportID    string
	Key         string
	Format      audio.Format
	Quality     audio.Quality
	DownloadURL string
	ShareURL    string
}

// Exporter transcodes, stores, and records exports. A failed export never
// touches the WAV it was given.
type Exporter struct {
	transcoder     core.Transcoder
	files          Uploader
	store          Store
	defaultQuality string
	downloadPrefix string
	shareBaseURL   string
	log            *logger.Logger
}

// Settings configures an Exporter.
type Settings struct {
	DefaultQuality string
	DownloadPrefix string
	ShareBaseURL   string
}

// NewExporter wires an Exporter.
func NewExporter(transcoder core.Transcoder, files Uploader, store Store, settings Settings, log *logger.Logger) *Exporter {
	return &Exporter{
		transcoder:     transcoder,
		files:          files,
		store:          store,
		defaultQuality: settings.DefaultQuality,
		downloadPrefix: settings.DownloadPrefix,
		shareBaseURL:   strings.TrimRight(settings.ShareBaseURL, "/"),
		log:            log,
	}
}

// SanitizeTitle lowercases title and replaces everything outside [a-z0-9]
// with underscores.
func SanitizeTitle(title string) string {
	sanitized := unsafeTitleChars.ReplaceAllString(strings.ToLower(title), "_")
	if sanitized == "" {
		return defaultTitle
	}

	return sanitized
}

// FileName is the stored name of an export.
func FileName(title, exportID string, format audio.Format) string {
	return SanitizeTitle(title) + "_" + exportID + "." + format.Extension()
}

// Export runs one job. Validation failures return before any record is
// written; later failures mark the record as errored.
func (e *Exporter) Export(ctx context.Context, req Request) (*Result, error) {
	if len(req.WAV) == 0 {
		return nil, ErrEmptyInput
	}

	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrUserRequired
	}

	format, err := audio.ParseFormat(req.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}

	quality, err := audio.ParseQuality(req.Quality, e.defaultQuality)
	if err != nil {
		return nil, err
	}

	exportID := uuid.NewString()
	key := FileName(req.Title, exportID, format)

	record, err := e.store.SaveExport(ctx, records.ExportRecord{
		ID:             exportID,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		ModificationID: req.ModificationID,
		Title:          req.Title,
		Format:         string(format),
		Quality:        quality.Bitrate,
		Status:         records.StatusProcessing,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record export %s: %w", exportID, err)
	}

	result, err := e.produce(ctx, record, key, format, quality, req.WAV)
	if err != nil {
		e.markFailed(ctx, exportID, err)

		return nil, err
	}

	return result, nil
}

func (e *Exporter) produce(
	ctx context.Context,
	record records.ExportRecord,
	key string,
	format audio.Format,
	quality audio.Quality,
	wav []byte,
) (*Result, error) {
	encoded := wav

	if format != audio.FORMAT_WAV {
		transcoded, err := e.transcoder.Transcode(ctx, wav, format, quality)
		if err != nil {
			return nil, err
		}

		encoded = transcoded
	}

	uploadErr := e.files.Upload(ctx, key, encoded)
	if uploadErr != nil {
		return nil, fmt.Errorf("failed to upload export %s: %w", key, uploadErr)
	}

	result := &Result{
		ExportID:    record.ID,
		Key:         key,
		Format:      format,
		Quality:     quality,
		DownloadURL: e.downloadPrefix + key,
		ShareURL:    e.shareBaseURL + sharePathInfix + record.ID,
	}

	updateErr := e.store.UpdateExportStatus(ctx, record.ID, records.ExportUpdate{
		Status:      records.StatusCompleted,
		FileKey:     key,
		DownloadURL: result.DownloadURL,
		ShareURL:    result.ShareURL,
	})
	if updateErr != nil {
		return nil, fmt.Errorf("failed to complete export %s: %w", record.ID, updateErr)
	}

	e.log.Info("Export %s stored as %s (%s, %s)", record.ID, key, format, quality.Bitrate)

	return result, nil
}

func (e *Exporter) markFailed(ctx context.Context, exportID string, cause error) {
	e.log.Error("Export %s failed: %v", exportID, cause)

	updateErr := e.store.UpdateExportStatus(context.WithoutCancel(ctx), exportID, records.ExportUpdate{
		Status: records.StatusError,
		Error:  cause.Error(),
	})
	if updateErr != nil {
		e.log.Warn("Failed to mark export %s as errored: %v", exportID, updateErr)
	}
}
