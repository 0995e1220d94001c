// Package config provides the configuration structure for the audio studio.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/audio-studio/internal/audio"
	"github.com/book-expert/audio-studio/internal/studio"
	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultMidQ               = 0.5
	DefaultOutputGainPercent  = 100
	DefaultLibraryCacheSize   = 8
	DefaultJobTimeoutSeconds  = 120
	DefaultTTSTimeoutSeconds  = 60
	DefaultFFmpegPath         = "ffmpeg"
	DefaultExportQuality      = audio.DEFAULT_BITRATE
	DefaultDatabasePath       = "studio.db"
	DefaultAudioURLPrefix     = "/api/audio/"
	DefaultExportURLPrefix    = "/exports/"
	DefaultLibrarySubject     = "studio.library"
	DefaultExportsBucket      = "STUDIO_EXPORTS"
	DefaultLibraryBucket      = "STUDIO_LIBRARY"
	DefaultAudioBucket        = "STUDIO_AUDIO"
	DefaultRenderSubject      = "studio.render"
	DefaultExportSubject      = "studio.export"
	DefaultSavedSubject       = "studio.modification.saved"
	DefaultExportedSubject    = "studio.export.completed"
	DefaultLogsDir            = "logs"
	DefaultRenderQuantumFrame = studio.DefaultQuantumFrames
)

// Validation errors.
var (
	ErrMissingField      = errors.New("missing required configuration field")
	ErrInvalidSampleRate = errors.New("sample rate must be 44100")
	ErrInvalidValue      = errors.New("invalid configuration value")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                      string `toml:"url"`
	RenderSubject            string `toml:"render_subject"`
	ExportSubject            string `toml:"export_subject"`
	SavedSubject             string `toml:"saved_subject"`
	ExportedSubject          string `toml:"exported_subject"`
	LibrarySubject           string `toml:"library_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
	LibraryObjectStoreBucket string `toml:"library_object_store_bucket"`
	ExportObjectStoreBucket  string `toml:"export_object_store_bucket"`
}

// StudioConfig tunes the signal chain and the render loop.
type StudioConfig struct {
	SampleRate        int     `toml:"sample_rate"`
	Channels          int     `toml:"channels"`
	QuantumFrames     int     `toml:"quantum_frames"`
	MidQ              float64 `toml:"mid_q"`
	BackgroundLoop    bool    `toml:"background_loop"`
	ReverbEnabled     bool    `toml:"reverb_enabled"`
	OutputGainPercent float64 `toml:"output_gain_percent"`
	LibraryCacheSize  int     `toml:"library_cache_size"`
	JobTimeoutSeconds int     `toml:"job_timeout_seconds"`
	AudioURLPrefix    string  `toml:"audio_url_prefix"`
}

// TTSConfig configures the speech synthesis client.
type TTSConfig struct {
	ServiceURL     string `toml:"service_url"`
	APIKey         string `toml:"api_key"`
	ModelID        string `toml:"model_id"`
	DefaultVoice   string `toml:"default_voice"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ExportConfig configures transcoding.
type ExportConfig struct {
	FFmpegPath     string `toml:"ffmpeg_path"`
	DefaultQuality string `toml:"default_quality"`
	ShareBaseURL   string `toml:"share_base_url"`
	DownloadPrefix string `toml:"download_prefix"`
	TempDir        string `toml:"temp_dir"`
}

// StorageConfig locates the record database.
type StorageConfig struct {
	DatabasePath string `toml:"database_path"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	LibraryDir  string `toml:"library_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS    NATSConfig    `toml:"nats"`
	Studio  StudioConfig  `toml:"studio"`
	TTS     TTSConfig     `toml:"tts"`
	Export  ExportConfig  `toml:"export"`
	Storage StorageConfig `toml:"storage"`
	Paths   PathsConfig   `toml:"paths"`
}

// Load loads, defaults, and validates the configuration.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	setString(&c.NATS.RenderSubject, DefaultRenderSubject)
	setString(&c.NATS.ExportSubject, DefaultExportSubject)
	setString(&c.NATS.SavedSubject, DefaultSavedSubject)
	setString(&c.NATS.ExportedSubject, DefaultExportedSubject)
	setString(&c.NATS.LibrarySubject, DefaultLibrarySubject)
	setString(&c.NATS.AudioObjectStoreBucket, DefaultAudioBucket)
	setString(&c.NATS.LibraryObjectStoreBucket, DefaultLibraryBucket)
	setString(&c.NATS.ExportObjectStoreBucket, DefaultExportsBucket)

	setInt(&c.Studio.SampleRate, audio.RenderSampleRate)
	setInt(&c.Studio.Channels, audio.RenderChannels)
	setInt(&c.Studio.QuantumFrames, DefaultRenderQuantumFrame)
	setInt(&c.Studio.LibraryCacheSize, DefaultLibraryCacheSize)
	setInt(&c.Studio.JobTimeoutSeconds, DefaultJobTimeoutSeconds)
	setString(&c.Studio.AudioURLPrefix, DefaultAudioURLPrefix)

	if c.Studio.MidQ == 0 {
		c.Studio.MidQ = DefaultMidQ
	}

	if c.Studio.OutputGainPercent == 0 {
		c.Studio.OutputGainPercent = DefaultOutputGainPercent
	}

	setInt(&c.TTS.TimeoutSeconds, DefaultTTSTimeoutSeconds)

	setString(&c.Export.FFmpegPath, DefaultFFmpegPath)
	setString(&c.Export.DefaultQuality, DefaultExportQuality)
	setString(&c.Export.DownloadPrefix, DefaultExportURLPrefix)

	setString(&c.Storage.DatabasePath, DefaultDatabasePath)
	setString(&c.Paths.BaseLogsDir, DefaultLogsDir)
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	required := []struct{ name, value string }{
		{"nats.url", c.NATS.URL},
		{"nats.render_subject", c.NATS.RenderSubject},
		{"nats.export_subject", c.NATS.ExportSubject},
		{"nats.saved_subject", c.NATS.SavedSubject},
		{"tts.service_url", c.TTS.ServiceURL},
	}

	for _, field := range required {
		if field.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, field.name)
		}
	}

	if c.Studio.SampleRate != audio.RenderSampleRate {
		return fmt.Errorf("%w: got %d", ErrInvalidSampleRate, c.Studio.SampleRate)
	}

	if c.Studio.Channels < 1 || c.Studio.Channels > audio.MaxChannels {
		return fmt.Errorf("%w: studio.channels = %d", ErrInvalidValue, c.Studio.Channels)
	}

	if c.Studio.QuantumFrames < 1 {
		return fmt.Errorf("%w: studio.quantum_frames = %d", ErrInvalidValue, c.Studio.QuantumFrames)
	}

	if c.Studio.MidQ <= 0 {
		return fmt.Errorf("%w: studio.mid_q = %g", ErrInvalidValue, c.Studio.MidQ)
	}

	if c.Studio.OutputGainPercent < 0 || c.Studio.OutputGainPercent > 100*studio.MaxOutputGain {
		return fmt.Errorf("%w: studio.output_gain_percent = %g", ErrInvalidValue, c.Studio.OutputGainPercent)
	}

	_, qualityErr := audio.ParseQuality(c.Export.DefaultQuality, "")
	if qualityErr != nil {
		return fmt.Errorf("%w: export.default_quality: %w", ErrInvalidValue, qualityErr)
	}

	return nil
}

// RenderOptions converts the studio section into renderer options.
func (c *Config) RenderOptions() studio.RenderOptions {
	opts := studio.DefaultRenderOptions()
	opts.Chain.SampleRate = c.Studio.SampleRate
	opts.Chain.Channels = c.Studio.Channels
	opts.Chain.MidQ = c.Studio.MidQ
	opts.Chain.ReverbEnabled = c.Studio.ReverbEnabled
	opts.Chain.OutputGain = c.Studio.OutputGainPercent / 100
	opts.QuantumFrames = c.Studio.QuantumFrames
	opts.LoopBackground = c.Studio.BackgroundLoop

	return opts
}

// JobTimeout is the deadline for one render or export job.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Studio.JobTimeoutSeconds) * time.Second
}

// TTSTimeout is the per-request timeout of the speech client.
func (c *Config) TTSTimeout() time.Duration {
	return time.Duration(c.TTS.TimeoutSeconds) * time.Second
}

func setString(field *string, fallback string) {
	if *field == "" {
		*field = fallback
	}
}

func setInt(field *int, fallback int) {
	if *field == 0 {
		*field = fallback
	}
}
