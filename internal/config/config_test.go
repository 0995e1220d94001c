// Package config_test tests the configuration loading for the audio studio.
package config_test

import (
	"testing"
	"time"

	"github.com/book-expert/audio-studio/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
[nats]
url = "nats://127.0.0.1:4222"
render_subject = "podcast.render"
export_subject = "podcast.export"
saved_subject = "podcast.saved"
library_subject = "podcast.library"
audio_object_store_bucket = "PODCAST_AUDIO"
library_object_store_bucket = "PODCAST_LIBRARY"

[studio]
sample_rate = 44100
channels = 2
quantum_frames = 256
mid_q = 0.7
background_loop = true
reverb_enabled = true
output_gain_percent = 80
job_timeout_seconds = 45

[tts]
service_url = "https://api.elevenlabs.io"
api_key = "secret"
timeout_seconds = 30

[export]
ffmpeg_path = "/usr/bin/ffmpeg"
default_quality = "256k"
share_base_url = "https://podcasts.example"

[storage]
database_path = "/var/lib/studio/records.db"

[paths]
base_logs_dir = "/var/log/studio"
library_dir = "public/audio/background"
`

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	err := toml.Unmarshal([]byte(fullConfig), &cfg)
	require.NoError(t, err)

	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "podcast.render", cfg.NATS.RenderSubject)
	assert.Equal(t, config.DefaultExportedSubject, cfg.NATS.ExportedSubject)
	assert.Equal(t, "PODCAST_LIBRARY", cfg.NATS.LibraryObjectStoreBucket)
	assert.Equal(t, 256, cfg.Studio.QuantumFrames)
	assert.True(t, cfg.Studio.BackgroundLoop)
	assert.Equal(t, "secret", cfg.TTS.APIKey)
	assert.Equal(t, "/var/lib/studio/records.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "public/audio/background", cfg.Paths.LibraryDir)
	assert.Equal(t, 45*time.Second, cfg.JobTimeout())
	assert.Equal(t, 30*time.Second, cfg.TTSTimeout())

	opts := cfg.RenderOptions()
	assert.Equal(t, 256, opts.QuantumFrames)
	assert.True(t, opts.LoopBackground)
	assert.True(t, opts.Chain.ReverbEnabled)
	assert.InDelta(t, 0.7, opts.Chain.MidQ, 0)
	assert.InDelta(t, 0.8, opts.Chain.OutputGain, 1e-12)
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.TTS.ServiceURL = "http://localhost:8000"
	cfg.ApplyDefaults()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.DefaultRenderSubject, cfg.NATS.RenderSubject)
	assert.Equal(t, 44100, cfg.Studio.SampleRate)
	assert.Equal(t, 2, cfg.Studio.Channels)
	assert.Equal(t, 128, cfg.Studio.QuantumFrames)
	assert.Equal(t, "192k", cfg.Export.DefaultQuality)
	assert.Equal(t, "ffmpeg", cfg.Export.FFmpegPath)
	assert.False(t, cfg.Studio.BackgroundLoop)
	assert.InDelta(t, 1.0, cfg.RenderOptions().Chain.OutputGain, 0)
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	valid := func() config.Config {
		cfg := config.Config{}
		cfg.NATS.URL = "nats://localhost:4222"
		cfg.TTS.ServiceURL = "http://localhost:8000"
		cfg.ApplyDefaults()

		return cfg
	}

	missing := valid()
	missing.NATS.URL = ""
	require.ErrorIs(t, missing.Validate(), config.ErrMissingField)

	noTTS := valid()
	noTTS.TTS.ServiceURL = ""
	require.ErrorIs(t, noTTS.Validate(), config.ErrMissingField)

	rate := valid()
	rate.Studio.SampleRate = 48000
	require.ErrorIs(t, rate.Validate(), config.ErrInvalidSampleRate)

	gain := valid()
	gain.Studio.OutputGainPercent = 500
	require.ErrorIs(t, gain.Validate(), config.ErrInvalidValue)

	quality := valid()
	quality.Export.DefaultQuality = "lossless"
	require.ErrorIs(t, quality.Validate(), config.ErrInvalidValue)
}
