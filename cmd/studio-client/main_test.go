package main

import (
	"bytes"
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/audio-studio/internal/audio"
	"github.com/book-expert/audio-studio/internal/library"
	"github.com/book-expert/audio-studio/internal/studio"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	lg, err := logger.New(t.TempDir(), "client-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lg.Close() })

	return lg
}

// writeSine writes a stereo 44.1 kHz sine WAV and returns its path.
func writeSine(t *testing.T, dir, name string, freq, seconds float64) string {
	t.Helper()

	frames := int(seconds * audio.RenderSampleRate)
	track := audio.NewTrack(audio.RenderChannels, frames, audio.RenderSampleRate)

	for i := range frames {
		v := 0.5 * math.Sin(2*math.Pi*freq*float64(i)/audio.RenderSampleRate)
		track.Channels[0][i] = v
		track.Channels[1][i] = v
	}

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, audio.EncodeWAV(track), 0o600))

	return path
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr error
		check   func(t *testing.T, flags appFlags)
	}{
		{
			name: "defaults",
			args: []string{"--voice", "voice.wav"},
			check: func(t *testing.T, flags appFlags) {
				t.Helper()
				assert.Equal(t, "voice.wav", flags.voice)
				assert.Equal(t, studio.DefaultEffectParameters(), flags.params)
				assert.InDelta(t, defaultVoiceVolume, flags.voiceVolume, 0)
				assert.Equal(t, string(audio.FORMAT_WAV), flags.format)
				assert.Equal(t, audio.DEFAULT_BITRATE, flags.quality)
				assert.InDelta(t, spectrumDisabled, flags.spectrum, 0)
			},
		},
		{
			name: "effect settings",
			args: []string{
				"--voice", "voice.mp3", "--low", "3", "--mid", "-2",
				"--high", "6", "--compression", "40", "--reverb", "10",
			},
			check: func(t *testing.T, flags appFlags) {
				t.Helper()
				assert.Equal(t, studio.EffectParameters{Low: 3, Mid: -2, High: 6, Compression: 40, Reverb: 10}, flags.params)
			},
		},
		{
			name: "library background",
			args: []string{"--voice", "v.wav", "--background", "2", "--background-volume", "55"},
			check: func(t *testing.T, flags appFlags) {
				t.Helper()
				assert.Equal(t, "2", flags.background)
				assert.InDelta(t, 55.0, flags.backgroundVolume, 0)
			},
		},
		{
			name: "health needs no voice",
			args: []string{"--health"},
			check: func(t *testing.T, flags appFlags) {
				t.Helper()
				assert.True(t, flags.health)
			},
		},
		{name: "missing voice", args: []string{}, wantErr: errUsage},
		{
			name:    "both backgrounds",
			args:    []string{"--voice", "v.wav", "--background", "1", "--background-file", "b.wav"},
			wantErr: errUsage,
		},
		{name: "unknown library track", args: []string{"--voice", "v.wav", "--background", "99"}, wantErr: library.ErrTrackNotFound},
		{name: "bad format", args: []string{"--voice", "v.wav", "--format", "flac"}, wantErr: audio.ErrInvalidFormat},
		{name: "bad quality", args: []string{"--voice", "v.wav", "--quality", "lossless"}, wantErr: audio.ErrInvalidQuality},
		{name: "negative spectrum", args: []string{"--voice", "v.wav", "--spectrum", "-3"}, wantErr: errUsage},
		{name: "unknown flag", args: []string{"--text", "hello"}, wantErr: errUsage},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			flags, err := parseFlags(testCase.args)
			if testCase.wantErr != nil {
				require.ErrorIs(t, err, testCase.wantErr)

				return
			}

			require.NoError(t, err)
			testCase.check(t, flags)
		})
	}
}

func TestBackgroundSelection(t *testing.T) {
	t.Parallel()

	assert.Nil(t, backgroundSelection(appFlags{}))

	lib := backgroundSelection(appFlags{background: "3", backgroundVolume: 20})
	require.NotNil(t, lib)
	assert.Equal(t, studio.BackgroundSelection{TrackID: "3", VolumePercent: 20}, *lib)

	upload := backgroundSelection(appFlags{backgroundFile: "/tmp/bed.wav", backgroundVolume: 40})
	require.NotNil(t, upload)
	assert.Equal(t, studio.BackgroundSelection{UploadKey: "/tmp/bed.wav", VolumePercent: 40}, *upload)
}

func TestOutputPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/tmp/take1_studio.wav", outputPath(appFlags{voice: "/tmp/take1.mp3"}, audio.FORMAT_WAV))
	assert.Equal(t, "/tmp/take1_studio.m4a", outputPath(appFlags{voice: "/tmp/take1.wav"}, audio.FORMAT_AAC))
	assert.Equal(t, "mix.mp3", outputPath(appFlags{voice: "take1.wav", output: "mix.mp3"}, audio.FORMAT_MP3))
}

func TestHandleRenderWritesWAV(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	voice := writeSine(t, dir, "voice.wav", 440, 0.5)
	bed := writeSine(t, dir, "bed.wav", 110, 0.2)
	out := filepath.Join(dir, "mix.wav")

	flags, err := parseFlags([]string{
		"--voice", voice, "--out", out, "--compression", "50",
		"--background-file", bed, "--background-volume", "50", "--loop",
	})
	require.NoError(t, err)

	var stdout bytes.Buffer
	require.NoError(t, handleRender(context.Background(), flags, newTestLogger(t), &stdout))
	assert.Contains(t, stdout.String(), out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	mix, err := audio.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, audio.RenderChannels, mix.NumChannels())
	assert.Equal(t, audio.RenderSampleRate/2, mix.Frames())
}

func TestHandleRenderRejectsUndecodableVoice(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	voice := filepath.Join(dir, "voice.wav")
	require.NoError(t, os.WriteFile(voice, []byte("not audio"), 0o600))

	flags, err := parseFlags([]string{"--voice", voice, "--out", filepath.Join(dir, "mix.wav")})
	require.NoError(t, err)

	var stdout bytes.Buffer
	err = handleRender(context.Background(), flags, newTestLogger(t), &stdout)
	require.ErrorIs(t, err, studio.ErrDecodeFailed)

	_, statErr := os.Stat(filepath.Join(dir, "mix.wav"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestHandleRenderPrintsSpectrum(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	voice := writeSine(t, dir, "voice.wav", 1000, 0.5)

	flags, err := parseFlags([]string{"--voice", voice, "--out", filepath.Join(dir, "mix.wav"), "--spectrum", "0.25"})
	require.NoError(t, err)

	var stdout bytes.Buffer
	require.NoError(t, handleRender(context.Background(), flags, newTestLogger(t), &stdout))
	assert.Contains(t, stdout.String(), " Hz ")
	assert.Contains(t, stdout.String(), "#")
}

func TestHandleRenderSpectrumBeyondTrack(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	voice := writeSine(t, dir, "voice.wav", 1000, 0.1)

	flags, err := parseFlags([]string{"--voice", voice, "--out", filepath.Join(dir, "mix.wav"), "--spectrum", "5"})
	require.NoError(t, err)

	var stdout bytes.Buffer
	err = handleRender(context.Background(), flags, newTestLogger(t), &stdout)
	require.ErrorIs(t, err, errOutOfRange)
}

func TestHandleHealthCheck(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(healthy.Close)

	var stdout bytes.Buffer
	require.NoError(t, handleHealthCheck(context.Background(), healthy.URL, newTestLogger(t), &stdout))
	assert.Contains(t, stdout.String(), msgServiceHealthy)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(broken.Close)

	stdout.Reset()
	require.Error(t, handleHealthCheck(context.Background(), broken.URL, newTestLogger(t), &stdout))
	assert.Contains(t, stdout.String(), "not healthy")
}
