package export_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/book-expert/audio-studio/internal/audio"
	"github.com/book-expert/audio-studio/internal/export"
	"github.com/book-expert/audio-studio/internal/records"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	lg, err := logger.New(t.TempDir(), "export-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = lg.Close() })

	return lg
}

// fakeFFmpeg writes a shell script that copies its input (argument 3) to its
// output (the last argument), prefixed with the codec name.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o700))

	return path
}

const copyScript = `for last; do :; done
printf '%s:' "$5" > "$last"
cat "$3" >> "$last"`

func TestArgs(t *testing.T) {
	t.Parallel()

	args, err := export.Args("in.wav", "out.mp3", audio.FORMAT_MP3, audio.Quality{Bitrate: "320k"})
	require.NoError(t, err)
	assert.Equal(t, []string{"-y", "-i", "in.wav", "-c:a", "libmp3lame", "-b:a", "320k", "out.mp3"}, args)

	args, err = export.Args("in.wav", "out.mp4", audio.FORMAT_MP4, audio.Quality{Bitrate: "128k"})
	require.NoError(t, err)
	assert.Equal(t, "aac", args[4])

	_, err = export.Args("in.wav", "out.wav", audio.FORMAT_WAV, audio.Quality{Bitrate: "128k"})
	require.ErrorIs(t, err, export.ErrUnsupportedFormat)
}

func TestSanitizeTitle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "my_first_episode_", export.SanitizeTitle("My First Episode!"))
	assert.Equal(t, "podcast", export.SanitizeTitle(""))
	assert.Equal(t, "ep_1_abc.m4a", export.FileName("Ep 1", "abc", audio.FORMAT_AAC))
}

func TestFFmpegTranscoder_RunsBinary(t *testing.T) {
	binary := fakeFFmpeg(t, copyScript)
	transcoder := export.NewFFmpegTranscoder(binary, t.TempDir(), newTestLogger(t))

	out, err := transcoder.Transcode(context.Background(), []byte("RIFFdata"), audio.FORMAT_MP3, audio.Quality{Bitrate: "192k"})
	require.NoError(t, err)
	assert.Equal(t, "libmp3lame:RIFFdata", string(out))
}

func TestFFmpegTranscoder_Failures(t *testing.T) {
	lg := newTestLogger(t)
	failing := export.NewFFmpegTranscoder(fakeFFmpeg(t, "echo broken >&2; exit 1"), t.TempDir(), lg)

	_, err := failing.Transcode(context.Background(), []byte("RIFF"), audio.FORMAT_AAC, audio.Quality{Bitrate: "192k"})
	require.ErrorIs(t, err, export.ErrTranscodeFailed)
	assert.Contains(t, err.Error(), "broken")

	silent := export.NewFFmpegTranscoder(fakeFFmpeg(t, "exit 0"), t.TempDir(), lg)
	_, err = silent.Transcode(context.Background(), []byte("RIFF"), audio.FORMAT_MP3, audio.Quality{Bitrate: "192k"})
	require.ErrorIs(t, err, export.ErrTranscodeFailed)

	_, err = silent.Transcode(context.Background(), nil, audio.FORMAT_MP3, audio.Quality{Bitrate: "192k"})
	require.ErrorIs(t, err, export.ErrEmptyInput)

	_, err = silent.Transcode(context.Background(), []byte("RIFF"), audio.FORMAT_MP3, audio.Quality{Bitrate: "fast"})
	require.ErrorIs(t, err, audio.ErrInvalidQuality)
}

type fakeTranscoder struct {
	err   error
	calls int
}

func (f *fakeTranscoder) Transcode(_ context.Context, wav []byte, format audio.Format, quality audio.Quality) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	return append([]byte(string(format)+"@"+quality.Bitrate+":"), wav...), nil
}

type memoryFiles struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memoryFiles) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.files == nil {
		m.files = make(map[string][]byte)
	}

	m.files[key] = data

	return nil
}

func newExporter(t *testing.T, transcoder *fakeTranscoder) (*export.Exporter, *memoryFiles, *records.Repository) {
	t.Helper()

	repo, err := records.Open(context.Background(), records.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	files := &memoryFiles{}
	exporter := export.NewExporter(transcoder, files, repo, export.Settings{
		DefaultQuality: "192k",
		DownloadPrefix: "/exports/",
		ShareBaseURL:   "https://podcasts.example/",
	}, newTestLogger(t))

	return exporter, files, repo
}

func TestExporter_CompletesAndRecords(t *testing.T) {
	t.Parallel()

	transcoder := &fakeTranscoder{}
	exporter, files, repo := newExporter(t, transcoder)
	wav := audio.EncodeWAV(audio.NewTrack(2, 10, audio.RenderSampleRate))

	result, err := exporter.Export(context.Background(), export.Request{
		UserID: "user-1", ModificationID: "mod-1", Title: "Episode 7", Format: "MP3", Quality: "high", WAV: wav,
	})
	require.NoError(t, err)

	assert.Equal(t, audio.FORMAT_MP3, result.Format)
	assert.Equal(t, "320k", result.Quality.Bitrate)
	assert.Equal(t, "episode_7_"+result.ExportID+".mp3", result.Key)
	assert.Equal(t, "/exports/"+result.Key, result.DownloadURL)
	assert.Equal(t, "https://podcasts.example/share/"+result.ExportID, result.ShareURL)
	assert.Equal(t, append([]byte("mp3@320k:"), wav...), files.files[result.Key])

	record, err := repo.GetExport(context.Background(), result.ExportID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusCompleted, record.Status)
	assert.Equal(t, result.DownloadURL, record.DownloadURL)
	assert.Equal(t, "mod-1", record.ModificationID)
}

func TestExporter_WAVSkipsTranscoding(t *testing.T) {
	t.Parallel()

	transcoder := &fakeTranscoder{}
	exporter, files, _ := newExporter(t, transcoder)

	result, err := exporter.Export(context.Background(), export.Request{
		UserID: "user-1", Title: "raw", Format: "wav", WAV: []byte("RIFF"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, transcoder.calls)
	assert.Equal(t, "192k", result.Quality.Bitrate)
	assert.Equal(t, []byte("RIFF"), files.files[result.Key])
}

func TestExporter_FailureLeavesInputUntouched(t *testing.T) {
	t.Parallel()

	transcoder := &fakeTranscoder{err: errors.New("encoder crashed")}
	exporter, files, _ := newExporter(t, transcoder)
	wav := []byte("RIFF-original")

	_, err := exporter.Export(context.Background(), export.Request{
		UserID: "user-1", Title: "x", Format: "aac", WAV: wav,
	})
	require.Error(t, err)
	assert.Equal(t, []byte("RIFF-original"), wav)
	assert.Empty(t, files.files)
}

func TestExporter_RejectsBeforeWork(t *testing.T) {
	t.Parallel()

	transcoder := &fakeTranscoder{}
	exporter, _, _ := newExporter(t, transcoder)
	ctx := context.Background()

	_, err := exporter.Export(ctx, export.Request{UserID: "u", Format: "mp3"})
	require.ErrorIs(t, err, export.ErrEmptyInput)

	_, err = exporter.Export(ctx, export.Request{Format: "mp3", WAV: []byte{1}})
	require.ErrorIs(t, err, export.ErrUserRequired)

	_, err = exporter.Export(ctx, export.Request{UserID: "u", Format: "ogg", WAV: []byte{1}})
	require.ErrorIs(t, err, export.ErrUnsupportedFormat)

	_, err = exporter.Export(ctx, export.Request{UserID: "u", Format: "mp3", Quality: "loud", WAV: []byte{1}})
	require.ErrorIs(t, err, audio.ErrInvalidQuality)

	assert.Equal(t, 0, transcoder.calls)
}
