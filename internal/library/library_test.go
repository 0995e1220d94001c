package library_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/audio-studio/internal/audio"
	"github.com/book-expert/audio-studio/internal/library"
	"github.com/book-expert/audio-studio/internal/studio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	inner library.AssetSource
	opens int
}

func (c *countingSource) Open(ctx context.Context, name string) ([]byte, error) {
	c.opens++

	return c.inner.Open(ctx, name)
}

type mapDownloader map[string][]byte

func (m mapDownloader) Download(_ context.Context, key string) ([]byte, error) {
	data, ok := m[key]
	if !ok {
		return nil, errors.New("no such key")
	}

	return data, nil
}

func writeAsset(t *testing.T, dir string, track library.Track, frames, rate int) {
	t.Helper()

	blob := audio.EncodeWAV(audio.NewTrack(2, frames, rate))
	require.NoError(t, os.WriteFile(filepath.Join(dir, track.AssetName()), blob, 0o600))
}

func TestCatalogue(t *testing.T) {
	t.Parallel()

	all := library.All()
	require.Len(t, all, 7)
	assert.Equal(t, "Instrumental", all[0].Name)

	penguin, err := library.Get("7")
	require.NoError(t, err)
	assert.Equal(t, "penguinmusic-modern-chillout-future-calm-12641.mp3", penguin.AssetName())

	_, err = library.Get("99")
	require.ErrorIs(t, err, library.ErrTrackNotFound)

	assert.Len(t, library.ByCategory("ambient"), 6)
	assert.Len(t, library.ByCategory(library.CategoryAll), 7)
	assert.Empty(t, library.ByCategory("jazz"))
	assert.Equal(t, []string{"ambient", "instrumental"}, library.Categories())

	all[0].Name = "mutated"
	first, err := library.Get("1")
	require.NoError(t, err)
	assert.Equal(t, "Instrumental", first.Name)
}

func TestLoaderCachesDecodedTracks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	track, err := library.Get("2")
	require.NoError(t, err)
	writeAsset(t, dir, track, 2205, 22050)

	source := &countingSource{inner: library.DirSource{Dir: dir}}
	loader, err := library.NewLoader(source, nil, 2, audio.RenderSampleRate)
	require.NoError(t, err)

	first, err := loader.LoadTrack(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, audio.RenderSampleRate, first.SampleRate)
	assert.Equal(t, 4410, first.Frames())

	second, err := loader.LoadBackground(context.Background(), studio.BackgroundSelection{TrackID: "2", VolumePercent: 40})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, source.opens)
	assert.Equal(t, 1, loader.Cached())
}

func TestLoaderResolvesUploads(t *testing.T) {
	t.Parallel()

	uploads := mapDownloader{"upload-1.wav": audio.EncodeWAV(audio.NewTrack(1, 441, 44100))}
	loader, err := library.NewLoader(library.DirSource{Dir: t.TempDir()}, uploads, 0, audio.RenderSampleRate)
	require.NoError(t, err)

	track, err := loader.LoadBackground(context.Background(), studio.BackgroundSelection{UploadKey: "upload-1.wav"})
	require.NoError(t, err)
	assert.Equal(t, 441, track.Frames())
	assert.Equal(t, 0, loader.Cached())

	_, err = loader.LoadBackground(context.Background(), studio.BackgroundSelection{UploadKey: "missing"})
	require.Error(t, err)
}

func TestLoaderErrors(t *testing.T) {
	t.Parallel()

	loader, err := library.NewLoader(library.DirSource{Dir: t.TempDir()}, nil, 1, audio.RenderSampleRate)
	require.NoError(t, err)

	_, err = loader.LoadTrack(context.Background(), "nope")
	require.ErrorIs(t, err, library.ErrTrackNotFound)

	_, err = loader.LoadTrack(context.Background(), "3")
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = loader.LoadBackground(context.Background(), studio.BackgroundSelection{UploadKey: "x"})
	require.ErrorIs(t, err, library.ErrNoUploadSource)

	_, err = loader.LoadBackground(context.Background(), studio.BackgroundSelection{})
	require.ErrorIs(t, err, studio.ErrInvalidBackground)
}
