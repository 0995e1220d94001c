package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/book-expert/audio-studio/internal/audio"
	"github.com/book-expert/audio-studio/internal/studio"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of decoded library tracks kept in memory.
const DefaultCacheSize = 8

// ErrNoUploadSource indicates an uploaded background without an upload store.
var ErrNoUploadSource = errors.New("no upload store configured")

// Downloader fetches a blob by key.
type Downloader interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// AssetSource returns the encoded bytes of a library asset.
type AssetSource interface {
	Open(ctx context.Context, name string) ([]byte, error)
}

// DirSource reads assets from a local directory.
type DirSource struct {
	Dir string
}

// Open reads name from the directory. Only the base name is used.
func (d DirSource) Open(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.Dir, filepath.Base(name)))
	if err != nil {
		return nil, fmt.Errorf("read library asset %s: %w", name, err)
	}

	return data, nil
}

// StoreSource reads assets from an object store bucket.
type StoreSource struct {
	Store Downloader
}

// Open downloads the asset.
func (s StoreSource) Open(ctx context.Context, name string) ([]byte, error) {
	data, err := s.Store.Download(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("download library asset %s: %w", name, err)
	}

	return data, nil
}

// Loader resolves background selections. Decoded library tracks are cached
// and shared across sessions, so callers must never mutate them. Uploads
// are decoded per request.
type Loader struct {
	assets     AssetSource
	uploads    Downloader
	cache      *lru.Cache[string, *audio.Track]
	sampleRate int

	mu sync.Mutex
}

// NewLoader returns a loader decoding at sampleRate. uploads may be nil.
func NewLoader(assets AssetSource, uploads Downloader, cacheSize, sampleRate int) (*Loader, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	cache, err := lru.New[string, *audio.Track](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create library cache: %w", err)
	}

	return &Loader{assets: assets, uploads: uploads, cache: cache, sampleRate: sampleRate}, nil
}

// LoadBackground resolves either a library track or an upload.
func (l *Loader) LoadBackground(ctx context.Context, selection studio.BackgroundSelection) (*audio.Track, error) {
	validateErr := selection.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	if selection.TrackID != "" {
		return l.LoadTrack(ctx, selection.TrackID)
	}

	if l.uploads == nil {
		return nil, ErrNoUploadSource
	}

	data, err := l.uploads.Download(ctx, selection.UploadKey)
	if err != nil {
		return nil, fmt.Errorf("download uploaded background %s: %w", selection.UploadKey, err)
	}

	return audio.DecodeAt(data, l.sampleRate)
}

// LoadTrack returns the decoded library track, from cache when possible.
func (l *Loader) LoadTrack(ctx context.Context, id string) (*audio.Track, error) {
	track, err := Get(id)
	if err != nil {
		return nil, err
	}

	if cached, ok := l.cache.Get(id); ok {
		return cached, nil
	}

	// One decode per asset at a time; concurrent sessions wait for it.
	l.mu.Lock()
	defer l.mu.Unlock()

	if cached, ok := l.cache.Get(id); ok {
		return cached, nil
	}

	data, err := l.assets.Open(ctx, track.AssetName())
	if err != nil {
		return nil, err
	}

	decoded, err := audio.DecodeAt(data, l.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("decode library track %s: %w", id, err)
	}

	l.cache.Add(id, decoded)

	return decoded, nil
}

// Cached reports how many decoded tracks are held.
func (l *Loader) Cached() int {
	return l.cache.Len()
}
