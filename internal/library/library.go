// Package library holds the fixed catalogue of background music tracks and
// the loader that resolves background selections into decoded audio.
package library

import (
	"errors"
	"fmt"
	"path"
	"slices"
)

// CategoryAll matches every track in ByCategory.
const CategoryAll = "all"

// ErrTrackNotFound indicates an unknown library track ID.
var ErrTrackNotFound = errors.New("background track not found")

// Track is one catalogue entry. URL is the public path; the asset is stored
// under its base name.
type Track struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	URL      string `json:"url"`
}

// AssetName is the object or file name the audio is stored under.
func (t Track) AssetName() string {
	return path.Base(t.URL)
}

var catalogue = []Track{
	{ID: "1", Name: "Instrumental", Category: "instrumental", URL: "/audio/background/background-music-instrumental-207886.mp3"},
	{ID: "2", Name: "Soft Piano", Category: "ambient", URL: "/audio/background/soft-piano-music-312509.mp3"},
	{ID: "3", Name: "Technology", Category: "ambient", URL: "/audio/background/this-minimal-technology_pure-12327.mp3"},
	{ID: "4", Name: "Lofi", Category: "ambient", URL: "/audio/background/lofi-ambiant-187409.mp3"},
	{ID: "5", Name: "Underwater", Category: "ambient", URL: "/audio/background/under-water-softness-186421.mp3"},
	{ID: "6", Name: "Advertising-music", Category: "ambient", URL: "/audio/background/architect-tech-corporate-advertising-music-247324.mp3"},
	{ID: "7", Name: "Penguin", Category: "ambient", URL: "/audio/background/penguinmusic-modern-chillout-future-calm-12641.mp3"},
}

// All returns a copy of the catalogue in display order.
func All() []Track {
	return slices.Clone(catalogue)
}

// Get looks a track up by ID.
func Get(id string) (Track, error) {
	for _, t := range catalogue {
		if t.ID == id {
			return t, nil
		}
	}

	return Track{}, fmt.Errorf("%w: %q", ErrTrackNotFound, id)
}

// ByCategory filters the catalogue. CategoryAll or an empty category
// returns everything.
func ByCategory(category string) []Track {
	if category == "" || category == CategoryAll {
		return All()
	}

	var out []Track

	for _, t := range catalogue {
		if t.Category == category {
			out = append(out, t)
		}
	}

	return out
}

// Categories lists the distinct categories, sorted.
func Categories() []string {
	var out []string

	for _, t := range catalogue {
		if !slices.Contains(out, t.Category) {
			out = append(out, t.Category)
		}
	}

	slices.Sort(out)

	return out
}
