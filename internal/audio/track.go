// Package audio provides decoded audio tracks, the PCM WAV container codec
// and the export format and quality settings shared by the studio.
package audio

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/audio-studio/internal/dsp"
)

// Constants for the studio's fixed output shape.
const (
	RenderSampleRate = 44100
	RenderChannels   = 2
	PCMBitDepth      = 16
)

// Constants for track validation limits.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
)

// Common errors for the audio package.
var (
	ErrInvalidTrack = errors.New("invalid track")
	ErrEmptyTrack   = errors.New("track has no samples")
)

// Track is a decoded signal: one float sample slice per channel, normalized
// to [-1, 1], all of equal length.
type Track struct {
	Channels   [][]float64
	SampleRate int
}

// NewTrack allocates a silent track of the given shape.
func NewTrack(channels, frames, sampleRate int) *Track {
	data := make([][]float64, channels)
	for i := range data {
		data[i] = make([]float64, frames)
	}

	return &Track{Channels: data, SampleRate: sampleRate}
}

// NumChannels returns the channel count.
func (t *Track) NumChannels() int {
	return len(t.Channels)
}

// Frames returns the per-channel sample count.
func (t *Track) Frames() int {
	if len(t.Channels) == 0 {
		return 0
	}

	return len(t.Channels[0])
}

// Duration is Frames / SampleRate.
func (t *Track) Duration() time.Duration {
	if t.SampleRate <= 0 {
		return 0
	}

	return time.Duration(float64(t.Frames()) / float64(t.SampleRate) * float64(time.Second))
}

// Seconds is the duration as a float, used where sample arithmetic needs it.
func (t *Track) Seconds() float64 {
	if t.SampleRate <= 0 {
		return 0
	}

	return float64(t.Frames()) / float64(t.SampleRate)
}

// Validate checks the shape invariants of the track.
func (t *Track) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil track", ErrInvalidTrack)
	}

	if t.SampleRate <= 0 || t.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate must be between 1 and %d Hz, got %d",
			ErrInvalidTrack, MaxSampleRate, t.SampleRate)
	}

	if len(t.Channels) == 0 || len(t.Channels) > MaxChannels {
		return fmt.Errorf("%w: channels must be between 1 and %d, got %d",
			ErrInvalidTrack, MaxChannels, len(t.Channels))
	}

	frames := len(t.Channels[0])
	for i, ch := range t.Channels {
		if len(ch) != frames {
			return fmt.Errorf("%w: channel %d has %d frames, expected %d", ErrInvalidTrack, i, len(ch), frames)
		}
	}

	if frames == 0 {
		return ErrEmptyTrack
	}

	return nil
}

// Clone returns a deep copy, so the copy can be mutated freely.
func (t *Track) Clone() *Track {
	out := &Track{SampleRate: t.SampleRate, Channels: make([][]float64, len(t.Channels))}
	for i, ch := range t.Channels {
		out.Channels[i] = append([]float64(nil), ch...)
	}

	return out
}

// Resampled returns the track converted to sampleRate. The receiver is
// returned unchanged when it already runs at that rate.
func (t *Track) Resampled(sampleRate int) (*Track, error) {
	if t.SampleRate == sampleRate {
		return t, nil
	}

	out := &Track{SampleRate: sampleRate, Channels: make([][]float64, len(t.Channels))}
	for i, ch := range t.Channels {
		converted, err := dsp.Resample(ch, t.SampleRate, sampleRate)
		if err != nil {
			return nil, err
		}

		out.Channels[i] = converted
	}

	return out, nil
}
