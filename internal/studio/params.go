// Package studio implements the podcast post-production pipeline: the effect
// chain, the live preview graph with its background mixer, the offline
// renderer and the submission of rendered modifications.
package studio

import (
	"errors"
	"fmt"
	"math"
)

// Parameter ranges.
const (
	MinEQGainDB = -12.0
	MaxEQGainDB = 12.0
	MinPercent  = 0.0
	MaxPercent  = 100.0
)

// Compressor constants that are not user adjustable.
const (
	CompressorBaseThresholdDB = -50.0
	CompressorThresholdStep   = 0.5
	CompressorKneeDB          = 40.0
	CompressorRatio           = 12.0
	CompressorAttack          = 0.0
	CompressorRelease         = 0.25
)

// ErrInvalidBackground reports a background selection naming neither or
// both kinds of source.
var ErrInvalidBackground = errors.New("background selection must name exactly one of trackId or uploadKey")

// EffectParameters is the user-adjustable effect state. EQ gains are in dB;
// compression and reverb are percentages.
type EffectParameters struct {
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
	// Compression drives two things at once. The threshold rises from -50 dB
	// at 0% to 0 dB at 100% (see CompressorThresholdDB), and the output blends
	// from fully dry at 0% to fully compressed at 100%. Loudness therefore
	// does not fall monotonically: a typical voice is quietest around the
	// middle of the range and returns close to its dry level near 100%, where
	// only material within 12 dB of full scale reaches the knee.
	Compression float64 `json:"compression"`
	Reverb      float64 `json:"reverb"`
}

// DefaultEffectParameters is the flat, uncompressed starting point.
func DefaultEffectParameters() EffectParameters {
	return EffectParameters{}
}

// Clamp returns a copy with every field forced into its valid range.
// Non-finite values collapse to the neutral value.
func (p EffectParameters) Clamp() EffectParameters {
	return EffectParameters{
		Low:         clamp(p.Low, MinEQGainDB, MaxEQGainDB),
		Mid:         clamp(p.Mid, MinEQGainDB, MaxEQGainDB),
		High:        clamp(p.High, MinEQGainDB, MaxEQGainDB),
		Compression: clamp(p.Compression, MinPercent, MaxPercent),
		Reverb:      clamp(p.Reverb, MinPercent, MaxPercent),
	}
}

// CompressorThresholdDB maps a compression percentage onto the compressor
// threshold: 0% is -50 dB, 100% is 0 dB, linear in between.
func CompressorThresholdDB(compression float64) float64 {
	return CompressorBaseThresholdDB + clamp(compression, MinPercent, MaxPercent)*CompressorThresholdStep
}

// BackgroundSelection names the background source and its volume. TrackID
// refers to the shared library; UploadKey to a user upload in the object
// store.
type BackgroundSelection struct {
	TrackID       string  `json:"trackId,omitempty"`
	UploadKey     string  `json:"uploadKey,omitempty"`
	VolumePercent float64 `json:"volume"`
}

// Validate checks that exactly one source is named.
func (b BackgroundSelection) Validate() error {
	if (b.TrackID == "") == (b.UploadKey == "") {
		return ErrInvalidBackground
	}

	return nil
}

// Reference returns the identifier persisted with a modification.
func (b BackgroundSelection) Reference() string {
	if b.TrackID != "" {
		return b.TrackID
	}

	return b.UploadKey
}

// Gain is the linear gain for the clamped volume percentage.
func (b BackgroundSelection) Gain() float64 {
	return PercentToGain(b.VolumePercent)
}

// String is used in log lines.
func (b BackgroundSelection) String() string {
	if b.TrackID != "" {
		return fmt.Sprintf("library:%s@%.0f%%", b.TrackID, clamp(b.VolumePercent, MinPercent, MaxPercent))
	}

	return fmt.Sprintf("upload:%s@%.0f%%", b.UploadKey, clamp(b.VolumePercent, MinPercent, MaxPercent))
}

// PercentToGain converts a 0-100 volume into a linear gain.
func PercentToGain(percent float64) float64 {
	return clamp(percent, MinPercent, MaxPercent) / MaxPercent
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		if lo <= 0 && hi >= 0 {
			return 0
		}

		return lo
	}

	return math.Max(lo, math.Min(hi, v))
}
