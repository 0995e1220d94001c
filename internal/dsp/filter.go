// Package dsp adapts the algo-dsp building blocks to the studio effect
// chain: multichannel equalizer sections, a stereo-linked compressor, a
// reverb, a polyphase resampler and a frequency analyzer.
//
// Everything in this package is deterministic. No function reads the clock
// or a random source, so identical input always produces identical output.
package dsp

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// ErrInvalidFilter indicates filter design parameters that cannot produce a
// stable section (non-positive sample rate, frequency outside (0, nyquist)).
var ErrInvalidFilter = errors.New("invalid filter parameters")

// ShelfQ gives the shelving filters a slope of 1, the shape browser biquad
// nodes use for "lowshelf" and "highshelf".
const ShelfQ = math.Sqrt2 / 2

// Coefficients is a normalized second-order transfer function.
type Coefficients = biquad.Coefficients

// Identity is the pass-through section.
var Identity = Coefficients{B0: 1}

// Biquad filters one or more channels with shared coefficients and
// independent per-channel delay state.
type Biquad struct {
	sections []*biquad.Section
}

// NewBiquad returns a Biquad for the given channel count with zero state.
func NewBiquad(c Coefficients, channels int) *Biquad {
	b := &Biquad{sections: make([]*biquad.Section, channels)}
	for ch := range b.sections {
		b.sections[ch] = biquad.NewSection(c)
	}

	return b
}

// Coefficients returns the active transfer function.
func (b *Biquad) Coefficients() Coefficients {
	if len(b.sections) == 0 {
		return Identity
	}

	return b.sections[0].Coefficients
}

// SetCoefficients replaces the transfer function and keeps the delay state,
// so a running signal continues without a discontinuity in its history.
func (b *Biquad) SetCoefficients(c Coefficients) {
	for _, s := range b.sections {
		s.Coefficients = c
	}
}

// ProcessBlock filters buf for channel ch in place.
func (b *Biquad) ProcessBlock(ch int, buf []float64) {
	b.sections[ch].ProcessBlock(buf)
}

// Reset clears the delay state of every channel.
func (b *Biquad) Reset() {
	for _, s := range b.sections {
		s.Reset()
	}
}

// LowShelf designs a low-shelf section with a shelf slope of 1.
func LowShelf(freq, gainDB, sampleRate float64) (Coefficients, error) {
	err := checkBand(freq, sampleRate)
	if err != nil {
		return Coefficients{}, err
	}

	return design.LowShelf(freq, gainDB, ShelfQ, sampleRate), nil
}

// HighShelf designs a high-shelf section with a shelf slope of 1.
func HighShelf(freq, gainDB, sampleRate float64) (Coefficients, error) {
	err := checkBand(freq, sampleRate)
	if err != nil {
		return Coefficients{}, err
	}

	return design.HighShelf(freq, gainDB, ShelfQ, sampleRate), nil
}

// Peaking designs a peaking-EQ section centered at freq with quality q.
func Peaking(freq, gainDB, q, sampleRate float64) (Coefficients, error) {
	err := checkBand(freq, sampleRate)
	if err != nil {
		return Coefficients{}, err
	}

	if q <= 0 || !isFinite(q) {
		return Coefficients{}, fmt.Errorf("%w: q must be positive, got %f", ErrInvalidFilter, q)
	}

	return design.Peak(freq, gainDB, q, sampleRate), nil
}

// The design package answers out-of-range input with an all-zero section,
// which would silence the chain, so the band is checked up front.
func checkBand(freq, sampleRate float64) error {
	if sampleRate <= 0 || !isFinite(sampleRate) {
		return fmt.Errorf("%w: sample rate %f", ErrInvalidFilter, sampleRate)
	}

	if freq <= 0 || freq >= sampleRate/2 || math.IsNaN(freq) {
		return fmt.Errorf("%w: frequency %f outside (0, %f)", ErrInvalidFilter, freq, sampleRate/2)
	}

	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
