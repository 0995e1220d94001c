package dsp

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/effects/dynamics"
)

// ErrInvalidCompressor indicates compressor settings outside their domain.
var ErrInvalidCompressor = errors.New("invalid compressor settings")

// Limits of the underlying dynamics processor. Settings beyond them are
// clamped when the detector is tuned.
const (
	minAttackMs  = 0.1
	maxAttackMs  = 1000.0
	minReleaseMs = 1.0
	maxReleaseMs = 5000.0
	maxKneeDB    = 24.0
	maxRatio     = 100.0
)

// CompressorSettings configures a Compressor. Times are in seconds.
type CompressorSettings struct {
	ThresholdDB float64
	KneeDB      float64
	Ratio       float64
	Attack      float64
	Release     float64
	// Amount blends dry (0) and fully compressed (1) signal.
	Amount float64
}

// Validate reports whether the settings describe a usable compressor.
func (s CompressorSettings) Validate() error {
	switch {
	case !isFinite(s.ThresholdDB):
		return fmt.Errorf("%w: threshold must be finite", ErrInvalidCompressor)
	case s.KneeDB < 0 || !isFinite(s.KneeDB):
		return fmt.Errorf("%w: knee must be >= 0, got %f", ErrInvalidCompressor, s.KneeDB)
	case s.Ratio < 1 || !isFinite(s.Ratio):
		return fmt.Errorf("%w: ratio must be >= 1, got %f", ErrInvalidCompressor, s.Ratio)
	case s.Attack < 0 || !isFinite(s.Attack):
		return fmt.Errorf("%w: attack must be >= 0, got %f", ErrInvalidCompressor, s.Attack)
	case s.Release < 0 || !isFinite(s.Release):
		return fmt.Errorf("%w: release must be >= 0, got %f", ErrInvalidCompressor, s.Release)
	case s.Amount < 0 || s.Amount > 1 || math.IsNaN(s.Amount):
		return fmt.Errorf("%w: amount must be in [0, 1], got %f", ErrInvalidCompressor, s.Amount)
	}

	return nil
}

// Compressor is a feed-forward, stereo-linked peak compressor. The detector
// follows the largest absolute sample of a frame across all channels, so
// every channel receives the same gain. The knee is centered on the
// threshold and there is no makeup gain.
//
// Attack is at least 0.1 ms and the knee at most 24 dB; wider settings are
// clamped to those limits.
type Compressor struct {
	settings CompressorSettings
	detector *dynamics.Compressor
}

// NewCompressor validates settings and returns a compressor at sampleRate.
func NewCompressor(settings CompressorSettings, sampleRate float64) (*Compressor, error) {
	detector, err := dynamics.NewCompressor(sampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCompressor, err)
	}

	err = detector.SetMakeupGain(0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCompressor, err)
	}

	c := &Compressor{detector: detector}

	err = c.SetSettings(settings)
	if err != nil {
		return nil, err
	}

	detector.Reset()

	return c, nil
}

// SetSettings retunes the compressor while keeping the envelope state.
func (c *Compressor) SetSettings(settings CompressorSettings) error {
	err := settings.Validate()
	if err != nil {
		return err
	}

	d := c.detector

	for _, apply := range []func() error{
		func() error { return d.SetThreshold(settings.ThresholdDB) },
		func() error { return d.SetKnee(min(settings.KneeDB, maxKneeDB)) },
		func() error { return d.SetRatio(min(settings.Ratio, maxRatio)) },
		func() error { return d.SetAttack(clamp(settings.Attack*1000, minAttackMs, maxAttackMs)) },
		func() error { return d.SetRelease(clamp(settings.Release*1000, minReleaseMs, maxReleaseMs)) },
	} {
		err = apply()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCompressor, err)
		}
	}

	c.settings = settings

	return nil
}

// Settings returns the active settings.
func (c *Compressor) Settings() CompressorSettings {
	return c.settings
}

// Process compresses one block. Every channel slice must have the same length.
func (c *Compressor) Process(channels [][]float64) {
	if len(channels) == 0 {
		return
	}

	amount := c.settings.Amount
	frames := len(channels[0])

	for i := range frames {
		peak := 0.0
		for _, ch := range channels {
			peak = math.Max(peak, math.Abs(ch[i]))
		}

		// The detector output for the linked peak is peak*gain.
		compressed := c.detector.ProcessSample(peak)
		if peak == 0 {
			continue
		}

		gain := compressed / peak
		scale := 1 - amount + amount*gain

		for _, ch := range channels {
			ch[i] *= scale
		}
	}
}

// GainDB returns the static curve's gain change in dB for an input level.
func (c *Compressor) GainDB(levelDB float64) float64 {
	in := math.Pow(10, levelDB/20)
	if in == 0 {
		return 0
	}

	return 20 * math.Log10(c.detector.CalculateOutputLevel(in)/in)
}

// MaxReductionDB reports the deepest gain reduction applied since the last
// Reset, as a non-positive dB value.
func (c *Compressor) MaxReductionDB() float64 {
	return 20 * math.Log10(c.detector.GetMetrics().GainReduction)
}

// Reset clears the envelope follower and metering.
func (c *Compressor) Reset() {
	c.detector.Reset()
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
