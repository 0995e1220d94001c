package dsp

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/cwbudde/algo-dsp/dsp/window"
	algofft "github.com/cwbudde/algo-fft"
	"github.com/cwbudde/algo-vecmath"
)

// Analyzer defaults mirror a browser analyser node configured the way the
// studio waveform display uses it.
const (
	DefaultFFTSize         = 256
	DefaultSmoothing       = 0.8
	DefaultMinDecibels     = -100.0
	DefaultMaxDecibels     = -30.0
	analyzerMagnitudeFloor = 1e-40
)

// Analyzer is a read-only tap that keeps the most recent FFTSize mono
// samples and derives smoothed frequency-domain data from them. It never
// modifies the audio passing through it.
type Analyzer struct {
	fftSize     int
	smoothing   float64
	minDecibels float64
	maxDecibels float64

	plan     *algofft.Plan[complex128]
	window   []float64
	ring     []float64
	write    int
	frame    []float64
	in       []complex128
	out      []complex128
	smoothed []float64
}

// NewAnalyzer returns an analyzer for a power-of-two fftSize.
func NewAnalyzer(fftSize int) (*Analyzer, error) {
	if fftSize < 32 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("analyzer fft size must be a power of two >= 32: %d", fftSize)
	}

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("analyzer init fft plan: %w", err)
	}

	taper, err := window.Blackman(fftSize, window.WithPeriodic())
	if err != nil {
		return nil, fmt.Errorf("analyzer init window: %w", err)
	}

	return &Analyzer{
		fftSize:     fftSize,
		smoothing:   DefaultSmoothing,
		minDecibels: DefaultMinDecibels,
		maxDecibels: DefaultMaxDecibels,
		plan:        plan,
		window:      taper,
		ring:        make([]float64, fftSize),
		frame:       make([]float64, fftSize),
		in:          make([]complex128, fftSize),
		out:         make([]complex128, fftSize),
		smoothed:    make([]float64, fftSize/2),
	}, nil
}

// FrequencyBinCount is half the FFT size.
func (a *Analyzer) FrequencyBinCount() int {
	return a.fftSize / 2
}

// Push feeds a block of frames into the tap, downmixing channels to mono.
func (a *Analyzer) Push(channels [][]float64) {
	if len(channels) == 0 {
		return
	}

	scale := 1 / float64(len(channels))

	for i := range channels[0] {
		sum := 0.0
		for _, ch := range channels {
			sum += ch[i]
		}

		a.ring[a.write] = sum * scale

		a.write++
		if a.write == a.fftSize {
			a.write = 0
		}
	}
}

// FloatFrequencyData writes smoothed magnitudes in dB into dst, which must
// hold FrequencyBinCount values. Each call advances the smoothing state.
func (a *Analyzer) FloatFrequencyData(dst []float64) error {
	if len(dst) < len(a.smoothed) {
		return fmt.Errorf("analyzer destination too small: %d < %d", len(dst), len(a.smoothed))
	}

	err := a.update()
	if err != nil {
		return err
	}

	for k, mag := range a.smoothed {
		dst[k] = 20 * math.Log10(math.Max(mag, analyzerMagnitudeFloor))
	}

	return nil
}

// ByteFrequencyData maps the dB spectrum linearly from [min, max] decibels
// onto [0, 255].
func (a *Analyzer) ByteFrequencyData(dst []byte) error {
	if len(dst) < len(a.smoothed) {
		return fmt.Errorf("analyzer destination too small: %d < %d", len(dst), len(a.smoothed))
	}

	db := make([]float64, len(a.smoothed))

	err := a.FloatFrequencyData(db)
	if err != nil {
		return err
	}

	rangeScale := 255 / (a.maxDecibels - a.minDecibels)

	for k, v := range db {
		scaled := math.Floor(rangeScale * (v - a.minDecibels))
		dst[k] = byte(math.Max(0, math.Min(255, scaled)))
	}

	return nil
}

// Reset clears the sample history and the smoothing state.
func (a *Analyzer) Reset() {
	clear(a.ring)
	clear(a.smoothed)
	a.write = 0
}

func (a *Analyzer) update() error {
	read := a.write
	for i := range a.frame {
		a.frame[i] = a.ring[read]

		read++
		if read == a.fftSize {
			read = 0
		}
	}

	vecmath.MulBlockInPlace(a.frame, a.window)

	for i, v := range a.frame {
		a.in[i] = complex(v, 0)
	}

	err := a.plan.Forward(a.out, a.in)
	if err != nil {
		return fmt.Errorf("analyzer forward fft: %w", err)
	}

	norm := 1 / float64(a.fftSize)
	for k := range a.smoothed {
		mag := cmplx.Abs(a.out[k]) * norm
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
	}

	return nil
}
