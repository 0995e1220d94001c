package dsp

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/resample"
)

// ResampledLength returns the frame count produced when n frames at from Hz
// are converted to to Hz.
func ResampledLength(n, from, to int) int {
	if from == to {
		return n
	}

	return int(math.Ceil(float64(n) * float64(to) / float64(from)))
}

// Resample converts one channel from one rate to another with a windowed-sinc
// polyphase filter whose passband ends just below the lower Nyquist
// frequency. The filter's group delay is removed, so the output lines up
// with the input in time and has exactly ResampledLength frames.
func Resample(samples []float64, from, to int) ([]float64, error) {
	if from == to || len(samples) == 0 {
		out := make([]float64, len(samples))
		copy(out, samples)

		return out, nil
	}

	r, err := resample.NewRational(to, from, resample.WithQuality(resample.QualityBest))
	if err != nil {
		return nil, fmt.Errorf("resample %d Hz to %d Hz: %w", from, to, err)
	}

	up, down := r.Ratio()
	delay := int(math.Round(float64(len(r.Prototype())-1) / 2 / float64(down)))

	out := make([]float64, ResampledLength(len(samples), from, to))
	need := len(out) + delay

	full := r.Process(samples)
	if len(full) < need {
		flush := (need-len(full)+2)*down/up + 2
		full = append(full, r.Process(make([]float64, flush))...)
	}

	if delay < len(full) {
		copy(out, full[delay:])
	}

	return out, nil
}
