package dsp

import "github.com/cwbudde/algo-dsp/dsp/effects/reverb"

// Room tuning shared by every studio reverb.
const (
	reverbRoomSize = 0.84
	reverbDamping  = 0.2
)

// Reverb runs one Freeverb network per channel. The dry signal always
// passes at unity; the wet level scales the tail.
type Reverb struct {
	wet      float64
	channels []*reverb.Reverb
}

// NewReverb builds a reverb for the channel count. The comb and allpass
// lengths are tuned for the 44.1 kHz render rate.
func NewReverb(wet float64, channels int) *Reverb {
	r := &Reverb{channels: make([]*reverb.Reverb, channels)}

	for ch := range r.channels {
		network := reverb.NewReverb()
		network.SetDry(1)
		network.SetRoomSize(reverbRoomSize)
		network.SetDamp(reverbDamping)
		r.channels[ch] = network
	}

	r.SetWet(wet)

	return r
}

// Wet returns the tail level.
func (r *Reverb) Wet() float64 {
	return r.wet
}

// SetWet changes the tail level without clearing the delay lines.
func (r *Reverb) SetWet(wet float64) {
	r.wet = wet
	for _, network := range r.channels {
		network.SetWet(wet)
	}
}

// Process adds the reverb tail to every channel in place.
func (r *Reverb) Process(channels [][]float64) {
	if r.wet == 0 {
		return
	}

	for ch, buf := range channels {
		if ch >= len(r.channels) {
			return
		}

		r.channels[ch].ProcessInPlace(buf)
	}
}

// Reset silences every delay line.
func (r *Reverb) Reset() {
	for _, network := range r.channels {
		network.Reset()
	}
}
