package studio

import (
	"github.com/book-expert/audio-studio/internal/audio"
	"github.com/book-expert/audio-studio/internal/dsp"
	"github.com/cwbudde/algo-vecmath"
)

// DefaultQuantumFrames is the processing block size shared by the live graph
// and the offline renderer. Using one block size for both keeps their output
// identical.
const DefaultQuantumFrames = 128

// cursor plays a track from a frame position, mapping its channels onto the
// bus: a mono track feeds every bus channel, extra source channels are
// dropped.
type cursor struct {
	track *audio.Track
	pos   int
	loop  bool
}

func newCursor(track *audio.Track, loop bool) *cursor {
	return &cursor{track: track, loop: loop}
}

func (c *cursor) exhausted() bool {
	return !c.loop && c.pos >= c.track.Frames()
}

// fill overwrites every channel of dst with the next len(dst[0]) frames,
// zero-filling past the end of a non-looping track.
func (c *cursor) fill(dst [][]float64) {
	if len(dst) == 0 {
		return
	}

	frames := len(dst[0])
	total := c.track.Frames()
	srcChannels := c.track.NumChannels()

	for i := 0; i < frames; {
		if c.pos >= total {
			if !c.loop || total == 0 {
				for _, ch := range dst {
					clear(ch[i:])
				}

				c.pos += frames - i

				return
			}

			c.pos = 0
		}

		n := min(frames-i, total-c.pos)
		for ch := range dst {
			src := c.track.Channels[min(ch, srcChannels-1)]
			copy(dst[ch][i:i+n], src[c.pos:c.pos+n])
		}

		i += n
		c.pos += n
	}
}

// bus renders quanta: voice through the effect chain, background summed
// after the chain with its own gain.
type bus struct {
	processor      *Processor
	voice          *cursor
	background     *cursor
	backgroundGain float64
	tap            *dsp.Analyzer
	scratch        [][]float64
	view           [][]float64
}

func newBus(processor *Processor, channels, quantum int) *bus {
	scratch := make([][]float64, channels)
	for i := range scratch {
		scratch[i] = make([]float64, quantum)
	}

	return &bus{processor: processor, scratch: scratch, view: make([][]float64, channels)}
}

// render fills block (at most one quantum long) with the next frames of the
// mix. A missing voice cursor yields silence through the chain. The tap sees
// the dry voice signal.
func (b *bus) render(block [][]float64) {
	if b.voice != nil {
		b.voice.fill(block)
	} else {
		for _, ch := range block {
			clear(ch)
		}
	}

	if b.tap != nil {
		b.tap.Push(block)
	}

	b.processor.Process(block)

	if b.background == nil {
		return
	}

	frames := len(block[0])
	bg := b.view

	for ch := range b.scratch {
		bg[ch] = b.scratch[ch][:frames]
	}

	// The cursor advances even when muted so it stays in step with time.
	b.background.fill(bg)

	if b.backgroundGain == 0 {
		return
	}

	for ch := range block {
		vecmath.ScaleBlock(bg[ch], bg[ch], b.backgroundGain)
		vecmath.AddBlockInPlace(block[ch], bg[ch])
	}
}

// slice returns each channel of buf narrowed to [from, to).
func slice(buf [][]float64, from, to int) [][]float64 {
	out := make([][]float64, len(buf))
	for i, ch := range buf {
		out[i] = ch[from:to]
	}

	return out
}
