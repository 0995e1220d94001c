package studio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/book-expert/audio-studio/internal/audio"
	"github.com/book-expert/audio-studio/internal/dsp"
)

// ErrGraphClosed is returned by operations on a closed live graph.
var ErrGraphClosed = errors.New("live graph is closed")

// LiveGraph is the live preview: a transport over the voice track, the
// effect chain, a looping background mixer and an analyzer tap. Output is
// pulled by the audio sink through Read.
//
// Parameter and volume changes retune the running chain at the next quantum
// boundary; filter and envelope state carry over.
type LiveGraph struct {
	mu sync.Mutex

	opts        RenderOptions
	params      EffectParameters
	voiceVolume float64
	retune      bool

	processor *Processor
	bus       *bus
	analyzer  *dsp.Analyzer

	voice   *cursor
	playing bool

	background        *cursor
	backgroundSel     *BackgroundSelection
	backgroundPlaying bool

	quantum  [][]float64
	qpos     int
	qlen     int
	qvoice   int
	qplaying bool

	closed bool
}

// NewLiveGraph builds an idle graph with default parameters and full voice
// volume.
func NewLiveGraph(opts RenderOptions) (*LiveGraph, error) {
	opts = opts.withDefaults()

	g := &LiveGraph{
		opts:        opts,
		params:      DefaultEffectParameters(),
		voiceVolume: MaxPercent,
	}

	processor, err := g.chain().Instantiate()
	if err != nil {
		return nil, err
	}

	analyzer, err := dsp.NewAnalyzer(dsp.DefaultFFTSize)
	if err != nil {
		return nil, err
	}

	g.processor = processor
	g.analyzer = analyzer
	g.bus = newBus(processor, opts.Chain.Channels, opts.QuantumFrames)
	g.bus.tap = analyzer
	g.quantum = make([][]float64, opts.Chain.Channels)

	for i := range g.quantum {
		g.quantum[i] = make([]float64, opts.QuantumFrames)
	}

	return g, nil
}

func (g *LiveGraph) chain() Chain {
	opts := g.opts.Chain
	opts.OutputGain *= PercentToGain(g.voiceVolume)

	return BuildChain(g.params, opts)
}

// LoadVoice replaces the voice source. Playback stops and the position
// returns to zero.
func (g *LiveGraph) LoadVoice(track *audio.Track) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrGraphClosed
	}

	if track == nil {
		return ErrNoVoiceTrack
	}

	resampled, err := track.Resampled(g.opts.Chain.SampleRate)
	if err != nil {
		return fmt.Errorf("%w: voice track: %w", ErrDecodeFailed, err)
	}

	g.voice = newCursor(resampled, false)
	g.playing = false
	g.flush()
	g.processor.Reset()
	g.analyzer.Reset()

	return nil
}

// Play starts the transport and any background waiting for it.
func (g *LiveGraph) Play() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrGraphClosed
	}

	if g.voice == nil {
		return ErrNoVoiceTrack
	}

	if g.voice.exhausted() {
		g.voice.pos = 0
	}

	g.playing = true
	if g.background != nil {
		g.backgroundPlaying = true
	}

	return nil
}

// Pause stops the transport and the background.
func (g *LiveGraph) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.playing = false
	g.backgroundPlaying = false
}

// IsPlaying reports whether the voice transport is running.
func (g *LiveGraph) IsPlaying() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.playing
}

// Seek moves the voice position, clamped to the track.
func (g *LiveGraph) Seek(position time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrGraphClosed
	}

	if g.voice == nil {
		return ErrNoVoiceTrack
	}

	frame := int(math.Round(position.Seconds() * float64(g.opts.Chain.SampleRate)))
	g.voice.pos = max(0, min(frame, g.voice.track.Frames()))
	g.flush()

	return nil
}

// Position is the voice transport position.
func (g *LiveGraph) Position() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.voice == nil {
		return 0
	}

	frames := g.voice.pos
	if g.qlen > 0 && g.qplaying {
		frames = min(g.qvoice+g.qpos, g.voice.track.Frames())
	}

	return time.Duration(float64(frames) / float64(g.opts.Chain.SampleRate) * float64(time.Second))
}

// Duration is the voice track length.
func (g *LiveGraph) Duration() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.voice == nil {
		return 0
	}

	return g.voice.track.Duration()
}

// SetParameters clamps and applies a new parameter set from the next quantum.
func (g *LiveGraph) SetParameters(params EffectParameters) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.params = params.Clamp()
	g.retune = true
}

// Parameters returns the current clamped parameters.
func (g *LiveGraph) Parameters() EffectParameters {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.params
}

// SetVoiceVolume sets the voice gain in percent; the background is unaffected.
func (g *LiveGraph) SetVoiceVolume(percent float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.voiceVolume = clamp(percent, MinPercent, MaxPercent)
	g.retune = true
}

// VoiceVolume returns the voice gain in percent.
func (g *LiveGraph) VoiceVolume() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.voiceVolume
}

// SelectBackground replaces the background source. The previous background
// is discarded. The new one loops and starts at once if the transport is
// playing, otherwise on the next Play.
func (g *LiveGraph) SelectBackground(selection BackgroundSelection, track *audio.Track) error {
	validateErr := selection.Validate()
	if validateErr != nil {
		return validateErr
	}

	if track == nil {
		return fmt.Errorf("%w: background %s has no samples", ErrDecodeFailed, selection.Reference())
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrGraphClosed
	}

	resampled, err := track.Resampled(g.opts.Chain.SampleRate)
	if err != nil {
		return fmt.Errorf("%w: background %s: %w", ErrDecodeFailed, selection.Reference(), err)
	}

	g.background = newCursor(resampled, true)
	g.backgroundSel = &selection
	g.backgroundPlaying = g.playing
	g.bus.backgroundGain = selection.Gain()

	return nil
}

// SetBackgroundVolume changes only the background gain.
func (g *LiveGraph) SetBackgroundVolume(percent float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.backgroundSel == nil {
		return
	}

	g.backgroundSel.VolumePercent = clamp(percent, MinPercent, MaxPercent)
	g.bus.backgroundGain = g.backgroundSel.Gain()
}

// ToggleBackground pauses or resumes the background alone.
func (g *LiveGraph) ToggleBackground() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.background == nil {
		return false
	}

	g.backgroundPlaying = !g.backgroundPlaying

	return g.backgroundPlaying
}

// ClearBackground stops and discards the background.
func (g *LiveGraph) ClearBackground() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.background = nil
	g.backgroundSel = nil
	g.backgroundPlaying = false
}

// Background returns a copy of the active selection, if any.
func (g *LiveGraph) Background() *BackgroundSelection {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.backgroundSel == nil {
		return nil
	}

	selection := *g.backgroundSel

	return &selection
}

// Read fills every channel of dst with the next frames of output and
// returns the frame count written. dst must have one slice per output
// channel, all of equal length. A paused graph yields silence, plus the
// background if it is playing on its own.
func (g *LiveGraph) Read(dst [][]float64) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return 0, ErrGraphClosed
	}

	if len(dst) != len(g.quantum) {
		return 0, fmt.Errorf("read needs %d channels, got %d", len(g.quantum), len(dst))
	}

	frames := len(dst[0])
	written := 0

	for written < frames {
		if g.qpos == g.qlen {
			err := g.renderQuantum()
			if err != nil {
				return written, err
			}
		}

		n := min(frames-written, g.qlen-g.qpos)
		for ch := range dst {
			copy(dst[ch][written:written+n], g.quantum[ch][g.qpos:g.qpos+n])
		}

		written += n
		g.qpos += n
	}

	return written, nil
}

// ByteFrequencyData writes the analyzer's 0-255 spectrum into dst.
func (g *LiveGraph) ByteFrequencyData(dst []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.analyzer.ByteFrequencyData(dst)
}

// FrequencyBinCount is the analyzer's bin count.
func (g *LiveGraph) FrequencyBinCount() int {
	return g.analyzer.FrequencyBinCount()
}

// Close stops playback and releases the sources. It is idempotent.
func (g *LiveGraph) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	g.playing = false
	g.voice = nil
	g.background = nil
	g.backgroundSel = nil
	g.backgroundPlaying = false
}

func (g *LiveGraph) renderQuantum() error {
	if g.retune {
		err := g.processor.Retune(g.chain())
		if err != nil {
			return err
		}

		g.retune = false
	}

	g.bus.voice = nil
	g.qplaying = g.playing

	if g.playing {
		g.bus.voice = g.voice
		g.qvoice = g.voice.pos
	}

	g.bus.background = nil
	if g.backgroundPlaying {
		g.bus.background = g.background
	}

	g.bus.render(g.quantum)
	g.qpos = 0
	g.qlen = len(g.quantum[0])

	if g.playing && g.voice.exhausted() {
		g.playing = false
	}

	return nil
}

// flush drops rendered-but-unread frames.
func (g *LiveGraph) flush() {
	g.qpos = 0
	g.qlen = 0
}
