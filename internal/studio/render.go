package studio

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/audio-studio/internal/audio"
)

// Errors surfaced by rendering and submission.
var (
	// ErrDecodeFailed is the user-facing failure for undecodable voice or
	// background sources.
	ErrDecodeFailed = errors.New("failed to process audio")
	// ErrNoVoiceTrack indicates a render or save without a loaded voice track.
	ErrNoVoiceTrack = errors.New("no voice track loaded")
	// ErrNoBackgroundSource indicates a background selection with no way to resolve it.
	ErrNoBackgroundSource = errors.New("no background source configured")
)

// ctxCheckQuanta is how many quanta are rendered between context checks.
const ctxCheckQuanta = 512

// BackgroundSource resolves a selection into a decoded track. Library
// tracks are shared and must be treated as read-only.
type BackgroundSource interface {
	LoadBackground(ctx context.Context, selection BackgroundSelection) (*audio.Track, error)
}

// RenderOptions configure the offline renderer.
type RenderOptions struct {
	Chain          ChainOptions
	QuantumFrames  int
	LoopBackground bool
}

// DefaultRenderOptions renders stereo 44.1 kHz in 128-frame quanta and plays
// the background once.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		Chain:          DefaultChainOptions(),
		QuantumFrames:  DefaultQuantumFrames,
		LoopBackground: false,
	}
}

func (o RenderOptions) withDefaults() RenderOptions {
	if o.QuantumFrames <= 0 {
		o.QuantumFrames = DefaultQuantumFrames
	}

	if o.Chain.SampleRate <= 0 {
		o.Chain.SampleRate = audio.RenderSampleRate
	}

	if o.Chain.Channels <= 0 {
		o.Chain.Channels = audio.RenderChannels
	}

	return o
}

// RenderInput is a frozen snapshot of everything a render depends on. A nil
// VoiceVolumePercent renders the voice at full volume.
type RenderInput struct {
	Voice              *audio.Track
	Params             EffectParameters
	Background         *BackgroundSelection
	VoiceVolumePercent *float64
}

// VoiceVolume returns the voice gain in percent.
func (in RenderInput) VoiceVolume() float64 {
	if in.VoiceVolumePercent == nil {
		return MaxPercent
	}

	return *in.VoiceVolumePercent
}

// RenderedMix is the output of one render. Track always runs at the render
// sample rate with the render channel count and exactly as many frames as
// the voice track occupies at that rate.
type RenderedMix struct {
	Track      *audio.Track
	Chain      Chain
	Params     EffectParameters
	Background *BackgroundSelection
}

// WAV encodes the mix as a 16-bit PCM WAV blob.
func (m *RenderedMix) WAV() []byte {
	return audio.EncodeWAV(m.Track)
}

// Renderer performs offline mixdowns. It is safe for concurrent use; each
// Render call owns its own processor state.
type Renderer struct {
	opts        RenderOptions
	backgrounds BackgroundSource
}

// NewRenderer returns a renderer. backgrounds may be nil when no render will
// carry a background selection.
func NewRenderer(opts RenderOptions, backgrounds BackgroundSource) *Renderer {
	return &Renderer{opts: opts.withDefaults(), backgrounds: backgrounds}
}

// Options returns the effective options.
func (r *Renderer) Options() RenderOptions {
	return r.opts
}

// Chain returns the chain the renderer would run for a snapshot.
func (r *Renderer) Chain(params EffectParameters, voiceVolumePercent float64) Chain {
	opts := r.opts.Chain
	opts.OutputGain *= PercentToGain(voiceVolumePercent)

	return BuildChain(params, opts)
}

// Render mixes the snapshot down. Any decode failure aborts the whole render
// and no partial mix is returned.
func (r *Renderer) Render(ctx context.Context, in RenderInput) (*RenderedMix, error) {
	if in.Voice == nil {
		return nil, ErrNoVoiceTrack
	}

	validateErr := in.Voice.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("%w: voice track: %w", ErrDecodeFailed, validateErr)
	}

	fs := r.opts.Chain.SampleRate
	voice, err := in.Voice.Resampled(fs)
	if err != nil {
		return nil, fmt.Errorf("%w: voice track: %w", ErrDecodeFailed, err)
	}

	var background *audio.Track

	if in.Background != nil {
		track, err := r.loadBackground(ctx, *in.Background)
		if err != nil {
			return nil, err
		}

		background = track
	}

	chain := r.Chain(in.Params, in.VoiceVolume())

	processor, err := chain.Instantiate()
	if err != nil {
		return nil, fmt.Errorf("instantiate chain: %w", err)
	}

	frames := voice.Frames()
	out := audio.NewTrack(chain.Channels, frames, fs)

	b := newBus(processor, chain.Channels, r.opts.QuantumFrames)
	b.voice = newCursor(voice, false)

	if background != nil {
		b.background = newCursor(background, r.opts.LoopBackground)
		b.backgroundGain = in.Background.Gain()
	}

	quanta := 0
	for start := 0; start < frames; start += r.opts.QuantumFrames {
		if quanta%ctxCheckQuanta == 0 {
			ctxErr := ctx.Err()
			if ctxErr != nil {
				return nil, fmt.Errorf("render interrupted: %w", ctxErr)
			}
		}

		end := min(start+r.opts.QuantumFrames, frames)
		b.render(slice(out.Channels, start, end))
		quanta++
	}

	mix := &RenderedMix{Track: out, Chain: chain, Params: in.Params.Clamp()}

	if in.Background != nil {
		selection := *in.Background
		mix.Background = &selection
	}

	return mix, nil
}

func (r *Renderer) loadBackground(ctx context.Context, selection BackgroundSelection) (*audio.Track, error) {
	validateErr := selection.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	if r.backgrounds == nil {
		return nil, ErrNoBackgroundSource
	}

	track, err := r.backgrounds.LoadBackground(ctx, selection)
	if err != nil {
		return nil, fmt.Errorf("%w: background %s: %w", ErrDecodeFailed, selection.Reference(), err)
	}

	validateErr = track.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("%w: background %s: %w", ErrDecodeFailed, selection.Reference(), validateErr)
	}

	resampled, err := track.Resampled(r.opts.Chain.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: background %s: %w", ErrDecodeFailed, selection.Reference(), err)
	}

	return resampled, nil
}
