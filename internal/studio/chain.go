package studio

import (
	"errors"
	"fmt"

	"github.com/book-expert/audio-studio/internal/audio"
	"github.com/book-expert/audio-studio/internal/dsp"
	"github.com/cwbudde/algo-vecmath"
)

// Band centres of the three-band EQ.
const (
	LowShelfFrequency  = 320.0
	PeakingFrequency   = 1000.0
	HighShelfFrequency = 3200.0
	DefaultMidQ        = 0.5
	MaxOutputGain      = 2.0
)

// ErrTopologyChanged is returned when Retune receives a chain whose stage
// kinds differ from the instantiated one.
var ErrTopologyChanged = errors.New("chain topology changed; instantiate a new processor")

// StageKind identifies a processing stage.
type StageKind string

const (
	StageLowShelf   StageKind = "lowshelf"
	StagePeaking    StageKind = "peaking"
	StageHighShelf  StageKind = "highshelf"
	StageCompressor StageKind = "compressor"
	StageReverb     StageKind = "reverb"
	StageGain       StageKind = "gain"
)

// Stage is one typed step of the voice chain. Only the fields relevant to
// Kind are set.
type Stage struct {
	Kind       StageKind              `json:"kind"`
	Frequency  float64                `json:"frequency,omitempty"`
	GainDB     float64                `json:"gainDb,omitempty"`
	Q          float64                `json:"q,omitempty"`
	Compressor dsp.CompressorSettings `json:"compressor"`
	Wet        float64                `json:"wet,omitempty"`
	Gain       float64                `json:"gain,omitempty"`
}

// ChainOptions are the deployment-level knobs that shape the chain.
type ChainOptions struct {
	SampleRate    int
	Channels      int
	MidQ          float64
	ReverbEnabled bool
	// OutputGain is the linear gain of the final stage.
	OutputGain float64
}

// DefaultChainOptions renders stereo at 44.1 kHz with unity output gain.
func DefaultChainOptions() ChainOptions {
	return ChainOptions{
		SampleRate:    audio.RenderSampleRate,
		Channels:      audio.RenderChannels,
		MidQ:          DefaultMidQ,
		ReverbEnabled: false,
		OutputGain:    1,
	}
}

// Chain is an ordered, immutable description of the voice signal path. The
// live graph and the offline renderer interpret the same descriptor.
type Chain struct {
	Stages     []Stage
	SampleRate int
	Channels   int
}

// BuildChain maps a parameter snapshot onto the fixed stage order:
// low shelf, mid peak, high shelf, compressor, optional reverb, output gain.
func BuildChain(params EffectParameters, opts ChainOptions) Chain {
	p := params.Clamp()

	midQ := opts.MidQ
	if midQ <= 0 {
		midQ = DefaultMidQ
	}

	stages := []Stage{
		{Kind: StageLowShelf, Frequency: LowShelfFrequency, GainDB: p.Low},
		{Kind: StagePeaking, Frequency: PeakingFrequency, GainDB: p.Mid, Q: midQ},
		{Kind: StageHighShelf, Frequency: HighShelfFrequency, GainDB: p.High},
		{Kind: StageCompressor, Compressor: dsp.CompressorSettings{
			ThresholdDB: CompressorThresholdDB(p.Compression),
			KneeDB:      CompressorKneeDB,
			Ratio:       CompressorRatio,
			Attack:      CompressorAttack,
			Release:     CompressorRelease,
			Amount:      p.Compression / MaxPercent,
		}},
	}

	if opts.ReverbEnabled {
		stages = append(stages, Stage{Kind: StageReverb, Wet: p.Reverb / MaxPercent})
	}

	stages = append(stages, Stage{Kind: StageGain, Gain: clamp(opts.OutputGain, 0, MaxOutputGain)})

	return Chain{Stages: stages, SampleRate: opts.SampleRate, Channels: opts.Channels}
}

// Compressor returns the compressor stage settings, if the chain has one.
func (c Chain) Compressor() (dsp.CompressorSettings, bool) {
	for _, s := range c.Stages {
		if s.Kind == StageCompressor {
			return s.Compressor, true
		}
	}

	return dsp.CompressorSettings{}, false
}

// Instantiate builds stateful processors for every stage.
func (c Chain) Instantiate() (*Processor, error) {
	if c.Channels <= 0 || c.SampleRate <= 0 {
		return nil, fmt.Errorf("chain needs positive channels and sample rate: %d/%d", c.Channels, c.SampleRate)
	}

	p := &Processor{chain: c, stages: make([]stageProcessor, len(c.Stages))}
	fs := float64(c.SampleRate)

	for i, stage := range c.Stages {
		switch stage.Kind {
		case StageLowShelf, StagePeaking, StageHighShelf:
			coeffs, err := designFilter(stage, fs)
			if err != nil {
				return nil, err
			}

			p.stages[i] = &filterStage{biquad: dsp.NewBiquad(coeffs, c.Channels)}
		case StageCompressor:
			comp, err := dsp.NewCompressor(stage.Compressor, fs)
			if err != nil {
				return nil, fmt.Errorf("stage %d: %w", i, err)
			}

			p.stages[i] = &compressorStage{compressor: comp}
		case StageReverb:
			p.stages[i] = &reverbStage{reverb: dsp.NewReverb(stage.Wet, c.Channels)}
		case StageGain:
			p.stages[i] = &gainStage{gain: stage.Gain}
		default:
			return nil, fmt.Errorf("stage %d: unknown kind %q", i, stage.Kind)
		}
	}

	return p, nil
}

// Processor is an instantiated chain holding per-stage filter state.
type Processor struct {
	chain  Chain
	stages []stageProcessor
}

// Chain returns the descriptor the processor currently implements.
func (p *Processor) Chain() Chain {
	return p.chain
}

// Process runs one block of frames through every stage in order. Each
// channel slice is modified in place.
func (p *Processor) Process(block [][]float64) {
	for _, s := range p.stages {
		s.process(block)
	}
}

// Retune applies the parameter values of next without touching filter or
// envelope state. next must have the same stage kinds and channel shape.
func (p *Processor) Retune(next Chain) error {
	if len(next.Stages) != len(p.chain.Stages) ||
		next.Channels != p.chain.Channels || next.SampleRate != p.chain.SampleRate {
		return ErrTopologyChanged
	}

	fs := float64(next.SampleRate)

	for i, stage := range next.Stages {
		if stage.Kind != p.chain.Stages[i].Kind {
			return ErrTopologyChanged
		}

		retuneErr := p.stages[i].retune(stage, fs)
		if retuneErr != nil {
			return fmt.Errorf("stage %d: %w", i, retuneErr)
		}
	}

	p.chain = next

	return nil
}

// Reset clears all filter, envelope and delay state.
func (p *Processor) Reset() {
	for _, s := range p.stages {
		s.reset()
	}
}

type stageProcessor interface {
	process(block [][]float64)
	retune(stage Stage, fs float64) error
	reset()
}

type filterStage struct {
	biquad *dsp.Biquad
}

func (f *filterStage) process(block [][]float64) {
	for ch, buf := range block {
		f.biquad.ProcessBlock(ch, buf)
	}
}

func (f *filterStage) retune(stage Stage, fs float64) error {
	coeffs, err := designFilter(stage, fs)
	if err != nil {
		return err
	}

	f.biquad.SetCoefficients(coeffs)

	return nil
}

func (f *filterStage) reset() { f.biquad.Reset() }

type compressorStage struct {
	compressor *dsp.Compressor
}

func (c *compressorStage) process(block [][]float64) { c.compressor.Process(block) }

func (c *compressorStage) retune(stage Stage, _ float64) error {
	return c.compressor.SetSettings(stage.Compressor)
}

func (c *compressorStage) reset() { c.compressor.Reset() }

type reverbStage struct {
	reverb *dsp.Reverb
}

func (r *reverbStage) process(block [][]float64) { r.reverb.Process(block) }

func (r *reverbStage) retune(stage Stage, _ float64) error {
	r.reverb.SetWet(clamp(stage.Wet, 0, 1))

	return nil
}

func (r *reverbStage) reset() { r.reverb.Reset() }

type gainStage struct {
	gain float64
}

func (g *gainStage) process(block [][]float64) {
	if g.gain == 1 {
		return
	}

	for _, buf := range block {
		vecmath.ScaleBlock(buf, buf, g.gain)
	}
}

func (g *gainStage) retune(stage Stage, _ float64) error {
	g.gain = stage.Gain

	return nil
}

func (g *gainStage) reset() {}

func designFilter(stage Stage, fs float64) (dsp.Coefficients, error) {
	switch stage.Kind {
	case StageLowShelf:
		return dsp.LowShelf(stage.Frequency, stage.GainDB, fs)
	case StagePeaking:
		return dsp.Peaking(stage.Frequency, stage.GainDB, stage.Q, fs)
	case StageHighShelf:
		return dsp.HighShelf(stage.Frequency, stage.GainDB, fs)
	case StageCompressor, StageReverb, StageGain:
		return dsp.Identity, fmt.Errorf("%w: %s is not a filter stage", dsp.ErrInvalidFilter, stage.Kind)
	default:
		return dsp.Identity, fmt.Errorf("%w: unknown stage %q", dsp.ErrInvalidFilter, stage.Kind)
	}
}
