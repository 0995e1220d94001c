package studio_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/book-expert/audio-studio/internal/audio"
	"github.com/book-expert/audio-studio/internal/studio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackgrounds struct {
	tracks map[string]*audio.Track
	err    error
}

func (f *fakeBackgrounds) LoadBackground(_ context.Context, sel studio.BackgroundSelection) (*audio.Track, error) {
	if f.err != nil {
		return nil, f.err
	}

	track, ok := f.tracks[sel.Reference()]
	if !ok {
		return nil, errors.New("unknown background")
	}

	return track, nil
}

func sineTrack(freq, amplitude, seconds float64, rate int) *audio.Track {
	frames := int(math.Round(seconds * float64(rate)))
	track := audio.NewTrack(1, frames, rate)

	for i := range frames {
		track.Channels[0][i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}

	return track
}

func constantTrack(value float64, frames, rate int) *audio.Track {
	track := audio.NewTrack(2, frames, rate)
	for _, ch := range track.Channels {
		for i := range ch {
			ch[i] = value
		}
	}

	return track
}

func rms(samples []float64) float64 {
	sum := 0.0
	for _, v := range samples {
		sum += v * v
	}

	return math.Sqrt(sum / float64(len(samples)))
}

func TestCompressorThresholdMapping(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, -50.0, studio.CompressorThresholdDB(0), 1e-12)
	assert.InDelta(t, -25.0, studio.CompressorThresholdDB(50), 1e-12)
	assert.InDelta(t, 0.0, studio.CompressorThresholdDB(100), 1e-12)
	assert.InDelta(t, 0.0, studio.CompressorThresholdDB(180), 1e-12)
	assert.InDelta(t, -50.0, studio.CompressorThresholdDB(-5), 1e-12)
}

func TestEffectParametersClamp(t *testing.T) {
	t.Parallel()

	got := studio.EffectParameters{Low: 30, Mid: -40, High: math.NaN(), Compression: 250, Reverb: -1}.Clamp()

	assert.Equal(t, studio.EffectParameters{Low: 12, Mid: -12, High: 0, Compression: 100, Reverb: 0}, got)
}

func TestBuildChainOrderAndClamping(t *testing.T) {
	t.Parallel()

	chain := studio.BuildChain(
		studio.EffectParameters{Low: 20, Mid: 3, High: -15, Compression: 40},
		studio.DefaultChainOptions(),
	)

	kinds := make([]studio.StageKind, 0, len(chain.Stages))
	for _, s := range chain.Stages {
		kinds = append(kinds, s.Kind)
	}

	assert.Equal(t, []studio.StageKind{
		studio.StageLowShelf, studio.StagePeaking, studio.StageHighShelf, studio.StageCompressor, studio.StageGain,
	}, kinds)

	assert.InDelta(t, 320.0, chain.Stages[0].Frequency, 0)
	assert.InDelta(t, 12.0, chain.Stages[0].GainDB, 0)
	assert.InDelta(t, 1000.0, chain.Stages[1].Frequency, 0)
	assert.InDelta(t, 0.5, chain.Stages[1].Q, 0)
	assert.InDelta(t, 3200.0, chain.Stages[2].Frequency, 0)
	assert.InDelta(t, -12.0, chain.Stages[2].GainDB, 0)

	comp, ok := chain.Compressor()
	require.True(t, ok)
	assert.InDelta(t, -30.0, comp.ThresholdDB, 1e-12)
	assert.InDelta(t, 40.0, comp.KneeDB, 0)
	assert.InDelta(t, 12.0, comp.Ratio, 0)
	assert.InDelta(t, 0.0, comp.Attack, 0)
	assert.InDelta(t, 0.25, comp.Release, 0)

	opts := studio.DefaultChainOptions()
	opts.ReverbEnabled = true
	withReverb := studio.BuildChain(studio.EffectParameters{Reverb: 50}, opts)
	require.Len(t, withReverb.Stages, 6)
	assert.Equal(t, studio.StageReverb, withReverb.Stages[4].Kind)
	assert.InDelta(t, 0.5, withReverb.Stages[4].Wet, 1e-12)
}

func TestProcessorRetuneKeepsTopology(t *testing.T) {
	t.Parallel()

	opts := studio.DefaultChainOptions()
	processor, err := studio.BuildChain(studio.DefaultEffectParameters(), opts).Instantiate()
	require.NoError(t, err)

	next := studio.BuildChain(studio.EffectParameters{Low: 6, Compression: 80}, opts)
	require.NoError(t, processor.Retune(next))
	assert.Equal(t, next, processor.Chain())

	opts.ReverbEnabled = true
	err = processor.Retune(studio.BuildChain(studio.DefaultEffectParameters(), opts))
	require.ErrorIs(t, err, studio.ErrTopologyChanged)
}

func TestRenderIsDeterministic(t *testing.T) {
	t.Parallel()

	backgrounds := &fakeBackgrounds{tracks: map[string]*audio.Track{"1": sineTrack(110, 0.3, 2, 48000)}}
	renderer := studio.NewRenderer(studio.DefaultRenderOptions(), backgrounds)

	in := studio.RenderInput{
		Voice:      sineTrack(440, 0.6, 1.25, 44100),
		Params:     studio.EffectParameters{Low: 6, Mid: -3, High: 4, Compression: 60},
		Background: &studio.BackgroundSelection{TrackID: "1", VolumePercent: 30},
	}

	first, err := renderer.Render(context.Background(), in)
	require.NoError(t, err)

	second, err := renderer.Render(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.WAV(), second.WAV())
	assert.Equal(t, first.Track.Channels, second.Track.Channels)
}

func TestRenderLengthFollowsVoice(t *testing.T) {
	t.Parallel()

	voice := sineTrack(440, 0.5, 1.5, 44100)
	backgrounds := &fakeBackgrounds{tracks: map[string]*audio.Track{
		"short": constantTrack(0.1, 4410, 44100),
		"long":  constantTrack(0.1, 44100*4, 44100),
	}}
	renderer := studio.NewRenderer(studio.DefaultRenderOptions(), backgrounds)

	for _, id := range []string{"", "short", "long"} {
		in := studio.RenderInput{Voice: voice}
		if id != "" {
			in.Background = &studio.BackgroundSelection{TrackID: id, VolumePercent: 50}
		}

		mix, err := renderer.Render(context.Background(), in)
		require.NoError(t, err)

		assert.Equal(t, 66150, mix.Track.Frames(), "background %q", id)
		assert.Equal(t, 2, mix.Track.NumChannels())
		assert.Equal(t, audio.RenderSampleRate, mix.Track.SampleRate)
	}
}

func TestRenderResamplesVoice(t *testing.T) {
	t.Parallel()

	renderer := studio.NewRenderer(studio.DefaultRenderOptions(), nil)

	mix, err := renderer.Render(context.Background(), studio.RenderInput{
		Voice: sineTrack(300, 0.5, 1, 22050),
	})
	require.NoError(t, err)

	assert.Equal(t, 44100, mix.Track.Frames())

	// The converted voice keeps its level away from the edges.
	for _, ch := range mix.Track.Channels {
		assert.InDelta(t, 0.5/math.Sqrt2, rms(ch[4410:39690]), 0.005)
	}
}

func TestCompressionLoudnessIsDeepestMidRange(t *testing.T) {
	t.Parallel()

	renderer := studio.NewRenderer(studio.DefaultRenderOptions(), nil)
	voice := sineTrack(440, 0.5, 1, 44100)

	level := func(compression float64) float64 {
		mix, err := renderer.Render(context.Background(), studio.RenderInput{
			Voice:  voice,
			Params: studio.EffectParameters{Compression: compression},
		})
		require.NoError(t, err)

		return rms(mix.Track.Channels[0][4410:])
	}

	dry := rms(voice.Channels[0][4410:])
	none, half, full := level(0), level(50), level(100)

	assert.InDelta(t, dry, none, 1e-9)
	assert.Less(t, half, 0.7*dry)
	assert.Greater(t, full, 0.85*dry)
	assert.Greater(t, full, half)
}

func TestRenderWithoutVoiceVolumeUsesFullVolume(t *testing.T) {
	t.Parallel()

	renderer := studio.NewRenderer(studio.DefaultRenderOptions(), nil)
	voice := sineTrack(440, 0.5, 0.5, 44100)

	defaulted, err := renderer.Render(context.Background(), studio.RenderInput{Voice: voice})
	require.NoError(t, err)
	assert.InDelta(t, rms(voice.Channels[0]), rms(defaulted.Track.Channels[0]), 1e-6)

	full := 100.0
	explicit, err := renderer.Render(context.Background(), studio.RenderInput{Voice: voice, VoiceVolumePercent: &full})
	require.NoError(t, err)
	assert.Equal(t, explicit.Track.Channels, defaulted.Track.Channels)

	muted := 0.0
	silent, err := renderer.Render(context.Background(), studio.RenderInput{Voice: voice, VoiceVolumePercent: &muted})
	require.NoError(t, err)
	assert.InDelta(t, 0, rms(silent.Track.Channels[0]), 0)
}

func TestRenderBackgroundAtZeroVolumeEqualsVoiceOnly(t *testing.T) {
	t.Parallel()

	backgrounds := &fakeBackgrounds{tracks: map[string]*audio.Track{"2": sineTrack(90, 0.9, 3, 44100)}}
	renderer := studio.NewRenderer(studio.DefaultRenderOptions(), backgrounds)

	in := studio.RenderInput{
		Voice:  sineTrack(523, 0.4, 1, 44100),
		Params: studio.EffectParameters{Low: 3, High: -2, Compression: 25},
	}

	voiceOnly, err := renderer.Render(context.Background(), in)
	require.NoError(t, err)

	in.Background = &studio.BackgroundSelection{TrackID: "2", VolumePercent: 0}
	withMuted, err := renderer.Render(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, voiceOnly.Track.Channels, withMuted.Track.Channels)
}

func TestRenderSumsScaledBackground(t *testing.T) {
	t.Parallel()

	silentVoice := audio.NewTrack(1, 1000, 44100)
	backgrounds := &fakeBackgrounds{tracks: map[string]*audio.Track{"bg": constantTrack(0.5, 300, 44100)}}
	sel := &studio.BackgroundSelection{TrackID: "bg", VolumePercent: 50}

	once := studio.NewRenderer(studio.DefaultRenderOptions(), backgrounds)
	mix, err := once.Render(context.Background(), studio.RenderInput{
		Voice: silentVoice, Background: sel,
	})
	require.NoError(t, err)

	for _, ch := range mix.Track.Channels {
		assert.InDelta(t, 0.25, ch[0], 0)
		assert.InDelta(t, 0.25, ch[299], 0)
		assert.InDelta(t, 0.0, ch[300], 0)
		assert.InDelta(t, 0.0, ch[999], 0)
	}

	opts := studio.DefaultRenderOptions()
	opts.LoopBackground = true
	looped := studio.NewRenderer(opts, backgrounds)

	mix, err = looped.Render(context.Background(), studio.RenderInput{
		Voice: silentVoice, Background: sel,
	})
	require.NoError(t, err)

	for _, ch := range mix.Track.Channels {
		assert.InDelta(t, 0.25, ch[300], 0)
		assert.InDelta(t, 0.25, ch[999], 0)
	}
}

func TestRenderFlatSineKeepsRMS(t *testing.T) {
	t.Parallel()

	amplitude := math.Pow(10, -6.0/20)
	voice := sineTrack(440, amplitude, 3, 44100)
	renderer := studio.NewRenderer(studio.DefaultRenderOptions(), nil)

	mix, err := renderer.Render(context.Background(), studio.RenderInput{
		Voice:  voice,
		Params: studio.DefaultEffectParameters(),
	})
	require.NoError(t, err)

	require.Equal(t, 3*44100, mix.Track.Frames())

	in := rms(voice.Channels[0])
	for _, ch := range mix.Track.Channels {
		assert.InDelta(t, in, rms(ch), 1e-6)
	}
}

func TestRenderFailsWholeOnBackgroundDecodeError(t *testing.T) {
	t.Parallel()

	renderer := studio.NewRenderer(studio.DefaultRenderOptions(), &fakeBackgrounds{err: errors.New("corrupt mp3")})

	mix, err := renderer.Render(context.Background(), studio.RenderInput{
		Voice:      sineTrack(440, 0.5, 0.1, 44100),
		Background: &studio.BackgroundSelection{TrackID: "3", VolumePercent: 40},
	})

	require.ErrorIs(t, err, studio.ErrDecodeFailed)
	assert.Nil(t, mix)
}

func TestRenderRequiresVoice(t *testing.T) {
	t.Parallel()

	renderer := studio.NewRenderer(studio.DefaultRenderOptions(), nil)

	_, err := renderer.Render(context.Background(), studio.RenderInput{})
	require.ErrorIs(t, err, studio.ErrNoVoiceTrack)

	_, err = renderer.Render(context.Background(), studio.RenderInput{Voice: audio.NewTrack(1, 0, 44100)})
	require.ErrorIs(t, err, studio.ErrDecodeFailed)
}

func TestRenderHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	renderer := studio.NewRenderer(studio.DefaultRenderOptions(), nil)
	_, err := renderer.Render(ctx, studio.RenderInput{Voice: sineTrack(440, 0.5, 0.5, 44100)})
	require.ErrorIs(t, err, context.Canceled)
}

func TestBackgroundSelectionValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, studio.BackgroundSelection{TrackID: "1"}.Validate())
	require.NoError(t, studio.BackgroundSelection{UploadKey: "upload-1.mp3"}.Validate())
	require.ErrorIs(t, studio.BackgroundSelection{}.Validate(), studio.ErrInvalidBackground)
	require.ErrorIs(t, studio.BackgroundSelection{TrackID: "1", UploadKey: "x"}.Validate(), studio.ErrInvalidBackground)

	assert.InDelta(t, 1.0, studio.BackgroundSelection{TrackID: "1", VolumePercent: 400}.Gain(), 0)
}
