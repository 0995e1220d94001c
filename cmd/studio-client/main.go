// Package main provides a command-line client for the audio studio. It
// renders a voice track through the effect chain offline, optionally mixes a
// background, and writes the result as WAV or a transcoded export.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/audio-studio/internal/audio"
	"github.com/book-expert/audio-studio/internal/export"
	"github.com/book-expert/audio-studio/internal/library"
	"github.com/book-expert/audio-studio/internal/studio"
	"github.com/book-expert/audio-studio/internal/tts"
	"github.com/book-expert/logger"
)

// Flag names and descriptions.
const (
	flagVoice                = "voice"
	flagVoiceDesc            = "Path to the voice track (WAV or MP3)"
	flagOutput               = "out"
	flagOutputDesc           = "Output file path (default: <voice>_studio.<format>)"
	flagLow                  = "low"
	flagLowDesc              = "Low shelf gain at 320 Hz in dB (-12..12)"
	flagMid                  = "mid"
	flagMidDesc              = "Peaking gain at 1000 Hz in dB (-12..12)"
	flagHigh                 = "high"
	flagHighDesc             = "High shelf gain at 3200 Hz in dB (-12..12)"
	flagCompression          = "compression"
	flagCompressionDesc      = "Compression amount in percent (0..100)"
	flagReverb               = "reverb"
	flagReverbDesc           = "Reverb amount in percent (0..100)"
	flagVoiceVolume          = "voice-volume"
	flagVoiceVolumeDesc      = "Voice volume in percent (0..100)"
	flagBackground           = "background"
	flagBackgroundDesc       = "Library background track id"
	flagBackgroundFile       = "background-file"
	flagBackgroundFileDesc   = "Path to an uploaded background track"
	flagBackgroundVolume     = "background-volume"
	flagBackgroundVolumeDesc = "Background volume in percent (0..100)"
	flagLibraryDir           = "library-dir"
	flagLibraryDirDesc       = "Directory holding the background library assets"
	flagLoop                 = "loop"
	flagLoopDesc             = "Loop the background for the whole voice track"
	flagFormat               = "format"
	flagFormatDesc           = "Output format: wav, mp3, aac or mp4"
	flagQuality              = "quality"
	flagQualityDesc          = "Export bitrate, e.g. 128k, 192k, 320k or high"
	flagFFmpeg               = "ffmpeg"
	flagFFmpegDesc           = "Path to the ffmpeg binary used for non-WAV formats"
	flagSpectrum             = "spectrum"
	flagSpectrumDesc         = "Print the analyzer spectrum at the given position in seconds"
	flagHealth               = "health"
	flagHealthDesc           = "Check the speech service health and exit"
	flagServiceURL           = "service-url"
	flagServiceURLDesc       = "Speech service base URL for --health"
)

// Defaults.
const (
	defaultLibraryDir       = "public/audio/background"
	defaultVoiceVolume      = 100.0
	defaultBackgroundVolume = 30.0
	defaultServiceURL       = "http://localhost:8000"
	defaultOutputSuffix     = "_studio"
	healthCheckTimeout      = 10 * time.Second
	spectrumDisabled        = -1.0
	spectrumBarWidth        = 64
)

// Error and log messages.
const (
	errVoiceRequired         = "--voice must be provided"
	errCannotSpecifyBoth     = "cannot specify both --background and --background-file"
	errFailedToReadVoice     = "failed to read voice track: %w"
	errFailedToRender        = "failed to render mix: %w"
	errFailedToWriteOutput   = "failed to write output: %w"
	errFailedToCreateLogger  = "failed to create logger: %w"
	errHealthCheckFailed     = "Health check failed: %v"
	errServiceNotHealthy     = "Service is not healthy: %v\n"
	msgServiceHealthy        = "Service is healthy"
	logRendering             = "Rendering %s with %+v"
	logWroteOutput           = "Wrote %s (%.2fs)"
	msgGenerated             = "Generated: %s\n"
	errSpectrumOutOfRange    = "spectrum position %.2fs is beyond the %.2fs voice track"
	errSpectrumPositionWrong = "--spectrum must be zero or positive"
)

var (
	errUsage        = errors.New("invalid arguments")
	errOutOfRange   = errors.New("out of range")
	errExportFailed = errors.New("export failed")
)

type appFlags struct {
	voice            string
	output           string
	params           studio.EffectParameters
	voiceVolume      float64
	background       string
	backgroundFile   string
	backgroundVolume float64
	libraryDir       string
	loop             bool
	format           string
	quality          string
	ffmpeg           string
	spectrum         float64
	health           bool
	serviceURL       string
}

func main() {
	err := run(context.Background(), os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	log, err := logger.New(os.TempDir(), "studio-client.log")
	if err != nil {
		return fmt.Errorf(errFailedToCreateLogger, err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	if flags.health {
		return handleHealthCheck(ctx, flags.serviceURL, log, stdout)
	}

	return handleRender(ctx, flags, log, stdout)
}

// parseFlags reads and validates the command line.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	fs := flag.NewFlagSet("studio-client", flag.ContinueOnError)
	fs.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	fs.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	fs.Float64Var(&flags.params.Low, flagLow, 0, flagLowDesc)
	fs.Float64Var(&flags.params.Mid, flagMid, 0, flagMidDesc)
	fs.Float64Var(&flags.params.High, flagHigh, 0, flagHighDesc)
	fs.Float64Var(&flags.params.Compression, flagCompression, 0, flagCompressionDesc)
	fs.Float64Var(&flags.params.Reverb, flagReverb, 0, flagReverbDesc)
	fs.Float64Var(&flags.voiceVolume, flagVoiceVolume, defaultVoiceVolume, flagVoiceVolumeDesc)
	fs.StringVar(&flags.background, flagBackground, "", flagBackgroundDesc)
	fs.StringVar(&flags.backgroundFile, flagBackgroundFile, "", flagBackgroundFileDesc)
	fs.Float64Var(&flags.backgroundVolume, flagBackgroundVolume, defaultBackgroundVolume, flagBackgroundVolumeDesc)
	fs.StringVar(&flags.libraryDir, flagLibraryDir, defaultLibraryDir, flagLibraryDirDesc)
	fs.BoolVar(&flags.loop, flagLoop, false, flagLoopDesc)
	fs.StringVar(&flags.format, flagFormat, string(audio.FORMAT_WAV), flagFormatDesc)
	fs.StringVar(&flags.quality, flagQuality, audio.DEFAULT_BITRATE, flagQualityDesc)
	fs.StringVar(&flags.ffmpeg, flagFFmpeg, export.DefaultBinary, flagFFmpegDesc)
	fs.Float64Var(&flags.spectrum, flagSpectrum, spectrumDisabled, flagSpectrumDesc)
	fs.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	fs.StringVar(&flags.serviceURL, flagServiceURL, defaultServiceURL, flagServiceURLDesc)

	err := fs.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("%w: %w", errUsage, err)
	}

	return flags, validateFlags(flags)
}

func validateFlags(flags appFlags) error {
	if flags.health {
		return nil
	}

	if flags.voice == "" {
		return fmt.Errorf("%w: %s", errUsage, errVoiceRequired)
	}

	if flags.background != "" && flags.backgroundFile != "" {
		return fmt.Errorf("%w: %s", errUsage, errCannotSpecifyBoth)
	}

	if flags.background != "" {
		_, err := library.Get(flags.background)
		if err != nil {
			return err
		}
	}

	if flags.spectrum != spectrumDisabled && flags.spectrum < 0 {
		return fmt.Errorf("%w: %s", errUsage, errSpectrumPositionWrong)
	}

	_, err := audio.ParseFormat(flags.format)
	if err != nil {
		return err
	}

	_, err = audio.ParseQuality(flags.quality, audio.DEFAULT_BITRATE)

	return err
}

// backgroundSelection maps the background flags onto a selection. Uploaded
// files are addressed by their path.
func backgroundSelection(flags appFlags) *studio.BackgroundSelection {
	switch {
	case flags.background != "":
		return &studio.BackgroundSelection{TrackID: flags.background, VolumePercent: flags.backgroundVolume}
	case flags.backgroundFile != "":
		return &studio.BackgroundSelection{UploadKey: flags.backgroundFile, VolumePercent: flags.backgroundVolume}
	default:
		return nil
	}
}

// outputPath derives the output file when --out is empty.
func outputPath(flags appFlags, format audio.Format) string {
	if flags.output != "" {
		return flags.output
	}

	base := strings.TrimSuffix(flags.voice, filepath.Ext(flags.voice))

	return base + defaultOutputSuffix + "." + format.Extension()
}

// localFiles serves uploaded backgrounds from the filesystem.
type localFiles struct{}

func (localFiles) Download(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(key)
	if err != nil {
		return nil, fmt.Errorf("read background file: %w", err)
	}

	return data, nil
}

func renderOptions(flags appFlags) studio.RenderOptions {
	opts := studio.DefaultRenderOptions()
	opts.LoopBackground = flags.loop
	opts.Chain.ReverbEnabled = flags.params.Reverb > 0

	return opts
}

// handleRender renders the voice file and writes the requested output.
func handleRender(ctx context.Context, flags appFlags, log *logger.Logger, stdout io.Writer) error {
	data, err := os.ReadFile(flags.voice)
	if err != nil {
		return fmt.Errorf(errFailedToReadVoice, err)
	}

	voice, err := audio.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %w", studio.ErrDecodeFailed, err)
	}

	loader, err := library.NewLoader(library.DirSource{Dir: flags.libraryDir}, localFiles{}, 0, audio.RenderSampleRate)
	if err != nil {
		return err
	}

	opts := renderOptions(flags)
	renderer := studio.NewRenderer(opts, loader)
	selection := backgroundSelection(flags)

	log.Info(logRendering, flags.voice, flags.params.Clamp())

	mix, err := renderer.Render(ctx, studio.RenderInput{
		Voice:              voice,
		Params:             flags.params,
		Background:         selection,
		VoiceVolumePercent: &flags.voiceVolume,
	})
	if err != nil {
		return fmt.Errorf(errFailedToRender, err)
	}

	if flags.spectrum != spectrumDisabled {
		spectrumErr := printSpectrum(ctx, opts, voice, flags, loader, stdout)
		if spectrumErr != nil {
			return spectrumErr
		}
	}

	format, _ := audio.ParseFormat(flags.format)
	quality, _ := audio.ParseQuality(flags.quality, audio.DEFAULT_BITRATE)

	out := mix.WAV()

	if format != audio.FORMAT_WAV {
		transcoder := export.NewFFmpegTranscoder(flags.ffmpeg, "", log)

		out, err = transcoder.Transcode(ctx, out, format, quality)
		if err != nil {
			return fmt.Errorf("%w: %w", errExportFailed, err)
		}
	}

	path := outputPath(flags, format)

	err = os.WriteFile(path, out, 0o600)
	if err != nil {
		return fmt.Errorf(errFailedToWriteOutput, err)
	}

	log.Info(logWroteOutput, path, mix.Track.Seconds())
	fmt.Fprintf(stdout, msgGenerated, path)

	return nil
}

// printSpectrum plays the voice through a live graph up to the requested
// position and prints the analyzer bins as a bar chart.
func printSpectrum(
	ctx context.Context,
	opts studio.RenderOptions,
	voice *audio.Track,
	flags appFlags,
	backgrounds studio.BackgroundSource,
	stdout io.Writer,
) error {
	graph, err := studio.NewLiveGraph(opts)
	if err != nil {
		return err
	}
	defer graph.Close()

	loadErr := graph.LoadVoice(voice)
	if loadErr != nil {
		return loadErr
	}

	at := time.Duration(flags.spectrum * float64(time.Second))
	if at > graph.Duration() {
		return fmt.Errorf("%w: "+errSpectrumOutOfRange, errOutOfRange, flags.spectrum, graph.Duration().Seconds())
	}

	graph.SetParameters(flags.params)
	graph.SetVoiceVolume(flags.voiceVolume)

	if selection := backgroundSelection(flags); selection != nil {
		track, bgErr := backgrounds.LoadBackground(ctx, *selection)
		if bgErr != nil {
			return bgErr
		}

		bgErr = graph.SelectBackground(*selection, track)
		if bgErr != nil {
			return bgErr
		}
	}

	playErr := graph.Play()
	if playErr != nil {
		return playErr
	}

	quantum := opts.QuantumFrames
	if quantum <= 0 {
		quantum = studio.DefaultQuantumFrames
	}

	buf := make([][]float64, audio.RenderChannels)
	for i := range buf {
		buf[i] = make([]float64, quantum)
	}

	for graph.IsPlaying() && graph.Position() < at {
		_, readErr := graph.Read(buf)
		if readErr != nil {
			return readErr
		}
	}

	bins := make([]byte, graph.FrequencyBinCount())

	dataErr := graph.ByteFrequencyData(bins)
	if dataErr != nil {
		return dataErr
	}

	binHz := float64(audio.RenderSampleRate) / float64(2*len(bins))
	for k, value := range bins {
		if value == 0 {
			continue
		}

		width := int(value) * spectrumBarWidth / 255
		fmt.Fprintf(stdout, "%8.0f Hz %3d %s\n", float64(k)*binHz, value, strings.Repeat("#", width))
	}

	return nil
}

// handleHealthCheck performs a service health check and prints the result.
func handleHealthCheck(ctx context.Context, serviceURL string, log *logger.Logger, stdout io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	client := tts.NewHTTPClient(serviceURL, healthCheckTimeout)

	err := client.HealthCheck(ctx)
	if err != nil {
		log.Error(errHealthCheckFailed, err)
		fmt.Fprintf(stdout, errServiceNotHealthy, err)

		return err
	}

	fmt.Fprintln(stdout, msgServiceHealthy)

	return nil
}
