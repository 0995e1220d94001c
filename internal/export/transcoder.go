// Package export converts saved WAV mixes into distribution formats with an
// external ffmpeg binary and records the resulting files.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/book-expert/audio-studio/internal/audio"
	"github.com/book-expert/logger"
)

// DefaultBinary is looked up on PATH.
const DefaultBinary = "ffmpeg"

const (
	tempDirPattern = "studio-export-*"
	inputName      = "input.wav"
	outputBase     = "output."
)

// Transcoding errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrTranscodeFailed   = errors.New("transcoding failed")
	ErrEmptyInput        = errors.New("audio data is required")
)

// FFmpegTranscoder runs ffmpeg on temporary files.
type FFmpegTranscoder struct {
	binary  string
	tempDir string
	log     *logger.Logger
}

// NewFFmpegTranscoder returns a transcoder. An empty binary means
// DefaultBinary; an empty tempDir means os.TempDir().
func NewFFmpegTranscoder(binary, tempDir string, log *logger.Logger) *FFmpegTranscoder {
	if binary == "" {
		binary = DefaultBinary
	}

	return &FFmpegTranscoder{binary: binary, tempDir: tempDir, log: log}
}

// Args builds the ffmpeg command line for one conversion.
func Args(input, output string, format audio.Format, quality audio.Quality) ([]string, error) {
	codec := format.Codec()
	if codec == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	return []string{"-y", "-i", input, "-c:a", codec, "-b:a", quality.Bitrate, output}, nil
}

// Transcode converts wav into format at the given bitrate.
func (t *FFmpegTranscoder) Transcode(
	ctx context.Context,
	wav []byte,
	format audio.Format,
	quality audio.Quality,
) ([]byte, error) {
	if len(wav) == 0 {
		return nil, ErrEmptyInput
	}

	qualityErr := quality.Validate()
	if qualityErr != nil {
		return nil, qualityErr
	}

	workDir, err := os.MkdirTemp(t.tempDir, tempDirPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir for export: %w", err)
	}

	defer func() {
		removeErr := os.RemoveAll(workDir)
		if removeErr != nil {
			t.log.Warn("Failed to remove temp dir '%s': %v", workDir, removeErr)
		}
	}()

	inputPath := filepath.Join(workDir, inputName)
	outputPath := filepath.Join(workDir, outputBase+format.Extension())

	args, err := Args(inputPath, outputPath, format, quality)
	if err != nil {
		return nil, err
	}

	writeErr := os.WriteFile(inputPath, wav, 0o600)
	if writeErr != nil {
		return nil, fmt.Errorf("failed to write export input: %w", writeErr)
	}

	// #nosec G204 -- the binary comes from configuration and every argument is built here
	cmd := exec.CommandContext(ctx, t.binary, args...)

	output, runErr := cmd.CombinedOutput()
	if runErr != nil {
		return nil, fmt.Errorf("%w: %s: %w - output: %s", ErrTranscodeFailed, t.binary, runErr, string(output))
	}

	encoded, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: no output file: %w", ErrTranscodeFailed, err)
	}

	if len(encoded) == 0 {
		return nil, fmt.Errorf("%w: empty output file", ErrTranscodeFailed)
	}

	t.log.Info("Transcoded %d bytes of WAV to %d bytes of %s at %s", len(wav), len(encoded), format, quality.Bitrate)

	return encoded, nil
}
