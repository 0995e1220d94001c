package audio

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Constants for export quality settings.
const (
	DEFAULT_BITRATE  = "192k"
	HIGH_BITRATE     = "320k"
	QUALITY_HIGH     = "high"
	MIN_BITRATE_KBPS = 32
	MAX_BITRATE_KBPS = 512
)

// Constants for error messages and formats.
const (
	ERR_FMT_UNKNOWN_FORMAT = "%w: %q (supported: mp3, aac, mp4, wav)"
	ERR_FMT_BITRATE_SYNTAX = "%w: %q must look like 192k or be \"high\""
	ERR_FMT_BITRATE_RANGE  = "%w: %d kbps must be between %d and %d"
)

// Common errors for export settings.
var (
	ErrInvalidFormat  = errors.New("invalid export format")
	ErrInvalidQuality = errors.New("invalid quality settings")
)

var bitratePattern = regexp.MustCompile(`^([0-9]+)k$`)

// Format represents the supported export targets.
type Format string

const (
	FORMAT_WAV Format = "wav"
	FORMAT_MP3 Format = "mp3"
	FORMAT_AAC Format = "aac"
	FORMAT_MP4 Format = "mp4"
)

// ParseFormat normalizes a user-supplied format identifier.
func ParseFormat(value string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(value)))
	switch format {
	case FORMAT_WAV, FORMAT_MP3, FORMAT_AAC, FORMAT_MP4:
		return format, nil
	default:
		return "", fmt.Errorf(ERR_FMT_UNKNOWN_FORMAT, ErrInvalidFormat, value)
	}
}

// Extension returns the file extension used for the format.
func (f Format) Extension() string {
	if f == FORMAT_AAC {
		return "m4a"
	}

	return string(f)
}

// ContentType returns the MIME type of files in the format.
func (f Format) ContentType() string {
	switch f {
	case FORMAT_WAV:
		return "audio/wav"
	case FORMAT_MP3:
		return "audio/mpeg"
	case FORMAT_AAC:
		return "audio/aac"
	case FORMAT_MP4:
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// Codec names the encoder library used for the format; empty for WAV.
func (f Format) Codec() string {
	switch f {
	case FORMAT_MP3:
		return "libmp3lame"
	case FORMAT_AAC, FORMAT_MP4:
		return "aac"
	case FORMAT_WAV:
		return ""
	default:
		return ""
	}
}

// Quality is an export bitrate setting such as "192k".
type Quality struct {
	Bitrate string `json:"bitrate"`
}

// ParseQuality accepts "high" (320k), an empty value (the default bitrate)
// or an explicit NNNk bitrate.
func ParseQuality(value, fallback string) (Quality, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "":
		if fallback == "" {
			fallback = DEFAULT_BITRATE
		}

		return ParseQuality(fallback, DEFAULT_BITRATE)
	case QUALITY_HIGH:
		return Quality{Bitrate: HIGH_BITRATE}, nil
	}

	quality := Quality{Bitrate: value}

	validateErr := quality.Validate()
	if validateErr != nil {
		return Quality{}, validateErr
	}

	return quality, nil
}

// Validate checks the bitrate syntax and range.
func (q Quality) Validate() error {
	match := bitratePattern.FindStringSubmatch(q.Bitrate)
	if match == nil {
		return fmt.Errorf(ERR_FMT_BITRATE_SYNTAX, ErrInvalidQuality, q.Bitrate)
	}

	kbps, err := strconv.Atoi(match[1])
	if err != nil {
		return fmt.Errorf(ERR_FMT_BITRATE_SYNTAX, ErrInvalidQuality, q.Bitrate)
	}

	if kbps < MIN_BITRATE_KBPS || kbps > MAX_BITRATE_KBPS {
		return fmt.Errorf(ERR_FMT_BITRATE_RANGE, ErrInvalidQuality, kbps, MIN_BITRATE_KBPS, MAX_BITRATE_KBPS)
	}

	return nil
}
