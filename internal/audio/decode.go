package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Container identifies an encoded audio container.
type Container string

const (
	ContainerWAV     Container = "wav"
	ContainerMP3     Container = "mp3"
	ContainerUnknown Container = ""
)

const (
	mp3Channels       = 2
	mp3BytesPerSample = 2
	bitDepth8         = 8
)

// Errors returned while decoding.
var (
	ErrUnsupportedContainer = errors.New("unsupported audio container")
	ErrDecode               = errors.New("audio decode failed")
)

// Sniff inspects the leading bytes to identify the container.
func Sniff(data []byte) Container {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return ContainerWAV
	}

	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return ContainerMP3
	}

	// MPEG audio frame sync: 11 set bits.
	if len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 {
		return ContainerMP3
	}

	return ContainerUnknown
}

// Decode turns an encoded WAV or MP3 buffer into a track at its native rate.
func Decode(data []byte) (*Track, error) {
	switch Sniff(data) {
	case ContainerWAV:
		return decodeWAV(data)
	case ContainerMP3:
		return decodeMP3(data)
	case ContainerUnknown:
		return nil, ErrUnsupportedContainer
	default:
		return nil, ErrUnsupportedContainer
	}
}

// DecodeAt decodes the buffer and resamples every channel to sampleRate.
func DecodeAt(data []byte, sampleRate int) (*Track, error) {
	track, err := Decode(data)
	if err != nil {
		return nil, err
	}

	return track.Resampled(sampleRate)
}

func decodeWAV(data []byte) (*Track, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid WAV file", ErrDecode)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: read WAV PCM: %w", ErrDecode, err)
	}

	bitDepth := int(decoder.SampleBitDepth())
	if bitDepth == 0 || bitDepth > 32 {
		return nil, fmt.Errorf("%w: unsupported WAV bit depth %d", ErrDecode, bitDepth)
	}

	track, err := trackFromPCM(buf, bitDepth)
	if err != nil {
		return nil, err
	}

	validateErr := track.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, validateErr)
	}

	return track, nil
}

// trackFromPCM normalizes interleaved integer PCM into [-1, 1].
func trackFromPCM(buf *goaudio.IntBuffer, bitDepth int) (*Track, error) {
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("%w: WAV file declares no channels", ErrDecode)
	}

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	track := NewTrack(channels, frames, buf.Format.SampleRate)
	factor := math.Pow(2, float64(bitDepth-1))

	for i := range frames {
		for c := range channels {
			v := buf.Data[i*channels+c]
			if bitDepth == bitDepth8 {
				v -= 128
			}

			track.Channels[c][i] = float64(v) / factor
		}
	}

	return track, nil
}

func decodeMP3(data []byte) (*Track, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open MP3 stream: %w", ErrDecode, err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("%w: read MP3 stream: %w", ErrDecode, err)
	}

	// The decoder always yields interleaved stereo signed 16-bit LE.
	frames := len(pcm) / (mp3Channels * mp3BytesPerSample)
	track := NewTrack(mp3Channels, frames, decoder.SampleRate())

	offset := 0
	for i := range frames {
		for c := range mp3Channels {
			sample := int16(pcm[offset]) | int16(pcm[offset+1])<<8
			track.Channels[c][i] = float64(sample) / 32768
			offset += mp3BytesPerSample
		}
	}

	validateErr := track.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, validateErr)
	}

	return track, nil
}
