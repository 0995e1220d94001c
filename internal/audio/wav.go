package audio

import (
	"encoding/binary"
	"math"
)

// WAV header layout for 16-bit PCM.
const (
	WAVHeaderSize    = 44
	wavFmtChunkSize  = 16
	wavFormatPCM     = 1
	wavBytesPerSample = 2
	riffSizeOffset   = 36
)

// EncodeWAV serializes the track as a canonical 44-byte-header PCM WAV with
// 16-bit little-endian samples, channels interleaved per frame.
//
// Samples are clamped to [-1, 1]. Negative samples scale by 32768 and
// non-negative samples by 32767, each rounded to the nearest integer.
func EncodeWAV(track *Track) []byte {
	channels := track.NumChannels()
	frames := track.Frames()
	dataLength := frames * channels * wavBytesPerSample

	out := make([]byte, WAVHeaderSize+dataLength)
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(riffSizeOffset+dataLength))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], wavFmtChunkSize)
	le.PutUint16(out[20:22], wavFormatPCM)
	le.PutUint16(out[22:24], uint16(channels))
	le.PutUint32(out[24:28], uint32(track.SampleRate))
	le.PutUint32(out[28:32], uint32(track.SampleRate*wavBytesPerSample*channels))
	le.PutUint16(out[32:34], uint16(channels*wavBytesPerSample))
	le.PutUint16(out[34:36], PCMBitDepth)

	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(dataLength))

	offset := WAVHeaderSize
	for i := range frames {
		for _, ch := range track.Channels {
			le.PutUint16(out[offset:], uint16(FloatToPCM16(ch[i])))
			offset += wavBytesPerSample
		}
	}

	return out
}

// FloatToPCM16 converts one normalized sample to a signed 16-bit value.
func FloatToPCM16(sample float64) int16 {
	if math.IsNaN(sample) {
		return 0
	}

	sample = math.Max(-1, math.Min(1, sample))
	if sample < 0 {
		return int16(math.Round(sample * 32768))
	}

	return int16(math.Round(sample * 32767))
}
