package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// SpeechSampleRate is the sample rate of synthesized speech.
	SpeechSampleRate = 24000
	// SpeechChannels is the channel count of synthesized speech.
	SpeechChannels = 1
)

var ErrOddLength = errors.New("pcm data length is not a multiple of the frame size")

// Buffer holds decoded samples, one slice per channel, normalised to [-1, 1).
type Buffer struct {
	SampleRate int
	Channels   int
	Data       [][]float32
}

// Frames returns the number of sample frames per channel.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the playback length.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// DecodePCM16 decodes interleaved signed 16-bit little-endian PCM into a
// Buffer. Trailing bytes that do not form a whole frame are rejected.
func DecodePCM16(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	frameSize := 2 * channels
	if len(data)%frameSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes, %d-byte frames", ErrOddLength, len(data), frameSize)
	}

	frames := len(data) / frameSize
	buf := &Buffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Data:       make([][]float32, channels),
	}
	for ch := range buf.Data {
		buf.Data[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(data[off:]))
			buf.Data[ch][i] = float32(s) / 32768.0
		}
	}
	return buf, nil
}

// DecodeSpeech decodes raw speech PCM at the fixed speech format.
func DecodeSpeech(data []byte) (*Buffer, error) {
	return DecodePCM16(data, SpeechSampleRate, SpeechChannels)
}

// DecodeBase64 decodes base64-encoded 16-bit PCM.
func DecodeBase64(encoded string, sampleRate, channels int) (*Buffer, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 audio: %w", err)
	}
	return DecodePCM16(data, sampleRate, channels)
}

// PCM16 re-encodes the buffer as interleaved 16-bit little-endian PCM.
func (b *Buffer) PCM16() []byte {
	frames := b.Frames()
	out := make([]byte, frames*b.Channels*2)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < b.Channels; ch++ {
			off := (i*b.Channels + ch) * 2
			binary.LittleEndian.PutUint16(out[off:], uint16(toInt16(b.Data[ch][i])))
		}
	}
	return out
}

func toInt16(f float32) int16 {
	v := f * 32768.0
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}
