// Package audio provides WAV encoding for captured utterances and speaker
// playback of synthesized replies.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	headerSize    = 44
	bitsPerSample = 16
	numChannels   = 1

	// attenuation is applied to every sample before quantization so that
	// near-full-scale input cannot clip after the int16 conversion.
	attenuation = 0.8
)

// ErrNoSamples is returned by EncodeWAV for an empty sample buffer.
var ErrNoSamples = errors.New("audio: no samples to encode")

// EncodeWAV converts mono float32 samples in [-1, 1] into a complete RIFF/WAVE
// container: a 44-byte header declaring PCM format 1, 1 channel, 16-bit depth
// at the given sample rate, followed by 2*len(samples) data bytes. All
// multi-byte fields are little-endian.
//
// The function is pure: the same input always produces the same bytes.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	dataSize := uint32(len(samples) * 2)
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+int(dataSize)))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36)+dataSize)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16)) // PCM fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))  // PCM
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	byteRate := uint32(sampleRate) * numChannels * bitsPerSample / 8
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, uint16(numChannels*bitsPerSample/8))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataSize)

	for _, s := range samples {
		binary.Write(buf, binary.LittleEndian, quantize(s))
	}
	return buf.Bytes(), nil
}

// quantize clamps, attenuates and converts one sample to int16. Negative
// values scale by 32768 and non-negative by 32767 so the full signed range is
// reachable in both directions without overflow.
func quantize(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	s *= attenuation
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}
