package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/youpy/go-wav"
)

// Speaker plays a complete WAV clip to the audio output device, blocking
// until playback finishes or ctx is cancelled. Implementations must be safe
// for sequential reuse; concurrent playback is not supported.
type Speaker interface {
	Play(ctx context.Context, wavData []byte) error
}

// OtoSpeaker plays WAV clips through the default output device. The
// underlying oto context is created on first use with the format of the first
// clip and reused afterwards; oto contexts cannot be torn down, so clips with
// a different sample rate are rejected.
type OtoSpeaker struct {
	ctx        *oto.Context
	sampleRate int
	channels   int
}

// NewOtoSpeaker returns a speaker with no device attached yet. The device is
// acquired lazily on the first Play call.
func NewOtoSpeaker() *OtoSpeaker {
	return &OtoSpeaker{}
}

// Play decodes wavData and plays it to completion.
func (s *OtoSpeaker) Play(ctx context.Context, wavData []byte) error {
	pcm, format, err := decodeWAV(wavData)
	if err != nil {
		return err
	}

	if s.ctx == nil {
		opts := &oto.NewContextOptions{
			SampleRate:   int(format.SampleRate),
			ChannelCount: int(format.NumChannels),
			Format:       oto.FormatSignedInt16LE,
		}
		otoCtx, ready, err := oto.NewContext(opts)
		if err != nil {
			return fmt.Errorf("audio: open output device: %w", err)
		}
		<-ready
		s.ctx = otoCtx
		s.sampleRate = int(format.SampleRate)
		s.channels = int(format.NumChannels)
	} else if s.sampleRate != int(format.SampleRate) || s.channels != int(format.NumChannels) {
		return fmt.Errorf("audio: clip format %d Hz/%d ch does not match open device %d Hz/%d ch",
			format.SampleRate, format.NumChannels, s.sampleRate, s.channels)
	}

	player := s.ctx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()

	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

// decodeWAV extracts interleaved S16LE PCM and the declared format from a WAV
// container.
func decodeWAV(data []byte) ([]byte, *wav.WavFormat, error) {
	r := wav.NewReader(bytes.NewReader(data))
	format, err := r.Format()
	if err != nil {
		return nil, nil, fmt.Errorf("audio: read WAV format: %w", err)
	}
	if format.NumChannels < 1 || format.NumChannels > 2 {
		return nil, nil, fmt.Errorf("audio: unsupported channel count %d", format.NumChannels)
	}

	var pcm bytes.Buffer
	for {
		samples, err := r.ReadSamples()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("audio: read WAV samples: %w", err)
		}
		for _, smp := range samples {
			for ch := 0; ch < int(format.NumChannels); ch++ {
				v := r.IntValue(smp, uint(ch))
				pcm.WriteByte(byte(v))
				pcm.WriteByte(byte(v >> 8))
			}
		}
	}
	if pcm.Len() == 0 {
		return nil, nil, errors.New("audio: WAV contains no samples")
	}
	return pcm.Bytes(), format, nil
}
