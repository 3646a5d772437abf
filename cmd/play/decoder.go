package main

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// AudioDecoder abstracts the decoding side so the playback loop handles WAV
// and MP3 sources uniformly.
type AudioDecoder interface {
	// PCMBuffer reads decoded PCM audio data into the provided buffer.
	// It returns the number of samples (not frames) read.
	PCMBuffer(buf *audio.IntBuffer) (n int, err error)
	// Duration returns the total duration of the audio stream.
	Duration() (time.Duration, error)
	// NumChans returns the number of audio channels.
	NumChans() uint16
	// SampleRate returns the sample rate in Hz.
	SampleRate() uint32
	// BitDepth returns the bit depth of the decoded samples.
	BitDepth() uint16
}

// wavDecoderWrapper wraps the go-audio WAV decoder to implement the
// AudioDecoder interface.
type wavDecoderWrapper struct {
	*wav.Decoder
}

func newWavDecoder(r io.ReadSeeker) (AudioDecoder, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	return &wavDecoderWrapper{Decoder: decoder}, nil
}

func (w *wavDecoderWrapper) SampleRate() uint32 { return w.Decoder.SampleRate }
func (w *wavDecoderWrapper) NumChans() uint16   { return w.Decoder.NumChans }
func (w *wavDecoderWrapper) BitDepth() uint16   { return uint16(w.Decoder.BitDepth) }

// mp3DecoderWrapper wraps the go-mp3 decoder to implement the AudioDecoder
// interface.
type mp3DecoderWrapper struct {
	decoder    *mp3.Decoder
	sampleRate uint32
	length     int64 // total decoded size in bytes
}

func newMp3Decoder(r io.Reader) (AudioDecoder, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}

	return &mp3DecoderWrapper{
		decoder:    decoder,
		sampleRate: uint32(decoder.SampleRate()),
		length:     decoder.Length(),
	}, nil
}

// PCMBuffer reads from the MP3 decoder and converts the 16-bit PCM byte data
// to integers.
func (m *mp3DecoderWrapper) PCMBuffer(buf *audio.IntBuffer) (n int, err error) {
	raw := make([]byte, len(buf.Data)*2)

	read, err := io.ReadFull(m.decoder, raw)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, err
	}

	read &^= 1
	for i := 0; i < read/2; i++ {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(raw[i*2:])))
	}

	return read / 2, nil
}

func (m *mp3DecoderWrapper) Duration() (time.Duration, error) {
	// go-mp3 always decodes to 16-bit stereo, 4 bytes per frame.
	frames := m.length / 4

	return time.Duration(frames) * time.Second / time.Duration(m.sampleRate), nil
}

func (m *mp3DecoderWrapper) NumChans() uint16   { return 2 }
func (m *mp3DecoderWrapper) SampleRate() uint32 { return m.sampleRate }
func (m *mp3DecoderWrapper) BitDepth() uint16   { return 16 }
