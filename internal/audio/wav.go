// Package audio reads and writes the PCM buffers handed to speech
// recognition backends.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ekisa-team/igichat/internal/plugin"
)

var (
	// ErrInvalidWAV is returned for malformed RIFF/WAVE data.
	ErrInvalidWAV = errors.New("audio: invalid WAV data")

	// ErrUnsupportedFormat is returned for non PCM or non 16-bit audio.
	ErrUnsupportedFormat = errors.New("audio: unsupported WAV format")
)

const (
	formatPCM = 1

	// SampleRate is the rate speech recognition models expect.
	SampleRate = 16000
)

type fmtChunk struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// Decode reads a 16-bit PCM WAV stream.
func Decode(r io.Reader) (*plugin.AudioData, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		format  *fmtChunk
		pcm     []byte
		chunkID [4]byte
		size    uint32
	)

	for pcm == nil {
		if err := binary.Read(r, binary.LittleEndian, &chunkID); err != nil {
			return nil, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("%w: truncated chunk header", ErrInvalidWAV)
		}

		switch string(chunkID[:]) {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			format = &fmtChunk{}
			if err := binary.Read(r, binary.LittleEndian, format); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
			}
			if err := skip(r, int64(size-16)+int64(size%2)); err != nil {
				return nil, err
			}
		case "data":
			if format == nil {
				return nil, fmt.Errorf("%w: data before fmt chunk", ErrInvalidWAV)
			}
			pcm = make([]byte, size)
			if _, err := io.ReadFull(r, pcm); err != nil {
				return nil, fmt.Errorf("%w: truncated data chunk", ErrInvalidWAV)
			}
		default:
			if err := skip(r, int64(size)+int64(size%2)); err != nil {
				return nil, err
			}
		}
	}

	if format.AudioFormat != formatPCM || format.BitsPerSample != 16 {
		return nil, fmt.Errorf("%w: format %d, %d bits", ErrUnsupportedFormat, format.AudioFormat, format.BitsPerSample)
	}
	if format.Channels == 0 || format.SampleRate == 0 {
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrUnsupportedFormat, format.Channels, format.SampleRate)
	}

	return &plugin.AudioData{
		PCM:           pcm,
		SampleRate:    int(format.SampleRate),
		Channels:      int(format.Channels),
		BitsPerSample: int(format.BitsPerSample),
	}, nil
}

// Encode writes a as a PCM WAV stream.
func Encode(w io.Writer, a *plugin.AudioData) error {
	if a == nil || a.Channels <= 0 || a.SampleRate <= 0 || a.BitsPerSample <= 0 {
		return fmt.Errorf("%w: incomplete audio description", ErrUnsupportedFormat)
	}

	blockAlign := a.Channels * a.BitsPerSample / 8
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(a.PCM)))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, fmtChunk{
		AudioFormat:   formatPCM,
		Channels:      uint16(a.Channels),
		SampleRate:    uint32(a.SampleRate),
		ByteRate:      uint32(a.SampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: uint16(a.BitsPerSample),
	})
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(a.PCM)))

	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(a.PCM)
	return err
}

// Duration returns the length of a in seconds.
func Duration(a *plugin.AudioData) float64 {
	bytesPerSecond := a.SampleRate * a.Channels * a.BitsPerSample / 8
	if bytesPerSecond == 0 {
		return 0
	}
	return float64(len(a.PCM)) / float64(bytesPerSecond)
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("%w: truncated chunk", ErrInvalidWAV)
	}
	return nil
}
