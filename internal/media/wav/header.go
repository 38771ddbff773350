// Package wav validates the canonical 44-byte WAV header the playback backend
// accepts. Only 48 kHz, 2-channel, PCM containers are loadable.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	// HeaderSize is the size of the canonical RIFF/WAVE header.
	HeaderSize = 44

	FormatPCM        = 1
	RequiredRate     = 48000
	RequiredChannels = 2
)

// ErrUnsupportedFormat marks a file the backend cannot load.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Header holds the fields of the canonical header the host checks.
type Header struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// Duration returns the playable duration implied by the data chunk size.
func (h Header) Duration() float64 {
	if h.ByteRate == 0 {
		return 0
	}
	return float64(h.DataSize) / float64(h.ByteRate)
}

// Parse decodes the 44-byte header. It checks the magic values but not the
// format constraints; see Validate.
func Parse(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("%w: header shorter than %d bytes", ErrUnsupportedFormat, HeaderSize)
	}
	if string(buf[0:4]) != "RIFF" || string(buf[8:12]) != "WAVE" {
		return Header{}, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrUnsupportedFormat)
	}
	le := binary.LittleEndian
	return Header{
		AudioFormat:   le.Uint16(buf[20:22]),
		NumChannels:   le.Uint16(buf[22:24]),
		SampleRate:    le.Uint32(buf[24:28]),
		ByteRate:      le.Uint32(buf[28:32]),
		BlockAlign:    le.Uint16(buf[32:34]),
		BitsPerSample: le.Uint16(buf[34:36]),
		DataSize:      le.Uint32(buf[40:44]),
	}, nil
}

// Validate reports why h cannot be played, or nil.
func (h Header) Validate() error {
	if h.AudioFormat != FormatPCM {
		return fmt.Errorf("%w: audio format %d is not PCM", ErrUnsupportedFormat, h.AudioFormat)
	}
	if h.NumChannels != RequiredChannels {
		return fmt.Errorf("%w: expected %d channels, got %d", ErrUnsupportedFormat, RequiredChannels, h.NumChannels)
	}
	if h.SampleRate != RequiredRate {
		return fmt.Errorf("%w: expected %d Hz, got %d Hz", ErrUnsupportedFormat, RequiredRate, h.SampleRate)
	}
	return nil
}

// ValidateFile reads and validates the header of the file at path.
func ValidateFile(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	h, err := Parse(f)
	if err != nil {
		return Header{}, err
	}
	if err := h.Validate(); err != nil {
		return h, err
	}
	return h, nil
}

// Encode writes a canonical header for PCM data of dataSize bytes.
func Encode(w io.Writer, sampleRate uint32, channels, bitsPerSample uint16, dataSize uint32) error {
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * uint32(blockAlign)

	buf := make([]byte, HeaderSize)
	le := binary.LittleEndian
	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], FormatPCM)
	le.PutUint16(buf[22:24], channels)
	le.PutUint32(buf[24:28], sampleRate)
	le.PutUint32(buf[28:32], byteRate)
	le.PutUint16(buf[32:34], blockAlign)
	le.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], dataSize)
	_, err := w.Write(buf)
	return err
}
