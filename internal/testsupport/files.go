package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"cutline/internal/media/wav"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x42}, int(size)), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteWAV writes a loadable 48 kHz stereo 16-bit WAV of the given length in
// seconds into dir and returns its path. Only the header and a silent data
// chunk are written.
func WriteWAV(t testing.TB, dir string, seconds float64) string {
	t.Helper()
	return writeWAV(t, dir, "audio.wav", wav.RequiredRate, wav.RequiredChannels, seconds)
}

// WriteWAVFormat writes a WAV with an arbitrary rate and channel count.
func WriteWAVFormat(t testing.TB, dir, name string, rate uint32, channels uint16, seconds float64) string {
	t.Helper()
	return writeWAV(t, dir, name, rate, channels, seconds)
}

func writeWAV(t testing.TB, dir, name string, rate uint32, channels uint16, seconds float64) string {
	t.Helper()
	const bits = 16
	dataSize := uint32(seconds * float64(rate) * float64(channels) * bits / 8)
	var buf bytes.Buffer
	if err := wav.Encode(&buf, rate, channels, bits, dataSize); err != nil {
		t.Fatalf("encode wav header: %v", err)
	}
	buf.Write(make([]byte, dataSize))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
