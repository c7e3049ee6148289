package transcribe

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeWAV writes a 16-bit PCM WAV file with the given interleaved
// samples in [-1, 1].
func writeWAV(t *testing.T, path string, samples []float64, channels, sampleRate int) {
	t.Helper()

	dataSize := len(samples) * 2
	buf := make([]byte, 0, 44+dataSize)

	u32 := func(v uint32) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		return b
	}
	u16 := func(v uint16) []byte {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, v)
		return b
	}

	byteRate := sampleRate * channels * 2
	buf = append(buf, []byte("RIFF")...)
	buf = append(buf, u32(uint32(36+dataSize))...)
	buf = append(buf, []byte("WAVE")...)
	buf = append(buf, []byte("fmt ")...)
	buf = append(buf, u32(16)...)
	buf = append(buf, u16(1)...) // PCM
	buf = append(buf, u16(uint16(channels))...)
	buf = append(buf, u32(uint32(sampleRate))...)
	buf = append(buf, u32(uint32(byteRate))...)
	buf = append(buf, u16(uint16(channels*2))...)
	buf = append(buf, u16(16)...)
	buf = append(buf, []byte("data")...)
	buf = append(buf, u32(uint32(dataSize))...)

	for _, s := range samples {
		v := int16(s * 32767)
		buf = append(buf, u16(uint16(v))...)
	}

	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func TestLoadWAVMono(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")

	// 100 ms of 440 Hz sine at 22050 Hz mono.
	n := SampleRate / 10
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(SampleRate))
	}
	writeWAV(t, path, samples, 1, SampleRate)

	got, rate, err := LoadAudioMono(path)
	require.NoError(t, err)
	assert.Equal(t, SampleRate, rate)
	require.Len(t, got, n)

	for i := 0; i < n; i += 100 {
		assert.InDelta(t, samples[i], float64(got[i]), 1e-3)
	}
}

func TestLoadWAVStereoAveraged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")

	// Left 0.5, right -0.5 on every frame: mono mix is ~0.
	frames := 1000
	samples := make([]float64, 0, frames*2)
	for i := 0; i < frames; i++ {
		samples = append(samples, 0.5, -0.5)
	}
	writeWAV(t, path, samples, 2, 44100)

	got, rate, err := LoadAudioMono(path)
	require.NoError(t, err)
	assert.Equal(t, 44100, rate)
	require.Len(t, got, frames)

	for _, v := range got {
		assert.InDelta(t, 0, float64(v), 1e-3)
	}
}

func TestLoadAudioUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.ogg")
	require.NoError(t, os.WriteFile(path, []byte("OggS"), 0o644))

	_, _, err := LoadAudioMono(path)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadWAVGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not riff"), 0o644))

	_, _, err := LoadAudioMono(path)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestResampleAudio(t *testing.T) {
	src := make([]float32, 44100)
	for i := range src {
		src[i] = float32(math.Sin(2 * math.Pi * 220 * float64(i) / 44100))
	}

	dst := resampleAudio(src, 44100, SampleRate)
	assert.Len(t, dst, SampleRate)

	// Same slice back when rates match.
	same := resampleAudio(src, 44100, 44100)
	assert.Equal(t, len(src), len(same))
}

func TestStitchWindowsFrameCount(t *testing.T) {
	// 3 s of silence spans two windows; the stitched posteriorgrams
	// must cover the original audio length exactly.
	samples := make([]float32, 3*SampleRate)

	run := func(window []float32) ([][]float64, [][]float64, error) {
		require.Len(t, window, windowSamples)
		onset := make([][]float64, framesPerWindow)
		note := make([][]float64, framesPerWindow)
		for i := range onset {
			onset[i] = make([]float64, numPitches)
			note[i] = make([]float64, numPitches)
		}
		return onset, note, nil
	}

	onsets, frames, err := stitchWindows(samples, run)
	require.NoError(t, err)

	want := len(samples) / fftHop
	assert.Equal(t, want, len(onsets))
	assert.Equal(t, want, len(frames))
}
