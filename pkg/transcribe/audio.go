// This file provides audio file loading and resampling for the model's
// 22050 Hz mono input.
package transcribe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

// LoadAudioMono loads an audio file and returns mono float32 samples and
// the source sample rate. Returns ErrUnsupportedFormat when the container
// cannot be decoded.
func LoadAudioMono(path string) ([]float32, int, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".mp3":
		return loadMP3Mono(path)
	case ".wav":
		return loadWAVMono(path)
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// Additional samples that go-mp3 produces compared to a compensating
// decoder, measured against browser playback of LAME-encoded files.
const goMP3DecoderDelay = 924

// Default encoder delay if we can't read it from the LAME header
const defaultEncoderDelay = 576

// readMP3Delay reads the total delay to skip for an MP3 file.
// Combines LAME encoder delay (from header) + go-mp3 decoder delay.
func readMP3Delay(path string) int {
	return readLAMEEncoderDelay(path) + goMP3DecoderDelay
}

// readLAMEEncoderDelay reads the encoder delay from LAME/Xing header if present.
func readLAMEEncoderDelay(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return defaultEncoderDelay
	}
	defer f.Close()

	// Read first 4KB which should contain any Xing/LAME header
	buf := make([]byte, 4096)
	n, err := f.Read(buf)
	if err != nil || n < 200 {
		return defaultEncoderDelay
	}
	buf = buf[:n]

	lameIdx := bytes.Index(buf, []byte("LAME"))
	if lameIdx == -1 {
		return defaultEncoderDelay
	}

	// LAME header structure: at offset 21 from "LAME" is a 3-byte field
	// containing encoder delay (12 bits) and padding (12 bits)
	delayOffset := lameIdx + 21
	if delayOffset+3 > len(buf) {
		return defaultEncoderDelay
	}

	// Encoder delay is in the upper 12 bits of the 24-bit value
	b := buf[delayOffset : delayOffset+3]
	delay := (int(b[0]) << 4) | (int(b[1]) >> 4)

	// Sanity check - delay should be reasonable (typically 576-1152)
	if delay < 0 || delay > 4096 {
		return defaultEncoderDelay
	}

	return delay
}

// loadMP3Mono loads an MP3 file and returns mono float32 samples.
func loadMP3Mono(path string) ([]float32, int, error) {
	totalDelay := readMP3Delay(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	sampleRate := decoder.SampleRate()

	// Read all PCM data (16-bit stereo interleaved)
	pcmData, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	// Convert to mono float32. go-mp3 outputs 16-bit signed stereo
	// (4 bytes per sample pair).
	numSamplePairs := len(pcmData) / 4
	samples := make([]float32, numSamplePairs)

	for i := 0; i < numSamplePairs; i++ {
		offset := i * 4
		left := int16(binary.LittleEndian.Uint16(pcmData[offset:]))
		right := int16(binary.LittleEndian.Uint16(pcmData[offset+2:]))

		mono := (float32(left) + float32(right)) / 2.0
		samples[i] = mono / 32768.0
	}

	// Skip encoder + decoder delay so note onsets line up with the
	// source audio timeline.
	if len(samples) > totalDelay {
		samples = samples[totalDelay:]
	}

	return samples, sampleRate, nil
}

// loadWAVMono loads a PCM WAV file and returns mono float32 samples.
// Supports 16-bit and 32-bit integer PCM plus 32-bit float, any channel
// count (channels are averaged).
func loadWAVMono(path string) ([]float32, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open file: %w", err)
	}

	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%w: not a RIFF/WAVE file", ErrUnsupportedFormat)
	}

	var (
		format     uint16
		channels   int
		sampleRate int
		bitDepth   int
		pcm        []byte
	)

	// Walk the chunk list for fmt and data.
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: truncated fmt chunk", ErrUnsupportedFormat)
			}
			format = binary.LittleEndian.Uint16(data[body:])
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bitDepth = int(binary.LittleEndian.Uint16(data[body+14:]))
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word-aligned.
		pos = body + size + size%2
	}

	if pcm == nil || channels == 0 || sampleRate == 0 {
		return nil, 0, fmt.Errorf("%w: missing fmt or data chunk", ErrUnsupportedFormat)
	}

	const (
		wavFormatPCM   = 1
		wavFormatFloat = 3
	)

	bytesPerSample := bitDepth / 8
	if bytesPerSample == 0 {
		return nil, 0, fmt.Errorf("%w: zero bit depth", ErrUnsupportedFormat)
	}
	frameSize := bytesPerSample * channels
	numFrames := len(pcm) / frameSize
	samples := make([]float32, numFrames)

	for i := 0; i < numFrames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			off := i*frameSize + ch*bytesPerSample
			var v float32
			switch {
			case format == wavFormatPCM && bitDepth == 16:
				v = float32(int16(binary.LittleEndian.Uint16(pcm[off:]))) / 32768.0
			case format == wavFormatPCM && bitDepth == 32:
				v = float32(int32(binary.LittleEndian.Uint32(pcm[off:]))) / 2147483648.0
			case format == wavFormatFloat && bitDepth == 32:
				v = math.Float32frombits(binary.LittleEndian.Uint32(pcm[off:]))
			default:
				return nil, 0, fmt.Errorf("%w: wav format %d at %d bits", ErrUnsupportedFormat, format, bitDepth)
			}
			sum += v
		}
		samples[i] = sum / float32(channels)
	}

	return samples, sampleRate, nil
}

// resampleAudio converts samples between sample rates using linear
// interpolation. Good enough for model input; the network is tolerant of
// interpolation artifacts well below its frequency resolution.
func resampleAudio(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate {
		return samples
	}

	ratio := float64(srcRate) / float64(dstRate)
	newLen := int(float64(len(samples)) / ratio)
	result := make([]float32, newLen)

	for i := 0; i < newLen; i++ {
		srcIdx := float64(i) * ratio
		srcIdxInt := int(srcIdx)
		frac := float32(srcIdx - float64(srcIdxInt))

		if srcIdxInt+1 < len(samples) {
			result[i] = samples[srcIdxInt]*(1-frac) + samples[srcIdxInt+1]*frac
		} else if srcIdxInt < len(samples) {
			result[i] = samples[srcIdxInt]
		}
	}

	return result
}
