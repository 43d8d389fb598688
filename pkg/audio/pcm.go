// Package audio provides PCM16 sample conversion, level measurement, chunk
// splitting, and WAV container handling for the session pipeline. All PCM is
// little-endian signed 16-bit mono.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// DefaultSampleRate is the pipeline-wide sample rate in Hz.
	DefaultSampleRate = 24000
	// DefaultChunkSize is the transport fragment size in bytes.
	DefaultChunkSize = 4096
)

// BytesToInt16 reinterprets little-endian PCM bytes as samples. A trailing
// odd byte is dropped.
func BytesToInt16(data []byte) []int16 {
	n := len(data) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// Int16ToBytes serializes samples as little-endian PCM bytes.
func Int16ToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// ToFloat32 normalizes samples into [-1, 1) for playback devices that take
// float frames.
func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// RMS returns the root-mean-square level of the samples, normalized to
// [0, 1]. Empty input measures as silence.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// SplitChunks slices data into bounded fragments of at most size bytes. The
// returned slices alias data. A non-positive size falls back to
// DefaultChunkSize.
func SplitChunks(data []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(data) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for off := 0; off < len(data); off += size {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	return chunks
}
