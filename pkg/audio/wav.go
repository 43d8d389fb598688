package audio

import (
	"encoding/binary"
	"fmt"
)

// EncodeWAV wraps raw PCM16 mono data in a minimal RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], numChannels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// ExtractPCM pulls the raw PCM payload out of a blob. The blob may be a
// single WAV file, several WAV files concatenated back to back (browsers
// produce these when recorder segments are glued together), or already-raw
// PCM, which is returned as is.
func ExtractPCM(blob []byte) ([]byte, error) {
	if len(blob) < 12 || string(blob[0:4]) != "RIFF" {
		return blob, nil
	}
	var pcm []byte
	off := 0
	for off+12 <= len(blob) && string(blob[off:off+4]) == "RIFF" {
		if string(blob[off+8:off+12]) != "WAVE" {
			return nil, fmt.Errorf("riff chunk at %d is not WAVE", off)
		}
		data, next, err := extractRIFFData(blob, off)
		if err != nil {
			return nil, err
		}
		pcm = append(pcm, data...)
		off = next
	}
	return pcm, nil
}

// extractRIFFData walks the sub-chunks of one RIFF segment starting at off,
// returning its data payload and the offset of the next segment.
func extractRIFFData(blob []byte, off int) ([]byte, int, error) {
	riffLen := int(binary.LittleEndian.Uint32(blob[off+4 : off+8]))
	segEnd := off + 8 + riffLen
	if segEnd > len(blob) {
		segEnd = len(blob)
	}
	var data []byte
	pos := off + 12
	for pos+8 <= segEnd {
		id := string(blob[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(blob[pos+4 : pos+8]))
		body := pos + 8
		if body+size > segEnd {
			size = segEnd - body
		}
		if id == "data" {
			data = append(data, blob[body:body+size]...)
		}
		pos = body + size
		if size%2 == 1 {
			pos++ // chunk padding
		}
	}
	if data == nil {
		return nil, 0, fmt.Errorf("riff segment at %d has no data chunk", off)
	}
	return data, segEnd, nil
}
