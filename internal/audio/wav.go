package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/windfall/voicecoach_service/internal/errors"
)

// WAVInfo describes a RIFF/WAVE payload.
type WAVInfo struct {
	AudioFormat   uint16  `json:"audio_format"`
	Channels      uint16  `json:"channels"`
	SampleRate    uint32  `json:"sample_rate"`
	ByteRate      uint32  `json:"byte_rate"`
	BlockAlign    uint16  `json:"block_align"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	DataSize      uint32  `json:"data_size_bytes"`
	Duration      float64 `json:"duration_seconds"`

	fmtChunk   []byte
	dataOffset int
}

// ParseWAV walks the RIFF chunks of data and returns the format and data
// chunk location. Unknown chunks (LIST, fact, ...) are skipped.
func ParseWAV(data []byte) (*WAVInfo, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	info := &WAVInfo{dataOffset: -1}
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+size > len(data) {
				return nil, fmt.Errorf("invalid WAV file: truncated fmt chunk")
			}
			chunk := data[body : body+size]
			info.AudioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			info.Channels = binary.LittleEndian.Uint16(chunk[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(chunk[4:8])
			info.ByteRate = binary.LittleEndian.Uint32(chunk[8:12])
			info.BlockAlign = binary.LittleEndian.Uint16(chunk[12:14])
			info.BitsPerSample = binary.LittleEndian.Uint16(chunk[14:16])
			info.fmtChunk = bytes.Clone(chunk)
		case "data":
			remaining := len(data) - body
			// Streaming writers leave the size at 0 or 0xFFFFFFFF.
			if size == 0 || size > remaining {
				size = remaining
			}
			info.dataOffset = body
			info.DataSize = uint32(size)
		}

		if info.dataOffset >= 0 && info.fmtChunk != nil {
			break
		}
		offset = body + size + size%2
	}

	if info.fmtChunk == nil {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if info.dataOffset < 0 {
		return nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if info.ByteRate == 0 {
		info.ByteRate = info.SampleRate * uint32(info.BlockAlign)
	}
	if info.ByteRate == 0 || info.BlockAlign == 0 {
		return nil, fmt.Errorf("invalid WAV file: zero byte rate")
	}

	info.Duration = float64(info.DataSize) / float64(info.ByteRate)
	return info, nil
}

// Duration resolves the length of a blob in seconds from its container
// header. WAV and WebM/Matroska are understood; anything else fails with
// DURATION_RESOLUTION_FAILED.
func Duration(b Blob) (float64, error) {
	switch {
	case b.IsWAV():
		info, err := ParseWAV(b.data)
		if err != nil {
			return 0, errors.Wrap(errors.ErrDurationResolution, "failed to read WAV header", err)
		}
		return info.Duration, nil
	case b.IsWebM():
		d, err := WebMDuration(b.data)
		if err != nil {
			return 0, errors.Wrap(errors.ErrDurationResolution, "failed to read WebM header", err)
		}
		return d, nil
	}
	return 0, errors.New(errors.ErrDurationResolution,
		fmt.Sprintf("cannot resolve duration of %s audio", b.MIMEType()))
}

// SliceWAV returns a standalone WAV file holding the [start, end) window of
// data, in seconds. The window is clamped to the media and aligned to whole
// sample frames. A negative end means "to the end of the media".
func SliceWAV(data []byte, start, end float64) ([]byte, error) {
	info, err := ParseWAV(data)
	if err != nil {
		return nil, err
	}

	if start < 0 || math.IsNaN(start) {
		start = 0
	}
	if end < 0 || end > info.Duration || math.IsNaN(end) {
		end = info.Duration
	}
	if start > end {
		start = end
	}

	align := int(info.BlockAlign)
	from := int(start*float64(info.ByteRate)) / align * align
	to := int(end*float64(info.ByteRate)) / align * align
	if to > int(info.DataSize) {
		to = int(info.DataSize) / align * align
	}

	segment := data[info.dataOffset+from : info.dataOffset+to]
	return buildWAV(info.fmtChunk, segment), nil
}

// EncodePCM16 wraps raw little-endian 16-bit PCM in a WAV container.
func EncodePCM16(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	blockAlign := channels * 2
	if len(pcm)%blockAlign != 0 {
		pcm = pcm[:len(pcm)/blockAlign*blockAlign]
	}

	fmtChunk := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtChunk[0:2], 1) // PCM
	binary.LittleEndian.PutUint16(fmtChunk[2:4], uint16(channels))
	binary.LittleEndian.PutUint32(fmtChunk[4:8], uint32(sampleRate))
	binary.LittleEndian.PutUint32(fmtChunk[8:12], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(fmtChunk[12:14], uint16(blockAlign))
	binary.LittleEndian.PutUint16(fmtChunk[14:16], 16)

	return buildWAV(fmtChunk, pcm), nil
}

func buildWAV(fmtChunk, samples []byte) []byte {
	fmtPad := len(fmtChunk) % 2
	dataPad := len(samples) % 2
	size := 4 + 8 + len(fmtChunk) + fmtPad + 8 + len(samples) + dataPad

	buf := bytes.NewBuffer(make([]byte, 0, 8+size))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(size))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(fmtChunk)))
	buf.Write(fmtChunk)
	if fmtPad == 1 {
		buf.WriteByte(0)
	}

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(samples)))
	buf.Write(samples)
	if dataPad == 1 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}
