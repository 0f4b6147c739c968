package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windfall/voicecoach_service/internal/errors"
)

// sineWAV returns a mono 16-bit WAV of the given length.
func sineWAV(t *testing.T, seconds float64, sampleRate int) []byte {
	t.Helper()
	n := int(seconds * float64(sampleRate))
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	wav, err := EncodePCM16(pcm, sampleRate, 1)
	require.NoError(t, err)
	return wav
}

func TestEncodePCM16_ParseRoundTrip(t *testing.T) {
	wav := sineWAV(t, 2, 8000)

	assert.Len(t, wav, 44+2*8000*2)

	info, err := ParseWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), info.AudioFormat)
	assert.Equal(t, uint16(1), info.Channels)
	assert.Equal(t, uint32(8000), info.SampleRate)
	assert.Equal(t, uint32(16000), info.ByteRate)
	assert.Equal(t, uint16(16), info.BitsPerSample)
	assert.InDelta(t, 2.0, info.Duration, 1e-9)
}

func TestEncodePCM16_Validation(t *testing.T) {
	_, err := EncodePCM16([]byte{1, 2}, 0, 1)
	assert.Error(t, err)
	_, err = EncodePCM16([]byte{1, 2}, 8000, 0)
	assert.Error(t, err)

	wav, err := EncodePCM16([]byte{1, 2, 3}, 8000, 1)
	require.NoError(t, err)
	info, err := ParseWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), info.DataSize, "partial frame is dropped")
}

func TestParseWAV_SkipsExtraChunks(t *testing.T) {
	wav := sineWAV(t, 1, 8000)

	// Insert a LIST chunk with an odd size between fmt and data.
	list := append([]byte("LIST"), 3, 0, 0, 0, 'a', 'b', 'c', 0)
	withList := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	info, err := ParseWAV(withList)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, info.Duration, 1e-9)
}

func TestParseWAV_StreamingDataSize(t *testing.T) {
	wav := sineWAV(t, 1, 8000)
	binary.LittleEndian.PutUint32(wav[40:44], 0xFFFFFFFF)

	info, err := ParseWAV(wav)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, info.Duration, 1e-9)
}

func TestParseWAV_Invalid(t *testing.T) {
	for name, data := range map[string][]byte{
		"short":   []byte("RIFF"),
		"no riff": append([]byte("RIFX\x00\x00\x00\x00WAVE"), make([]byte, 32)...),
		"no wave": append([]byte("RIFF\x00\x00\x00\x00AVI "), make([]byte, 32)...),
		"no fmt":  []byte("RIFF\x00\x00\x00\x00WAVEdata\x00\x00\x00\x00"),
		"no data": append([]byte("RIFF\x00\x00\x00\x00WAVEfmt \x10\x00\x00\x00"), make([]byte, 16)...),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWAV(data)
			assert.Error(t, err)
		})
	}
}

func TestDuration(t *testing.T) {
	d, err := Duration(NewBlob("clip.wav", "audio/wav", sineWAV(t, 30, 8000)))
	require.NoError(t, err)
	assert.InDelta(t, 30.0, d, 1e-9)

	_, err = Duration(NewBlob("clip.webm", "audio/webm", []byte("webm bytes")))
	assert.True(t, errors.HasCode(err, errors.ErrDurationResolution))

	_, err = Duration(NewBlob("broken.wav", "audio/wav", []byte("RIFF....WAVE")))
	assert.True(t, errors.HasCode(err, errors.ErrDurationResolution))
}

func TestSliceWAV(t *testing.T) {
	wav := sineWAV(t, 30, 8000)

	seg, err := SliceWAV(wav, 10, 15)
	require.NoError(t, err)
	info, err := ParseWAV(seg)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, info.Duration, 1e-9)
	assert.Equal(t, wav[44+10*16000:44+10*16000+64], seg[44:44+64], "segment starts at 10s")

	open, err := SliceWAV(wav, 25, -1)
	require.NoError(t, err)
	info, err = ParseWAV(open)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, info.Duration, 1e-9)

	clamped, err := SliceWAV(wav, 40, 50)
	require.NoError(t, err)
	info, err = ParseWAV(clamped)
	require.NoError(t, err)
	assert.Zero(t, info.Duration, "window past the end is empty")

	degenerate, err := SliceWAV(wav, 15, 10)
	require.NoError(t, err)
	assert.Len(t, degenerate, 44)
}

func TestSliceWAV_AlignsToFrames(t *testing.T) {
	pcm := make([]byte, 8000*4) // 1s stereo
	wav, err := EncodePCM16(pcm, 8000, 2)
	require.NoError(t, err)

	seg, err := SliceWAV(wav, 0.00013, 0.5)
	require.NoError(t, err)
	info, err := ParseWAV(seg)
	require.NoError(t, err)
	assert.Zero(t, info.DataSize%4)
}

func TestBlob(t *testing.T) {
	src := []byte("RIFF\x00\x00\x00\x00WAVE")
	b := NewBlob("", "", src)
	src[0] = 'X'

	assert.Equal(t, DefaultMIMEType, b.MIMEType())
	assert.True(t, b.IsWAV(), "magic bytes survive caller mutation")

	out := b.Bytes()
	out[1] = 'X'
	assert.Equal(t, byte('I'), b.Bytes()[1])

	assert.True(t, NewBlob("take.WAV", "application/octet-stream", nil).IsWAV())
	assert.True(t, NewBlob("x", "audio/x-wav", nil).IsWAV())
	assert.False(t, NewBlob("x.webm", "audio/webm", []byte("abc")).IsWAV())
	assert.True(t, NewBlob("x", "audio/webm", nil).IsEmpty())
}
