package audio

import (
	"bytes"
	"testing"

	"github.com/at-wat/ebml-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windfall/voicecoach_service/internal/errors"
)

type testWebMHeader struct {
	DocType string `ebml:"EBMLDocType"`
}

type testWebMInfo struct {
	TimecodeScale uint64  `ebml:"TimecodeScale,omitempty"`
	Duration      float64 `ebml:"Duration,omitempty"`
}

type testWebMCluster struct {
	Timecode    uint64       `ebml:"Timecode"`
	SimpleBlock []ebml.Block `ebml:"SimpleBlock"`
}

type testWebM struct {
	Header  testWebMHeader `ebml:"EBML"`
	Segment struct {
		Info    testWebMInfo      `ebml:"Info"`
		Cluster []testWebMCluster `ebml:"Cluster,omitempty"`
	} `ebml:"Segment"`
}

func encodeWebM(t *testing.T, doc testWebM) []byte {
	t.Helper()
	doc.Header.DocType = "webm"
	var buf bytes.Buffer
	require.NoError(t, ebml.Marshal(&doc, &buf))
	return buf.Bytes()
}

func opusBlock(timecode int16) ebml.Block {
	return ebml.Block{TrackNumber: 1, Timecode: timecode, Keyframe: true, Data: [][]byte{{0xfc, 0xff}}}
}

func TestWebMDuration_FromInfo(t *testing.T) {
	var doc testWebM
	doc.Segment.Info = testWebMInfo{TimecodeScale: 1000000, Duration: 4250}
	data := encodeWebM(t, doc)

	d, err := WebMDuration(data)
	require.NoError(t, err)
	assert.InDelta(t, 4.25, d, 1e-9)

	d, err = Duration(NewBlob("take.webm", "audio/webm;codecs=opus", data))
	require.NoError(t, err)
	assert.InDelta(t, 4.25, d, 1e-9)
}

func TestWebMDuration_CustomTimecodeScale(t *testing.T) {
	var doc testWebM
	doc.Segment.Info = testWebMInfo{TimecodeScale: 10000000, Duration: 300}

	d, err := WebMDuration(encodeWebM(t, doc))
	require.NoError(t, err)
	assert.InDelta(t, 3.0, d, 1e-9)
}

func TestWebMDuration_LiveCaptureUsesLastBlock(t *testing.T) {
	var doc testWebM
	doc.Segment.Info = testWebMInfo{TimecodeScale: 1000000}
	doc.Segment.Cluster = []testWebMCluster{
		{Timecode: 0, SimpleBlock: []ebml.Block{opusBlock(0), opusBlock(20), opusBlock(40)}},
		{Timecode: 1000, SimpleBlock: []ebml.Block{opusBlock(0), opusBlock(480)}},
	}

	d, err := WebMDuration(encodeWebM(t, doc))
	require.NoError(t, err)
	assert.InDelta(t, 1.48, d, 1e-9)
}

func TestWebMDuration_Invalid(t *testing.T) {
	_, err := WebMDuration([]byte("RIFF....WAVE"))
	assert.Error(t, err)

	var doc testWebM
	_, err = WebMDuration(encodeWebM(t, doc))
	assert.Error(t, err, "no duration and no blocks")

	_, err = Duration(NewBlob("x.webm", "audio/webm", ebmlMagic))
	assert.True(t, errors.HasCode(err, errors.ErrDurationResolution))
}

func TestBlob_IsWebM(t *testing.T) {
	assert.True(t, NewBlob("", "audio/webm;codecs=opus", nil).IsWebM())
	assert.True(t, NewBlob("", "application/octet-stream", ebmlMagic).IsWebM())
	assert.False(t, NewBlob("", "audio/wav", []byte("RIFF")).IsWebM())
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".ogg", Extension("audio/ogg"))
	assert.Equal(t, ".webm", Extension("audio/webm;codecs=opus"))
	assert.Equal(t, ".wav", Extension("Audio/WAV"))
	assert.Equal(t, ".bin", Extension("application/octet-stream"))
}
