package audio

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/at-wat/ebml-go"
)

// ebmlMagic opens every EBML document, WebM and Matroska alike.
var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// defaultTimecodeScale is the Matroska default of one millisecond per tick.
const defaultTimecodeScale = uint64(time.Millisecond)

type webmBlockGroup struct {
	Block []ebml.Block `ebml:"Block"`
}

type webmCluster struct {
	Timecode    uint64           `ebml:"Timecode"`
	SimpleBlock []ebml.Block     `ebml:"SimpleBlock"`
	BlockGroup  []webmBlockGroup `ebml:"BlockGroup"`
}

type webmInfo struct {
	TimecodeScale uint64  `ebml:"TimecodeScale"`
	Duration      float64 `ebml:"Duration"`
}

type webmDocument struct {
	Segment struct {
		Info    webmInfo      `ebml:"Info"`
		Cluster []webmCluster `ebml:"Cluster"`
	} `ebml:"Segment"`
}

// IsWebM reports whether the payload is an EBML container, by MIME type or
// magic bytes.
func (b Blob) IsWebM() bool {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(b.mimeType, ";", 2)[0]))
	switch base {
	case "audio/webm", "video/webm", "audio/x-matroska", "video/x-matroska":
		return true
	}
	return bytes.HasPrefix(b.data, ebmlMagic)
}

// WebMDuration reads the length of a WebM or Matroska payload in seconds.
// Segment/Info/Duration is used when present. Live captures such as browser
// MediaRecorder output omit it, so the last block timestamp stands in.
func WebMDuration(data []byte) (float64, error) {
	if !bytes.HasPrefix(data, ebmlMagic) {
		return 0, fmt.Errorf("invalid WebM file: missing EBML header")
	}

	var doc webmDocument
	if err := ebml.Unmarshal(bytes.NewReader(data), &doc); err != nil {
		return 0, fmt.Errorf("failed to parse WebM: %w", err)
	}

	info := doc.Segment.Info
	scale := info.TimecodeScale
	if scale == 0 {
		scale = defaultTimecodeScale
	}
	tick := float64(scale) / float64(time.Second)

	if info.Duration > 0 {
		return info.Duration * tick, nil
	}

	var last float64
	found := false
	for _, c := range doc.Segment.Cluster {
		blocks := c.SimpleBlock
		for _, g := range c.BlockGroup {
			blocks = append(blocks, g.Block...)
		}
		for _, b := range blocks {
			ts := float64(int64(c.Timecode)+int64(b.Timecode)) * tick
			if !found || ts > last {
				last = ts
				found = true
			}
		}
	}
	if !found {
		return 0, fmt.Errorf("invalid WebM file: no duration and no blocks")
	}
	return last, nil
}
