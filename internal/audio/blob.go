// Package audio holds the immutable audio payload and the container helpers
// used to resolve durations and cut WAV segments.
package audio

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
)

// DefaultMIMEType is used when the capture source or upload does not declare one.
const DefaultMIMEType = "audio/webm"

// Blob is a finite, immutable audio payload.
type Blob struct {
	filename string
	mimeType string
	data     []byte
}

// NewBlob copies data into a new blob.
func NewBlob(filename, mimeType string, data []byte) Blob {
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	return Blob{
		filename: filename,
		mimeType: mimeType,
		data:     bytes.Clone(data),
	}
}

func (b Blob) Filename() string { return b.filename }
func (b Blob) MIMEType() string { return b.mimeType }
func (b Blob) Len() int         { return len(b.data) }
func (b Blob) IsEmpty() bool    { return len(b.data) == 0 }

// Reader returns a reader over the payload.
func (b Blob) Reader() io.Reader {
	return bytes.NewReader(b.data)
}

// Bytes returns a copy of the payload.
func (b Blob) Bytes() []byte {
	return bytes.Clone(b.data)
}

// IsWAV reports whether the payload is a RIFF/WAVE file, by MIME type,
// extension or magic bytes.
func (b Blob) IsWAV() bool {
	switch strings.ToLower(b.mimeType) {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return true
	}
	if strings.EqualFold(filepath.Ext(b.filename), ".wav") {
		return true
	}
	return len(b.data) >= 12 && string(b.data[0:4]) == "RIFF" && string(b.data[8:12]) == "WAVE"
}

// Extension maps a MIME type, parameters ignored, to a file extension.
// Unknown types get ".bin".
func Extension(mimeType string) string {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	switch base {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4":
		return ".m4a"
	}
	return ".bin"
}
