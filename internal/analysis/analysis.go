// Package analysis holds the speech analysis payload pushed by the analysis
// backend over the report channel, and the helpers the presentation layer
// uses to read it.
package analysis

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/windfall/voicecoach_service/internal/errors"
)

// Field wraps every top-level section of the payload.
type Field[T any] struct {
	Status string `json:"status"`
	Data   T      `json:"data"`
}

// Segment is a sub-interval of the recording, in seconds, referenced by a
// speech-rate finding.
type Segment struct {
	SpeechRate float64 `json:"speech_rate"`
	Type       string  `json:"type"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
}

// Score is the common shape of the numeric sub-scores.
type Score struct {
	Avg      float64 `json:"avg"`
	Percent  float64 `json:"percent"`
	Category string  `json:"category"`
	Remark   string  `json:"remark"`
}

type SpeechRate struct {
	Score
	SlowestSegment Segment `json:"slowest_segment"`
	FastestSegment Segment `json:"fastest_segment"`
}

type RepeatedWord struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

type Meaning struct {
	Word    string `json:"word"`
	Meaning string `json:"meaning"`
}

type GrammarError struct {
	Sentence    string `json:"sentence"`
	Correct     string `json:"correct"`
	Explanation string `json:"explanation"`
}

type LongSentence struct {
	Sentence   string `json:"sentence"`
	Suggestion string `json:"suggestion"`
}

type Vocabulary struct {
	RepeatedWords     []RepeatedWord `json:"repeated_words"`
	Meanings          []Meaning      `json:"meanings"`
	GrammaticalErrors []GrammarError `json:"grammatical_errors"`
	LongSentences     []LongSentence `json:"long_sentences"`
	ModifiedText      string         `json:"modified_text"`
	FancyText         string         `json:"fancy_text"`
}

// SpeechAnalysis is the full report for one recording. Treat it as read-only
// once attached to a history entry.
type SpeechAnalysis struct {
	Transcription     Field[string]     `json:"transcription"`
	SpeechRate        Field[SpeechRate] `json:"speech_rate"`
	Intonation        Field[Score]      `json:"intonation"`
	Energy            Field[Score]      `json:"energy"`
	Confidence        Field[Score]      `json:"confidence"`
	ConversationScore Field[float64]    `json:"conversation_score"`
	VocabAnalysis     Field[Vocabulary] `json:"vocab_analysis"`
	SpeechRateFig     Field[string]     `json:"speech_rate_fig"`
	IntonationFig     Field[string]     `json:"intonation_fig"`
}

// Segment names accepted by (*SpeechAnalysis).Segment.
const (
	SegmentFastest = "fastest"
	SegmentSlowest = "slowest"
)

// Chart names accepted by (*SpeechAnalysis).Chart.
const (
	ChartSpeechRate = "speech_rate"
	ChartIntonation = "intonation"
)

// Parse decodes a report message. Anything that is not a JSON object of the
// report shape fails with PARSE_FAILED.
func Parse(raw []byte) (*SpeechAnalysis, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.ParseFailed("analysis payload is not a JSON object", nil)
	}

	var a SpeechAnalysis
	if err := json.Unmarshal(trimmed, &a); err != nil {
		return nil, errors.ParseFailed("failed to decode analysis payload", err)
	}
	return &a, nil
}

// Segment returns the named speech-rate segment.
func (a *SpeechAnalysis) Segment(name string) (Segment, error) {
	switch strings.ToLower(name) {
	case SegmentFastest:
		return a.SpeechRate.Data.FastestSegment, nil
	case SegmentSlowest:
		return a.SpeechRate.Data.SlowestSegment, nil
	default:
		return Segment{}, errors.Validation(fmt.Sprintf("unknown segment %q", name))
	}
}

// Chart decodes the named base64 PNG chart.
func (a *SpeechAnalysis) Chart(name string) ([]byte, error) {
	var encoded string
	switch name {
	case ChartSpeechRate:
		encoded = a.SpeechRateFig.Data
	case ChartIntonation:
		encoded = a.IntonationFig.Data
	default:
		return nil, errors.Validation(fmt.Sprintf("unknown chart %q", name))
	}
	if encoded == "" {
		return nil, errors.NotFound("chart " + name)
	}

	// Some backends send a data URL instead of bare base64.
	if i := strings.Index(encoded, ","); strings.HasPrefix(encoded, "data:") && i >= 0 {
		encoded = encoded[i+1:]
	}

	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.ParseFailed("chart is not valid base64", err)
	}
	return img, nil
}
