package analysis

// ScoreLabel maps a percentage to the label shown next to a score.
func ScoreLabel(percent float64) string {
	switch {
	case percent >= 80:
		return "Excellent"
	case percent >= 60:
		return "Good"
	case percent >= 40:
		return "Fair"
	default:
		return "Needs Improvement"
	}
}

// MetricSummary is one score as rendered in history listings.
type MetricSummary struct {
	Avg      float64 `json:"avg"`
	Percent  float64 `json:"percent"`
	Category string  `json:"category"`
	Remark   string  `json:"remark"`
	Label    string  `json:"label"`
}

// Summary is the compact view of a report.
type Summary struct {
	ConversationScore float64       `json:"conversation_score"`
	Pace              MetricSummary `json:"pace"`
	Intonation        MetricSummary `json:"intonation"`
	Energy            MetricSummary `json:"energy"`
	Confidence        MetricSummary `json:"confidence"`
	RepeatedWords     int           `json:"repeated_words"`
	GrammarErrors     int           `json:"grammar_errors"`
	Excerpt           string        `json:"excerpt"`
}

const excerptRunes = 100

func summarize(s Score) MetricSummary {
	return MetricSummary{
		Avg:      s.Avg,
		Percent:  s.Percent,
		Category: s.Category,
		Remark:   s.Remark,
		Label:    ScoreLabel(s.Percent),
	}
}

// Summary builds the compact view.
func (a *SpeechAnalysis) Summary() Summary {
	repeated := 0
	for _, w := range a.VocabAnalysis.Data.RepeatedWords {
		repeated += w.Count
	}

	excerpt := []rune(a.Transcription.Data)
	if len(excerpt) > excerptRunes {
		excerpt = append(excerpt[:excerptRunes], []rune("...")...)
	}

	return Summary{
		ConversationScore: a.ConversationScore.Data,
		Pace:              summarize(a.SpeechRate.Data.Score),
		Intonation:        summarize(a.Intonation.Data),
		Energy:            summarize(a.Energy.Data),
		Confidence:        summarize(a.Confidence.Data),
		RepeatedWords:     repeated,
		GrammarErrors:     len(a.VocabAnalysis.Data.GrammaticalErrors),
		Excerpt:           string(excerpt),
	}
}
