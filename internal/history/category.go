package history

import (
	"fmt"

	"github.com/windfall/voicecoach_service/internal/errors"
)

// Category is the coaching mode an entry belongs to.
type Category string

const (
	CategoryVoiceInsights Category = "voice-insights"
	CategoryToneTrainer   Category = "tone-trainer"
	CategoryChatCompanion Category = "chat-companion"
	CategoryRephraseText  Category = "rephrase-text"
)

// DefaultCategory is assigned to uploads that do not name one.
const DefaultCategory = CategoryVoiceInsights

// Categories lists every known category.
var Categories = []Category{
	CategoryVoiceInsights,
	CategoryToneTrainer,
	CategoryChatCompanion,
	CategoryRephraseText,
}

// ParseCategory validates s. The empty string maps to DefaultCategory.
func ParseCategory(s string) (Category, error) {
	if s == "" {
		return DefaultCategory, nil
	}
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", errors.Validation(fmt.Sprintf("unknown category %q", s))
}
