package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/errors"
)

// maxRephraseRunes caps the text sent to the rephrasal endpoint.
const maxRephraseRunes = 5000

// Rephraser produces named rephrasings of a text.
type Rephraser interface {
	Rephrase(ctx context.Context, text string) (map[string]string, error)
}

// Variant is one rephrasing offered for practice.
type Variant struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// RephraseService proxies the backend rephrasal tool.
type RephraseService struct {
	backend Rephraser
	log     zerolog.Logger
}

// NewRephraseService creates a new Rephrase service.
func NewRephraseService(backend Rephraser, log zerolog.Logger) *RephraseService {
	return &RephraseService{backend: backend, log: log}
}

// Rephrase returns the backend's variants of text ordered by name.
func (s *RephraseService) Rephrase(ctx context.Context, text string) ([]Variant, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.Validation("text is required")
	}
	if n := utf8.RuneCountInString(text); n > maxRephraseRunes {
		return nil, errors.Validation(fmt.Sprintf("text is %d characters, the limit is %d", n, maxRephraseRunes))
	}

	raw, err := s.backend.Rephrase(ctx, text)
	if err != nil {
		s.log.Error().Err(err).Int("length", len(text)).Msg("Rephrasal request failed")
		return nil, err
	}

	variants := make([]Variant, 0, len(raw))
	for name, v := range raw {
		if strings.TrimSpace(v) == "" {
			continue
		}
		variants = append(variants, Variant{Name: name, Text: v})
	}
	sort.Slice(variants, func(i, j int) bool { return variants[i].Name < variants[j].Name })

	s.log.Info().Int("variants", len(variants)).Msg("Rephrasals generated")
	return variants, nil
}
