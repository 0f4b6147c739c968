package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windfall/voicecoach_service/internal/errors"
	"github.com/windfall/voicecoach_service/internal/logger"
)

type stubRephraser struct {
	got string
	out map[string]string
	err error
}

func (s *stubRephraser) Rephrase(ctx context.Context, text string) (map[string]string, error) {
	s.got = text
	return s.out, s.err
}

func TestRephrase_SortsAndDropsEmpty(t *testing.T) {
	backend := &stubRephraser{out: map[string]string{
		"variant_2": "Second.",
		"variant_1": "First.",
		"variant_3": "  ",
	}}
	svc := NewRephraseService(backend, logger.NewNop())

	got, err := svc.Rephrase(context.Background(), "  we was ready \n")
	require.NoError(t, err)
	assert.Equal(t, "we was ready", backend.got)
	assert.Equal(t, []Variant{{"variant_1", "First."}, {"variant_2", "Second."}}, got)
}

func TestRephrase_Validation(t *testing.T) {
	svc := NewRephraseService(&stubRephraser{}, logger.NewNop())

	_, err := svc.Rephrase(context.Background(), "   ")
	assert.True(t, errors.HasCode(err, errors.ErrValidation))

	_, err = svc.Rephrase(context.Background(), strings.Repeat("a", maxRephraseRunes+1))
	assert.True(t, errors.HasCode(err, errors.ErrValidation))
}

func TestRephrase_BackendError(t *testing.T) {
	svc := NewRephraseService(&stubRephraser{err: errors.New(errors.ErrAnalyser, "down")}, logger.NewNop())
	_, err := svc.Rephrase(context.Background(), "text")
	assert.True(t, errors.HasCode(err, errors.ErrAnalyser))
}
