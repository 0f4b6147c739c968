package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windfall/voicecoach_service/internal/analysis"
	"github.com/windfall/voicecoach_service/internal/audio"
	"github.com/windfall/voicecoach_service/internal/history"
	"github.com/windfall/voicecoach_service/internal/logger"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func decode(t *testing.T, raw []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func seededStore() *history.Store {
	s := history.NewStore(logger.NewNop())
	s.Record("a", audio.NewBlob("a.webm", "audio/webm", []byte{1}), history.CategoryVoiceInsights, &analysis.SpeechAnalysis{})
	s.Record("b", audio.NewBlob("b.webm", "audio/webm", []byte{2}), history.CategoryToneTrainer, &analysis.SpeechAnalysis{})
	return s
}

func TestHandle_Ping(t *testing.T) {
	h := NewHandler(seededStore(), logger.NewNop())

	raw, err := h.Handle("c1", TypePing, nil)
	require.NoError(t, err)
	assert.Equal(t, TypePong, decode(t, raw).Type)
}

func TestHandle_HistoryList(t *testing.T) {
	h := NewHandler(seededStore(), logger.NewNop())

	raw, err := h.Handle("c1", TypeHistory, nil)
	require.NoError(t, err)
	env := decode(t, raw)
	require.Equal(t, TypeHistory, env.Type)

	var views []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Payload, &views))
	require.Len(t, views, 2)
	assert.Equal(t, "b", views[0]["id"])
	assert.Equal(t, "/api/v1/history/b/audio", views[0]["audio_url"])

	raw, err = h.Handle("c1", TypeHistory, json.RawMessage(`{"category":"voice-insights"}`))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(decode(t, raw).Payload, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "a", views[0]["id"])
}

func TestHandle_Errors(t *testing.T) {
	h := NewHandler(seededStore(), logger.NewNop())

	for name, tc := range map[string]struct {
		msgType string
		payload string
	}{
		"unknown type":     {"history.delete", ""},
		"unknown category": {TypeHistory, `{"category":"karaoke"}`},
		"bad payload":      {TypeHistory, `[1]`},
	} {
		t.Run(name, func(t *testing.T) {
			raw, err := h.Handle("c1", tc.msgType, json.RawMessage(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, TypeError, decode(t, raw).Type)
		})
	}
}

func TestNotification(t *testing.T) {
	h := NewHandler(seededStore(), logger.NewNop())
	entry := history.Entry{ID: "n1", Category: history.CategoryChatCompanion, Audio: audio.NewBlob("n.wav", "audio/wav", []byte{1, 2})}

	raw, err := h.Notification(history.Event{Type: history.EventRecorded, Entry: entry})
	require.NoError(t, err)

	env := decode(t, raw)
	assert.Equal(t, TypeRecorded, env.Type)
	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Payload, &view))
	assert.Equal(t, "n1", view["id"])
	assert.Equal(t, "chat-companion", view["category"])
	assert.EqualValues(t, 2, view["size"])
}
