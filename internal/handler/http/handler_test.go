package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windfall/voicecoach_service/internal/analysis"
	"github.com/windfall/voicecoach_service/internal/audio"
	"github.com/windfall/voicecoach_service/internal/errors"
	"github.com/windfall/voicecoach_service/internal/history"
	"github.com/windfall/voicecoach_service/internal/logger"
	"github.com/windfall/voicecoach_service/internal/metrics"
	"github.com/windfall/voicecoach_service/internal/repository"
	"github.com/windfall/voicecoach_service/internal/service"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
	Meta *struct {
		Total int `json:"total"`
	} `json:"meta"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func loadReport(t *testing.T) []byte {
	t.Helper()
	raw, err := os.ReadFile("../../analysis/testdata/report.json")
	require.NoError(t, err)
	return raw
}

// instantBackend answers every upload with the same report.
type instantBackend struct {
	report []byte
	ids    chan string
}

func (b *instantBackend) Upload(ctx context.Context, blob audio.Blob) (string, error) {
	return <-b.ids, nil
}

func (b *instantBackend) AwaitReport(ctx context.Context, id string) ([]byte, error) {
	return b.report, nil
}

type fakeRephraser struct {
	got string
}

func (f *fakeRephraser) Rephrase(ctx context.Context, text string) (map[string]string, error) {
	f.got = text
	return map[string]string{"formal": "Good day.", "casual": "Hey."}, nil
}

type testAPI struct {
	router    http.Handler
	store     *history.Store
	analysis  *service.AnalysisService
	rephraser *fakeRephraser
}

func newTestAPI(t *testing.T, maxUpload int64) *testAPI {
	t.Helper()
	log := logger.NewNop()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	store := history.NewStore(log)

	backend := &instantBackend{report: loadReport(t), ids: make(chan string, 4)}
	backend.ids <- "track-1"
	svc := service.NewAnalysisService(backend, store, nil, m, service.AnalysisConfig{
		ResultTimeout:   time.Second,
		FailedRetention: time.Minute,
		MaxUploadBytes:  maxUpload,
	}, log)
	t.Cleanup(svc.Close)

	rephraser := &fakeRephraser{}
	analysisHandler := NewAnalysisHandler(log, svc, maxUpload, 2*time.Second)
	historyHandler := NewHistoryHandler(log, store, nil)
	rephraseHandler := NewRephraseHandler(log, service.NewRephraseService(rephraser, log))

	r := chi.NewRouter()
	r.Post("/api/v1/analyses", analysisHandler.Submit)
	r.Get("/api/v1/analyses", analysisHandler.List)
	r.Get("/api/v1/analyses/{id}", analysisHandler.Get)
	r.Get("/api/v1/analyses/{id}/wait", analysisHandler.Wait)
	r.Get("/api/v1/history", historyHandler.List)
	r.Get("/api/v1/history/{id}", historyHandler.Get)
	r.Get("/api/v1/history/{id}/audio", historyHandler.Audio)
	r.Get("/api/v1/history/{id}/charts/{chart}", historyHandler.Chart)
	r.Post("/api/v1/rephrase", rephraseHandler.Rephrase)

	return &testAPI{router: r, store: store, analysis: svc, rephraser: rephraser}
}

func (a *testAPI) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, data []byte, category string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if data != nil {
		fw, err := mw.CreateFormFile("file", "take.webm")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	if category != "" {
		require.NoError(t, mw.WriteField("category", category))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func wavOf(t *testing.T, seconds int) audio.Blob {
	t.Helper()
	wav, err := audio.EncodePCM16(make([]byte, seconds*8000*2), 8000, 1)
	require.NoError(t, err)
	return audio.NewBlob("take.wav", "audio/wav", wav)
}

func parsedReport(t *testing.T) *analysis.SpeechAnalysis {
	t.Helper()
	a, err := analysis.Parse(loadReport(t))
	require.NoError(t, err)
	return a
}

func TestSubmitThenWait(t *testing.T) {
	api := newTestAPI(t, 1<<20)

	rec := api.do(uploadRequest(t, []byte("webm-bytes"), "tone-trainer"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/v1/analyses/track-1", rec.Header().Get("Location"))

	var pending service.PendingUpload
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &pending))
	assert.Equal(t, "track-1", pending.TrackingID)
	assert.Equal(t, service.StatePending, pending.State)
	assert.Equal(t, history.CategoryToneTrainer, pending.Category)

	rec = api.do(httptest.NewRequest(http.MethodGet, "/api/v1/analyses/track-1/wait?timeout=1s", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var done service.PendingUpload
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &done))
	assert.Equal(t, service.StateResolved, done.State)

	entry, ok := api.store.Get("track-1")
	require.True(t, ok)
	assert.Equal(t, history.CategoryToneTrainer, entry.Category)
}

func TestSubmit_Rejects(t *testing.T) {
	api := newTestAPI(t, 8)

	for name, tc := range map[string]struct {
		req    *http.Request
		status int
		code   string
	}{
		"missing file":     {uploadRequest(t, nil, ""), http.StatusBadRequest, "VALIDATION_ERROR"},
		"empty file":       {uploadRequest(t, []byte{}, ""), http.StatusBadRequest, "VALIDATION_ERROR"},
		"unknown category": {uploadRequest(t, []byte{1}, "karaoke"), http.StatusBadRequest, "VALIDATION_ERROR"},
		"too large":        {uploadRequest(t, make([]byte, 64), ""), http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
		"not multipart":    {httptest.NewRequest(http.MethodPost, "/api/v1/analyses", strings.NewReader("x")), http.StatusBadRequest, "VALIDATION_ERROR"},
	} {
		t.Run(name, func(t *testing.T) {
			rec := api.do(tc.req)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			env := decode(t, rec)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.code, env.Error.Code)
		})
	}
	assert.Empty(t, api.analysis.Pending())
}

func TestAnalysisGet_UnknownID(t *testing.T) {
	api := newTestAPI(t, 1<<20)

	rec := api.do(httptest.NewRequest(http.MethodGet, "/api/v1/analyses/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(httptest.NewRequest(http.MethodGet, "/api/v1/analyses/nope/wait?timeout=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseWaitTimeout(t *testing.T) {
	max := 10 * time.Second

	for raw, want := range map[string]time.Duration{
		"":     max,
		"2s":   2 * time.Second,
		"1.5":  1500 * time.Millisecond,
		"5m":   max,
		"9999": max,
	} {
		got, err := parseWaitTimeout(raw, max)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"soon", "0", "-3s"} {
		_, err := parseWaitTimeout(raw, max)
		assert.Error(t, err, raw)
	}
}

func TestHistoryListAndGet(t *testing.T) {
	api := newTestAPI(t, 1<<20)
	api.store.Record("a", wavOf(t, 1), history.CategoryVoiceInsights, parsedReport(t))
	api.store.Record("b", wavOf(t, 2), history.CategoryChatCompanion, parsedReport(t))

	rec := api.do(httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, 2, env.Meta.Total)
	var views []EntryView
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 2)
	assert.Equal(t, "b", views[0].ID)
	require.NotNil(t, views[0].Duration)
	assert.InDelta(t, 2.0, *views[0].Duration, 1e-9)
	assert.Nil(t, views[0].Analysis)

	rec = api.do(httptest.NewRequest(http.MethodGet, "/api/v1/history?category=voice-insights", nil))
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "a", views[0].ID)

	rec = api.do(httptest.NewRequest(http.MethodGet, "/api/v1/history?category=karaoke", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(httptest.NewRequest(http.MethodGet, "/api/v1/history/a", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var view EntryView
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &view))
	require.NotNil(t, view.Analysis)
	assert.Equal(t, 142.5, view.Analysis.SpeechRate.Data.Avg)

	rec = api.do(httptest.NewRequest(http.MethodGet, "/api/v1/history/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryAudio(t *testing.T) {
	api := newTestAPI(t, 1<<20)
	full := wavOf(t, 20)
	api.store.Record("w", full, history.CategoryVoiceInsights, parsedReport(t))
	api.store.Record("m", audio.NewBlob("take.webm", "audio/webm", []byte("opus")), history.CategoryVoiceInsights, parsedReport(t))

	t.Run("whole recording", func(t *testing.T) {
		rec := api.do(httptest.NewRequest(http.MethodGet, "/api/v1/history/w/audio", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
		assert.Equal(t, full.Len(), rec.Body.Len())
	})

	t.Run("fastest segment", func(t *testing.T) {
		rec := api.do(httptest.NewRequest(http.MethodGet, "/api/v1/history/w/audio?segment=fastest", nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "10", rec.Header().Get("X-Segment-Start"))
		assert.Equal(t, "15", rec.Header().Get("X-Segment-End"))
		assert.Equal(t, 44+5*8000*2, rec.Body.Len())
	})

	t.Run("explicit window past the end is clamped", func(t *testing.T) {
		rec := api.do(httptest.NewRequest(http.MethodGet, "/api/v1/history/w/audio?start=18&end=40", nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "18", rec.Header().Get("X-Segment-Start"))
		assert.Equal(t, "20", rec.Header().Get("X-Segment-End"))
		assert.Equal(t, 44+2*8000*2, rec.Body.Len())
	})

	t.Run("bad query", func(t *testing.T) {
		for _, q := range []string{"start=-1", "end=abc", "segment=middle"} {
			rec := api.do(httptest.NewRequest(http.MethodGet, "/api/v1/history/w/audio?"+q, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		}
	})

	t.Run("segment of non-wav audio", func(t *testing.T) {
		rec := api.do(httptest.NewRequest(http.MethodGet, "/api/v1/history/m/audio?segment=slowest", nil))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		rec = api.do(httptest.NewRequest(http.MethodGet, "/api/v1/history/m/audio", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "opus", rec.Body.String())
	})
}

func TestHistoryAudioURLEscapesID(t *testing.T) {
	api := newTestAPI(t, 1<<20)
	blob := wavOf(t, 1)
	e, _ := api.store.Record("take 1/a", blob, history.CategoryToneTrainer, parsedReport(t))

	view := NewEntryView(e)
	assert.Equal(t, "/api/v1/history/take%201%2Fa/audio", view.AudioURL)

	rec := api.do(httptest.NewRequest(http.MethodGet, view.AudioURL, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, blob.Len(), rec.Body.Len())
}

func TestHistoryChart(t *testing.T) {
	api := newTestAPI(t, 1<<20)
	api.store.Record("a", wavOf(t, 1), history.CategoryVoiceInsights, parsedReport(t))

	for _, name := range []string{analysis.ChartSpeechRate, analysis.ChartIntonation} {
		rec := api.do(httptest.NewRequest(http.MethodGet, "/api/v1/history/a/charts/"+name, nil))
		require.Equal(t, http.StatusOK, rec.Code, name)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte{0x89, 'P', 'N', 'G'}), name)
	}

	rec := api.do(httptest.NewRequest(http.MethodGet, "/api/v1/history/a/charts/energy", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRephrase(t *testing.T) {
	api := newTestAPI(t, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rephrase", strings.NewReader(`{"text":"  hello there "}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := api.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "hello there", api.rephraser.got)

	var out struct {
		Variants []service.Variant `json:"variants"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &out))
	assert.Equal(t, []service.Variant{{Name: "casual", Text: "Hey."}, {Name: "formal", Text: "Good day."}}, out.Variants)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/rephrase", strings.NewReader("plain words"))
	req.Header.Set("Content-Type", "text/plain")
	rec = api.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "plain words", api.rephraser.got)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/rephrase", strings.NewReader(`{"text":""}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, api.do(req).Code)
}

func TestRephrase_OversizedBodyIsRejected(t *testing.T) {
	api := newTestAPI(t, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rephrase", strings.NewReader(strings.Repeat("a", maxRephraseBytes+1)))
	req.Header.Set("Content-Type", "text/plain")
	rec := api.do(req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	assert.Equal(t, "PAYLOAD_TOO_LARGE", decode(t, rec).Error.Code)
	assert.Empty(t, api.rephraser.got, "truncated text never reaches the rephraser")
}

type fakeJournal struct {
	category history.Category
	limit    int
	offset   int
}

func (f *fakeJournal) List(ctx context.Context, category history.Category, limit, offset int) ([]*repository.JournalRecord, int, error) {
	f.category, f.limit, f.offset = category, limit, offset
	return []*repository.JournalRecord{{ID: "j1", Category: string(category), Summary: json.RawMessage(`{}`)}}, 41, nil
}

func (f *fakeJournal) Get(ctx context.Context, id string) (*repository.JournalRecord, error) {
	if id != "j1" {
		return nil, errors.NotFound("journal record")
	}
	return &repository.JournalRecord{ID: "j1", Summary: json.RawMessage(`{}`)}, nil
}

func journalRouter(journal Journal) http.Handler {
	h := NewJournalHandler(logger.NewNop(), journal)
	r := chi.NewRouter()
	r.Get("/api/v1/journal", h.List)
	r.Get("/api/v1/journal/{id}", h.Get)
	return r
}

func TestJournal(t *testing.T) {
	journal := &fakeJournal{}
	router := journalRouter(journal)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/journal?category=tone-trainer&limit=5&offset=10", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 41, decode(t, rec).Meta.Total)
	assert.Equal(t, history.CategoryToneTrainer, journal.category)
	assert.Equal(t, 5, journal.limit)
	assert.Equal(t, 10, journal.offset)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/journal?limit=many", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/journal/j1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/journal/j2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJournal_NotConfigured(t *testing.T) {
	rec := httptest.NewRecorder()
	journalRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/journal", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
