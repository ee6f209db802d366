package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/callguard/internal/cache"
	"github.com/yoockh/callguard/internal/models"
	"github.com/yoockh/callguard/internal/providers/llm"
	"github.com/yoockh/callguard/internal/utils"
)

func TestHTTPScorer_Score(t *testing.T) {
	var got scoreRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/video", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(scoreResponse{IsPositive: true, Confidence: 0.82, ModelVersion: "df-v3"})
	}))
	defer srv.Close()

	s := NewHTTPScorer(HTTPConfig{Endpoint: srv.URL + "/", RateLimit: 100, Burst: 1})
	defer s.Close()

	v, err := s.Score(context.Background(), models.InferenceJob{
		JobID: "j1", CallID: 4, Modality: models.ModalityVideo, Payload: []byte{1, 2, 3},
	})
	require.NoError(t, err)

	assert.Equal(t, []byte{1, 2, 3}, got.Payload)
	assert.Equal(t, int64(4), got.CallID)
	assert.True(t, v.IsPositive)
	assert.Equal(t, models.RiskHigh, v.RiskLevel, "derived from confidence")
	assert.Equal(t, "df-v3", v.ModelVersion)
}

func TestHTTPScorer_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPScorer(HTTPConfig{Endpoint: srv.URL}).Score(context.Background(),
		models.InferenceJob{Modality: models.ModalityAudio})
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
}

func TestHTTPScorer_RateLimitHonoursContext(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(scoreResponse{})
	}))
	defer srv.Close()

	s := NewHTTPScorer(HTTPConfig{Endpoint: srv.URL, RateLimit: 0.001, Burst: 1})
	_, err := s.Score(context.Background(), models.InferenceJob{Modality: models.ModalityVideo})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Score(ctx, models.InferenceJob{Modality: models.ModalityVideo})
	assert.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

type staticRules []models.RiskRule

func (s staticRules) ListActive(context.Context) ([]models.RiskRule, error) { return s, nil }

var testRules = staticRules{
	{RuleID: 1, Keyword: "safe account", RiskLevel: "critical", IsActive: true},
	{RuleID: 2, Keyword: "verification code", RiskLevel: "high", IsActive: true},
	{RuleID: 3, Keyword: "refund", RiskLevel: "medium", IsActive: true},
	{RuleID: 4, Keyword: "lottery", RiskLevel: "high", IsActive: false},
}

func newMatcher(t *testing.T) (*RuleMatcher, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRuleMatcher(testRules, cache.NewRedisCache(rdb), time.Minute), mr
}

func TestRuleMatcher_MostSevereWins(t *testing.T) {
	m, mr := newMatcher(t)

	rule, hits, err := m.Match(context.Background(), "Please read me the Verification Code and move money to a safe account")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, int64(1), rule.RuleID)
	assert.ElementsMatch(t, []string{"safe account", "verification code"}, hits)
	assert.True(t, mr.Exists(cache.RiskRulesKey))

	rule, _, err = m.Match(context.Background(), "you won the lottery")
	require.NoError(t, err)
	assert.Nil(t, rule, "inactive rules never match")
}

type fakeScorer struct {
	v      models.RawVerdict
	err    error
	calls  int
	closed bool
}

func (f *fakeScorer) Score(_ context.Context, job models.InferenceJob) (models.RawVerdict, error) {
	f.calls++
	v := f.v
	v.CallID, v.Modality = job.CallID, job.Modality
	return v, f.err
}

func (f *fakeScorer) Close() error { f.closed = true; return nil }

type fakeClassifier struct{ c llm.Classification }

func (f fakeClassifier) Classify(context.Context, string) (llm.Classification, error) { return f.c, nil }
func (f fakeClassifier) ModelVersion() string                                         { return "gemini-test" }
func (f fakeClassifier) Close() error                                                 { return nil }

type fakeSTT struct{ text string }

func (f fakeSTT) Transcribe(context.Context, []byte, string) (string, float64, error) {
	return f.text, 0.9, nil
}
func (f fakeSTT) Close() error { return nil }

func TestRouter_TextRuleHitSkipsModels(t *testing.T) {
	m, _ := newMatcher(t)
	model := &fakeScorer{}
	r := &Router{Model: model, Rules: m, Classifier: fakeClassifier{}}

	v, err := r.Score(context.Background(), models.InferenceJob{
		CallID: 1, Modality: models.ModalityText, Payload: []byte("I need a refund to your card"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.MsgTypeRule, v.MsgType())
	assert.Equal(t, models.RiskMedium, v.RiskLevel)
	assert.True(t, v.IsPositive)
	assert.Zero(t, model.calls)
}

func TestRouter_TextFallsBackToClassifier(t *testing.T) {
	m, _ := newMatcher(t)
	r := &Router{
		Model:      &fakeScorer{},
		Rules:      m,
		Classifier: fakeClassifier{c: llm.Classification{IsScam: true, Confidence: 0.66, RiskLevel: models.RiskMedium, Reason: "urgency"}},
	}

	v, err := r.Score(context.Background(), models.InferenceJob{CallID: 2, Modality: models.ModalityText, Payload: []byte("hurry up")})
	require.NoError(t, err)
	assert.Equal(t, "text", v.MsgType())
	assert.Equal(t, "gemini-test", v.ModelVersion)
	assert.Equal(t, "urgency", v.Details)
}

func TestRouter_AudioTranscriptRuleOverridesWeakModel(t *testing.T) {
	m, _ := newMatcher(t)
	model := &fakeScorer{v: models.RawVerdict{IsPositive: false, Confidence: 0.2, RiskLevel: models.RiskSafe}}
	r := &Router{Model: model, Rules: m, STT: fakeSTT{text: "tell me the verification code"}}

	v, err := r.Score(context.Background(), models.InferenceJob{CallID: 3, Modality: models.ModalityAudio, Payload: []byte{0}})
	require.NoError(t, err)
	assert.Equal(t, models.MsgTypeRule, v.MsgType())
	assert.Equal(t, models.RiskHigh, v.RiskLevel)
}

func TestRouter_AudioStrongModelKeepsVerdict(t *testing.T) {
	m, _ := newMatcher(t)
	model := &fakeScorer{v: models.RawVerdict{IsPositive: true, Confidence: 0.95, RiskLevel: models.RiskCritical}}
	r := &Router{Model: model, Rules: m, STT: fakeSTT{text: "refund"}}

	v, err := r.Score(context.Background(), models.InferenceJob{CallID: 3, Modality: models.ModalityAudio})
	require.NoError(t, err)
	assert.Equal(t, "audio", v.MsgType())
	assert.Equal(t, []string{"refund"}, v.Keywords)
}

func TestRouter_VideoAndClose(t *testing.T) {
	log, _ := test.NewNullLogger()
	model := &fakeScorer{err: errors.New("boom")}
	r := &Router{Model: model, Logger: log}

	_, err := r.Score(context.Background(), models.InferenceJob{Modality: models.ModalityVideo})
	assert.Error(t, err)

	_, err = r.Score(context.Background(), models.InferenceJob{Modality: "smell"})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	require.NoError(t, r.Close())
	assert.True(t, model.closed)
}
