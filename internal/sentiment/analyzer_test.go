package sentiment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/inferguard/internal/cache"
	"github.com/aiox-platform/inferguard/internal/config"
	"github.com/aiox-platform/inferguard/internal/governance/quota"
	"github.com/aiox-platform/inferguard/internal/inference"
)

type noSweep struct{}

func (noSweep) Float64() float64 { return 1 }

type analyzerFixture struct {
	analyzer *Analyzer
	tracker  *quota.Tracker
	hits     *atomic.Int32
	clock    *clockwork.FakeClock
}

func completion(content string, tokens int) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
		"usage": map[string]int{"total_tokens": tokens},
	}
}

func newAnalyzerFixture(t *testing.T, handler http.HandlerFunc, opts ...AnalyzerOption) analyzerFixture {
	t.Helper()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	qcfg := config.QuotaConfig{DailyLimit: 1000, HourlyLimit: 100, CriticalPercent: 90, ElevatedPercent: 75}
	tracker := quota.NewTracker(qcfg, clock)
	mem := cache.NewMemory(config.CacheConfig{DefaultTTLDays: 7}, clock, cache.WithRandomSource(noSweep{}))
	gw := inference.NewGateway(mem, quota.NewAdmission(tracker, qcfg))

	cfg := config.SentimentConfig{
		Endpoint:     srv.URL,
		APIKey:       "test-key",
		Model:        "gpt-4o-mini",
		Timeout:      2 * time.Second,
		Priority:     4,
		CacheTTLDays: 1,
	}
	return analyzerFixture{
		analyzer: NewAnalyzer(cfg, gw, clock, opts...),
		tracker:  tracker,
		hits:     &hits,
		clock:    clock,
	}
}

func respondWith(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completion(content, 57))
	}
}

func TestAnalyzer_Analyze(t *testing.T) {
	var got chatRequest
	f := newAnalyzerFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		respondWith(`{"category":"Anxious","score":-0.6,"keywords":["exam"," tomorrow ",""],"summary":"Worried about an exam."}`)(w, r)
	})

	rec := f.analyzer.Analyze(context.Background(), "  I am so nervous about my exam tomorrow  ", "EN")
	require.NotNil(t, rec)

	assert.Equal(t, "anxious", rec.Category)
	assert.Equal(t, -0.6, rec.Score)
	assert.Equal(t, []string{"exam", "tomorrow"}, rec.Keywords)
	assert.Equal(t, "Worried about an exam.", rec.Summary)
	assert.Equal(t, f.clock.Now(), rec.Timestamp)
	assert.NotEmpty(t, rec.MessageID)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[1].Content, "Language: en")
	assert.Contains(t, got.Messages[1].Content, "I am so nervous about my exam tomorrow")

	history := f.tracker.History()
	require.Len(t, history, 1)
	assert.Equal(t, "sentiment", history[0].Endpoint)
	require.NotNil(t, history[0].Tokens)
	assert.Equal(t, 57, *history[0].Tokens)
}

func TestAnalyzer_ShortInputReturnsNil(t *testing.T) {
	f := newAnalyzerFixture(t, respondWith(`{"category":"calm","score":0}`))

	assert.Nil(t, f.analyzer.Analyze(context.Background(), "  ok ", ""))
	assert.Nil(t, f.analyzer.Analyze(context.Background(), "", ""))
	assert.Equal(t, int32(0), f.hits.Load())
}

func TestAnalyzer_ThreeRunesIsEnough(t *testing.T) {
	f := newAnalyzerFixture(t, respondWith(`{"category":"sad","score":-0.4}`))

	assert.NotNil(t, f.analyzer.Analyze(context.Background(), "难过了", "zh"))
}

func TestAnalyzer_MissingCredentials(t *testing.T) {
	f := newAnalyzerFixture(t, respondWith(`{"category":"calm","score":0}`))
	f.analyzer.cfg.APIKey = ""

	assert.False(t, f.analyzer.Configured())
	assert.Nil(t, f.analyzer.Analyze(context.Background(), "hello there", "en"))
	assert.Equal(t, int32(0), f.hits.Load())
}

func TestAnalyzer_MalformedResponses(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"not json":         respondWith("I think the user is sad"),
		"missing category": respondWith(`{"score":0.3}`),
		"no choices": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		},
		"server error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
		},
		"garbage body": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>`))
		},
	}

	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			f := newAnalyzerFixture(t, handler)

			assert.Nil(t, f.analyzer.Analyze(context.Background(), "hello there", "en"))
			assert.Equal(t, 1, f.tracker.Stats().HourlyUsage, "issued call still counts")
		})
	}
}

func TestAnalyzer_Timeout(t *testing.T) {
	f := newAnalyzerFixture(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	f.analyzer.cfg.Timeout = 50 * time.Millisecond

	assert.Nil(t, f.analyzer.Analyze(context.Background(), "hello there", "en"))
}

func TestAnalyzer_CodeFencedJSON(t *testing.T) {
	f := newAnalyzerFixture(t, respondWith("```json\n{\"category\":\"hopeful\",\"score\":0.7}\n```"))

	rec := f.analyzer.Analyze(context.Background(), "things are looking up", "en")
	require.NotNil(t, rec)
	assert.Equal(t, "hopeful", rec.Category)
}

func TestAnalyzer_ClampsScore(t *testing.T) {
	f := newAnalyzerFixture(t, respondWith(`{"category":"happy","score":3.5}`))

	rec := f.analyzer.Analyze(context.Background(), "best day ever", "en")
	require.NotNil(t, rec)
	assert.Equal(t, 1.0, rec.Score)
}

func TestAnalyzer_CachesPerMessageAndLanguage(t *testing.T) {
	f := newAnalyzerFixture(t, respondWith(`{"category":"sad","score":-0.5}`))
	ctx := context.Background()

	first := f.analyzer.Analyze(ctx, "I miss my friends", "en")
	second := f.analyzer.Analyze(ctx, "i  miss my FRIENDS", "en")
	require.NotNil(t, first)
	require.NotNil(t, second)

	assert.Equal(t, int32(1), f.hits.Load())
	assert.Equal(t, first.Category, second.Category)
	assert.NotEqual(t, first.MessageID, second.MessageID, "each analysis is its own record")
	assert.Equal(t, 1, f.tracker.Stats().HourlyUsage)

	require.NotNil(t, f.analyzer.Analyze(ctx, "I miss my friends", "zh"))
	assert.Equal(t, int32(2), f.hits.Load())
}

func TestAnalyzer_KeyPrefixLengthMergesLongMessages(t *testing.T) {
	f := newAnalyzerFixture(t, respondWith(`{"category":"calm","score":0.2}`), WithKeyPrefixLength(20))
	ctx := context.Background()

	require.NotNil(t, f.analyzer.Analyze(ctx, "today was a long quiet day at the lake", "en"))
	require.NotNil(t, f.analyzer.Analyze(ctx, "today was a long quiet evening with friends", "en"))

	assert.Equal(t, int32(1), f.hits.Load(), "messages sharing the first 20 runes hit one entry")
}

func TestAnalyzer_DefaultKeyPrefixKeepsLongMessagesApart(t *testing.T) {
	f := newAnalyzerFixture(t, respondWith(`{"category":"calm","score":0.2}`))
	ctx := context.Background()

	require.NotNil(t, f.analyzer.Analyze(ctx, "today was a long quiet day at the lake", "en"))
	require.NotNil(t, f.analyzer.Analyze(ctx, "today was a long quiet evening with friends", "en"))

	assert.Equal(t, int32(2), f.hits.Load())
}

func TestAnalyzer_CancelledRequestsDoNotTripBreaker(t *testing.T) {
	f := newAnalyzerFixture(t,
		func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		},
		WithBreakerSettings(gobreaker.Settings{
			Name:    "test",
			Timeout: time.Minute,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 2
			},
		}),
	)

	for _, msg := range []string{"first message", "second message", "third message"} {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Nil(t, f.analyzer.Analyze(ctx, msg, "en"))
	}

	assert.Equal(t, gobreaker.StateClosed, f.analyzer.breaker.State())
}

func TestAnalyzer_DeniedByAdmission(t *testing.T) {
	f := newAnalyzerFixture(t, respondWith(`{"category":"calm","score":0.1}`))
	for i := 0; i < 75; i++ {
		f.tracker.TrackCall()
	}
	f.analyzer.cfg.Priority = 6

	assert.Nil(t, f.analyzer.Analyze(context.Background(), "hello there", "en"))
	assert.Equal(t, int32(0), f.hits.Load())
}

func TestAnalyzer_OpenBreakerSkipsUpstream(t *testing.T) {
	f := newAnalyzerFixture(t,
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusBadGateway)
		},
		WithBreakerSettings(gobreaker.Settings{
			Name:    "test",
			Timeout: time.Minute,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 2
			},
		}),
	)
	ctx := context.Background()

	assert.Nil(t, f.analyzer.Analyze(ctx, "first message", "en"))
	assert.Nil(t, f.analyzer.Analyze(ctx, "second message", "en"))
	assert.Nil(t, f.analyzer.Analyze(ctx, "third message", "en"))

	assert.Equal(t, int32(2), f.hits.Load())
	assert.Equal(t, 2, f.tracker.Stats().HourlyUsage, "short-circuited call is not counted")
}
