package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/aiox-platform/inferguard/internal/cache"
	"github.com/aiox-platform/inferguard/internal/config"
	"github.com/aiox-platform/inferguard/internal/inference"
	"github.com/aiox-platform/inferguard/internal/metrics"
)

const (
	feature         = "sentiment"
	minMessageRunes = 3
	maxKeywords     = 5
	errorBodyLimit  = 512
)

const systemPrompt = `You label the emotional tone of a single chat message.
Reply with one JSON object and nothing else:
{"category": "<one lower-case emotion word, e.g. anxious, sad, angry, lonely, hopeful, calm, happy, neutral>",
 "score": <number from -1 (very negative) to 1 (very positive)>,
 "keywords": ["<up to five short phrases taken from the message>"],
 "summary": "<one short sentence in English>"}
The message may be written in any language.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// classification is the normalized model output; it is also what gets cached.
type classification struct {
	Category string   `json:"category"`
	Score    float64  `json:"score"`
	Keywords []string `json:"keywords"`
	Summary  string   `json:"summary"`
}

// Analyzer tags messages with a sentiment Record using the inference API.
// Every call goes through the inference gateway, so it is cached, subject
// to admission control and counted against the quota.
type Analyzer struct {
	cfg        config.SentimentConfig
	gateway    *inference.Gateway
	clock      clockwork.Clock
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	keyer      cache.Keyer
}

type AnalyzerOption func(*Analyzer)

// WithHTTPClient overrides the HTTP client used to reach the endpoint.
func WithHTTPClient(c *http.Client) AnalyzerOption {
	return func(a *Analyzer) { a.httpClient = c }
}

// WithKeyPrefixLength sets how many runes of the normalized message go into
// the cache key. Messages that agree on that prefix share a cached result.
func WithKeyPrefixLength(n int) AnalyzerOption {
	return func(a *Analyzer) { a.keyer = cache.Keyer{PrefixLength: n} }
}

// WithBreakerSettings overrides the circuit breaker configuration.
func WithBreakerSettings(st gobreaker.Settings) AnalyzerOption {
	if st.IsSuccessful == nil {
		st.IsSuccessful = callerGaveUp
	}
	return func(a *Analyzer) { a.breaker = gobreaker.NewCircuitBreaker(st) }
}

// callerGaveUp treats a cancelled request context as a success so client
// disconnects do not count against the upstream.
func callerGaveUp(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

func defaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "sentiment-inference",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: callerGaveUp,
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"component", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
}

// NewAnalyzer creates an Analyzer. Requests time out after cfg.Timeout.
func NewAnalyzer(cfg config.SentimentConfig, gateway *inference.Gateway, clock clockwork.Clock, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		cfg:        cfg,
		gateway:    gateway,
		clock:      clock,
		httpClient: &http.Client{},
		breaker:    gobreaker.NewCircuitBreaker(defaultBreakerSettings()),
		keyer:      cache.Keyer{PrefixLength: cache.DefaultPrefixLength},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Configured reports whether an endpoint and API key are set.
func (a *Analyzer) Configured() bool {
	return a.cfg.Endpoint != "" && a.cfg.APIKey != ""
}

// Analyze returns the sentiment of message, or nil when the trimmed message
// is shorter than three characters or anything downstream fails. Failures
// are logged, never returned.
func (a *Analyzer) Analyze(ctx context.Context, message, sourceLanguage string) *Record {
	text := strings.TrimSpace(message)
	if utf8.RuneCountInString(text) < minMessageRunes {
		metrics.SentimentAnalysesTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	if !a.Configured() {
		slog.Warn("sentiment analysis skipped: endpoint or api key not configured")
		metrics.SentimentAnalysesTotal.WithLabelValues("unconfigured").Inc()
		return nil
	}

	lang := strings.ToLower(strings.TrimSpace(sourceLanguage))
	if lang == "" {
		lang = "auto"
	}

	resp, err := a.gateway.Do(ctx, inference.Request{
		Feature:      feature,
		Priority:     a.cfg.Priority,
		CacheKey:     a.keyer.Key(text, feature, lang),
		CacheTTLDays: a.cfg.CacheTTLDays,
	}, func(ctx context.Context) (inference.Result, error) {
		return a.classify(ctx, text, lang)
	})
	if err != nil {
		if errors.Is(err, inference.ErrDenied) {
			metrics.SentimentAnalysesTotal.WithLabelValues("denied").Inc()
			return nil
		}
		slog.Warn("sentiment analysis failed", "error", err)
		metrics.SentimentAnalysesTotal.WithLabelValues("failed").Inc()
		return nil
	}

	var c classification
	if err := json.Unmarshal([]byte(resp.Text), &c); err != nil {
		slog.Warn("decoding cached sentiment", "error", err)
		metrics.SentimentAnalysesTotal.WithLabelValues("failed").Inc()
		return nil
	}

	metrics.SentimentAnalysesTotal.WithLabelValues(string(resp.Outcome)).Inc()
	return &Record{
		Category:  c.Category,
		Score:     c.Score,
		Keywords:  c.Keywords,
		Summary:   c.Summary,
		Timestamp: a.clock.Now(),
		MessageID: uuid.NewString(),
	}
}

func (a *Analyzer) classify(ctx context.Context, text, lang string) (inference.Result, error) {
	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.complete(ctx, text, lang)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return inference.Result{}, fmt.Errorf("%w: %w", inference.ErrNotIssued, err)
		}
		return inference.Result{}, err
	}
	return out.(inference.Result), nil
}

func (a *Analyzer) complete(ctx context.Context, text, lang string) (inference.Result, error) {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Language: %s\n\nMessage:\n%s", lang, text)},
		},
		Temperature:    0,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return inference.Result{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return inference.Result{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return inference.Result{}, fmt.Errorf("posting to inference endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return inference.Result{}, fmt.Errorf("inference endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return inference.Result{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return inference.Result{}, errors.New("response has no choices")
	}

	c, err := parseClassification(chat.Choices[0].Message.Content)
	if err != nil {
		return inference.Result{}, err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return inference.Result{}, fmt.Errorf("marshaling classification: %w", err)
	}

	res := inference.Result{Text: string(data)}
	if chat.Usage.TotalTokens > 0 {
		tokens := chat.Usage.TotalTokens
		res.Tokens = &tokens
	}
	return res, nil
}

// parseClassification validates and normalizes the model's JSON answer.
func parseClassification(content string) (classification, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var c classification
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &c); err != nil {
		return classification{}, fmt.Errorf("malformed classification: %w", err)
	}

	c.Category = strings.ToLower(strings.TrimSpace(c.Category))
	if c.Category == "" {
		return classification{}, errors.New("malformed classification: missing category")
	}
	if math.IsNaN(c.Score) || math.IsInf(c.Score, 0) {
		return classification{}, errors.New("malformed classification: invalid score")
	}
	c.Score = math.Max(-1, math.Min(1, c.Score))
	c.Summary = strings.TrimSpace(c.Summary)

	keywords := make([]string, 0, len(c.Keywords))
	for _, k := range c.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
		if len(keywords) == maxKeywords {
			break
		}
	}
	c.Keywords = keywords
	return c, nil
}
