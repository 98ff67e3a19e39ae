package sentiment

import "time"

// Record is one per-message sentiment reading. Records are never mutated
// after creation.
type Record struct {
	Category  string    `json:"category"`
	Score     float64   `json:"score"`
	Keywords  []string  `json:"keywords"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id"`
}

type Trend string

const (
	TrendImproving   Trend = "improving"
	TrendWorsening   Trend = "worsening"
	TrendFluctuating Trend = "fluctuating"
	TrendStable      Trend = "stable"
)

// JourneyAnalysis summarizes the emotional trajectory of a session.
type JourneyAnalysis struct {
	Trend           Trend   `json:"trend"`
	AverageScore    float64 `json:"average_score"`
	DominantEmotion string  `json:"dominant_emotion"`
	Summary         string  `json:"summary"`
}

// AnalyzeMessageRequest is the body of POST /sessions/{sessionID}/messages.
type AnalyzeMessageRequest struct {
	Message        string `json:"message" validate:"required,max=4000"`
	SourceLanguage string `json:"source_language" validate:"omitempty,max=16"`
}

// SessionSentiments is the session read model returned to the UI.
type SessionSentiments struct {
	Sentiments []Record        `json:"sentiments"`
	Journey    JourneyAnalysis `json:"journey"`
}
