package sentiment

import "fmt"

const (
	minTrendRecords     = 3
	trendDeltaThreshold = 0.2
	varianceThreshold   = 0.15

	neutralEmotion = "neutral"
	noDataSummary  = "not enough data"
)

// AnalyzeJourney derives the trend, average score and dominant emotion of
// records, which must be in chronological order.
//
// With fewer than three records the trend is always stable. Otherwise the
// mean of the last third is compared with the mean of the first third
// (each ceil(n/3) long); a move of more than 0.2 either way is a trend,
// and a flat delta with population variance above 0.15 is fluctuating.
//
// Ties for the dominant emotion go to the category seen first.
func AnalyzeJourney(records []Record) JourneyAnalysis {
	if len(records) == 0 {
		return JourneyAnalysis{
			Trend:           TrendStable,
			AverageScore:    0,
			DominantEmotion: neutralEmotion,
			Summary:         noDataSummary,
		}
	}

	scores := make([]float64, len(records))
	for i, r := range records {
		scores[i] = r.Score
	}
	avg := mean(scores)

	trend := classify(scores, avg)
	dominant := dominantEmotion(records)

	return JourneyAnalysis{
		Trend:           trend,
		AverageScore:    avg,
		DominantEmotion: dominant,
		Summary:         summarize(trend, dominant),
	}
}

func classify(scores []float64, avg float64) Trend {
	n := len(scores)
	if n < minTrendRecords {
		return TrendStable
	}

	group := (n + 2) / 3
	delta := mean(scores[n-group:]) - mean(scores[:group])
	switch {
	case delta > trendDeltaThreshold:
		return TrendImproving
	case delta < -trendDeltaThreshold:
		return TrendWorsening
	}

	var variance float64
	for _, s := range scores {
		d := s - avg
		variance += d * d
	}
	variance /= float64(n)
	if variance > varianceThreshold {
		return TrendFluctuating
	}
	return TrendStable
}

func dominantEmotion(records []Record) string {
	counts := make(map[string]int, len(records))
	var order []string
	for _, r := range records {
		if _, seen := counts[r.Category]; !seen {
			order = append(order, r.Category)
		}
		counts[r.Category]++
	}

	best, bestCount := neutralEmotion, 0
	for _, category := range order {
		if counts[category] > bestCount {
			best, bestCount = category, counts[category]
		}
	}
	return best
}

func summarize(trend Trend, dominant string) string {
	switch trend {
	case TrendImproving:
		return fmt.Sprintf("The conversation is trending in a more positive direction; %s has come up most often.", dominant)
	case TrendWorsening:
		return fmt.Sprintf("The conversation is trending in a more negative direction; %s has come up most often.", dominant)
	case TrendFluctuating:
		return fmt.Sprintf("Emotions have swung back and forth during the conversation; %s has come up most often.", dominant)
	default:
		return fmt.Sprintf("The emotional tone has stayed steady, mostly %s.", dominant)
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
