package service

import (
	"math"

	"github.com/avtomat-kz/avtomat-api/internal/models"
)

// TrustScore carries the trust index and the statistics it was derived from.
type TrustScore struct {
	AvgResponseHours   float64
	ConfirmationRate   float64
	PaymentRate        float64
	CompletionRate     float64
	AvgProcessingDelay float64
	Value              float64
}

// DisciplineScore carries the discipline index and its statistics.
type DisciplineScore struct {
	AvgStepTime   float64
	ReturnCount   int
	ReactionDelay float64
	TotalClicks   int
	Value         float64
}

const maxScore = 100.0

// ComputeTrustIndex scores a school from all of its applications.
// A school without applications scores the maximum.
func ComputeTrustIndex(apps []models.Application) TrustScore {
	if len(apps) == 0 {
		return TrustScore{Value: maxScore}
	}

	var (
		responseSum   float64
		responseCount int
		confirmed     int
		paid          int
		completed     int
	)
	for _, app := range apps {
		if app.StatusChangedAt != nil {
			responseSum += app.StatusChangedAt.Sub(app.CreatedAt).Hours()
			responseCount++
		}
		switch app.Status {
		case models.StatusConfirmed:
			confirmed++
		case models.StatusPaid:
			confirmed++
			paid++
		case models.StatusCompleted:
			confirmed++
			paid++
			completed++
		}
	}

	total := float64(len(apps))
	score := TrustScore{
		ConfirmationRate: float64(confirmed) / total * 100,
		PaymentRate:      float64(paid) / total * 100,
		CompletionRate:   float64(completed) / total * 100,
	}
	if responseCount > 0 {
		score.AvgResponseHours = responseSum / float64(responseCount)
	}
	// both delay metrics are measured from creation to the last status change
	score.AvgProcessingDelay = score.AvgResponseHours

	value := maxScore
	if score.AvgResponseHours > 24 {
		value -= 10
	}
	if score.AvgResponseHours > 48 {
		value -= 10
	}

	if score.ConfirmationRate < 50 {
		value -= 20
	} else if score.ConfirmationRate < 70 {
		value -= 10
	}

	if score.PaymentRate < 30 {
		value -= 20
	} else if score.PaymentRate < 50 {
		value -= 10
	}

	if score.CompletionRate < 20 {
		value -= 15
	}
	if score.AvgProcessingDelay > 48 {
		value -= 10
	}

	if score.ConfirmationRate > 80 {
		value += 5
	}
	if score.PaymentRate > 70 {
		value += 5
	}
	if score.CompletionRate > 50 {
		value += 5
	}

	score.Value = clampScore(value)
	return score.rounded()
}

// ComputeDisciplineIndex scores a student from their chronological events.
// The boolean is false when there is nothing to score.
func ComputeDisciplineIndex(events []models.AnalyticsEvent) (DisciplineScore, bool) {
	if len(events) == 0 {
		return DisciplineScore{}, false
	}

	var (
		stepSum       float64
		stepCount     int
		reactionSum   float64
		reactionCount int
		score         DisciplineScore
	)
	for _, e := range events {
		if e.SincePrevious != nil {
			stepSum += *e.SincePrevious
			stepCount++
		}
		switch e.Kind {
		case models.EventReturn:
			score.ReturnCount++
		case models.EventButtonClick:
			score.TotalClicks++
			if e.SincePrevious != nil {
				reactionSum += *e.SincePrevious
				reactionCount++
			}
		}
	}
	if stepCount > 0 {
		score.AvgStepTime = stepSum / float64(stepCount)
	}
	if reactionCount > 0 {
		score.ReactionDelay = reactionSum / float64(reactionCount)
	}

	value := maxScore
	if score.AvgStepTime > 300 {
		value -= 10
	}
	if score.ReturnCount > 3 {
		value -= 5 * float64(score.ReturnCount)
	}
	if score.ReactionDelay > 60 {
		value -= 5
	}
	score.Value = clampScore(value)

	score.AvgStepTime = round2(score.AvgStepTime)
	score.ReactionDelay = round2(score.ReactionDelay)
	score.Value = round2(score.Value)
	return score, true
}

// rounded matches the two-decimal precision of the stored columns.
func (s TrustScore) rounded() TrustScore {
	return TrustScore{
		AvgResponseHours:   round2(s.AvgResponseHours),
		ConfirmationRate:   round2(s.ConfirmationRate),
		PaymentRate:        round2(s.PaymentRate),
		CompletionRate:     round2(s.CompletionRate),
		AvgProcessingDelay: round2(s.AvgProcessingDelay),
		Value:              round2(s.Value),
	}
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(maxScore, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
