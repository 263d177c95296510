package game

import (
	"fmt"
	"time"

	"github.com/kiliantyler/kil.dev-sub000/models"
)

const (
	NormalFoodPoints = 10
	GoldenFoodPoints = 50
)

// Thresholds are the heuristic limits applied to end-of-game telemetry.
type Thresholds struct {
	MinDuration     time.Duration `yaml:"min_duration"`
	MinMoves        int           `yaml:"min_moves"`
	MinMoveInterval time.Duration `yaml:"min_move_interval"`
	// MinFoodInterval bounds how often food may be eaten on average.
	// Zero disables the check.
	MinFoodInterval time.Duration `yaml:"min_food_interval"`
}

func ProductionThresholds() Thresholds {
	return Thresholds{
		MinDuration:     2000 * time.Millisecond,
		MinMoves:        5,
		MinMoveInterval: 50 * time.Millisecond,
		MinFoodInterval: 200 * time.Millisecond,
	}
}

// DevelopmentThresholds are relaxed for local play and automated tests.
func DevelopmentThresholds() Thresholds {
	return Thresholds{
		MinDuration:     500 * time.Millisecond,
		MinMoves:        3,
		MinMoveInterval: 30 * time.Millisecond,
	}
}

// Telemetry is a client's account of a finished game.
type Telemetry struct {
	FinalScore int
	Events     []models.MoveEvent
	Foods      []models.FoodEvent
	DurationMs int64
}

// ScoreFromFoods is the only scoring rule: 10 per normal food, 50 per golden.
func ScoreFromFoods(foods []models.FoodEvent) int {
	score := 0
	for _, f := range foods {
		if f.IsGolden {
			score += GoldenFoodPoints
		} else {
			score += NormalFoodPoints
		}
	}
	return score
}

// Validate applies the duration, move count, move timing, score and food rate
// rules in that order and returns the first violation.
func (th Thresholds) Validate(t Telemetry) error {
	minDurationMs := th.MinDuration.Milliseconds()
	if t.DurationMs < minDurationMs {
		return fmt.Errorf("%w: lasted %dms, minimum is %dms", ErrGameTooShort, t.DurationMs, minDurationMs)
	}

	if len(t.Events) < th.MinMoves {
		return fmt.Errorf("%w: got %d, minimum is %d", ErrTooFewMoves, len(t.Events), th.MinMoves)
	}

	minGap := th.MinMoveInterval.Milliseconds()
	for i := 1; i < len(t.Events); i++ {
		prev, cur := t.Events[i-1].T, t.Events[i].T
		if cur <= prev {
			return fmt.Errorf("%w: move %d at %dms does not follow %dms", ErrInvalidEventOrdering, i, cur, prev)
		}
		if cur-prev < minGap {
			return fmt.Errorf("%w: moves %dms apart, minimum is %dms", ErrMoveTooFast, cur-prev, minGap)
		}
	}

	if expected := ScoreFromFoods(t.Foods); expected != t.FinalScore {
		return fmt.Errorf("%w: reported %d, food events add up to %d", ErrScoreMismatch, t.FinalScore, expected)
	}

	if interval := th.MinFoodInterval.Milliseconds(); interval > 0 {
		maxFoods := t.DurationMs / interval
		if int64(len(t.Foods)) > maxFoods {
			return fmt.Errorf("%w: %d foods in %dms", ErrUnrealisticFoodRate, len(t.Foods), t.DurationMs)
		}
	}
	return nil
}
