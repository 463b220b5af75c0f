// Package fsrs implements the deterministic spaced-repetition scheduler
// behind /study/review. Pure: no I/O, no clock reads; callers pass now.
package fsrs

import (
	"fmt"
	"math"
	"time"

	"studybuddy/internal/timez"
)

const (
	defaultDifficulty = 5.0
	minStability      = 0.15
	minDifficulty     = 1.0
	maxDifficulty     = 10.0

	relearnIntervalDays = 4.0 / 24.0
)

var (
	firstIntervalDays    = map[int]float64{1: 0.0, 2: 1.0 / 24.0, 3: 1.0, 4: 3.0}
	firstStability       = map[int]float64{1: 0.30, 2: 0.80, 3: 2.50, 4: 4.00}
	firstDifficultyDelta = map[int]float64{1: 1.20, 2: 0.40, 3: -0.30, 4: -0.80}

	reviewDifficultyDelta = map[int]float64{1: 1.00, 2: 0.30, 3: -0.15, 4: -0.45}
	reviewIntervalFactor  = map[int]float64{2: 0.80, 3: 1.00, 4: 1.35}
)

// State is the serialized scheduling state stored on a card.
type State struct {
	DueAt          string  `json:"dueAt" dynamodbav:"dueAt"`
	Stability      float64 `json:"stability" dynamodbav:"stability"`
	Difficulty     float64 `json:"difficulty" dynamodbav:"difficulty"`
	Reps           int     `json:"reps" dynamodbav:"reps"`
	Lapses         int     `json:"lapses" dynamodbav:"lapses"`
	LastReviewedAt string  `json:"lastReviewedAt" dynamodbav:"lastReviewedAt"`
}

// Validate checks the stored-state invariants.
func (s State) Validate() error {
	if _, err := timez.Parse(s.DueAt); err != nil {
		return fmt.Errorf("dueAt: %w", err)
	}
	if _, err := timez.Parse(s.LastReviewedAt); err != nil {
		return fmt.Errorf("lastReviewedAt: %w", err)
	}
	if s.Stability <= 0 {
		return fmt.Errorf("stability must be positive")
	}
	if s.Reps < 0 || s.Lapses < 0 {
		return fmt.Errorf("reps and lapses must be non-negative")
	}
	return nil
}

func clamp(value, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, value))
}

func round6(value float64) float64 {
	return math.Round(value*1e6) / 1e6
}

func retrievability(stability, elapsedDays float64) float64 {
	return 1.0 / (1.0 + elapsedDays/math.Max(stability, minStability))
}

func addDays(t time.Time, days float64) time.Time {
	return t.Add(time.Duration(days * 86400.0 * float64(time.Second)))
}

func firstReview(now time.Time, rating int) State {
	lapses := 0
	if rating == 1 {
		lapses = 1
	}
	return State{
		DueAt:          timez.Format(addDays(now, firstIntervalDays[rating])),
		Stability:      round6(firstStability[rating]),
		Difficulty:     round6(clamp(defaultDifficulty+firstDifficultyDelta[rating], minDifficulty, maxDifficulty)),
		Reps:           1,
		Lapses:         lapses,
		LastReviewedAt: timez.Format(now),
	}
}

// Schedule applies one review at now against the prior state (nil for a
// first review) and returns the next state. Rating is 1..4
// (Again, Hard, Good, Easy).
func Schedule(prior *State, rating int, now time.Time) (State, error) {
	if rating < 1 || rating > 4 {
		return State{}, fmt.Errorf("rating must be in range 1..4")
	}
	now = now.UTC().Truncate(time.Second)
	if prior == nil {
		return firstReview(now, rating), nil
	}
	if err := prior.Validate(); err != nil {
		return State{}, fmt.Errorf("prior state: %w", err)
	}

	lastReviewed, err := timez.Parse(prior.LastReviewedAt)
	if err != nil {
		return State{}, err
	}
	elapsedDays := math.Max(0, now.Sub(lastReviewed).Seconds()/86400.0)
	retentionGap := math.Max(0, 1.0-retrievability(prior.Stability, elapsedDays))
	difficulty := clamp(prior.Difficulty, minDifficulty, maxDifficulty)

	var (
		nextStability   float64
		intervalDays    float64
		nextLapses      = prior.Lapses
		difficultyDelta float64
	)
	if rating == 1 {
		nextStability = math.Max(minStability, prior.Stability*0.55)
		intervalDays = relearnIntervalDays
		nextLapses++
		difficultyDelta = reviewDifficultyDelta[rating]
	} else {
		gain := 1.0 + (0.25+0.08*float64(rating))*(1.0+retentionGap)*((11.0-difficulty)/10.0)
		nextStability = math.Max(minStability, prior.Stability*gain)
		intervalDays = nextStability * reviewIntervalFactor[rating]
		difficultyDelta = reviewDifficultyDelta[rating] * (1.0 + retentionGap*0.5)
	}

	return State{
		DueAt:          timez.Format(addDays(now, intervalDays)),
		Stability:      round6(nextStability),
		Difficulty:     round6(clamp(difficulty+difficultyDelta, minDifficulty, maxDifficulty)),
		Reps:           prior.Reps + 1,
		Lapses:         nextLapses,
		LastReviewedAt: timez.Format(now),
	}, nil
}
