// Package fsrs schedules card reviews with a simplified FSRS memory model.
package fsrs

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Rating is the learner's answer to a review.
type Rating int

const (
	Again Rating = 1
	Hard  Rating = 2
	Good  Rating = 3
	Easy  Rating = 4
)

// Valid reports whether r is one of the four ratings.
func (r Rating) Valid() bool {
	return r >= Again && r <= Easy
}

// Correct reports whether the card was recalled.
func (r Rating) Correct() bool {
	return r != Again
}

func (r Rating) String() string {
	switch r {
	case Again:
		return "again"
	case Hard:
		return "hard"
	case Good:
		return "good"
	case Easy:
		return "easy"
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}

// ParseRating accepts a rating name or its number 1-4.
func ParseRating(s string) (Rating, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "again":
		return Again, nil
	case "2", "hard":
		return Hard, nil
	case "3", "good":
		return Good, nil
	case "4", "easy":
		return Easy, nil
	}
	return 0, fmt.Errorf("invalid rating %q: want again, hard, good, easy or 1-4", s)
}

// Params holds the model weights.
type Params struct {
	A                float64 // overall growth of stability
	B                float64 // difficulty exponent
	C                float64 // stability exponent
	D                float64 // retention scaler
	DesiredRetention float64

	// Initial stability in days after the first review, indexed by rating.
	Initial [4]float64
	// Difficulty of a card that has never been reviewed.
	InitialDifficulty float64
}

// DefaultParams returns the default weights.
func DefaultParams() *Params {
	return &Params{
		A:                 0.2,
		B:                 0.5,
		C:                 0.1,
		D:                 4.0,
		DesiredRetention:  0.9,
		Initial:           [4]float64{0.5, 1, 3, 7},
		InitialDifficulty: 5,
	}
}

// CardState is the memory state of a card. A zero Stability means the card
// has never been reviewed.
type CardState struct {
	Stability  float64
	Difficulty float64
	LastReview time.Time
}

// NextState applies a review made at now.
func (p *Params) NextState(current CardState, rating Rating, now time.Time) CardState {
	if current.Stability <= 0 {
		return CardState{
			Stability:  p.Initial[rating-Again],
			Difficulty: clampDifficulty(p.InitialDifficulty - float64(rating-Good)),
			LastReview: now,
		}
	}

	if rating == Again {
		return CardState{
			Stability:  1,
			Difficulty: clampDifficulty(current.Difficulty + 0.5),
			LastReview: now,
		}
	}

	next := CardState{
		Stability:  p.recall(current.Stability, current.Difficulty),
		Difficulty: current.Difficulty,
		LastReview: now,
	}
	switch rating {
	case Hard:
		next.Difficulty = clampDifficulty(next.Difficulty + 0.1)
	case Easy:
		next.Stability *= 1.3
		next.Difficulty = clampDifficulty(next.Difficulty - 0.1)
	}
	return next
}

// recall computes S' = S * (1 + a * D^(-b) * S^c * (e^(d * (1-R)) - 1)).
func (p *Params) recall(stability, difficulty float64) float64 {
	stability = math.Max(stability, 1)
	difficulty = math.Max(difficulty, 1)

	factor := p.A * math.Pow(difficulty, -p.B) * math.Pow(stability, p.C)
	multiplier := math.Exp(p.D*(1-p.DesiredRetention)) - 1
	return stability * (1 + factor*multiplier)
}

func clampDifficulty(d float64) float64 {
	return math.Min(10, math.Max(1, d))
}

// NextDueDate schedules the next review stability days (rounded, at least
// one) after from.
func NextDueDate(from time.Time, stability float64) time.Time {
	days := math.Max(1, math.Round(stability))
	return from.Add(time.Duration(days) * 24 * time.Hour)
}
