package usecase

import (
	"math"
	"time"
)

// Ranking combines raw cosine similarity with recency, importance, and
// access frequency. Similarity gates relevance and dominates; the weighted
// term re-ranks within relevant candidates, and the access boost is a
// secondary multiplicative tiebreak.

const (
	// recencyHalfLife is the age at which the recency factor reaches 0.5.
	recencyHalfLife = 30 * 24 * time.Hour

	// accessBoostCap bounds the access-frequency multiplier.
	accessBoostCap = 1.3

	// Weights of the re-ranking term. They sum to 1.0 at decay=1,
	// importance=1, so a fresh maximally-important record scores exactly
	// its similarity before the access boost.
	similarityWeight = 0.5
	recencyWeight    = 0.3
	importanceWeight = 0.2
)

// RecencyDecay returns exp(-ln2/halfLife · age): 1 at age zero, 0.5 at the
// 30-day half-life, asymptotic to 0. Future timestamps clamp to age zero.
func RecencyDecay(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}
	return math.Exp(-math.Ln2 / recencyHalfLife.Hours() * age.Hours())
}

// AccessBoost rewards frequently recalled records with diminishing returns:
// min(1.3, 1 + log2(1+count)·0.1). Boost(0) == 1.
func AccessBoost(accessCount int64) float64 {
	if accessCount < 0 {
		accessCount = 0
	}
	boost := 1 + math.Log2(1+float64(accessCount))*0.1
	return math.Min(accessBoostCap, boost)
}

// Score computes the final rank score:
//
//	similarity · (0.5 + 0.3·recencyDecay + 0.2·importance) · accessBoost
//
// Strictly increasing in similarity, recency, and importance with the
// others held fixed.
func Score(similarity float64, createdAt time.Time, importance float64, accessCount int64, now time.Time) float64 {
	weighted := similarityWeight +
		recencyWeight*RecencyDecay(createdAt, now) +
		importanceWeight*importance
	return similarity * weighted * AccessBoost(accessCount)
}
