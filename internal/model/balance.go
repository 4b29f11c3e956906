package model

import "time"

// RewardBalance is the per-user points record.
//
// INVARIANTS:
//   - exactly one row per user (primary key on user_id)
//   - Points >= 0 (also enforced by a CHECK constraint)
//   - Points == sum of the user's Transaction amounts
//
// Version increases by one on every write. Stores compare it on UPDATE so a
// write based on a stale read is rejected instead of silently applied.
type RewardBalance struct {
	UserID      string    `json:"userId"      db:"user_id"`
	Points      int64     `json:"points"      db:"points"`
	Level       int       `json:"level"       db:"level"`
	IsAvailable bool      `json:"isAvailable" db:"is_available"`
	Version     int64     `json:"-"           db:"version"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt"   db:"updated_at"`
}

// Defaults for a lazily created balance row.
const (
	InitialPoints = 0
	InitialLevel  = 1
)

// levelThresholds[i] is the minimum points for level i+1.
var levelThresholds = []int64{0, 100, 250, 500, 1000}

// LevelFor derives the tier for a points total.
func LevelFor(points int64) int {
	level := InitialLevel
	for i, threshold := range levelThresholds {
		if points >= threshold {
			level = i + 1
		}
	}
	return level
}

// Apply returns a copy of b with delta added and the level recomputed.
// It does not check the sign of the result; callers reject negative results first.
func (b RewardBalance) Apply(delta int64) RewardBalance {
	b.Points += delta
	b.Level = LevelFor(b.Points)
	return b
}
