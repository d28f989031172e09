// Package rating implements the ELO-style update used by ranked duels.
package rating

import "math"

const (
	// K is the maximum rating change for a single game.
	K = 32
	// Default is the rating of a player with no ranked history.
	Default = 1200
)

// Expected returns the expected score of a player rated a against b.
func Expected(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}

// Update returns the new ratings for winner and loser. When draw is true
// both sides score 0.5 and the argument order does not matter.
func Update(winner, loser int, draw bool) (int, int) {
	ew := Expected(winner, loser)
	el := Expected(loser, winner)

	sw, sl := 1.0, 0.0
	if draw {
		sw, sl = 0.5, 0.5
	}
	return int(math.Round(float64(winner) + K*(sw-ew))),
		int(math.Round(float64(loser) + K*(sl-el)))
}
