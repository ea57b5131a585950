// Package types contains common types used across the application
package types

// Entry represents a leaderboard entry
type Entry struct {
	Rank          int     `json:"rank"`
	PlayerID      string  `json:"player_id"`
	Username      string  `json:"username"`
	SkillMean     float64 `json:"skill_mean"`
	SkillVariance float64 `json:"skill_variance"`
	GamesPlayed   int     `json:"games_played"`
}
