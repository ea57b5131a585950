// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/okian/skillboard/internal/domain/rating"
)

// Player is a registered user together with their current skill.
type Player struct {
	ID          string            `json:"id" bson:"_id"`
	Username    string            `json:"username" bson:"username"`
	Skill       rating.SkillModel `json:"skill" bson:"skill"`
	GamesPlayed int               `json:"games_played" bson:"games_played"`
	CreatedAt   time.Time         `json:"created_at" bson:"created_at"`
}

// NewPlayer returns a player with the default skill.
func NewPlayer(id, username string, now time.Time) Player {
	return Player{
		ID:        id,
		Username:  username,
		Skill:     rating.Default(),
		CreatedAt: now.UTC(),
	}
}

// RatingChange is emitted for every player touched by a completed match.
type RatingChange struct {
	MatchID     string            `json:"match_id,omitempty"`
	PlayerID    string            `json:"player_id"`
	Username    string            `json:"username"`
	Skill       rating.SkillModel `json:"skill"`
	GamesPlayed int               `json:"games_played"`
}

// ChangeFor builds the rating change of p caused by matchID.
func ChangeFor(matchID string, p Player) RatingChange {
	return RatingChange{
		MatchID:     matchID,
		PlayerID:    p.ID,
		Username:    p.Username,
		Skill:       p.Skill,
		GamesPlayed: p.GamesPlayed,
	}
}
