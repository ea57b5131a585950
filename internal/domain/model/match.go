package model

import (
	"time"

	"github.com/okian/skillboard/internal/domain/outcome"
)

// Status is the lifecycle state of a match.
type Status string

// Match statuses. Completed is terminal.
const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// Match is a single game between a white and a black player. Black is empty
// while the challenge is waiting for an opponent.
type Match struct {
	ID            string    `json:"id" bson:"_id"`
	White         string    `json:"white_player_id" bson:"white"`
	Black         string    `json:"black_player_id,omitempty" bson:"black,omitempty"`
	WhiteUsername string    `json:"white_username,omitempty" bson:"white_username,omitempty"`
	BlackUsername string    `json:"black_username,omitempty" bson:"black_username,omitempty"`
	FEN           string    `json:"fen" bson:"fen"`
	Moves         []string  `json:"moves" bson:"moves"`
	Status        Status    `json:"status" bson:"status"`
	Result        string    `json:"result,omitempty" bson:"result,omitempty"`
	WinnerID      string    `json:"winner_id,omitempty" bson:"winner_id,omitempty"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at"`
}

// PlayerFor returns the id of the player holding color c.
func (m Match) PlayerFor(c outcome.Color) (string, bool) {
	switch c {
	case outcome.White:
		return m.White, m.White != ""
	case outcome.Black:
		return m.Black, m.Black != ""
	default:
		return "", false
	}
}

// ColorOf returns the color played by playerID.
func (m Match) ColorOf(playerID string) (outcome.Color, bool) {
	switch {
	case playerID == "":
		return 0, false
	case playerID == m.White:
		return outcome.White, true
	case playerID == m.Black:
		return outcome.Black, true
	default:
		return 0, false
	}
}

// HasPlayer reports whether playerID plays in the match.
func (m Match) HasPlayer(playerID string) bool {
	_, ok := m.ColorOf(playerID)
	return ok
}

// Completion describes the terminal transition of a match. WinnerID and
// LoserID are empty for draws.
type Completion struct {
	MatchID  string
	Result   outcome.Result
	WinnerID string
	LoserID  string
	FEN      string
	At       time.Time
}
