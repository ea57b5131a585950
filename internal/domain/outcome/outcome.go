// Package outcome classifies finished chess games.
package outcome

import (
	"fmt"
	"strings"
)

// Color is a side of the board.
type Color int

// Board sides.
const (
	White Color = iota + 1
	Black
)

// String returns the lower-case color name used in JSON payloads.
func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return "unknown"
	}
}

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// ParseColor accepts "white"/"black" in any letter case.
func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
}

// Result is the categorical result of a match.
type Result int

// Match results.
const (
	InProgress Result = iota
	WinWhite
	WinBlack
	Draw
)

// Wire strings for results, as stored in the match record.
const (
	winWhiteText = "Win: White"
	winBlackText = "Win: Black"
	drawText     = "Draw"
)

// String returns the wire form of the result.
func (r Result) String() string {
	switch r {
	case WinWhite:
		return winWhiteText
	case WinBlack:
		return winBlackText
	case Draw:
		return drawText
	default:
		return "In progress"
	}
}

// Decisive reports whether the result has a winner.
func (r Result) Decisive() bool {
	return r == WinWhite || r == WinBlack
}

// Terminal reports whether the result ends the match.
func (r Result) Terminal() bool {
	return r != InProgress
}

// Winner returns the winning side of a decisive result.
func (r Result) Winner() (Color, bool) {
	switch r {
	case WinWhite:
		return White, true
	case WinBlack:
		return Black, true
	default:
		return 0, false
	}
}

// ParseResult parses "Win: White", "Win: Black" or "Draw". Matching ignores
// letter case and surrounding spaces.
func ParseResult(s string) (Result, error) {
	norm := strings.ToLower(strings.Join(strings.Fields(s), " "))
	switch norm {
	case strings.ToLower(winWhiteText), "win:white":
		return WinWhite, nil
	case strings.ToLower(winBlackText), "win:black":
		return WinBlack, nil
	case strings.ToLower(drawText):
		return Draw, nil
	default:
		return InProgress, fmt.Errorf("%w: %q", ErrInvalidResult, s)
	}
}

// WinFor returns the decisive result won by c.
func WinFor(c Color) Result {
	if c == Black {
		return WinBlack
	}
	return WinWhite
}

// Resolve classifies a position from the signals of a rules engine. When
// checkmate is detected the side to move has been mated, so the other side
// won.
func Resolve(isCheckmate, isDraw bool, sideToMove Color) Result {
	switch {
	case isCheckmate && sideToMove == Black:
		return WinWhite
	case isCheckmate && sideToMove == White:
		return WinBlack
	case isDraw:
		return Draw
	default:
		return InProgress
	}
}
