package outcome

import (
	"fmt"
	"strings"

	"github.com/notnil/chess"
)

// Position holds the terminal-state signals read from a FEN.
type Position struct {
	IsCheckmate bool
	IsDraw      bool
	SideToMove  Color
	// Method names how the position ended, e.g. "checkmate". Empty when it has not.
	Method string
}

// Result classifies the position.
func (p Position) Result() Result {
	return Resolve(p.IsCheckmate, p.IsDraw, p.SideToMove)
}

// Signals decodes fen and evaluates checkmate, stalemate and insufficient
// material. Repetition and agreement cannot be seen from a single position.
func Signals(fen string) (Position, error) {
	game, err := newGame(fen)
	if err != nil {
		return Position{}, err
	}

	pos := game.Position()
	side := White
	if pos.Turn() == chess.Black {
		side = Black
	}

	method := game.Method()
	if method == chess.NoMethod {
		method = pos.Status()
	}

	return Position{
		IsCheckmate: method == chess.Checkmate,
		IsDraw:      game.Outcome() == chess.Draw || method == chess.Stalemate,
		SideToMove:  side,
		Method:      methodName(method),
	}, nil
}

func methodName(m chess.Method) string {
	switch m {
	case chess.Checkmate:
		return "checkmate"
	case chess.Stalemate:
		return "stalemate"
	case chess.InsufficientMaterial:
		return "insufficient_material"
	case chess.FivefoldRepetition:
		return "fivefold_repetition"
	case chess.SeventyFiveMoveRule:
		return "seventy_five_move_rule"
	default:
		return ""
	}
}

// ValidateFEN checks that fen is a syntactically valid position.
func ValidateFEN(fen string) error {
	_, err := newGame(fen)
	return err
}

func newGame(fen string) (*chess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidFEN)
	}
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	return chess.NewGame(opt), nil
}

// Reconcile decides the result of a game from the result claimed by a client
// and the final position. A terminal board wins over the claim. On a
// non-terminal board only a draw can be claimed.
func Reconcile(claimed Result, fen string) (Result, error) {
	if !claimed.Terminal() {
		return InProgress, fmt.Errorf("%w: %s", ErrInvalidResult, claimed)
	}

	pos, err := Signals(fen)
	if err != nil {
		return InProgress, err
	}

	board := pos.Result()
	switch {
	case board.Terminal() && board != claimed:
		return InProgress, fmt.Errorf("%w: claimed %q, position is %q", ErrOutcomeMismatch, claimed, board)
	case board.Terminal():
		return board, nil
	case claimed == Draw:
		return Draw, nil
	default:
		return InProgress, fmt.Errorf("%w: claimed %q", ErrNotTerminal, claimed)
	}
}
