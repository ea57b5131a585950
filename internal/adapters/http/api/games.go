package api

import (
	"context"
	"net/http"

	service "github.com/okian/skillboard/internal/app"
	"github.com/okian/skillboard/internal/domain/model"
)

// GameDependencies defines the interface for the match lifecycle.
type GameDependencies interface {
	CreateChallenge(ctx context.Context, whiteID, fen string) (model.Match, error)
	OpenChallenges(ctx context.Context) ([]model.Match, error)
	JoinGame(ctx context.Context, gameID, blackID string) (model.Match, error)
	RecordMove(ctx context.Context, req service.MoveRequest) (model.Match, error)
	GameOver(ctx context.Context, req service.GameOverRequest) (service.GameOverResponse, error)
}

// GamesHandler handles challenge, move and game-over requests.
type GamesHandler struct {
	deps GameDependencies
}

// NewGamesHandler creates a new games handler.
func NewGamesHandler(deps GameDependencies) *GamesHandler {
	return &GamesHandler{deps: deps}
}

type challengeRequest struct {
	WhiteID string `json:"whiteId"`
	FEN     string `json:"fen"`
}

type joinRequest struct {
	GameID  string `json:"gameId"`
	BlackID string `json:"blackId"`
}

type moveRequest struct {
	GameID        string `json:"gameId"`
	FEN           string `json:"fen"`
	Move          string `json:"move"`
	CurrentUserID string `json:"currentUserId"`
}

type gameOverRequest struct {
	GameID        string  `json:"gameId"`
	FEN           string  `json:"fen"`
	CurrentUserID string  `json:"currentUserId"`
	Result        string  `json:"result"`
	WinnerColor   *string `json:"winnerColor"`
}

type gameResponse struct {
	Game model.Match `json:"game"`
}

type gamesResponse struct {
	Games []model.Match `json:"games"`
}

type moveResponse struct {
	Success bool        `json:"success"`
	Game    model.Match `json:"game"`
	Moves   []string    `json:"moves"`
}

type gameOverResponse struct {
	Success bool `json:"success"`
	service.GameOverResponse
}

// HandleCreateChallenge handles POST /api/game_request requests.
func (h *GamesHandler) HandleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	const op = "api.game_request"
	var req challengeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	m, err := h.deps.CreateChallenge(r.Context(), req.WhiteID, req.FEN)
	if err != nil {
		writeFailure(r, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, gameResponse{Game: m})
}

// HandleOpenChallenges handles GET /api/game_requests requests.
func (h *GamesHandler) HandleOpenChallenges(w http.ResponseWriter, r *http.Request) {
	const op = "api.game_requests"
	ms, err := h.deps.OpenChallenges(r.Context())
	if err != nil {
		writeFailure(r, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, gamesResponse{Games: ms})
}

// HandleJoinGame handles POST /api/join_game requests.
func (h *GamesHandler) HandleJoinGame(w http.ResponseWriter, r *http.Request) {
	const op = "api.join_game"
	var req joinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	m, err := h.deps.JoinGame(r.Context(), req.GameID, req.BlackID)
	if err != nil {
		writeFailure(r, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, gameResponse{Game: m})
}

// HandleUpdateGame handles POST /api/update_game requests.
func (h *GamesHandler) HandleUpdateGame(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_game"
	var req moveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	m, err := h.deps.RecordMove(r.Context(), service.MoveRequest{
		GameID:        req.GameID,
		FEN:           req.FEN,
		Move:          req.Move,
		CurrentUserID: req.CurrentUserID,
	})
	if err != nil {
		writeFailure(r, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, moveResponse{Success: true, Game: m, Moves: m.Moves})
}

// HandleGameOver handles POST /api/game_over requests. A repeated report of
// the same result answers 200 with duplicate set.
func (h *GamesHandler) HandleGameOver(w http.ResponseWriter, r *http.Request) {
	const op = "api.game_over"
	var req gameOverRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	in := service.GameOverRequest{
		GameID:        req.GameID,
		FEN:           req.FEN,
		CurrentUserID: req.CurrentUserID,
		Result:        req.Result,
	}
	if req.WinnerColor != nil {
		in.WinnerColor = *req.WinnerColor
	}
	resp, err := h.deps.GameOver(r.Context(), in)
	if err != nil {
		writeFailure(r, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, gameOverResponse{Success: true, GameOverResponse: resp})
}
