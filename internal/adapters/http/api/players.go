package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	service "github.com/okian/skillboard/internal/app"
	"github.com/okian/skillboard/internal/domain/model"
)

// PlayerDependencies defines the interface for player operations.
type PlayerDependencies interface {
	RegisterPlayer(ctx context.Context, username string) (model.Player, error)
	Profile(ctx context.Context, username string) (service.Profile, error)
}

// PlayersHandler handles player registration and profile requests.
type PlayersHandler struct {
	deps PlayerDependencies
}

// NewPlayersHandler creates a new players handler.
func NewPlayersHandler(deps PlayerDependencies) *PlayersHandler {
	return &PlayersHandler{deps: deps}
}

type registerRequest struct {
	Username string `json:"username"`
}

// HandleRegister handles POST /api/players requests.
func (h *PlayersHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	const op = "api.register_player"
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	p, err := h.deps.RegisterPlayer(r.Context(), req.Username)
	if err != nil {
		writeFailure(r, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// HandleProfile handles GET /api/profile?username= requests.
func (h *PlayersHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	const op = "api.profile"
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		writeError(w, http.StatusBadRequest, "bad_request",
			WrapKind(op, ErrBadRequest, errors.New("username is required")))
		return
	}
	p, err := h.deps.Profile(r.Context(), username)
	if err != nil {
		writeFailure(r, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}
