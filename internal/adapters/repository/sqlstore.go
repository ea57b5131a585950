package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/skillboard/internal/config"
	"github.com/okian/skillboard/internal/domain/model"
	"github.com/okian/skillboard/internal/domain/rating"
)

// SQLStore is a Store on database/sql. It speaks sqlite (modernc.org/sqlite)
// and postgres (lib/pq).
type SQLStore struct {
	db      *sql.DB
	driver  string
	lockRow string // row lock suffix for reads inside CompleteMatch
}

// NewSQLStore opens dsn with driver ("sqlite" or "postgres") and bootstraps
// the schema.
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	s := &SQLStore{driver: driver}
	switch driver {
	case config.DriverSQLite:
	case config.DriverPostgres:
		s.lockRow = " FOR UPDATE"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == config.DriverSQLite {
		// One writer at a time; the busy timeout covers other processes.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s.db = db

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return s, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.driver != config.DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const playerColumns = `id, username, skill_mean, skill_variance, games_played, created_at`

func scanPlayer(row interface{ Scan(...any) error }) (model.Player, error) {
	var (
		p       model.Player
		created int64
	)
	if err := row.Scan(&p.ID, &p.Username, &p.Skill.Mean, &p.Skill.Variance, &p.GamesPlayed, &created); err != nil {
		return model.Player{}, err
	}
	p.CreatedAt = time.Unix(0, created).UTC()
	return p, nil
}

const matchSelect = `SELECT m.id, m.white_id, m.black_id, w.username, b.username, m.fen, m.moves,
	m.status, m.result, m.winner_id, m.created_at, m.updated_at
	FROM matches m
	JOIN players w ON w.id = m.white_id
	LEFT JOIN players b ON b.id = m.black_id`

func scanMatch(row interface{ Scan(...any) error }) (model.Match, error) {
	var (
		m                                  model.Match
		black, blackName, result, winnerID sql.NullString
		moves                              string
		created, updated                   int64
	)
	if err := row.Scan(&m.ID, &m.White, &black, &m.WhiteUsername, &blackName, &m.FEN, &moves,
		&m.Status, &result, &winnerID, &created, &updated); err != nil {
		return model.Match{}, err
	}
	m.Black = black.String
	m.BlackUsername = blackName.String
	m.Result = result.String
	m.WinnerID = winnerID.String
	m.CreatedAt = time.Unix(0, created).UTC()
	m.UpdatedAt = time.Unix(0, updated).UTC()
	if err := json.Unmarshal([]byte(moves), &m.Moves); err != nil {
		return model.Match{}, fmt.Errorf("decode moves of %s: %w", m.ID, err)
	}
	if m.Moves == nil {
		m.Moves = []string{}
	}
	return m, nil
}

func (s *SQLStore) CreatePlayer(ctx context.Context, p model.Player) (err error) {
	defer observe(s.driver, "create_player", time.Now(), &err)

	p.Skill = withDefaults(p.Skill)
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO players (`+playerColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		p.ID, p.Username, p.Skill.Mean, p.Skill.Variance, p.GamesPlayed, p.CreatedAt.UnixNano())
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrUsernameTaken, p.Username)
	}
	return err
}

func (s *SQLStore) GetPlayer(ctx context.Context, id string) (model.Player, error) {
	return s.getPlayer(ctx, s.db, id, "")
}

func (s *SQLStore) getPlayer(ctx context.Context, q queryer, id, suffix string) (model.Player, error) {
	row := q.QueryRowContext(ctx, s.rebind(`SELECT `+playerColumns+` FROM players WHERE id = ?`+suffix), id)
	p, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Player{}, fmt.Errorf("%w: player %s", ErrNotFound, id)
	}
	return p, err
}

func (s *SQLStore) GetPlayerByUsername(ctx context.Context, username string) (model.Player, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+playerColumns+` FROM players WHERE username = ?`), username)
	p, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Player{}, fmt.Errorf("%w: username %s", ErrNotFound, username)
	}
	return p, err
}

func (s *SQLStore) ListPlayers(ctx context.Context) (_ []model.Player, err error) {
	defer observe(s.driver, "list_players", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, `SELECT `+playerColumns+` FROM players ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) FetchSkill(ctx context.Context, playerID string) (rating.SkillModel, error) {
	p, err := s.GetPlayer(ctx, playerID)
	if err != nil {
		return rating.SkillModel{}, err
	}
	return withDefaults(p.Skill), nil
}

func (s *SQLStore) SaveSkill(ctx context.Context, playerID string, skill rating.SkillModel) (err error) {
	defer observe(s.driver, "save_skill", time.Now(), &err)

	if err := skill.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE players SET skill_mean = ?, skill_variance = ? WHERE id = ?`),
		skill.Mean, skill.Variance, playerID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: player %s", ErrNotFound, playerID)
	}
	return nil
}

func (s *SQLStore) CreateMatch(ctx context.Context, m model.Match) (err error) {
	defer observe(s.driver, "create_match", time.Now(), &err)

	moves, err := json.Marshal(nonNil(m.Moves))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO matches
		(id, white_id, black_id, fen, moves, status, result, winner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.White, nullString(m.Black), m.FEN, string(moves), string(m.Status),
		nullString(m.Result), nullString(m.WinnerID), m.CreatedAt.UnixNano(), m.UpdatedAt.UnixNano())
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrOpenChallenge, m.White)
	}
	return err
}

func (s *SQLStore) GetMatch(ctx context.Context, id string) (model.Match, error) {
	return s.getMatch(ctx, s.db, id)
}

func (s *SQLStore) getMatch(ctx context.Context, q queryer, id string) (model.Match, error) {
	m, err := scanMatch(q.QueryRowContext(ctx, s.rebind(matchSelect+` WHERE m.id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Match{}, fmt.Errorf("%w: match %s", ErrNotFound, id)
	}
	return m, err
}

func (s *SQLStore) ListMatchesByStatus(ctx context.Context, status model.Status) (_ []model.Match, err error) {
	defer observe(s.driver, "list_matches", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, s.rebind(matchSelect+` WHERE m.status = ? ORDER BY m.created_at, m.id`), string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) OpenMatchFor(ctx context.Context, whiteID string) (model.Match, error) {
	m, err := scanMatch(s.db.QueryRowContext(ctx,
		s.rebind(matchSelect+` WHERE m.white_id = ? AND m.status = ?`), whiteID, string(model.StatusWaiting)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Match{}, fmt.Errorf("%w: open challenge for %s", ErrNotFound, whiteID)
	}
	return m, err
}

func (s *SQLStore) JoinMatch(ctx context.Context, id, blackID string, at time.Time) (_ model.Match, err error) {
	defer observe(s.driver, "join_match", time.Now(), &err)

	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE matches SET black_id = ?, status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND white_id <> ?`),
		blackID, string(model.StatusInProgress), at.UnixNano(), id, string(model.StatusWaiting), blackID)
	if err != nil {
		return model.Match{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Match{}, err
	}

	m, err := s.GetMatch(ctx, id)
	if err != nil {
		return model.Match{}, err
	}
	if n == 0 {
		return model.Match{}, fmt.Errorf("%w: match %s cannot be joined", ErrConflict, id)
	}
	return m, nil
}

func (s *SQLStore) AppendMove(ctx context.Context, id, fen, move string, at time.Time) (_ model.Match, err error) {
	defer observe(s.driver, "append_move", time.Now(), &err)

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			status string
			raw    string
		)
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT status, moves FROM matches WHERE id = ?`+s.lockRow), id).
			Scan(&status, &raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: match %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if model.Status(status) != model.StatusInProgress {
			return fmt.Errorf("%w: match %s is %s", ErrConflict, id, status)
		}

		var moves []string
		if err := json.Unmarshal([]byte(raw), &moves); err != nil {
			return fmt.Errorf("decode moves of %s: %w", id, err)
		}
		if move != "" {
			moves = append(moves, move)
		}
		encoded, err := json.Marshal(nonNil(moves))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE matches SET fen = ?, moves = ?, updated_at = ? WHERE id = ?`),
			fen, string(encoded), at.UnixNano(), id)
		return err
	})
	if err != nil {
		return model.Match{}, err
	}
	return s.GetMatch(ctx, id)
}

func (s *SQLStore) MarkMatchCompleted(ctx context.Context, c model.Completion) (m model.Match, err error) {
	defer observe(s.driver, "mark_completed", time.Now(), &err)

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		m, err = s.markCompleted(ctx, tx, c)
		return err
	})
	return m, err
}

// markCompleted is the status compare-and-set shared by MarkMatchCompleted
// and CompleteMatch.
func (s *SQLStore) markCompleted(ctx context.Context, tx *sql.Tx, c model.Completion) (model.Match, error) {
	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE matches
		SET status = ?, result = ?, winner_id = ?, fen = CASE WHEN ? = '' THEN fen ELSE ? END, updated_at = ?
		WHERE id = ? AND status = ?`),
		string(model.StatusCompleted), c.Result.String(), nullString(c.WinnerID), c.FEN, c.FEN, c.At.UnixNano(),
		c.MatchID, string(model.StatusInProgress))
	if err != nil {
		return model.Match{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Match{}, err
	}

	m, err := s.getMatch(ctx, tx, c.MatchID)
	if err != nil {
		return model.Match{}, err
	}
	if n == 0 {
		if err := checkCompletable(m); err != nil {
			return model.Match{}, err
		}
		return model.Match{}, fmt.Errorf("%w: match %s changed concurrently", ErrConflict, c.MatchID)
	}
	return m, nil
}

func (s *SQLStore) CompleteMatch(ctx context.Context, c model.Completion, rate RateFunc) (m model.Match, players []model.Player, err error) {
	defer observe(s.driver, "complete_match", time.Now(), &err)

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if m, err = s.markCompleted(ctx, tx, c); err != nil {
			return err
		}

		white, err := s.getPlayer(ctx, tx, m.White, s.lockRow)
		if err != nil {
			return err
		}
		black, err := s.getPlayer(ctx, tx, m.Black, s.lockRow)
		if err != nil {
			return err
		}

		if players, err = settle(m, white, black, c, rate); err != nil {
			return err
		}
		for _, p := range players {
			if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE players
				SET skill_mean = ?, skill_variance = ?, games_played = ? WHERE id = ?`),
				p.Skill.Mean, p.Skill.Variance, p.GamesPlayed, p.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Match{}, nil, err
	}
	return m, players, nil
}

func (s *SQLStore) Close(_ context.Context) error {
	return s.db.Close()
}

// inTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
