package repository

// schema works for both sqlite and postgres. Times are unix nanoseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS players (
		id             TEXT PRIMARY KEY,
		username       TEXT NOT NULL UNIQUE,
		skill_mean     DOUBLE PRECISION NOT NULL DEFAULT 25.0,
		skill_variance DOUBLE PRECISION NOT NULL DEFAULT 8.3333,
		games_played   INTEGER NOT NULL DEFAULT 0,
		created_at     BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS matches (
		id         TEXT PRIMARY KEY,
		white_id   TEXT NOT NULL REFERENCES players(id),
		black_id   TEXT REFERENCES players(id),
		fen        TEXT NOT NULL,
		moves      TEXT NOT NULL DEFAULT '[]',
		status     TEXT NOT NULL CHECK (status IN ('waiting', 'in_progress', 'completed')),
		result     TEXT,
		winner_id  TEXT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS matches_one_open_challenge ON matches (white_id) WHERE status = 'waiting'`,
	`CREATE INDEX IF NOT EXISTS matches_status_created ON matches (status, created_at)`,
}
