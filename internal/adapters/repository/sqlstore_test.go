package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/skillboard/internal/config"
)

func sqliteDSN(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "skillboard.db")
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func configFor(driver, dsn string) *config.Config {
	cfg := config.New()
	cfg.StoreDriver = driver
	cfg.StoreDSN = dsn
	return cfg
}

func TestSQLStore_SQLite(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewSQLStore(context.Background(), config.DriverSQLite, sqliteDSN(t))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = s.Close(context.Background()) })
		return s
	})
}

func TestSQLStore_Postgres(t *testing.T) {
	dsn := os.Getenv("SKILLBOARD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SKILLBOARD_TEST_POSTGRES_DSN not set")
	}
	runStoreContract(t, func(t *testing.T) Store {
		ctx := context.Background()
		s, err := NewSQLStore(ctx, config.DriverPostgres, dsn)
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		if _, err := s.db.ExecContext(ctx, `TRUNCATE matches, players`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { _ = s.Close(ctx) })
		return s
	})
}

func TestSQLStore_SchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dsn := sqliteDSN(t)

	first, err := NewSQLStore(ctx, config.DriverSQLite, dsn)
	if err != nil {
		t.Fatal(err)
	}
	mustCreatePlayers(t, first, "p1")
	_ = first.Close(ctx)

	second, err := NewSQLStore(ctx, config.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close(ctx)
	if _, err := second.GetPlayer(ctx, "p1"); err != nil {
		t.Fatalf("player lost across reopen: %v", err)
	}
}

func TestSQLStore_UnknownDriver(t *testing.T) {
	_, err := NewSQLStore(context.Background(), "oracle", "dsn")
	if !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("got %v, want ErrUnknownDriver", err)
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: config.DriverPostgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("postgres rebind = %q", got)
	}
	lite := &SQLStore{driver: config.DriverSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind = %q", got)
	}
}
