//go:build integration

package ledger_test

import (
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/recordchain/internal/ledger"
	"go.uber.org/zap"
)

func setupPostgres(t *testing.T) *ledger.PostgresStorage {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set: skipping integration test")
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	s := ledger.NewPostgresStorage(pool, "test-"+t.Name(), zap.NewNop())
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	pool.Exec(ctx, "DELETE FROM ledger_chain WHERE name = $1", "test-"+t.Name()) //nolint:errcheck
	return s
}

func TestPostgresStorage_roundTrip(t *testing.T) {
	s := setupPostgres(t)

	l := openLedger(t, s, ledger.WithDifficulty(1))
	for _, id := range []string{"P1", "P2"} {
		if _, err := l.Append(ctx, ledger.Record{"patient_id": id}); err != nil {
			t.Fatal(err)
		}
	}
	before, _ := l.Blocks()

	reloaded := openLedger(t, s)
	after, _ := reloaded.Blocks()
	if len(after) != len(before) {
		t.Fatalf("reloaded %d blocks, want %d", len(after), len(before))
	}
	for i := range before {
		if before[i].Hash != after[i].Hash {
			t.Errorf("block %d hash changed across reload", i)
		}
	}
	if err := reloaded.Validate(); err != nil {
		t.Errorf("Validate(): %v", err)
	}
}

func TestPostgresStorage_quarantine(t *testing.T) {
	s := setupPostgres(t)
	if err := s.Save(ctx, []byte("not json")); err != nil {
		t.Fatal(err)
	}

	l := openLedger(t, s)
	if l.Len() != 1 {
		t.Errorf("expected genesis-only chain after reset, got %d", l.Len())
	}
}
