package testing

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teranos/pressline/db"
)

// PostgresDSNEnv names the variable that points tests at a disposable Postgres database
const PostgresDSNEnv = "PRESSLINE_TEST_POSTGRES_DSN"

// CreatePostgresTestPool connects to the database named by PRESSLINE_TEST_POSTGRES_DSN,
// applies migrations and empties the tables. Skips the test when the variable is unset.
func CreatePostgresTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set, skipping Postgres tests", PostgresDSNEnv)
	}

	ctx := context.Background()
	pool, err := db.OpenPostgres(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("Failed to connect to Postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.MigratePostgres(ctx, pool, nil); err != nil {
		t.Fatalf("Failed to migrate Postgres: %v", err)
	}
	if _, err := pool.Exec(ctx, "TRUNCATE jobs, destinations"); err != nil {
		t.Fatalf("Failed to reset Postgres tables: %v", err)
	}

	return pool
}
