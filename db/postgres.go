package db

import (
	"context"
	"path"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/logger"
)

// OpenPostgres connects a pgx pool and verifies the server is reachable.
func OpenPostgres(ctx context.Context, dsn string, log *zap.SugaredLogger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

	if log != nil {
		log.Infow("Postgres pool ready",
			logger.FieldSymbol, logger.SymbolDB,
			"max_conns", pool.Config().MaxConns,
		)
	}
	return pool, nil
}

// MigratePostgres applies the embedded Postgres migrations, mirroring Migrate.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool, log *zap.SugaredLogger) error {
	files, err := migrationFiles(postgresMigrations, "postgres/migrations")
	if err != nil {
		return err
	}

	for _, filename := range files {
		version := migrationVersion(filename)

		var exists bool
		err := pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists)
		if err != nil {
			if version != "000" {
				return errors.Newf("schema_migrations table missing, but migration is not 000: %s", filename)
			}
		} else if exists {
			continue
		}

		sqlBytes, err := postgresMigrations.ReadFile(path.Join("postgres/migrations", filename))
		if err != nil {
			return errors.Wrapf(err, "read %s", filename)
		}

		if log != nil {
			log.Infow("Applying migration", "migration", filename, "version", version)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return errors.Wrapf(err, "begin tx for %s", filename)
		}
		if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
			tx.Rollback(ctx)
			return errors.Wrapf(err, "execute %s", filename)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback(ctx)
			return errors.Wrapf(err, "record %s", filename)
		}
		if err := tx.Commit(ctx); err != nil {
			return errors.Wrapf(err, "commit %s", filename)
		}
	}

	if log != nil {
		log.Infow("Migrations complete",
			logger.FieldSymbol, logger.SymbolDB,
			"total_migrations", len(files),
		)
	}
	return nil
}
