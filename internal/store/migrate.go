package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

// Migrate applies the store's pending migrations from fsys.
func (s *Store) Migrate(ctx context.Context, fsys fs.FS) (int, error) {
	return Migrate(ctx, s.pool, fsys, s.log)
}

// Migrate applies the goose migrations under migrations/ in fsys that the database has not
// seen yet and returns how many ran. Versions are tracked in goose_db_version.
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, logger logrus.FieldLogger) (int, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	dir, err := fs.Sub(fsys, "migrations")
	if err != nil {
		return 0, fmt.Errorf("open migrations: %w", err)
	}

	// goose drives database/sql; it gets its own connection rather than one from the pool.
	db := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, dir)
	if err != nil {
		return 0, fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		var partial *goose.PartialError
		if errors.As(err, &partial) {
			return len(partial.Applied), fmt.Errorf("apply migration %s: %w", partial.Failed.Source.Path, partial.Err)
		}
		return len(results), fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		logger.WithFields(logrus.Fields{
			"version":  r.Source.Version,
			"file":     r.Source.Path,
			"duration": r.Duration.String(),
		}).Info("migration applied")
	}
	return len(results), nil
}
