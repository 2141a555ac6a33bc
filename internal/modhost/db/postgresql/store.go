// Package postgresql implements the modhost registry on PostgreSQL through
// database/sql.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/modhost/db/dberror"
)

// Store is safe for concurrent use; every method draws its own connection
// from the pool.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn in a transaction and commits when fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) apperrors.Error) (err apperrors.Error) {
	tx, errStd := s.db.BeginTx(ctx, nil)
	if errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to begin transaction")
		return dberror.ErrDatabase.Err(errStd)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				log.Ctx(ctx).Error().Err(rollbackErr).Msg("failed to rollback transaction")
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if errStd := tx.Commit(); errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to commit transaction")
		return dberror.ErrDatabase.Err(errStd)
	}
	return nil
}

// mapPgError turns constraint violations into typed errors.
func mapPgError(err error, what string) apperrors.Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return dberror.ErrAlreadyExists.Msg(what + " already exists")
		case "23503": // foreign_key_violation
			return dberror.ErrNotFound.Msg(what + " references a missing entity")
		}
	}
	return dberror.ErrDatabase.Err(err)
}

// jsonParam returns a value suitable for a JSONB parameter, NULL when empty.
func jsonParam(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func checkRowsAffected(result sql.Result, what string) apperrors.Error {
	n, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if n == 0 {
		return dberror.ErrNotFound.Msg(what + " not found")
	}
	return nil
}
