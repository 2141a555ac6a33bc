// Package dbmanager opens and tunes the PostgreSQL connection pool used by the
// modhost store.
package dbmanager

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/rs/zerolog/log"
)

// Options describes the pool. Zero values fall back to the defaults below.
type Options struct {
	DSN              string
	MaxOpenConns     int
	MaxIdleConns     int
	StatementTimeout time.Duration
	PingAttempts     uint
}

// NewPostgresqlDb opens a pool over pgx and waits for the server to answer.
// Every session gets statement, lock and idle-in-transaction timeouts so no
// request can hold a connection indefinitely.
func NewPostgresqlDb(ctx context.Context, opts Options) (*sql.DB, error) {
	connConfig, err := pgx.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	timeout := opts.StatementTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ms := strconv.FormatInt(timeout.Milliseconds(), 10)
	if connConfig.RuntimeParams == nil {
		connConfig.RuntimeParams = map[string]string{}
	}
	connConfig.RuntimeParams["statement_timeout"] = ms
	connConfig.RuntimeParams["lock_timeout"] = ms
	connConfig.RuntimeParams["idle_in_transaction_session_timeout"] = ms
	connConfig.RuntimeParams["application_name"] = "modhost"

	sqlDB := stdlib.OpenDB(*connConfig)

	maxOpen, maxIdle := opts.MaxOpenConns, opts.MaxIdleConns
	if maxOpen <= 0 {
		maxOpen = 50
	}
	if maxIdle <= 0 {
		maxIdle = 10
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	attempts := opts.PingAttempts
	if attempts == 0 {
		attempts = 5
	}
	err = retry.Do(func() error {
		return sqlDB.PingContext(ctx)
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(1*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Uint("attempt", n+1).Msg("database not ready, retrying")
		}),
	)
	if err != nil {
		sqlDB.Close()
		log.Ctx(ctx).Error().Err(err).Msg("failed to ping db")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return sqlDB, nil
}
