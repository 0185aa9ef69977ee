package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-session/pkg/model"
)

// DB is the subset of pgxpool.Pool the trade log uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PGPoolConfig tunes the Postgres pool. Zero values keep pgx defaults.
type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewPool connects to Postgres.
func NewPool(ctx context.Context, url string, pc PGPoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid pg config: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	if pc.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = pc.MaxConnIdleTime
	}
	if pc.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = pc.HealthCheckPeriod
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return pool, nil
}

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS trading;
	CREATE TABLE IF NOT EXISTS trading.quote_execution (
		quote_id     TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL,
		account_id   TEXT NOT NULL,
		mode         TEXT NOT NULL,
		from_coin_id TEXT NOT NULL,
		to_coin_id   TEXT NOT NULL,
		price        NUMERIC NOT NULL,
		from_amount  NUMERIC NOT NULL,
		to_amount    NUMERIC NOT NULL,
		cost         NUMERIC NOT NULL,
		proceeds     NUMERIC NOT NULL,
		executed_at  TIMESTAMPTZ NOT NULL,
		recorded_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS quote_execution_account_idx
		ON trading.quote_execution (account_id, executed_at DESC);
`

const insertExecution = `
	INSERT INTO trading.quote_execution (
		quote_id, session_id, account_id, mode,
		from_coin_id, to_coin_id,
		price, from_amount, to_amount, cost, proceeds,
		executed_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (quote_id) DO NOTHING
`

const selectExecution = `
	SELECT quote_id, session_id, account_id, mode,
	       from_coin_id, to_coin_id,
	       price, from_amount, to_amount, cost, proceeds,
	       executed_at
	FROM trading.quote_execution
	WHERE quote_id = $1
`

// TradeLog records executed quotes in Postgres. A quote is recorded at most
// once; a repeated execution report for the same quote id is a no-op.
type TradeLog struct {
	db     DB
	logger *zap.Logger
}

func NewTradeLog(db DB, logger *zap.Logger) *TradeLog {
	return &TradeLog{db: db, logger: logger}
}

// EnsureSchema creates the trade log table if it is missing.
func (l *TradeLog) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// Record inserts the execution. It reports whether a new row was written.
func (l *TradeLog) Record(ctx context.Context, r model.TradeRecord) (bool, error) {
	if r.QuoteID == "" {
		return false, errors.New("store: trade record missing quote id")
	}

	tag, err := l.db.Exec(ctx, insertExecution,
		r.QuoteID,
		r.SessionID,
		r.AccountID,
		string(r.Mode),
		r.FromCoinID,
		r.ToCoinID,
		r.Price,
		r.FromAmount,
		r.ToAmount,
		r.Cost,
		r.Proceeds,
		r.ExecutedAt,
	)
	if err != nil {
		l.logger.Error("store.trade_log.insert_failed",
			zap.String("quote_id", r.QuoteID),
			zap.String("account", r.AccountID),
			zap.Error(err))
		return false, err
	}

	inserted := tag.RowsAffected() > 0
	l.logger.Info("store.trade_log.recorded",
		zap.String("quote_id", r.QuoteID),
		zap.String("account", r.AccountID),
		zap.Bool("inserted", inserted),
		zap.Time("executed_at", r.ExecutedAt))
	return inserted, nil
}

// Get loads an execution by quote id, or nil when none is recorded.
func (l *TradeLog) Get(ctx context.Context, quoteID string) (*model.TradeRecord, error) {
	var r model.TradeRecord
	var mode string
	err := l.db.QueryRow(ctx, selectExecution, quoteID).Scan(
		&r.QuoteID, &r.SessionID, &r.AccountID, &mode,
		&r.FromCoinID, &r.ToCoinID,
		&r.Price, &r.FromAmount, &r.ToAmount, &r.Cost, &r.Proceeds,
		&r.ExecutedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get execution %s: %w", quoteID, err)
	}
	r.Mode = model.TradeMode(mode)
	return &r, nil
}

// HealthCheck pings Postgres.
func (l *TradeLog) HealthCheck(ctx context.Context) error {
	if l.db == nil {
		return fmt.Errorf("postgres not initialized")
	}
	if err := l.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}
