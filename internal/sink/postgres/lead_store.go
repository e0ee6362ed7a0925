// Package postgres persists verified leads into a Postgres table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadstream/internal/lead"
)

const defaultTable = "leads"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and target table.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type txPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// LeadStore writes each batch inside one transaction, so a batch is either
// fully visible or not at all. Rows are upserted on (name, state, source).
type LeadStore struct {
	pool   txPool
	table  string
	logger *zap.Logger
}

// New connects a pgx pool and optionally creates the table.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*LeadStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("sinks.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool txPool, table string, logger *zap.Logger) (*LeadStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeadStore{pool: pool, table: table, logger: logger}, nil
}

// Close releases the underlying pool.
func (s *LeadStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the lead table and its identity index when missing.
func (s *LeadStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	job_id           TEXT NOT NULL,
	name             TEXT NOT NULL,
	firm             TEXT NOT NULL DEFAULT '',
	email            TEXT NOT NULL DEFAULT '',
	website          TEXT NOT NULL DEFAULT '',
	source           TEXT NOT NULL,
	state            TEXT NOT NULL,
	discovered_at    TIMESTAMPTZ NOT NULL,
	name_verified    BOOLEAN NOT NULL,
	firm_verified    BOOLEAN NOT NULL,
	email_verified   BOOLEAN NOT NULL,
	website_verified BOOLEAN NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (name, state, source)
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Persist implements lead.SinkWriter.
func (s *LeadStore) Persist(ctx context.Context, batch []lead.Annotated) error {
	if len(batch) == 0 {
		return nil
	}
	jobID, _ := lead.JobIDFromContext(ctx)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin lead batch: %w", err)
	}
	query := s.upsertQuery()
	written := 0
	for _, rec := range batch {
		if lead.CleanText(rec.Name) == "" {
			continue
		}
		if _, err := tx.Exec(ctx, query, rowArgs(jobID, rec)...); err != nil {
			s.rollback(ctx, tx)
			return fmt.Errorf("upsert lead %q: %w", rec.Name, err)
		}
		written++
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit lead batch: %w", err)
	}
	s.logger.Debug("postgres batch committed", zap.String("job_id", jobID), zap.Int("count", written))
	return nil
}

func (s *LeadStore) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.logger.Warn("rollback lead batch", zap.Error(err))
	}
}

func (s *LeadStore) upsertQuery() string {
	return fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	name,
	firm,
	email,
	website,
	source,
	state,
	discovered_at,
	name_verified,
	firm_verified,
	email_verified,
	website_verified,
	confidence_score
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (name, state, source) DO UPDATE SET
	job_id = EXCLUDED.job_id,
	firm = EXCLUDED.firm,
	email = EXCLUDED.email,
	website = EXCLUDED.website,
	discovered_at = EXCLUDED.discovered_at,
	name_verified = EXCLUDED.name_verified,
	firm_verified = EXCLUDED.firm_verified,
	email_verified = EXCLUDED.email_verified,
	website_verified = EXCLUDED.website_verified,
	confidence_score = EXCLUDED.confidence_score`, s.table)
}

func rowArgs(jobID string, rec lead.Annotated) []any {
	return []any{
		jobID,
		rec.Name,
		rec.Firm,
		rec.Email,
		rec.Website,
		rec.Source,
		rec.Region,
		rec.DiscoveredAt,
		rec.NameVerified,
		rec.FirmVerified,
		rec.EmailVerified,
		rec.WebsiteVerified,
		rec.ConfidenceScore,
	}
}
