package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

// DB wraps a database/sql handle with the dialect it speaks. Postgres runs
// on a pgx pool; SQLite (local and test deployments) on modernc.
type DB struct {
	*sql.DB
	dialect string
	pool    *pgxpool.Pool
	logger  *slog.Logger
}

// Open connects using the DSN scheme: postgres:// DSNs get a pgx pool
// wrapped as *sql.DB, sqlite:// DSNs open a local file.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	switch {
	case strings.HasPrefix(cfg.DSN, "postgres://"), strings.HasPrefix(cfg.DSN, "postgresql://"):
		return openPostgres(ctx, cfg, logger)
	case strings.HasPrefix(cfg.DSN, "sqlite://"):
		path := strings.TrimPrefix(cfg.DSN, "sqlite://")
		return openSQLite(path, logger)
	default:
		return nil, fmt.Errorf("unsupported DSN scheme: %q", cfg.DSN)
	}
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("connecting to database", "dialect", dialectPostgres)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database DSN", "error", err)
		return nil, err
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "admitflow"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = cfg.StatementTimeout.String()
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	db := stdlib.OpenDBFromPool(pool)
	logger.Info("successfully connected to database")
	return &DB{DB: db, dialect: dialectPostgres, pool: pool, logger: logger}, nil
}

func openSQLite(path string, logger *slog.Logger) (*DB, error) {
	logger.Info("connecting to database", "dialect", dialectSQLite, "path", path)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		logger.Error("failed to open sqlite database", "error", err)
		return nil, err
	}
	// modernc sqlite serializes writes; one writer connection avoids
	// SQLITE_BUSY under concurrent runners.
	db.SetMaxOpenConns(1)
	return &DB{DB: db, dialect: dialectSQLite, logger: logger}, nil
}

// Close closes the database connections gracefully
func (d *DB) Close() {
	d.logger.Info("closing database connections")
	if err := d.DB.Close(); err != nil {
		d.logger.Error("failed to close database", "error", err)
	}
	if d.pool != nil {
		d.pool.Close()
	}
	d.logger.Info("database connections closed")
}

// HealthCheck pings the database to catch DSN issues early.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	d.logger.Debug("pinging database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return d.PingContext(ctx)
}

// rebind converts ?-style placeholders to the dialect's native form.
func (d *DB) rebind(query string) string {
	if d.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const schema = `
CREATE TABLE IF NOT EXISTS applications (
	id TEXT PRIMARY KEY,
	flow TEXT NOT NULL,
	hsc_roll TEXT NOT NULL,
	hsc_board TEXT NOT NULL,
	hsc_year INTEGER NOT NULL,
	hsc_registration TEXT,
	ssc_roll TEXT NOT NULL,
	ssc_board TEXT NOT NULL,
	ssc_year INTEGER NOT NULL,
	ssc_registration TEXT,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	father_name TEXT NOT NULL,
	mother_name TEXT NOT NULL,
	date_of_birth TEXT,
	gender TEXT,
	email TEXT NOT NULL,
	mobile_number TEXT NOT NULL,
	present_address TEXT NOT NULL,
	permanent_address TEXT,
	city TEXT NOT NULL,
	district TEXT,
	postal_code TEXT,
	faculty TEXT,
	quota TEXT,
	exam_center TEXT,
	unit TEXT,
	photo_path TEXT,
	signature_path TEXT,
	payment_status TEXT NOT NULL DEFAULT 'pending',
	payment_amount REAL NOT NULL DEFAULT 0,
	transaction_id TEXT,
	sms_code TEXT,
	receipt_path TEXT,
	admit_card_path TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS automation_jobs (
	id TEXT PRIMARY KEY,
	application_id TEXT NOT NULL REFERENCES applications(id),
	status TEXT NOT NULL,
	current_stage TEXT NOT NULL DEFAULT 'created',
	stage_message TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	error_screenshots TEXT,
	created_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	completed_at TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS automation_jobs_one_active
	ON automation_jobs(application_id)
	WHERE status NOT IN ('completed', 'completed_partial', 'failed');

CREATE TABLE IF NOT EXISTS application_documents (
	id TEXT PRIMARY KEY,
	application_id TEXT NOT NULL REFERENCES applications(id),
	document_type TEXT NOT NULL,
	file_path TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS payments (
	id TEXT PRIMARY KEY,
	application_id TEXT NOT NULL REFERENCES applications(id),
	transaction_id TEXT NOT NULL UNIQUE,
	validation_id TEXT,
	amount REAL NOT NULL,
	currency TEXT NOT NULL DEFAULT 'BDT',
	payment_method TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	initiated_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);
`

// Migrate creates the schema. The partial unique index on automation_jobs
// enforces the at-most-one-active-job invariant at the storage layer, so a
// racing start cannot create a second live job row.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.ExecContext(ctx, schema)
	return err
}
