package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/coachconnect/booking-engine/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/sirupsen/logrus"
)

// DBTX is satisfied by both *sqlx.DB and *sqlx.Tx so queries can run inside or outside a transaction
type DBTX interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

// DB interface defines database operations
type DB interface {
	DBTX
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	PingContext(ctx context.Context) error
	Close() error
}

// PostgresDB implements the DB interface using sqlx
type PostgresDB struct {
	*sqlx.DB
}

// maskPassword masks the password in a database URL for safe logging
func maskPassword(url string) string {
	re := regexp.MustCompile(`(postgres(?:ql)?://[^:]+:)([^@]+)(@.+)`)
	return re.ReplaceAllString(url, "${1}****${3}")
}

// NewConnection creates a new database connection using the configured driver
func NewConnection(cfg config.DatabaseConfig, logger *logrus.Logger) (*PostgresDB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	logger.WithFields(logrus.Fields{
		"driver": cfg.Driver,
		"url":    maskPassword(cfg.URL),
	}).Info("Connecting to database")

	var (
		db  *sqlx.DB
		err error
	)
	switch cfg.Driver {
	case "pgx":
		db, err = connectPgx(cfg.URL, logger)
	default:
		db, err = sqlx.Connect("postgres", cfg.URL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{DB: db}, nil
}

// connectPgx opens the database through pgx's database/sql adapter. Transaction
// mode poolers (PgBouncer, Supavisor on :6543) cannot hold prepared statements,
// so the simple protocol is used there.
func connectPgx(url string, logger *logrus.Logger) (*sqlx.DB, error) {
	pgxConfig, err := pgx.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if strings.Contains(url, ":6543") || strings.Contains(url, "pgbouncer=true") {
		pgxConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
		logger.Info("Connection pooler detected, using simple query protocol")
	}

	connStr := stdlib.RegisterConnConfig(pgxConfig)
	return sqlx.Connect("pgx", connStr)
}
