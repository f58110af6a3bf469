package jobhistory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"simulate-now/internal/config"
)

// NewMySQLStore connects to the configured MySQL database and ensures the schema exists.
func NewMySQLStore(cfg config.Config) (*Store, error) {
	db, err := sql.Open("mysql", cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}

	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBConnTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS simulation_runs (
  id CHAR(36) NOT NULL PRIMARY KEY,
  filename VARCHAR(255) NOT NULL,
  mode VARCHAR(16) NOT NULL,
  status VARCHAR(16) NOT NULL,
  exit_code INT NULL,
  error TEXT NOT NULL,
  stdout LONGTEXT NOT NULL,
  stderr LONGTEXT NOT NULL,
  log LONGTEXT NOT NULL,
  started_at DATETIME(3) NOT NULL,
  finished_at DATETIME(3) NULL,
  duration_ms BIGINT NOT NULL DEFAULT 0,
  KEY idx_sr_started_at (started_at),
  KEY idx_sr_filename (filename)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:           db,
		backend:      "mysql",
		location:     fmt.Sprintf("%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName),
		queryTimeout: cfg.DBQueryTimeout,
	}, nil
}
