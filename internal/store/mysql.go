package store

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "embed"

	"github.com/go-sql-driver/mysql"
)

//go:embed migrations_mysql.sql
var mysqlMigrations string

// MySQLStore archives history in MySQL.
type MySQLStore struct {
	sqlArchive
}

// NewMySQLStore creates a MySQL store. parseTime is always enabled so that
// timestamps scan into time.Time.
func NewMySQLStore(opts ...Option) (*MySQLStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("MySQLStore.NewMySQLStore: creating MySQL store", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("MySQLStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dsn, err := normalizeMySQLDSN(cfg.DSN)
	if err != nil {
		slog.Error("MySQLStore.NewMySQLStore: invalid DSN", "error", err)
		return nil, err
	}

	db, err := openDB("mysql", dsn, mysqlMigrations, "MySQLStore")
	if err != nil {
		return nil, err
	}
	return &MySQLStore{sqlArchive{db: db, name: "MySQLStore", bind: questionBind}}, nil
}

// normalizeMySQLDSN accepts a driver DSN or a mysql:// URL-style prefix and
// returns a driver DSN with parseTime and UTC enabled.
func normalizeMySQLDSN(dsn string) (string, error) {
	dsn = strings.TrimPrefix(strings.TrimSpace(dsn), "mysql://")
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("failed to parse MySQL DSN: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN(), nil
}
