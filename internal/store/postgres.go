package store

import (
	"fmt"
	"log/slog"

	_ "embed"

	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore archives history in PostgreSQL.
type PostgresStore struct {
	sqlArchive
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := openDB("postgres", cfg.DSN, postgresMigrations, "PostgresStore")
	if err != nil {
		return nil, err
	}
	return &PostgresStore{sqlArchive{db: db, name: "PostgresStore", bind: dollarBind}}, nil
}
