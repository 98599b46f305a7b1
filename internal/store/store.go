// Package store provides storage backends for the consultation history archive.
//
// Live sessions are kept in memory by the flow package; only finished or
// abandoned sessions are written here. Backends: in-memory, SQLite, PostgreSQL
// and MySQL.
package store

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/ami4go/ICAPP/internal/models"
)

// ErrRecordNotFound is returned when a delete matches no record.
var ErrRecordNotFound = errors.New("history record not found")

// Store is the history archive.
type Store interface {
	// SaveHistoryRecord appends a record for its doctor.
	SaveHistoryRecord(ctx context.Context, rec models.HistoryRecord) error
	// ListHistory returns a doctor's records, newest first.
	ListHistory(ctx context.Context, doctorUsername string) ([]models.HistoryRecord, error)
	// DeleteHistoryRecord removes the record of one session.
	DeleteHistoryRecord(ctx context.Context, doctorUsername, sessionID string) error
	// ClearHistory removes every record of a doctor and returns how many were removed.
	ClearHistory(ctx context.Context, doctorUsername string) (int, error)
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a functional option for configuring a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithMySQLDSN sets the MySQL connection string, either in driver form
// (user:pass@tcp(host:3306)/db) or with a mysql:// prefix.
func WithMySQLDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns the database/sql driver name for a DSN:
// "postgres", "mysql" or "sqlite3".
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"),
		strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return "postgres"
	case strings.HasPrefix(lower, "mysql://"), strings.Contains(lower, "@tcp("), strings.Contains(lower, "@unix("):
		return "mysql"
	default:
		return "sqlite3"
	}
}

// Open picks a backend from the DSN. An empty DSN yields an in-memory store.
func Open(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		slog.Debug("store.Open: no DSN, using in-memory store")
		return NewInMemoryStore(), nil
	}
	var (
		st  Store
		err error
	)
	switch DetectDSNType(dsn) {
	case "postgres":
		st, err = NewPostgresStore(WithPostgresDSN(dsn))
	case "mysql":
		st, err = NewMySQLStore(WithMySQLDSN(dsn))
	default:
		st, err = NewSQLiteStore(WithSQLiteDSN(dsn))
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// InMemoryStore keeps history records in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]models.HistoryRecord
}

// NewInMemoryStore creates an empty in-memory archive.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]models.HistoryRecord)}
}

func (s *InMemoryStore) SaveHistoryRecord(_ context.Context, rec models.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.DoctorUsername] = append(s.records[rec.DoctorUsername], cloneRecord(rec))
	slog.Debug("InMemoryStore.SaveHistoryRecord: saved", "sessionID", rec.SessionID, "doctor", rec.DoctorUsername)
	return nil
}

func (s *InMemoryStore) ListHistory(_ context.Context, doctorUsername string) ([]models.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[doctorUsername]
	out := make([]models.HistoryRecord, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		out = append(out, cloneRecord(recs[i]))
	}
	return out, nil
}

func (s *InMemoryStore) DeleteHistoryRecord(_ context.Context, doctorUsername, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[doctorUsername]
	kept := slices.DeleteFunc(slices.Clone(recs), func(r models.HistoryRecord) bool { return r.SessionID == sessionID })
	if len(kept) == len(recs) {
		return ErrRecordNotFound
	}
	s.records[doctorUsername] = kept
	return nil
}

func (s *InMemoryStore) ClearHistory(_ context.Context, doctorUsername string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.records[doctorUsername])
	delete(s.records, doctorUsername)
	return n, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func cloneRecord(r models.HistoryRecord) models.HistoryRecord {
	r.RevealedSymptoms = slices.Clone(r.RevealedSymptoms)
	r.Transcript = slices.Clone(r.Transcript)
	return r
}
