package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ami4go/ICAPP/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

const historyColumns = `id, session_id, doctor_username, patient_name, patient_sex, patient_age, disease,
	revealed_symptoms, status, final_diagnosis, prescriptions, transcript, created_at`

// sqlArchive implements the history queries shared by the SQL backends. The
// backends differ only in driver, migrations and placeholder syntax.
type sqlArchive struct {
	db   *sql.DB
	name string
	// bind returns the placeholder for the n-th argument, starting at 1.
	bind func(n int) string
}

func questionBind(int) string { return "?" }

func dollarBind(n int) string { return fmt.Sprintf("$%d", n) }

// openDB opens, pings and migrates a database handle.
func openDB(driver, dsn, migrations, name string) (*sql.DB, error) {
	slog.Debug(name+": opening database connection", "driver", driver)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		slog.Error(name+": failed to open connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error(name+": ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(migrations); err != nil {
		slog.Error(name+": failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug(name+": migrations applied successfully")
	return db, nil
}

func (a *sqlArchive) SaveHistoryRecord(ctx context.Context, rec models.HistoryRecord) error {
	revealed, err := marshalList(rec.RevealedSymptoms)
	if err != nil {
		return err
	}
	transcript, err := marshalList(rec.Transcript)
	if err != nil {
		return err
	}

	placeholders := make([]string, 13)
	for i := range placeholders {
		placeholders[i] = a.bind(i + 1)
	}
	query := `INSERT INTO history_records (` + historyColumns + `) VALUES (` + strings.Join(placeholders, ", ") + `)`
	_, err = a.db.ExecContext(ctx, query,
		rec.ID, rec.SessionID, rec.DoctorUsername, rec.PatientName, string(rec.PatientSex), rec.PatientAge, rec.Disease,
		revealed, string(rec.Status), rec.FinalDiagnosis, rec.Prescriptions, transcript, rec.Timestamp.UTC(),
	)
	if err != nil {
		slog.Error(a.name+".SaveHistoryRecord: insert failed", "error", err, "sessionID", rec.SessionID)
		return fmt.Errorf("failed to insert history record for session %s: %w", rec.SessionID, err)
	}
	slog.Debug(a.name+".SaveHistoryRecord: saved", "sessionID", rec.SessionID, "doctor", rec.DoctorUsername, "status", rec.Status)
	return nil
}

func (a *sqlArchive) ListHistory(ctx context.Context, doctorUsername string) ([]models.HistoryRecord, error) {
	query := `SELECT ` + historyColumns + ` FROM history_records WHERE doctor_username = ` + a.bind(1) + ` ORDER BY created_at DESC, id DESC`
	rows, err := a.db.QueryContext(ctx, query, doctorUsername)
	if err != nil {
		slog.Error(a.name+".ListHistory: query failed", "error", err, "doctor", doctorUsername)
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	out := []models.HistoryRecord{}
	for rows.Next() {
		rec, err := scanHistoryRecord(rows)
		if err != nil {
			slog.Error(a.name+".ListHistory: scan failed", "error", err)
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error(a.name+".ListHistory: rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}
	slog.Debug(a.name+".ListHistory: succeeded", "doctor", doctorUsername, "count", len(out))
	return out, nil
}

func (a *sqlArchive) DeleteHistoryRecord(ctx context.Context, doctorUsername, sessionID string) error {
	query := `DELETE FROM history_records WHERE doctor_username = ` + a.bind(1) + ` AND session_id = ` + a.bind(2)
	res, err := a.db.ExecContext(ctx, query, doctorUsername, sessionID)
	if err != nil {
		slog.Error(a.name+".DeleteHistoryRecord: delete failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete history record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	slog.Debug(a.name+".DeleteHistoryRecord: deleted", "doctor", doctorUsername, "sessionID", sessionID)
	return nil
}

func (a *sqlArchive) ClearHistory(ctx context.Context, doctorUsername string) (int, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM history_records WHERE doctor_username = `+a.bind(1), doctorUsername)
	if err != nil {
		slog.Error(a.name+".ClearHistory: delete failed", "error", err, "doctor", doctorUsername)
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	slog.Debug(a.name+".ClearHistory: cleared", "doctor", doctorUsername, "count", n)
	return int(n), nil
}

func (a *sqlArchive) Close() error {
	slog.Debug(a.name + ".Close: closing database")
	return a.db.Close()
}

// scanHistoryRecord scans a HistoryRecord from sql.Rows.
func scanHistoryRecord(rows *sql.Rows) (models.HistoryRecord, error) {
	var r models.HistoryRecord
	var sex, status string
	var revealed, transcript []byte
	err := rows.Scan(
		&r.ID, &r.SessionID, &r.DoctorUsername, &r.PatientName, &sex, &r.PatientAge, &r.Disease,
		&revealed, &status, &r.FinalDiagnosis, &r.Prescriptions, &transcript, &r.Timestamp,
	)
	if err != nil {
		return r, fmt.Errorf("scan history record failed: %w", err)
	}
	r.PatientSex = models.Sex(sex)
	r.Status = models.SessionStatus(status)
	r.RevealedSymptoms = []string{}
	if err := json.Unmarshal(revealed, &r.RevealedSymptoms); err != nil {
		return r, fmt.Errorf("decode revealed symptoms: %w", err)
	}
	r.Transcript = []models.TranscriptEntry{}
	if err := json.Unmarshal(transcript, &r.Transcript); err != nil {
		return r, fmt.Errorf("decode transcript: %w", err)
	}
	return r, nil
}

// marshalList encodes a slice as JSON text; nil encodes as an empty array.
func marshalList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(b), nil
}
