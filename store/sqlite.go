// Package store persists pipeline records, learning profiles and guardian
// alerts in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/voice-analysis/model"
)

// Config holds configuration for the SQLite store.
type Config struct {
	Path string
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{Path: "./data/voice.db"}
}

// SQLiteStore implements the facade's persistence and learning-profile
// collaborators.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the database at cfg.Path.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		cfg = DefaultConfig()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create directory")
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		metrics TEXT,
		confidence REAL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS learning_profiles (
		user_id TEXT PRIMARY KEY,
		style TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS guardian_contacts (
		parent_id TEXT PRIMARY KEY,
		phone TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS guardian_alerts (
		id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		categories TEXT NOT NULL,
		occurred_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_user ON records(user_id, finished_at DESC);
	CREATE INDEX IF NOT EXISTS idx_alerts_parent ON guardian_alerts(parent_id, occurred_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRecord writes a record after a successful pipeline run. An empty ID
// is filled in.
func (s *SQLiteStore) SaveRecord(ctx context.Context, rec model.Record) error {
	if rec.UserID == "" {
		return errors.New("record user ID is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	var metricsJSON []byte
	if rec.Metrics != nil {
		var err error
		if metricsJSON, err = json.Marshal(rec.Metrics); err != nil {
			return errors.Wrap(err, "failed to encode metrics")
		}
	}
	var confidence sql.NullFloat64
	if rec.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *rec.Confidence, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (id, user_id, type, text, metrics, confidence, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.UserID, string(rec.Type), rec.Text, nullableText(metricsJSON), confidence,
		rec.StartedAt.UTC(), rec.FinishedAt.UTC())
	if err != nil {
		return errors.Wrapf(err, "failed to save %s record", rec.Type)
	}
	return nil
}

// ListRecords returns a user's most recent records, newest first.
func (s *SQLiteStore) ListRecords(ctx context.Context, userID string, limit int) ([]model.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, text, metrics, confidence, started_at, finished_at
		FROM records WHERE user_id = ?
		ORDER BY finished_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list records")
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		var (
			rec         model.Record
			recType     string
			metricsJSON sql.NullString
			confidence  sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &recType, &rec.Text, &metricsJSON, &confidence,
			&rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan record")
		}
		rec.Type = model.RecordType(recType)
		if metricsJSON.Valid {
			var m model.ReadingMetrics
			if err := json.Unmarshal([]byte(metricsJSON.String), &m); err != nil {
				return nil, errors.Wrapf(err, "failed to decode metrics of record %s", rec.ID)
			}
			rec.Metrics = &m
		}
		if confidence.Valid {
			c := confidence.Float64
			rec.Confidence = &c
		}
		records = append(records, rec)
	}
	return records, errors.Wrap(rows.Err(), "failed to iterate records")
}

// LearningProfile returns the stored profile for userID. A user without one
// gets an empty profile.
func (s *SQLiteStore) LearningProfile(ctx context.Context, userID string) (model.LearningProfile, error) {
	profile := model.LearningProfile{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT style FROM learning_profiles WHERE user_id = ?`, userID,
	).Scan(&profile.Style)
	if err != nil && err != sql.ErrNoRows {
		return model.LearningProfile{}, errors.Wrap(err, "failed to get learning profile")
	}
	return profile, nil
}

// SaveLearningProfile creates or replaces a profile.
func (s *SQLiteStore) SaveLearningProfile(ctx context.Context, profile model.LearningProfile) error {
	if profile.UserID == "" {
		return errors.New("profile user ID is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO learning_profiles (user_id, style, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET style = excluded.style, updated_at = excluded.updated_at
	`, profile.UserID, profile.Style, time.Now().UTC())
	return errors.Wrap(err, "failed to save learning profile")
}

// GuardianPhone returns the SMS number of a guardian, or "" if none is set.
func (s *SQLiteStore) GuardianPhone(ctx context.Context, parentID string) (string, error) {
	var phone string
	err := s.db.QueryRowContext(ctx,
		`SELECT phone FROM guardian_contacts WHERE parent_id = ?`, parentID,
	).Scan(&phone)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return phone, errors.Wrap(err, "failed to get guardian phone")
}

// SaveGuardianPhone creates or replaces a guardian's SMS number.
func (s *SQLiteStore) SaveGuardianPhone(ctx context.Context, parentID, phone string) error {
	if parentID == "" || phone == "" {
		return errors.New("parent ID and phone are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guardian_contacts (parent_id, phone) VALUES (?, ?)
		ON CONFLICT(parent_id) DO UPDATE SET phone = excluded.phone
	`, parentID, phone)
	return errors.Wrap(err, "failed to save guardian phone")
}

// SaveAlert keeps an audit entry of a guardian alert. Only category labels
// are stored.
func (s *SQLiteStore) SaveAlert(ctx context.Context, alert model.GuardianAlert) error {
	categories, err := json.Marshal(alert.FlaggedCategories)
	if err != nil {
		return errors.Wrap(err, "failed to encode categories")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO guardian_alerts (id, parent_id, student_id, categories, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, alert.ID, alert.ParentID, alert.StudentID, string(categories), alert.OccurredAt.UTC())
	return errors.Wrap(err, "failed to save guardian alert")
}

// ListAlerts returns a guardian's alerts, newest first.
func (s *SQLiteStore) ListAlerts(ctx context.Context, parentID string, limit int) ([]model.GuardianAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, student_id, categories, occurred_at
		FROM guardian_alerts WHERE parent_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?
	`, parentID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list alerts")
	}
	defer rows.Close()

	var alerts []model.GuardianAlert
	for rows.Next() {
		var (
			a          model.GuardianAlert
			categories string
		)
		if err := rows.Scan(&a.ID, &a.ParentID, &a.StudentID, &categories, &a.OccurredAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan alert")
		}
		if err := json.Unmarshal([]byte(categories), &a.FlaggedCategories); err != nil {
			return nil, errors.Wrapf(err, "failed to decode categories of alert %s", a.ID)
		}
		alerts = append(alerts, a)
	}
	return alerts, errors.Wrap(rows.Err(), "failed to iterate alerts")
}

func nullableText(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
