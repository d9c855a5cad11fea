// Package store provides local persistence on sqlite: session values
// (token, refreshToken, role, category) and a journal of accepted samples.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/juannvilchez/ciudadseguraappi/pkg/geo"
)

// Session value keys
const (
	KeyToken        = "token"
	KeyRefreshToken = "refreshToken"
	KeyRole         = "role"
	KeyCategory     = "category"
)

// ErrNotFound is returned when a session key has no stored value
var ErrNotFound = errors.New("value not found")

// Store is a sqlite-backed local store
type Store struct {
	db     *sql.DB
	dbPath string
}

// SampleRecord is one journaled accepted sample
type SampleRecord struct {
	ID         int64
	EpisodeID  string
	Latitude   float64
	Longitude  float64
	RecordedAt time.Time
}

// New opens (or creates) the store at dbPath
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initializeSchema creates the database tables
func (s *Store) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_values (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sample_journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		episode_id TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sample_episode ON sample_journal(episode_id);
	CREATE INDEX IF NOT EXISTS idx_sample_recorded ON sample_journal(recorded_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Get returns the stored value for key, or ErrNotFound
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM session_values WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

// Set stores or replaces the value for key
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO session_values (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Delete removes one key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM session_values WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Clear removes all session values
func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM session_values`)
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// RecordSample journals one accepted sample for an alert episode
func (s *Store) RecordSample(episodeID string, coord geo.Coordinate) error {
	_, err := s.db.Exec(`
		INSERT INTO sample_journal (episode_id, latitude, longitude, recorded_at)
		VALUES (?, ?, ?, ?)`,
		episodeID, coord.Latitude, coord.Longitude, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to journal sample: %w", err)
	}
	return nil
}

// SamplesForEpisode returns the journaled samples for one episode in
// acceptance order
func (s *Store) SamplesForEpisode(episodeID string) ([]SampleRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, episode_id, latitude, longitude, recorded_at
		FROM sample_journal WHERE episode_id = ? ORDER BY id`,
		episodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var records []SampleRecord
	for rows.Next() {
		var r SampleRecord
		if err := rows.Scan(&r.ID, &r.EpisodeID, &r.Latitude, &r.Longitude, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PruneSamplesBefore drops journal entries older than cutoff and reports how
// many were removed
func (s *Store) PruneSamplesBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sample_journal WHERE recorded_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune samples: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
