// Package db persists the node's observation stream: every published label
// and velocity command is recorded so behavior can be audited after a run.
package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// NewDB opens (creating if necessary) the node database at the given path
// and ensures the baseline schema exists.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS detections (
			detection_id      TEXT PRIMARY KEY,
			frame             BIGINT,
			label             TEXT,
			confidence        DOUBLE,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS commands (
			label             TEXT,
			linear_x          DOUBLE,
			angular_z         DOUBLE,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// Detection is one recorded classification event.
type Detection struct {
	ID         string    `json:"id"`
	Frame      int64     `json:"frame"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// CommandRecord is one recorded velocity command.
type CommandRecord struct {
	Label     string    `json:"label"`
	LinearX   float64   `json:"linear_x"`
	AngularZ  float64   `json:"angular_z"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordDetection inserts one classification event.
func (db *DB) RecordDetection(frame int64, label string, confidence float64) error {
	_, err := db.Exec(
		"INSERT INTO detections (detection_id, frame, label, confidence) VALUES (?, ?, ?, ?)",
		uuid.NewString(), frame, label, confidence,
	)
	if err != nil {
		return fmt.Errorf("failed to record detection: %w", err)
	}
	return nil
}

// RecordCommand inserts one velocity command event.
func (db *DB) RecordCommand(label string, linearX, angularZ float64) error {
	_, err := db.Exec(
		"INSERT INTO commands (label, linear_x, angular_z) VALUES (?, ?, ?)",
		label, linearX, angularZ,
	)
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

// RecentDetections returns up to limit detections, newest first.
func (db *DB) RecentDetections(limit int) ([]Detection, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.Query(`
		SELECT detection_id, frame, label, confidence, timestamp
		FROM detections
		ORDER BY timestamp DESC, frame DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var out []Detection
	for rows.Next() {
		var d Detection
		if err := rows.Scan(&d.ID, &d.Frame, &d.Label, &d.Confidence, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LatestCommand returns the most recently recorded velocity command, or
// sql.ErrNoRows if none has been recorded yet.
func (db *DB) LatestCommand() (CommandRecord, error) {
	var c CommandRecord
	err := db.QueryRow(`
		SELECT label, linear_x, angular_z, timestamp
		FROM commands
		ORDER BY timestamp DESC, rowid DESC
		LIMIT 1`).Scan(&c.Label, &c.LinearX, &c.AngularZ, &c.Timestamp)
	if err != nil {
		return CommandRecord{}, err
	}
	return c, nil
}
