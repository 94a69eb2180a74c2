package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotInitialized is returned by every method on a nil or closed DB.
var ErrNotInitialized = errors.New("database not initialized")

// DB stores the training history and the phrases spoken by the server.
type DB struct {
	database *sql.DB
}

// Open initializes the SQLite database at path, creating tables as needed.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(50),
        accuracy REAL,
        classes INTEGER,
        trained_at DATETIME,
        data_points INTEGER
    );
    CREATE TABLE IF NOT EXISTS utterances (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        gesture TEXT NOT NULL,
        phrase TEXT NOT NULL,
        spoken_at DATETIME NOT NULL,
        error TEXT DEFAULT ''
    );
    CREATE INDEX IF NOT EXISTS idx_utterances_spoken_at ON utterances(spoken_at);
    `

	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, err
	}
	return &DB{database: database}, nil
}

func (d *DB) Close() error {
	if d == nil || d.database == nil {
		return nil
	}
	return d.database.Close()
}

// TrainingLog is one row of the training_log table.
type TrainingLog struct {
	ModelName  string    `json:"model_name"`
	Accuracy   float64   `json:"accuracy"`
	Classes    int       `json:"classes"`
	TrainedAt  time.Time `json:"trained_at"`
	DataPoints int       `json:"data_points"`
}

// SaveTrainingLog appends a training run.
func (d *DB) SaveTrainingLog(ctx context.Context, entry TrainingLog) error {
	if d == nil || d.database == nil {
		return ErrNotInitialized
	}
	_, err := d.database.ExecContext(ctx, `
        INSERT INTO training_log (model_name, accuracy, classes, trained_at, data_points)
        VALUES (?, ?, ?, ?, ?)`,
		entry.ModelName, entry.Accuracy, entry.Classes, entry.TrainedAt.UTC(), entry.DataPoints)
	return err
}

// LoadTrainingLog returns the most recent runs first. limit <= 0 returns all.
func (d *DB) LoadTrainingLog(ctx context.Context, limit int) ([]TrainingLog, error) {
	if d == nil || d.database == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.database.QueryContext(ctx, `
        SELECT model_name, accuracy, classes, trained_at, data_points
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		var classes sql.NullInt64
		if err := rows.Scan(&log.ModelName, &log.Accuracy, &classes, &log.TrainedAt, &log.DataPoints); err != nil {
			return nil, err
		}
		if classes.Valid {
			log.Classes = int(classes.Int64)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// Utterance is one spoken phrase. Error is set when synthesis failed.
type Utterance struct {
	Gesture  string    `json:"gesture"`
	Phrase   string    `json:"phrase"`
	SpokenAt time.Time `json:"spoken_at"`
	Error    string    `json:"error,omitempty"`
}

func (d *DB) SaveUtterance(ctx context.Context, u Utterance) error {
	if d == nil || d.database == nil {
		return ErrNotInitialized
	}
	_, err := d.database.ExecContext(ctx, `
        INSERT INTO utterances (gesture, phrase, spoken_at, error)
        VALUES (?, ?, ?, ?)`,
		u.Gesture, u.Phrase, u.SpokenAt.UTC(), u.Error)
	return err
}

// RecentUtterances returns up to limit utterances, newest first.
func (d *DB) RecentUtterances(ctx context.Context, limit int) ([]Utterance, error) {
	if d == nil || d.database == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.database.QueryContext(ctx, `
        SELECT gesture, phrase, spoken_at, error
        FROM utterances
        ORDER BY spoken_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	utterances := make([]Utterance, 0)
	for rows.Next() {
		var u Utterance
		var errText sql.NullString
		if err := rows.Scan(&u.Gesture, &u.Phrase, &u.SpokenAt, &errText); err != nil {
			return nil, err
		}
		u.Error = errText.String
		utterances = append(utterances, u)
	}
	return utterances, rows.Err()
}
