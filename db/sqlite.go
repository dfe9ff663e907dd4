package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"strokerisk/pipeline"
)

var ErrNotInitialized = errors.New("database not initialized")

const schema = `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY,
        run_id TEXT NOT NULL UNIQUE,
        model_name VARCHAR(50),
        accuracy REAL,
        precision REAL,
        recall REAL,
        f1 REAL,
        trained_at DATETIME,
        data_points INTEGER,
        train_rows INTEGER,
        test_rows INTEGER,
        oversampled INTEGER DEFAULT 0,
        model_path TEXT,
        feature_digest TEXT
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_id TEXT NOT NULL,
        model_id TEXT NOT NULL,
        source VARCHAR(16) NOT NULL,
        predicted_label INTEGER NOT NULL,
        probability REAL NOT NULL,
        input TEXT,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    CREATE TABLE IF NOT EXISTS data_quality (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL,
        row_index INTEGER,
        record_id INTEGER,
        rule TEXT NOT NULL,
        severity TEXT,
        message TEXT,
        created_at DATETIME NOT NULL
    );
    `

// Store persists training runs, served predictions and cleaning issues in
// SQLite.
type Store struct {
	db *sql.DB

	preparedStmts map[string]*sql.Stmt
	stmtLock      sync.RWMutex
}

// Open creates the database file and its parent directory if needed. An
// empty path or ":memory:" opens an in-memory database.
func Open(path string) (*Store, error) {
	inMemory := path == "" || path == ":memory:"
	dsn := ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	if inMemory {
		// an in-memory database lives as long as its only connection
		database.SetMaxOpenConns(1)
	} else {
		database.SetMaxOpenConns(10)
		database.SetMaxIdleConns(5)
		database.SetConnMaxLifetime(1 * time.Hour)
	}

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	return &Store{db: database, preparedStmts: make(map[string]*sql.Stmt)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.stmtLock.Lock()
	for _, stmt := range s.preparedStmts {
		stmt.Close()
	}
	s.preparedStmts = nil
	s.stmtLock.Unlock()
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	return s.db.PingContext(ctx)
}

type TrainingLog struct {
	RunID         string    `json:"run_id"`
	ModelName     string    `json:"model_name"`
	Accuracy      float64   `json:"accuracy"`
	Precision     float64   `json:"precision"`
	Recall        float64   `json:"recall"`
	F1            float64   `json:"f1"`
	TrainedAt     time.Time `json:"trained_at"`
	DataPoints    int       `json:"data_points"`
	TrainRows     int       `json:"train_rows"`
	TestRows      int       `json:"test_rows"`
	Oversampled   bool      `json:"oversampled"`
	ModelPath     string    `json:"model_path"`
	FeatureDigest string    `json:"feature_digest"`
}

func (s *Store) SaveTrainingLog(ctx context.Context, log TrainingLog) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if log.RunID == "" {
		return errors.New("run id required")
	}
	stmt, err := s.getPreparedStmt(`
        INSERT INTO training_log (
            run_id, model_name, accuracy, precision, recall, f1, trained_at,
            data_points, train_rows, test_rows, oversampled, model_path, feature_digest
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx,
		log.RunID, log.ModelName, log.Accuracy, log.Precision, log.Recall, log.F1,
		log.TrainedAt.UTC(), log.DataPoints, log.TrainRows, log.TestRows,
		log.Oversampled, log.ModelPath, log.FeatureDigest,
	)
	return err
}

// LoadTrainingLog returns the most recent runs first; limit <= 0 returns all.
func (s *Store) LoadTrainingLog(ctx context.Context, limit int) ([]TrainingLog, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT run_id, model_name, accuracy, precision, recall, f1, trained_at,
               data_points, train_rows, test_rows, oversampled, model_path, feature_digest
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.RunID, &log.ModelName, &log.Accuracy, &log.Precision, &log.Recall, &log.F1,
			&log.TrainedAt, &log.DataPoints, &log.TrainRows, &log.TestRows, &log.Oversampled,
			&log.ModelPath, &log.FeatureDigest); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// Prediction is one served prediction. Input holds the submitted form as
// JSON.
type Prediction struct {
	RequestID   string    `json:"request_id"`
	ModelID     string    `json:"model_id"`
	Source      string    `json:"source"`
	Label       int       `json:"label"`
	Probability float64   `json:"probability"`
	Input       string    `json:"input,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Store) SavePrediction(ctx context.Context, p Prediction) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	stmt, err := s.getPreparedStmt(`
        INSERT INTO predictions (
            request_id, model_id, source, predicted_label, probability, input, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, p.RequestID, p.ModelID, p.Source, p.Label, p.Probability, p.Input, p.CreatedAt.UTC())
	return err
}

// RecentPredictions returns up to limit predictions, newest first.
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]Prediction, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT request_id, model_id, source, predicted_label, probability, input, created_at
        FROM predictions
        ORDER BY created_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Prediction, 0)
	for rows.Next() {
		var p Prediction
		var input sql.NullString
		if err := rows.Scan(&p.RequestID, &p.ModelID, &p.Source, &p.Label, &p.Probability, &input, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Input = input.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveQualityIssues records the rows the cleaner rejected during a run.
func (s *Store) SaveQualityIssues(ctx context.Context, runID string, issues []pipeline.QualityIssue) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if len(issues) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO data_quality (run_id, row_index, record_id, rule, severity, message, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, issue := range issues {
		if _, err := stmt.ExecContext(ctx, runID, issue.Row, issue.RecordID, issue.Rule, issue.Severity, issue.Message, issue.Timestamp.UTC()); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// CountQualityIssues returns the number of issues stored for a run.
func (s *Store) CountQualityIssues(ctx context.Context, runID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrNotInitialized
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data_quality WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

func (s *Store) getPreparedStmt(query string) (*sql.Stmt, error) {
	s.stmtLock.RLock()
	stmt, ok := s.preparedStmts[query]
	s.stmtLock.RUnlock()

	if ok {
		return stmt, nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, err
	}

	s.stmtLock.Lock()
	defer s.stmtLock.Unlock()
	if existing, ok := s.preparedStmts[query]; ok {
		stmt.Close()
		return existing, nil
	}
	s.preparedStmts[query] = stmt
	return stmt, nil
}
