// Package store persists student state, submissions, hints, viva
// sessions and mastery snapshots in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edforge/mentor/internal/model"
	"github.com/edforge/mentor/internal/state"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite handle. Writes for one student are serialized
// by the caller's per-student lock; the store itself only guarantees
// statement-level atomicity.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS students (
		student_id  TEXT PRIMARY KEY,
		state_json  TEXT NOT NULL DEFAULT '{}',
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id       TEXT NOT NULL,
		problem_id       TEXT NOT NULL,
		timestamp        TEXT NOT NULL,
		code             TEXT NOT NULL,
		analysis_summary TEXT NOT NULL DEFAULT '',
		exec_status      TEXT NOT NULL DEFAULT 'unknown',
		execution_passed INTEGER,
		mastery_before   REAL NOT NULL DEFAULT 0,
		mastery_after    REAL NOT NULL DEFAULT 0,
		hint_emitted     INTEGER NOT NULL DEFAULT 0,
		status           TEXT NOT NULL DEFAULT 'completed'
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_student
		ON submissions(student_id, problem_id);

	CREATE TABLE IF NOT EXISTS hints (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id     TEXT NOT NULL,
		problem_id     TEXT NOT NULL,
		timestamp      TEXT NOT NULL,
		level          INTEGER NOT NULL,
		path           TEXT NOT NULL,
		teaching_focus TEXT NOT NULL DEFAULT '',
		hint_text      TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_hints_student
		ON hints(student_id, problem_id);

	CREATE TABLE IF NOT EXISTS viva_sessions (
		session_id    TEXT PRIMARY KEY,
		student_id    TEXT NOT NULL,
		problem_id    TEXT NOT NULL,
		code          TEXT NOT NULL,
		analysis_json TEXT NOT NULL DEFAULT '{}',
		questions_json TEXT NOT NULL DEFAULT '[]',
		status        TEXT NOT NULL DEFAULT 'active',
		verdict       TEXT NOT NULL DEFAULT '',
		overall_score REAL NOT NULL DEFAULT 0,
		started_at    TEXT NOT NULL,
		last_activity TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_viva_student
		ON viva_sessions(student_id);

	CREATE TABLE IF NOT EXISTS viva_turns (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id     TEXT NOT NULL,
		question_index INTEGER NOT NULL,
		answer_text    TEXT NOT NULL,
		llm_score      REAL NOT NULL,
		overlap_score  REAL NOT NULL,
		combined_score REAL NOT NULL,
		created_at     TEXT NOT NULL,
		UNIQUE(session_id, question_index),
		FOREIGN KEY (session_id) REFERENCES viva_sessions(session_id)
	);

	CREATE TABLE IF NOT EXISTS mastery_snapshots (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id         TEXT NOT NULL,
		concept            TEXT NOT NULL,
		p_mastery          REAL NOT NULL,
		source             TEXT NOT NULL,
		modulation_version INTEGER NOT NULL DEFAULT 1,
		created_at         TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_mastery_student
		ON mastery_snapshots(student_id, concept);
	`
	_, err := s.db.Exec(schema)
	return err
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// UpsertStudentState stores the per-problem registers for a student.
func (s *Store) UpsertStudentState(ctx context.Context, studentID string, snapshot map[string]state.ProblemState) error {
	blob, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode student state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO students (student_id, state_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(student_id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`,
		studentID, string(blob), ts(time.Now()),
	)
	return err
}

// GetStudentState loads the persisted registers; an unknown student
// yields an empty map.
func (s *Store) GetStudentState(ctx context.Context, studentID string) (map[string]state.ProblemState, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM students WHERE student_id = ?`, studentID,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return map[string]state.ProblemState{}, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot map[string]state.ProblemState
	if err := json.Unmarshal([]byte(blob), &snapshot); err != nil {
		return nil, fmt.Errorf("decode student state: %w", err)
	}
	return snapshot, nil
}

// AppendSubmission records one pipeline run. Append-only.
func (s *Store) AppendSubmission(ctx context.Context, rec model.SubmissionRecord) error {
	var passed any
	if rec.ExecutionPassed != nil {
		passed = boolToInt(*rec.ExecutionPassed)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions
		 (student_id, problem_id, timestamp, code, analysis_summary, exec_status,
		  execution_passed, mastery_before, mastery_after, hint_emitted, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.StudentID, rec.ProblemID, ts(rec.Timestamp), rec.Code, rec.AnalysisSummary,
		string(rec.ExecStatus), passed, rec.MasteryBefore, rec.MasteryAfter,
		boolToInt(rec.HintEmitted), rec.Status,
	)
	return err
}

// SubmissionCount returns how many submissions exist for a pair.
func (s *Store) SubmissionCount(ctx context.Context, studentID, problemID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE student_id = ? AND problem_id = ?`,
		studentID, problemID,
	).Scan(&n)
	return n, err
}

// AppendHint records one delivered hint. Append-only.
func (s *Store) AppendHint(ctx context.Context, rec model.HintRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hints (student_id, problem_id, timestamp, level, path, teaching_focus, hint_text)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.StudentID, rec.ProblemID, ts(rec.Timestamp), rec.Level, string(rec.Path),
		rec.TeachingFocus, rec.HintText,
	)
	return err
}

// HintHistory returns the hints for a pair in delivery order.
func (s *Store) HintHistory(ctx context.Context, studentID, problemID string) ([]model.HintRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id, problem_id, timestamp, level, path, teaching_focus, hint_text
		 FROM hints WHERE student_id = ? AND problem_id = ? ORDER BY id`,
		studentID, problemID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HintRecord
	for rows.Next() {
		var rec model.HintRecord
		var stamp, path string
		if err := rows.Scan(&rec.StudentID, &rec.ProblemID, &stamp, &rec.Level, &path,
			&rec.TeachingFocus, &rec.HintText); err != nil {
			return nil, err
		}
		rec.Path = model.HintPath(path)
		rec.Timestamp, _ = time.Parse(time.RFC3339, stamp)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendMasterySnapshot records one mastery value with its provenance.
func (s *Store) AppendMasterySnapshot(ctx context.Context, studentID, concept string, p float64, source model.MasterySource, modulationVersion int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mastery_snapshots (student_id, concept, p_mastery, source, modulation_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		studentID, concept, p, string(source), modulationVersion, ts(time.Now()),
	)
	return err
}

// LatestMastery returns the most recent snapshot for a pair, or false
// when none exists.
func (s *Store) LatestMastery(ctx context.Context, studentID, concept string) (float64, model.MasterySource, bool, error) {
	var p float64
	var source string
	err := s.db.QueryRowContext(ctx,
		`SELECT p_mastery, source FROM mastery_snapshots
		 WHERE student_id = ? AND concept = ? ORDER BY id DESC LIMIT 1`,
		studentID, concept,
	).Scan(&p, &source)
	if err == sql.ErrNoRows {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, err
	}
	return p, model.MasterySource(source), true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
