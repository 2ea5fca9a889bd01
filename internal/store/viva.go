package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edforge/mentor/internal/model"
)

// SaveVivaSession inserts a new session with its questions.
func (s *Store) SaveVivaSession(ctx context.Context, sess *model.VivaSession) error {
	analysisJSON, err := json.Marshal(sess.Analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	questionsJSON, err := json.Marshal(sess.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO viva_sessions
		 (session_id, student_id, problem_id, code, analysis_json, questions_json,
		  status, verdict, overall_score, started_at, last_activity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.SessionID, sess.StudentID, sess.ProblemID, sess.CodeSnapshot,
		string(analysisJSON), string(questionsJSON), string(sess.Status),
		string(sess.Verdict), sess.OverallScore, ts(sess.StartedAt), ts(sess.LastActivity),
	)
	return err
}

// GetVivaSession loads a session and its turns in question order.
func (s *Store) GetVivaSession(ctx context.Context, sessionID string) (*model.VivaSession, error) {
	var sess model.VivaSession
	var analysisJSON, questionsJSON, status, verdict, startedAt, lastActivity string

	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, student_id, problem_id, code, analysis_json, questions_json,
		        status, verdict, overall_score, started_at, last_activity
		 FROM viva_sessions WHERE session_id = ?`, sessionID,
	).Scan(&sess.SessionID, &sess.StudentID, &sess.ProblemID, &sess.CodeSnapshot,
		&analysisJSON, &questionsJSON, &status, &verdict, &sess.OverallScore,
		&startedAt, &lastActivity)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("viva session %s: not found", sessionID)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(analysisJSON), &sess.Analysis); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	if err := json.Unmarshal([]byte(questionsJSON), &sess.Questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	sess.Status = model.VivaStatus(status)
	sess.Verdict = model.VivaVerdict(verdict)
	sess.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	sess.LastActivity, _ = time.Parse(time.RFC3339, lastActivity)

	rows, err := s.db.QueryContext(ctx,
		`SELECT question_index, answer_text, llm_score, overlap_score, combined_score
		 FROM viva_turns WHERE session_id = ? ORDER BY question_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t model.VivaTurn
		if err := rows.Scan(&t.QuestionIndex, &t.AnswerText, &t.LLMScore,
			&t.OverlapScore, &t.CombinedScore); err != nil {
			return nil, err
		}
		sess.Turns = append(sess.Turns, t)
	}
	return &sess, rows.Err()
}

// UpdateVivaSession persists session fields and any new turns. Turns
// are append-only; existing rows are left untouched.
func (s *Store) UpdateVivaSession(ctx context.Context, sess *model.VivaSession) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE viva_sessions
		 SET status = ?, verdict = ?, overall_score = ?, last_activity = ?
		 WHERE session_id = ?`,
		string(sess.Status), string(sess.Verdict), sess.OverallScore,
		ts(sess.LastActivity), sess.SessionID,
	)
	if err != nil {
		return err
	}

	for _, t := range sess.Turns {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO viva_turns
			 (session_id, question_index, answer_text, llm_score, overlap_score, combined_score, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sess.SessionID, t.QuestionIndex, t.AnswerText, t.LLMScore,
			t.OverlapScore, t.CombinedScore, ts(time.Now()),
		)
		if err != nil {
			return err
		}
	}
	return nil
}
