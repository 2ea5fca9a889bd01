// Package viva runs oral-defense sessions: question generation, dual
// answer scoring (LLM judgment plus deterministic concept overlap) and
// verdict adjudication.
package viva

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edforge/mentor/internal/analyzer"
	"github.com/edforge/mentor/internal/llm"
	"github.com/edforge/mentor/internal/llm/prompts"
	"github.com/edforge/mentor/internal/model"
	"github.com/edforge/mentor/internal/overlap"
)

// Scoring weights and verdict thresholds. Fixed by contract.
const (
	llmWeight     = 0.7
	overlapWeight = 0.3
	passThreshold = 0.7
	weakThreshold = 0.4
	minTurns      = 2
)

// DefaultTimeout is the inactivity window after which a session is
// abandoned.
const DefaultTimeout = 15 * time.Minute

var (
	// ErrSessionNotFound covers unknown and non-active sessions.
	ErrSessionNotFound = errors.New("viva session not found")
	// ErrSessionExpired marks sessions abandoned for inactivity.
	ErrSessionExpired = errors.New("viva session expired")
	// ErrNoMoreQuestions is returned when every question is answered.
	ErrNoMoreQuestions = errors.New("all questions answered")
)

// SessionStore is the persistence surface the engine needs.
type SessionStore interface {
	SaveVivaSession(ctx context.Context, s *model.VivaSession) error
	GetVivaSession(ctx context.Context, sessionID string) (*model.VivaSession, error)
	UpdateVivaSession(ctx context.Context, s *model.VivaSession) error
}

// Engine coordinates viva sessions.
type Engine struct {
	analyzer *analyzer.Analyzer
	llm      llm.Client
	store    SessionStore
	timeout  time.Duration
	now      func() time.Time
}

// NewEngine creates a viva engine. A zero timeout uses DefaultTimeout.
func NewEngine(a *analyzer.Analyzer, client llm.Client, store SessionStore, timeout time.Duration) *Engine {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		analyzer: a,
		llm:      client,
		store:    store,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Start analyzes the code, generates the questions and persists a new
// active session. The first question is Questions[0].
func (e *Engine) Start(ctx context.Context, studentID, problemID, code, language string) (*model.VivaSession, error) {
	if studentID == "" || code == "" {
		return nil, fmt.Errorf("%w: student_id and code are required", model.ErrInvalidInput)
	}

	analysis, err := e.analyzer.Analyze(code, language)
	if err != nil {
		return nil, fmt.Errorf("start viva: %w", err)
	}

	now := e.now().UTC()
	session := &model.VivaSession{
		SessionID:    uuid.NewString(),
		StudentID:    studentID,
		ProblemID:    problemID,
		CodeSnapshot: code,
		Analysis:     analysis,
		Questions:    generateQuestions(ctx, e.llm, code, analysis),
		Status:       model.VivaActive,
		StartedAt:    now,
		LastActivity: now,
	}

	if err := e.store.SaveVivaSession(ctx, session); err != nil {
		return nil, fmt.Errorf("persist viva session: %w", err)
	}
	return session, nil
}

// AnswerResult is the outcome of scoring one answer.
type AnswerResult struct {
	Turn         model.VivaTurn `json:"turn"`
	NextQuestion string         `json:"next_question,omitempty"`
	Done         bool           `json:"done"`
}

// Answer scores answerText against the current question, records the
// turn, and advances the session. Viva turns are strictly ordered per
// session; callers serialize on session ID.
func (e *Engine) Answer(ctx context.Context, sessionID, answerText string) (*AnswerResult, error) {
	session, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(session.Turns) >= len(session.Questions) {
		return nil, ErrNoMoreQuestions
	}

	idx := len(session.Turns)
	question := session.Questions[idx]

	llmScore := e.scoreWithLLM(ctx, session, question, answerText)
	overlapScore := overlap.Score(
		session.Analysis.Concepts,
		overlap.ExtractTranscriptConcepts(answerText),
	)
	combined := llmWeight*llmScore + overlapWeight*overlapScore

	turn := model.VivaTurn{
		QuestionIndex: idx,
		AnswerText:    answerText,
		LLMScore:      llmScore,
		OverlapScore:  overlapScore,
		CombinedScore: combined,
	}
	session.Turns = append(session.Turns, turn)
	session.LastActivity = e.now().UTC()

	if err := e.store.UpdateVivaSession(ctx, session); err != nil {
		return nil, fmt.Errorf("persist viva turn: %w", err)
	}

	res := &AnswerResult{Turn: turn}
	if idx+1 < len(session.Questions) {
		res.NextQuestion = session.Questions[idx+1]
	} else {
		res.Done = true
	}
	return res, nil
}

// AnswerAudio transcribes spoken audio and scores it like Answer.
func (e *Engine) AnswerAudio(ctx context.Context, sessionID string, audio []byte, format string) (*AnswerResult, error) {
	text, err := e.llm.Transcribe(ctx, audio, format)
	if err != nil {
		return nil, fmt.Errorf("transcribe answer: %w", err)
	}
	return e.Answer(ctx, sessionID, text)
}

// VerdictResult is the final adjudication of a session.
type VerdictResult struct {
	SessionID    string            `json:"session_id"`
	Verdict      model.VivaVerdict `json:"verdict"`
	OverallScore float64           `json:"overall_score"`
	Answered     int               `json:"questions_answered"`
	Concepts     []string          `json:"concepts"`
}

// Verdict finalizes a session. Fewer than two answered turns are
// INCONCLUSIVE; otherwise the mean combined score maps onto
// PASS / WEAK / FAIL.
func (e *Engine) Verdict(ctx context.Context, sessionID string) (*VerdictResult, error) {
	session, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	res := &VerdictResult{
		SessionID: sessionID,
		Answered:  len(session.Turns),
		Concepts:  session.Analysis.Concepts,
	}

	if len(session.Turns) < minTurns {
		res.Verdict = model.VerdictInconclusive
	} else {
		var sum float64
		for _, t := range session.Turns {
			sum += t.CombinedScore
		}
		res.OverallScore = sum / float64(len(session.Turns))
		// eps absorbs float rounding in the mean: three combined scores of
		// 0.7 average to 0.6999999999999998, which still counts as 0.7.
		const eps = 1e-9
		switch {
		case res.OverallScore >= passThreshold-eps:
			res.Verdict = model.VerdictPass
		case res.OverallScore >= weakThreshold-eps:
			res.Verdict = model.VerdictWeak
		default:
			res.Verdict = model.VerdictFail
		}
	}

	session.Status = model.VivaCompleted
	session.Verdict = res.Verdict
	session.OverallScore = res.OverallScore
	if err := e.store.UpdateVivaSession(ctx, session); err != nil {
		return nil, fmt.Errorf("persist verdict: %w", err)
	}
	return res, nil
}

// load fetches an active session, expiring it first when the
// inactivity window has passed.
func (e *Engine) load(ctx context.Context, sessionID string) (*model.VivaSession, error) {
	session, err := e.store.GetVivaSession(ctx, sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if session.Status != model.VivaActive {
		return nil, ErrSessionNotFound
	}
	if e.now().UTC().Sub(session.LastActivity) > e.timeout {
		session.Status = model.VivaAbandoned
		if err := e.store.UpdateVivaSession(ctx, session); err != nil {
			slog.Warn("failed to persist session expiry", "session", sessionID, "error", err)
		}
		return nil, ErrSessionExpired
	}
	return session, nil
}

// scoreWithLLM judges an answer against the code's ground truth. Any
// LLM failure degrades to the deterministic overlap heuristic so a
// session can always finish.
func (e *Engine) scoreWithLLM(ctx context.Context, session *model.VivaSession, question, answer string) float64 {
	prompt := prompts.Score(prompts.ScoreData{
		Code:     session.CodeSnapshot,
		Pattern:  string(session.Analysis.Pattern),
		Summary:  session.Analysis.ApproachSummary,
		Concepts: session.Analysis.Concepts,
		Question: question,
		Answer:   answer,
	})

	raw, err := e.llm.Complete(ctx, llm.PurposeAnswerScore, prompt)
	if err != nil {
		slog.Info("answer scoring degraded to overlap heuristic", "error", err)
		return e.heuristicScore(session, answer)
	}

	var parsed struct {
		Score    float64 `json:"score"`
		Feedback string  `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		slog.Warn("answer score was not valid JSON", "error", err)
		return e.heuristicScore(session, answer)
	}
	return model.Clamp(parsed.Score, 0, 1)
}

// heuristicScore approximates understanding from concept coverage when
// the LLM cannot judge.
func (e *Engine) heuristicScore(session *model.VivaSession, answer string) float64 {
	return overlap.Score(
		session.Analysis.Concepts,
		overlap.ExtractTranscriptConcepts(answer),
	)
}
