// Package handler exposes the tutoring pipeline as a thin JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edforge/mentor/internal/affect"
	"github.com/edforge/mentor/internal/bkt"
	"github.com/edforge/mentor/internal/model"
	"github.com/edforge/mentor/internal/orchestrator"
	"github.com/edforge/mentor/internal/problemgen"
	"github.com/edforge/mentor/internal/viva"
)

// maxAudioBytes bounds an uploaded viva answer (about two minutes of
// compressed audio).
const maxAudioBytes = 12 << 20

// Handler holds shared dependencies for the HTTP surface.
type Handler struct {
	orch     *orchestrator.Orchestrator
	viva     *viva.Engine
	affect   *affect.Adapter
	bkt      *bkt.Engine
	problems *problemgen.Generator
}

// New creates a Handler.
func New(orch *orchestrator.Orchestrator, vivaEngine *viva.Engine, adapter *affect.Adapter, engine *bkt.Engine, problems *problemgen.Generator) *Handler {
	return &Handler{orch: orch, viva: vivaEngine, affect: adapter, bkt: engine, problems: problems}
}

// Routes registers all endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/submit", h.handleSubmit)
		r.Post("/hint", h.handleHint)
		r.Post("/affect", h.handleAffect)
		r.Get("/students/{studentID}/mastery", h.handleMastery)
		r.Post("/viva/start", h.handleVivaStart)
		r.Post("/viva/answer", h.handleVivaAnswer)
		r.Post("/viva/answer-audio", h.handleVivaAnswerAudio)
		r.Get("/viva/{sessionID}/verdict", h.handleVivaVerdict)
		r.Post("/problems/generate", h.handleProblemGen)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	resp, err := h.orch.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHint(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.HintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	hint, err := h.orch.Hint(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hint)
}

type affectRequest struct {
	StudentID   string             `json:"student_id"`
	Expressions affect.Expressions `json:"expressions"`
}

func (h *Handler) handleAffect(w http.ResponseWriter, r *http.Request) {
	var req affectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.StudentID == "" {
		writeError(w, http.StatusBadRequest, "student_id is required")
		return
	}
	smoothed := h.affect.ProcessExpressions(req.StudentID, req.Expressions)
	writeJSON(w, http.StatusOK, map[string]any{
		"state":            smoothed,
		"should_intervene": affect.ShouldIntervene(smoothed),
	})
}

func (h *Handler) handleMastery(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")
	writeJSON(w, http.StatusOK, map[string]any{
		"student_id": studentID,
		"mastery":    h.bkt.AllMastery(studentID),
		"weakest":    h.bkt.WeakestConcepts(studentID, 3),
		"affect":     h.affect.Summarize(studentID),
	})
}

type vivaStartRequest struct {
	StudentID string `json:"student_id"`
	ProblemID string `json:"problem_id"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

func (h *Handler) handleVivaStart(w http.ResponseWriter, r *http.Request) {
	var req vivaStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.Language == "" {
		req.Language = "python"
	}
	session, err := h.viva.Start(r.Context(), req.StudentID, req.ProblemID, req.Code, req.Language)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     session.SessionID,
		"question":       session.Questions[0],
		"question_count": len(session.Questions),
	})
}

type vivaAnswerRequest struct {
	SessionID  string `json:"session_id"`
	AnswerText string `json:"answer_text"`
}

func (h *Handler) handleVivaAnswer(w http.ResponseWriter, r *http.Request) {
	var req vivaAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	res, err := h.viva.Answer(r.Context(), req.SessionID, req.AnswerText)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleVivaAnswerAudio(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}
	sessionID := r.FormValue("session_id")
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxAudioBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read audio")
		return
	}
	format := formatFromFilename(header.Filename)

	res, err := h.viva.AnswerAudio(r.Context(), sessionID, audio, format)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleVivaVerdict(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	res, err := h.orch.VivaVerdict(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type problemGenRequest struct {
	Concept    string `json:"concept"`
	Difficulty string `json:"difficulty"`
	Language   string `json:"language"`
}

func (h *Handler) handleProblemGen(w http.ResponseWriter, r *http.Request) {
	var req problemGenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	p, err := h.problems.Generate(r.Context(), req.Concept, req.Difficulty, req.Language)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func formatFromFilename(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return "webm"
}

// writeDomainError maps domain errors onto status codes: invalid input
// and session problems are the caller's fault, everything else is ours.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, viva.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, viva.ErrSessionExpired), errors.Is(err, viva.ErrNoMoreQuestions):
		writeError(w, http.StatusGone, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
