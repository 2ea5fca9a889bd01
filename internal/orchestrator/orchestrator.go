// Package orchestrator binds the analyzer, sandbox, affect adapter,
// BKT engine, tutoring machine and store into the per-submission
// pipeline. Every stage degrades independently: a failure anywhere
// yields a usable response, never a crash.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edforge/mentor/internal/affect"
	"github.com/edforge/mentor/internal/analyzer"
	"github.com/edforge/mentor/internal/bkt"
	"github.com/edforge/mentor/internal/model"
	"github.com/edforge/mentor/internal/sandbox"
	"github.com/edforge/mentor/internal/state"
	"github.com/edforge/mentor/internal/store"
	"github.com/edforge/mentor/internal/tutoring"
	"github.com/edforge/mentor/internal/viva"
)

// DefaultMaxInFlight bounds concurrent submissions per process.
const DefaultMaxInFlight = 64

// Orchestrator wires the pipeline's collaborators.
type Orchestrator struct {
	analyzer *analyzer.Analyzer
	sandbox  *sandbox.Client
	affect   *affect.Adapter
	bkt      *bkt.Engine
	remote   *bkt.RemoteClient
	hints    *tutoring.Generator
	viva     *viva.Engine
	store    *store.Store
	registry *state.Registry
	sem      chan struct{}
	now      func() time.Time
}

// Config collects the orchestrator's collaborators.
type Config struct {
	Analyzer    *analyzer.Analyzer
	Sandbox     *sandbox.Client
	Affect      *affect.Adapter
	BKT         *bkt.Engine
	Remote      *bkt.RemoteClient
	Hints       *tutoring.Generator
	Viva        *viva.Engine
	Store       *store.Store
	Registry    *state.Registry
	MaxInFlight int
}

// New assembles an Orchestrator.
func New(cfg Config) *Orchestrator {
	n := cfg.MaxInFlight
	if n <= 0 {
		n = DefaultMaxInFlight
	}
	return &Orchestrator{
		analyzer: cfg.Analyzer,
		sandbox:  cfg.Sandbox,
		affect:   cfg.Affect,
		bkt:      cfg.BKT,
		remote:   cfg.Remote,
		hints:    cfg.Hints,
		viva:     cfg.Viva,
		store:    cfg.Store,
		registry: cfg.Registry,
		sem:      make(chan struct{}, n),
		now:      time.Now,
	}
}

// SubmitRequest is one student code submission.
type SubmitRequest struct {
	StudentID   string              `json:"student_id"`
	ProblemID   string              `json:"problem_id"`
	Problem     string              `json:"problem_description"`
	Code        string              `json:"code"`
	Language    string              `json:"language"`
	Stdin       string              `json:"stdin"`
	Concept     string              `json:"concept"`
	Expressions *affect.Expressions `json:"expressions,omitempty"`
}

// Response is the canonical submission response.
type Response struct {
	StudentID string        `json:"student_id"`
	ProblemID string        `json:"problem_id"`
	Analysis  AnalysisView  `json:"analysis"`
	Execution ExecutionView `json:"execution"`
	Mastery   MasteryView   `json:"mastery"`
	Hint      HintView      `json:"hint"`
	Affect    AffectView    `json:"affect"`
}

// AnalysisView is the response slice of the analyzer result.
type AnalysisView struct {
	IsValid       bool                   `json:"is_valid"`
	Pattern       model.AlgorithmPattern `json:"algorithm_pattern"`
	Issues        []model.Issue          `json:"issues"`
	FunctionCount int                    `json:"function_count"`
	HasRecursion  bool                   `json:"has_recursion"`
}

// ExecutionView reports the sandbox outcome; Passed is nil when the
// sandbox was unreachable.
type ExecutionView struct {
	Passed *bool            `json:"passed"`
	Status model.ExecStatus `json:"status"`
}

// MasteryView reports the post-update mastery and who computed it.
type MasteryView struct {
	Concept  string              `json:"concept"`
	PMastery float64             `json:"p_mastery"`
	Source   model.MasterySource `json:"source"`
}

// HintView is the tutoring slice of the response.
type HintView struct {
	ShouldIntervene bool           `json:"should_intervene"`
	HintText        string         `json:"hint_text,omitempty"`
	HintLevel       int            `json:"hint_level,omitempty"`
	HintPath        model.HintPath `json:"hint_path,omitempty"`
	TeachingFocus   string         `json:"teaching_focus,omitempty"`
}

// AffectView is the smoothed cognitive state echoed to the caller.
type AffectView struct {
	affect.State
	ShouldIntervene bool `json:"should_intervene"`
}

// Submit runs the nine-step pipeline for one submission.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*Response, error) {
	if req.StudentID == "" || req.ProblemID == "" || req.Code == "" {
		return nil, fmt.Errorf("%w: student_id, problem_id and code are required", model.ErrInvalidInput)
	}
	if req.Language == "" {
		req.Language = "python"
	}
	if !o.analyzer.Supports(req.Language) {
		return nil, fmt.Errorf("%w: unsupported language %q", model.ErrInvalidInput, req.Language)
	}

	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Step 1: structural analysis (pure).
	analysis, err := o.analyzer.Analyze(req.Code, req.Language)
	if err != nil {
		// Backend failure, not a student error; degrade like a parse
		// failure and keep the pipeline alive.
		slog.Error("analysis backend failed", "error", err)
		analysis = model.CodeAnalysisResult{IsValid: false}
	}

	// Step 2: sandbox execution.
	exec := o.sandbox.Run(ctx, req.Code, req.Stdin)
	passed := exec.Passed()

	// Step 3: affect smoothing.
	var smoothed affect.State
	if req.Expressions != nil {
		smoothed = o.affect.ProcessExpressions(req.StudentID, *req.Expressions)
	} else {
		smoothed = o.affect.Smoothed(req.StudentID)
	}
	affectIntervene := affect.ShouldIntervene(smoothed)

	concept := req.Concept
	if concept == "" {
		concept = primaryConcept(analysis)
	}

	// Step 4: mastery update. No observation when execution is unknown.
	masteryBefore := o.bkt.Mastery(req.StudentID, concept)
	mastery := MasteryView{Concept: concept, Source: model.MasteryLocal}
	if passed == nil {
		mastery.PMastery = masteryBefore
	} else {
		res := o.bkt.Observe(req.StudentID, concept, *passed, smoothed)
		mastery.PMastery = res.NewMastery
		if remote, ok := o.remote.Submit(ctx, req.StudentID, concept, passed, o.now()); ok {
			// Remote owns the canonical value.
			o.bkt.SetMastery(req.StudentID, concept, remote)
			mastery.PMastery = remote
			mastery.Source = model.MasteryRemote
		}
	}

	// Client cancellation after the sandbox call: skip LLM work and
	// leave a partial record.
	if ctx.Err() != nil {
		o.persist(req, analysis, exec, masteryBefore, mastery, passed, "cancelled")
		return nil, ctx.Err()
	}

	// Steps 5-7: intervention decision, hint generation, tone.
	hint := o.decideAndGenerate(ctx, req, analysis, passed, smoothed, affectIntervene, mastery.PMastery)

	// Step 8: persistence gate; the student lock keeps same-student
	// submissions causally ordered.
	var hintRec *model.HintRecord
	if hint.ShouldIntervene && hint.HintText != "" {
		hintRec = &model.HintRecord{
			StudentID:     req.StudentID,
			ProblemID:     req.ProblemID,
			Timestamp:     o.now().UTC(),
			Level:         hint.HintLevel,
			Path:          hint.HintPath,
			TeachingFocus: hint.TeachingFocus,
			HintText:      hint.HintText,
		}
	}
	o.persistWithRegister(req, analysis, exec, masteryBefore, mastery, hintRec, passed, hint)

	// Step 9: assembled response.
	return &Response{
		StudentID: req.StudentID,
		ProblemID: req.ProblemID,
		Analysis: AnalysisView{
			IsValid:       analysis.IsValid,
			Pattern:       analysis.Pattern,
			Issues:        analysis.Issues,
			FunctionCount: analysis.Metrics.Functions,
			HasRecursion:  analysis.Metrics.HasRecursion,
		},
		Execution: ExecutionView{Passed: passed, Status: exec.Status},
		Mastery:   mastery,
		Hint:      hint,
		Affect:    AffectView{State: smoothed, ShouldIntervene: affectIntervene},
	}, nil
}

// decideAndGenerate walks the tutoring machine from assess to deliver.
func (o *Orchestrator) decideAndGenerate(ctx context.Context, req SubmitRequest,
	analysis model.CodeAnalysisResult, passed *bool, smoothed affect.State,
	affectIntervene bool, pMastery float64) HintView {

	// Parse failures produce no hint; the rest of the response stands.
	if !analysis.IsValid {
		return HintView{}
	}

	execFailed := passed != nil && !*passed
	intervene := affectIntervene || len(analysis.Issues) > 0 || execFailed
	if !intervene {
		return HintView{}
	}

	path := tutoring.Route(smoothed, pMastery)

	student := o.registry.Student(req.StudentID)
	student.Lock()
	reg := student.Problem(req.ProblemID)
	level := tutoring.NextLevel(reg.HintLevel, reg.FailedAttempts, smoothed.Frustration)
	previous := reg.LastHint
	student.Unlock()

	res := o.hints.Generate(ctx, tutoring.HintRequest{
		Path:         path,
		Level:        level,
		Problem:      req.Problem,
		Code:         req.Code,
		Analysis:     analysis,
		PreviousHint: previous,
	})

	text := tutoring.ApplyTone(res.Text, affect.ToneFor(smoothed))

	return HintView{
		ShouldIntervene: true,
		HintText:        text,
		HintLevel:       res.Level,
		HintPath:        res.Path,
		TeachingFocus:   res.TeachingFocus,
	}
}

// persistWithRegister advances the level register and writes all
// durable records under the student lock.
func (o *Orchestrator) persistWithRegister(req SubmitRequest, analysis model.CodeAnalysisResult,
	exec sandbox.Result, masteryBefore float64, mastery MasteryView,
	hintRec *model.HintRecord, passed *bool, hint HintView) {

	student := o.registry.Student(req.StudentID)
	student.Lock()
	defer student.Unlock()

	reg := student.Problem(req.ProblemID)
	reg.Submissions++
	switch {
	case passed != nil && *passed:
		// A passing run resets the escalation ladder.
		reg.HintLevel = 0
		reg.FailedAttempts = 0
		reg.LastHint = ""
	case passed != nil:
		reg.FailedAttempts++
	}
	if hint.ShouldIntervene {
		reg.HintLevel = hint.HintLevel
		reg.LastHint = hint.HintText
	}
	snapshot := student.Snapshot()

	// Persistence failures are logged, never fatal to the request.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.store.UpsertStudentState(ctx, req.StudentID, snapshot); err != nil {
		slog.Error("student state write failed", "student", req.StudentID, "error", err)
	}
	rec := model.SubmissionRecord{
		StudentID:       req.StudentID,
		ProblemID:       req.ProblemID,
		Timestamp:       o.now().UTC(),
		Code:            req.Code,
		AnalysisSummary: analysis.ApproachSummary,
		ExecStatus:      exec.Status,
		ExecutionPassed: passed,
		MasteryBefore:   masteryBefore,
		MasteryAfter:    mastery.PMastery,
		HintEmitted:     hintRec != nil,
		Status:          "completed",
	}
	if err := o.store.AppendSubmission(ctx, rec); err != nil {
		slog.Error("submission write failed", "student", req.StudentID, "error", err)
	}
	if hintRec != nil {
		if err := o.store.AppendHint(ctx, *hintRec); err != nil {
			slog.Error("hint write failed", "student", req.StudentID, "error", err)
		}
	}
	if err := o.store.AppendMasterySnapshot(ctx, req.StudentID, mastery.Concept,
		mastery.PMastery, mastery.Source, bkt.ModulationVersion); err != nil {
		slog.Error("mastery snapshot write failed", "student", req.StudentID, "error", err)
	}
}

// persist writes a partial record for a cancelled request.
func (o *Orchestrator) persist(req SubmitRequest, analysis model.CodeAnalysisResult,
	exec sandbox.Result, masteryBefore float64, mastery MasteryView, passed *bool, status string) {

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := model.SubmissionRecord{
		StudentID:       req.StudentID,
		ProblemID:       req.ProblemID,
		Timestamp:       o.now().UTC(),
		Code:            req.Code,
		AnalysisSummary: analysis.ApproachSummary,
		ExecStatus:      exec.Status,
		ExecutionPassed: passed,
		MasteryBefore:   masteryBefore,
		MasteryAfter:    mastery.PMastery,
		Status:          status,
	}
	if err := o.store.AppendSubmission(ctx, rec); err != nil {
		slog.Error("partial submission write failed", "student", req.StudentID, "error", err)
	}
}

// primaryConcept picks the concept a submission exercises when the
// caller names none.
func primaryConcept(analysis model.CodeAnalysisResult) string {
	switch analysis.Pattern {
	case model.PatternRecursive, model.PatternDivideConquer:
		return "recursion"
	case model.PatternDynamicProg:
		return "dynamic_programming"
	case model.PatternTwoPointer:
		return "two_pointers"
	case model.PatternSlidingWindow:
		return "sliding_window"
	}
	if len(analysis.Concepts) > 0 {
		return analysis.Concepts[0]
	}
	return "general_programming"
}

// VivaVerdict finalizes a viva session and applies the mastery
// consequence: PASS is a correct observation, FAIL an incorrect one,
// WEAK a half-weighted one, INCONCLUSIVE none.
func (o *Orchestrator) VivaVerdict(ctx context.Context, sessionID string) (*viva.VerdictResult, error) {
	res, err := o.viva.Verdict(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session, err := o.store.GetVivaSession(ctx, sessionID)
	if err != nil {
		return res, nil
	}
	concept := primaryConcept(session.Analysis)
	smoothed := o.affect.Smoothed(session.StudentID)

	var update *bkt.UpdateResult
	switch res.Verdict {
	case model.VerdictPass:
		r := o.bkt.Observe(session.StudentID, concept, true, smoothed)
		update = &r
	case model.VerdictFail:
		r := o.bkt.Observe(session.StudentID, concept, false, smoothed)
		update = &r
	case model.VerdictWeak:
		r := o.bkt.ObserveWeighted(session.StudentID, concept, 0.5, smoothed)
		update = &r
	}

	if update != nil {
		if err := o.store.AppendMasterySnapshot(ctx, session.StudentID, concept,
			update.NewMastery, model.MasteryLocal, bkt.ModulationVersion); err != nil {
			slog.Error("viva mastery snapshot failed", "session", sessionID, "error", err)
		}
	}
	return res, nil
}

// HintRequest asks for a standalone hint without running execution or
// mastery updates ("Get Hint" during coding).
type HintRequest struct {
	StudentID string `json:"student_id"`
	ProblemID string `json:"problem_id"`
	Problem   string `json:"problem_description"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

// Hint generates a standalone tone-adjusted hint.
func (o *Orchestrator) Hint(ctx context.Context, req HintRequest) (*HintView, error) {
	if req.StudentID == "" || req.Code == "" {
		return nil, fmt.Errorf("%w: student_id and code are required", model.ErrInvalidInput)
	}
	if req.Language == "" {
		req.Language = "python"
	}

	analysis, err := o.analyzer.Analyze(req.Code, req.Language)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	if !analysis.IsValid {
		return &HintView{}, nil
	}

	smoothed := o.affect.Smoothed(req.StudentID)
	concept := primaryConcept(analysis)
	pMastery := o.bkt.Mastery(req.StudentID, concept)
	path := tutoring.Route(smoothed, pMastery)

	student := o.registry.Student(req.StudentID)
	student.Lock()
	reg := student.Problem(req.ProblemID)
	level := tutoring.NextLevel(reg.HintLevel, reg.FailedAttempts, smoothed.Frustration)
	previous := reg.LastHint
	student.Unlock()

	res := o.hints.Generate(ctx, tutoring.HintRequest{
		Path:         path,
		Level:        level,
		Problem:      req.Problem,
		Code:         req.Code,
		Analysis:     analysis,
		PreviousHint: previous,
	})
	text := tutoring.ApplyTone(res.Text, affect.ToneFor(smoothed))

	student.Lock()
	reg = student.Problem(req.ProblemID)
	reg.HintLevel = res.Level
	reg.LastHint = text
	snapshot := student.Snapshot()
	student.Unlock()

	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.UpsertStudentState(persistCtx, req.StudentID, snapshot); err != nil {
		slog.Error("student state write failed", "student", req.StudentID, "error", err)
	}
	if err := o.store.AppendHint(persistCtx, model.HintRecord{
		StudentID:     req.StudentID,
		ProblemID:     req.ProblemID,
		Timestamp:     o.now().UTC(),
		Level:         res.Level,
		Path:          res.Path,
		TeachingFocus: res.TeachingFocus,
		HintText:      text,
	}); err != nil {
		slog.Error("hint write failed", "student", req.StudentID, "error", err)
	}

	return &HintView{
		ShouldIntervene: true,
		HintText:        text,
		HintLevel:       res.Level,
		HintPath:        res.Path,
		TeachingFocus:   res.TeachingFocus,
	}, nil
}
