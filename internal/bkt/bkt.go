// Package bkt implements four-parameter Bayesian Knowledge Tracing with
// affect-modulated parameters and a per-student in-memory engine.
package bkt

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/edforge/mentor/internal/affect"
	"github.com/edforge/mentor/internal/model"
)

// ModulationVersion identifies the affect-multiplier revision stored
// with mastery snapshots so historical records stay interpretable.
const ModulationVersion = 1

// Params are the four BKT parameters for one concept.
type Params struct {
	PInit  float64 `json:"p_init"`
	PLearn float64 `json:"p_learn"`
	PSlip  float64 `json:"p_slip"`
	PGuess float64 `json:"p_guess"`
}

// DefaultParams are the concept defaults when no override exists.
func DefaultParams() Params {
	return Params{PInit: 0.1, PLearn: 0.1, PSlip: 0.1, PGuess: 0.2}
}

// Modulate scales the working parameters by the student's affective
// state. The multipliers are a versioned contract; see ModulationVersion.
func Modulate(p Params, st affect.State) Params {
	learn := p.PLearn
	learn *= 1 + 0.5*st.Engagement
	learn *= 1 - 0.6*st.Frustration
	learn *= 1 - 0.4*st.Boredom

	slip := p.PSlip * (1 + 0.7*st.Confusion)
	guess := p.PGuess * (1 + 0.5*st.Boredom)

	return Params{
		PInit:  p.PInit,
		PLearn: model.Clamp(learn, 0.01, 0.9),
		PSlip:  model.Clamp(slip, 0.01, 0.9),
		PGuess: model.Clamp(guess, 0.01, 0.9),
	}
}

// Update performs one knowledge-tracing step: a Bayesian posterior on
// the observation followed by the learning transition. Pure; the caller
// persists the result. Mastery stays within [0.01, 0.99].
func Update(pMastery float64, correct bool, p Params) float64 {
	var num, den float64
	if correct {
		num = pMastery * (1 - p.PSlip)
		den = num + (1-pMastery)*p.PGuess
	} else {
		num = pMastery * p.PSlip
		den = num + (1-pMastery)*(1-p.PGuess)
	}

	posterior := pMastery
	if den != 0 {
		posterior = num / den
	}

	next := posterior + (1-posterior)*p.PLearn
	return model.Clamp(next, 0.01, 0.99)
}

// UpdateResult carries the before/after of one mastery update together
// with a human-readable explanation of how affect shifted the outcome.
type UpdateResult struct {
	Concept     string  `json:"concept"`
	OldMastery  float64 `json:"old_mastery"`
	NewMastery  float64 `json:"new_mastery"`
	Delta       float64 `json:"delta"`
	BaseParams  Params  `json:"base_params"`
	Adapted     Params  `json:"adapted_params"`
	Explanation string  `json:"explanation"`
}

// Explain builds the plain-language reasoning behind an update.
func Explain(st affect.State, old, next float64) string {
	var parts []string
	if st.Frustration > 0.5 {
		parts = append(parts, "Learning rate was reduced due to high frustration.")
	}
	if st.Engagement > 0.5 {
		parts = append(parts, "Learning rate was increased due to strong engagement.")
	}
	if st.Confusion > 0.4 {
		parts = append(parts, "Error probability increased due to observed confusion.")
	}
	if st.Boredom > 0.5 {
		parts = append(parts, "Guessing likelihood increased due to signs of boredom.")
	}
	delta := next - old
	switch {
	case delta > 0.05:
		parts = append(parts, "Mastery improved significantly.")
	case delta > 0:
		parts = append(parts, "Mastery improved gradually.")
	default:
		parts = append(parts, "No mastery improvement observed on this attempt.")
	}
	return strings.Join(parts, " ")
}

// ConceptMastery is one concept's mastery record.
type ConceptMastery struct {
	Concept  string  `json:"concept"`
	Mastery  float64 `json:"p_mastery"`
	Attempts int     `json:"attempts"`
	Correct  int     `json:"correct"`
}

// Engine tracks per-student, per-concept mastery in memory.
// It uses Update for the math and leaves durable persistence to the
// caller.
type Engine struct {
	mu        sync.Mutex
	defaults  Params
	overrides map[string]Params
	students  map[string]map[string]*ConceptMastery
}

// NewEngine creates an Engine with the given defaults.
func NewEngine(defaults Params) *Engine {
	return &Engine{
		defaults:  defaults,
		overrides: make(map[string]Params),
		students:  make(map[string]map[string]*ConceptMastery),
	}
}

// SetConceptParams overrides the parameters for one concept.
func (e *Engine) SetConceptParams(concept string, p Params) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides[concept] = p
}

func (e *Engine) params(concept string) Params {
	if p, ok := e.overrides[concept]; ok {
		return p
	}
	return e.defaults
}

// Mastery returns the current mastery for a student-concept pair, the
// prior if unseen.
func (e *Engine) Mastery(studentID, concept string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.students[studentID][concept]; ok {
		return rec.Mastery
	}
	return e.params(concept).PInit
}

// AllMastery returns every tracked concept for a student.
func (e *Engine) AllMastery(studentID string) map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64)
	for c, rec := range e.students[studentID] {
		out[c] = rec.Mastery
	}
	return out
}

// SetMastery replaces a student's mastery value, used when reconciling
// against the remote mastery service (remote owns the canonical value).
func (e *Engine) SetMastery(studentID, concept string, p float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.record(studentID, concept)
	rec.Mastery = model.Clamp(p, 0.01, 0.99)
}

func (e *Engine) record(studentID, concept string) *ConceptMastery {
	student, ok := e.students[studentID]
	if !ok {
		student = make(map[string]*ConceptMastery)
		e.students[studentID] = student
	}
	rec, ok := student[concept]
	if !ok {
		rec = &ConceptMastery{Concept: concept, Mastery: e.params(concept).PInit}
		student[concept] = rec
	}
	return rec
}

// Observe applies one observation for a student-concept pair.
func (e *Engine) Observe(studentID, concept string, correct bool, st affect.State) UpdateResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.record(studentID, concept)
	base := e.params(concept)
	adapted := Modulate(base, st)

	old := rec.Mastery
	next := Update(old, correct, adapted)

	rec.Mastery = next
	rec.Attempts++
	if correct {
		rec.Correct++
	}

	return UpdateResult{
		Concept:     concept,
		OldMastery:  old,
		NewMastery:  next,
		Delta:       next - old,
		BaseParams:  base,
		Adapted:     adapted,
		Explanation: Explain(st, old, next),
	}
}

// ObserveWeighted applies a fractional observation: the new mastery is
// interpolated between the current value and the correct=true result.
// Weight 1 gives the mastery of Observe(correct=true); weight 0 leaves
// mastery unchanged. Every call counts an attempt and none counts a
// correct answer.
func (e *Engine) ObserveWeighted(studentID, concept string, weight float64, st affect.State) UpdateResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.record(studentID, concept)
	base := e.params(concept)
	adapted := Modulate(base, st)

	old := rec.Mastery
	full := Update(old, true, adapted)
	next := model.Clamp(old+(full-old)*model.Clamp(weight, 0, 1), 0.01, 0.99)

	rec.Mastery = next
	rec.Attempts++

	return UpdateResult{
		Concept:     concept,
		OldMastery:  old,
		NewMastery:  next,
		Delta:       next - old,
		BaseParams:  base,
		Adapted:     adapted,
		Explanation: Explain(st, old, next),
	}
}

// WeakestConcepts returns up to n concepts ordered by ascending mastery.
func (e *Engine) WeakestConcepts(studentID string, n int) []ConceptMastery {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []ConceptMastery
	for _, rec := range e.students[studentID] {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mastery != out[j].Mastery {
			return out[i].Mastery < out[j].Mastery
		}
		return out[i].Concept < out[j].Concept
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// String implements fmt.Stringer for debugging output.
func (p Params) String() string {
	return fmt.Sprintf("init=%.2f learn=%.2f slip=%.2f guess=%.2f",
		p.PInit, p.PLearn, p.PSlip, p.PGuess)
}
