// Package affect converts raw facial-expression probabilities into a
// smoothed cognitive state and drives intervention and tone decisions.
package affect

import (
	"sync"

	"github.com/edforge/mentor/internal/model"
)

// Expressions are raw per-frame probabilities from the browser's
// face-expression capture.
type Expressions struct {
	Happy     float64 `json:"happy"`
	Sad       float64 `json:"sad"`
	Angry     float64 `json:"angry"`
	Fearful   float64 `json:"fearful"`
	Surprised float64 `json:"surprised"`
	Neutral   float64 `json:"neutral"`
	Disgusted float64 `json:"disgusted"`
}

// State is the cognitive state derived from expressions.
type State struct {
	Frustration float64 `json:"frustration"`
	Engagement  float64 `json:"engagement"`
	Confusion   float64 `json:"confusion"`
	Boredom     float64 `json:"boredom"`
}

// Tone selects how a hint is framed for the student.
type Tone string

const (
	ToneGentle    Tone = "gentle"
	ToneNeutral   Tone = "neutral"
	ToneChallenge Tone = "challenge"
)

// FromExpressions applies the fixed linear map from expression
// probabilities to cognitive state. The coefficients are a contract
// shared with the perception frontend; do not tune them here.
func FromExpressions(e Expressions) State {
	return State{
		Engagement:  clamp01(0.6*e.Happy + 0.4*e.Surprised),
		Confusion:   clamp01(0.6*e.Surprised + 0.4*e.Sad),
		Frustration: clamp01(0.5*e.Angry + 0.3*e.Fearful + 0.2*e.Sad),
		Boredom:     clamp01(0.8*e.Neutral - 0.4*(e.Happy+e.Surprised)),
	}
}

func clamp01(x float64) float64 {
	return model.Clamp(x, 0, 1)
}

// WindowSize is the number of samples the smoother averages over.
// The capture side samples every ~2 s, so ten samples cover ~20 s.
const WindowSize = 10

// Smoother is a fixed-window moving average over cognitive states.
// Not safe for concurrent use; callers hold the per-student lock.
type Smoother struct {
	window []State
	next   int
}

// NewSmoother returns an empty smoother.
func NewSmoother() *Smoother {
	return &Smoother{window: make([]State, 0, WindowSize)}
}

// Add records a sample and returns the current mean.
func (s *Smoother) Add(sample State) State {
	if len(s.window) < WindowSize {
		s.window = append(s.window, sample)
	} else {
		s.window[s.next] = sample
		s.next = (s.next + 1) % WindowSize
	}
	return s.Current()
}

// Current returns the mean over the window, or the zero state if no
// samples have arrived.
func (s *Smoother) Current() State {
	if len(s.window) == 0 {
		return State{}
	}
	var sum State
	for _, st := range s.window {
		sum.Frustration += st.Frustration
		sum.Engagement += st.Engagement
		sum.Confusion += st.Confusion
		sum.Boredom += st.Boredom
	}
	n := float64(len(s.window))
	return State{
		Frustration: sum.Frustration / n,
		Engagement:  sum.Engagement / n,
		Confusion:   sum.Confusion / n,
		Boredom:     sum.Boredom / n,
	}
}

// Reset clears the window.
func (s *Smoother) Reset() {
	s.window = s.window[:0]
	s.next = 0
}

// ShouldIntervene is the affect-only intervention predicate.
func ShouldIntervene(st State) bool {
	return st.Frustration > 0.7 ||
		st.Boredom > 0.6 ||
		(st.Confusion > 0.6 && st.Engagement < 0.3)
}

// ToneFor picks the hint tone for a smoothed state.
func ToneFor(st State) Tone {
	switch {
	case st.Frustration > 0.4:
		return ToneGentle
	case st.Boredom > 0.6:
		return ToneChallenge
	default:
		return ToneNeutral
	}
}

// Summary is a per-student affect read model.
type Summary struct {
	Current         State   `json:"current_state"`
	PeakFrustration float64 `json:"peak_frustration"`
	Samples         int     `json:"samples_collected"`
	AtRisk          bool    `json:"is_at_risk"`
}

// Adapter tracks a smoother and running statistics per student.
type Adapter struct {
	mu       sync.Mutex
	profiles map[string]*profile
}

type profile struct {
	smoother *Smoother
	peak     float64
	samples  int
}

// NewAdapter returns an Adapter with no tracked students.
func NewAdapter() *Adapter {
	return &Adapter{profiles: make(map[string]*profile)}
}

func (a *Adapter) profileFor(studentID string) *profile {
	p, ok := a.profiles[studentID]
	if !ok {
		p = &profile{smoother: NewSmoother()}
		a.profiles[studentID] = p
	}
	return p
}

// ProcessExpressions converts raw expressions, smooths them and returns
// the smoothed state.
func (a *Adapter) ProcessExpressions(studentID string, e Expressions) State {
	return a.Process(studentID, FromExpressions(e))
}

// Process smooths a pre-computed cognitive state sample.
func (a *Adapter) Process(studentID string, st State) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.profileFor(studentID)
	smoothed := p.smoother.Add(st)
	p.samples++
	if smoothed.Frustration > p.peak {
		p.peak = smoothed.Frustration
	}
	return smoothed
}

// Smoothed returns the current smoothed state without adding a sample.
func (a *Adapter) Smoothed(studentID string) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profileFor(studentID).smoother.Current()
}

// Summarize returns the affect read model for one student.
func (a *Adapter) Summarize(studentID string) Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.profileFor(studentID)
	return Summary{
		Current:         p.smoother.Current(),
		PeakFrustration: p.peak,
		Samples:         p.samples,
		AtRisk:          p.peak > 0.7,
	}
}
