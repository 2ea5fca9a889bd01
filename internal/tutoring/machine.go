// Package tutoring decides when and how to intervene with a hint: an
// explicit finite state machine routes each submission to a hint path,
// a per-(student, problem) level register escalates hint directness,
// and generation pairs the LLM with a deterministic fallback.
package tutoring

import (
	"fmt"

	"github.com/edforge/mentor/internal/affect"
	"github.com/edforge/mentor/internal/model"
)

// State is a node in the tutoring workflow.
type State string

const (
	StateReceive   State = "receive"
	StateAnalyze   State = "analyze"
	StateAssess    State = "assess"
	StateGentle    State = "gentle_hint"
	StateSocratic  State = "socratic_hint"
	StateChallenge State = "challenge_hint"
	StateDeliver   State = "deliver"
)

// Event triggers a transition.
type Event string

const (
	EventSubmission     Event = "submission"
	EventAnalyzed       Event = "analyzed"
	EventRouteGentle    Event = "route_gentle"
	EventRouteSocratic  Event = "route_socratic"
	EventRouteChallenge Event = "route_challenge"
	EventNoIntervention Event = "no_intervention"
	EventHintReady      Event = "hint_ready"
)

// transitions is the complete edge set. Keeping it as a table makes
// every path statically enumerable.
var transitions = map[State]map[Event]State{
	StateReceive: {
		EventSubmission: StateAnalyze,
	},
	StateAnalyze: {
		EventAnalyzed: StateAssess,
	},
	StateAssess: {
		EventRouteGentle:    StateGentle,
		EventRouteSocratic:  StateSocratic,
		EventRouteChallenge: StateChallenge,
		EventNoIntervention: StateDeliver,
	},
	StateGentle: {
		EventHintReady: StateDeliver,
	},
	StateSocratic: {
		EventHintReady: StateDeliver,
	},
	StateChallenge: {
		EventHintReady: StateDeliver,
	},
}

// Next returns the state reached from s on event e.
func Next(s State, e Event) (State, error) {
	if to, ok := transitions[s][e]; ok {
		return to, nil
	}
	return s, fmt.Errorf("no transition from %s on %s", s, e)
}

// Route picks the hint path at the assess state.
func Route(st affect.State, pMastery float64) model.HintPath {
	switch {
	case st.Frustration > 0.7:
		return model.PathGentle
	case st.Boredom > 0.6 && pMastery > 0.7:
		return model.PathChallenge
	default:
		return model.PathSocratic
	}
}

// RouteEvent maps a hint path to its assess-state event.
func RouteEvent(p model.HintPath) Event {
	switch p {
	case model.PathGentle:
		return EventRouteGentle
	case model.PathChallenge:
		return EventRouteChallenge
	default:
		return EventRouteSocratic
	}
}

// NextLevel computes the hint level for a new request that passed the
// intervene predicate. The register advances one level per hint on the
// same (student, problem); level 4 opens only after three failed
// attempts with frustration above 0.5, otherwise escalation caps at 3.
func NextLevel(current, failedAttempts int, frustration float64) int {
	next := current + 1
	if next < model.LevelGuidingQuestion {
		next = model.LevelGuidingQuestion
	}
	limit := model.LevelPseudoCode
	if failedAttempts >= 3 && frustration > 0.5 {
		limit = model.LevelDirect
	}
	if next > limit {
		next = limit
	}
	return next
}
