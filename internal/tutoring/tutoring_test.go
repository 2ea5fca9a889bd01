package tutoring

import (
	"context"
	"strings"
	"testing"

	"github.com/edforge/mentor/internal/affect"
	"github.com/edforge/mentor/internal/i18n"
	"github.com/edforge/mentor/internal/llm"
	"github.com/edforge/mentor/internal/model"
)

func init() {
	if err := i18n.Init("en"); err != nil {
		panic(err)
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from  State
		event Event
		want  State
	}{
		{StateReceive, EventSubmission, StateAnalyze},
		{StateAnalyze, EventAnalyzed, StateAssess},
		{StateAssess, EventRouteGentle, StateGentle},
		{StateAssess, EventRouteSocratic, StateSocratic},
		{StateAssess, EventRouteChallenge, StateChallenge},
		{StateAssess, EventNoIntervention, StateDeliver},
		{StateGentle, EventHintReady, StateDeliver},
		{StateSocratic, EventHintReady, StateDeliver},
		{StateChallenge, EventHintReady, StateDeliver},
	}
	for _, tt := range tests {
		got, err := Next(tt.from, tt.event)
		if err != nil {
			t.Errorf("Next(%s, %s): %v", tt.from, tt.event, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Next(%s, %s) = %s, want %s", tt.from, tt.event, got, tt.want)
		}
	}
}

func TestInvalidTransition(t *testing.T) {
	if _, err := Next(StateDeliver, EventSubmission); err == nil {
		t.Error("deliver is terminal; expected an error")
	}
	if _, err := Next(StateReceive, EventHintReady); err == nil {
		t.Error("expected an error for an undefined edge")
	}
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name    string
		st      affect.State
		mastery float64
		want    model.HintPath
	}{
		{"frustrated", affect.State{Frustration: 0.8}, 0.5, model.PathGentle},
		{"bored and strong", affect.State{Boredom: 0.7}, 0.8, model.PathChallenge},
		{"bored but weak", affect.State{Boredom: 0.7}, 0.3, model.PathSocratic},
		{"default", affect.State{}, 0.5, model.PathSocratic},
		{"frustration beats boredom", affect.State{Frustration: 0.8, Boredom: 0.9}, 0.9, model.PathGentle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Route(tt.st, tt.mastery); got != tt.want {
				t.Errorf("Route = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNextLevel(t *testing.T) {
	tests := []struct {
		name        string
		current     int
		attempts    int
		frustration float64
		want        int
	}{
		{"first hint", 0, 0, 0, 1},
		{"advance", 1, 1, 0, 2},
		{"cap at three", 3, 1, 0.2, 3},
		{"level four gated by attempts", 3, 2, 0.9, 3},
		{"level four gated by frustration", 3, 5, 0.3, 3},
		{"level four unlocked", 3, 3, 0.6, 4},
		{"stays at four", 4, 6, 0.9, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextLevel(tt.current, tt.attempts, tt.frustration)
			if got != tt.want {
				t.Errorf("NextLevel(%d, %d, %v) = %d, want %d",
					tt.current, tt.attempts, tt.frustration, got, tt.want)
			}
		})
	}
}

func missingBaseCaseAnalysis() model.CodeAnalysisResult {
	return model.CodeAnalysisResult{
		IsValid: true,
		Pattern: model.PatternRecursive,
		Issues:  []model.Issue{model.IssueMissingBaseCase},
		IssueDetails: []model.IssueDetail{{
			Issue:       model.IssueMissingBaseCase,
			Line:        1,
			Description: "Recursive function `factorial` has no detectable base case.",
			Suggestion:  "When should `factorial` stop calling itself?",
		}},
		ApproachSummary: "Student's code uses a recursive approach.",
	}
}

func TestGenerateUsesLLM(t *testing.T) {
	mock := llm.NewMock(llm.MockResponse{Text: "What should your function return for the smallest input?"})
	g := NewGenerator(mock)

	res := g.Generate(context.Background(), HintRequest{
		Path:     model.PathSocratic,
		Level:    1,
		Problem:  "factorial",
		Code:     "def factorial(n): ...",
		Analysis: missingBaseCaseAnalysis(),
	})
	if res.Fallback {
		t.Fatal("expected LLM hint, got fallback")
	}
	if res.TeachingFocus != string(model.IssueMissingBaseCase) {
		t.Errorf("focus = %s", res.TeachingFocus)
	}
	if len(mock.CompleteCalls) != 1 || mock.CompleteCalls[0].Purpose != llm.PurposeHint {
		t.Errorf("unexpected llm calls: %+v", mock.CompleteCalls)
	}
}

func TestGenerateFallbackWhenLLMDown(t *testing.T) {
	g := NewGenerator(llm.NewMock()) // empty queue: always unavailable

	res := g.Generate(context.Background(), HintRequest{
		Path:     model.PathSocratic,
		Level:    1,
		Analysis: missingBaseCaseAnalysis(),
	})
	if !res.Fallback {
		t.Fatal("expected fallback")
	}
	if !strings.Contains(res.Text, "stop calling itself") {
		t.Errorf("fallback should build on the issue suggestion: %q", res.Text)
	}
}

func TestGenerateFiltersCodeFences(t *testing.T) {
	t.Run("retry succeeds", func(t *testing.T) {
		mock := llm.NewMock(
			llm.MockResponse{Text: "Do this:\n```python\nreturn 1\n```"},
			llm.MockResponse{Text: "Think about the smallest input."},
		)
		g := NewGenerator(mock)
		res := g.Generate(context.Background(), HintRequest{
			Path: model.PathSocratic, Level: 2, Analysis: missingBaseCaseAnalysis(),
		})
		if res.Fallback {
			t.Fatal("retry should have recovered")
		}
		if containsCodeFence(res.Text) {
			t.Error("filtered hint still has a fence")
		}
		if len(mock.CompleteCalls) != 2 {
			t.Errorf("calls = %d, want 2", len(mock.CompleteCalls))
		}
		if !strings.Contains(mock.CompleteCalls[1].Prompt, "STRICT") {
			t.Error("second request should be stricter")
		}
	})

	t.Run("second leak downgrades to fallback", func(t *testing.T) {
		mock := llm.NewMock(
			llm.MockResponse{Text: "```code```"},
			llm.MockResponse{Text: "again ```code```"},
		)
		g := NewGenerator(mock)
		res := g.Generate(context.Background(), HintRequest{
			Path: model.PathSocratic, Level: 3, Analysis: missingBaseCaseAnalysis(),
		})
		if !res.Fallback {
			t.Fatal("expected fallback after repeated leak")
		}
		if containsCodeFence(res.Text) {
			t.Error("fallback must never contain code fences")
		}
	})

	t.Run("level four may contain code", func(t *testing.T) {
		mock := llm.NewMock(llm.MockResponse{Text: "Fill in:\n```python\nif n == 0: return ____\n```"})
		g := NewGenerator(mock)
		res := g.Generate(context.Background(), HintRequest{
			Path: model.PathGentle, Level: 4, Analysis: missingBaseCaseAnalysis(),
		})
		if res.Fallback {
			t.Error("level 4 should accept fenced snippets")
		}
	})
}

func TestFallbackHintLevels(t *testing.T) {
	a := missingBaseCaseAnalysis()
	seen := map[string]bool{}
	for level := 1; level <= 4; level++ {
		text := FallbackHint(level, a)
		if text == "" {
			t.Fatalf("level %d fallback empty", level)
		}
		if level <= 3 && containsCodeFence(text) {
			t.Errorf("level %d fallback contains code fence", level)
		}
		seen[text] = true
	}
	if len(seen) != 4 {
		t.Error("fallback hints should differ per level")
	}

	clean := FallbackHint(1, model.CodeAnalysisResult{IsValid: true})
	if clean == "" {
		t.Error("clean-code fallback empty")
	}
}

func TestApplyTone(t *testing.T) {
	base := "What is the base case?"

	gentle := ApplyTone(base, affect.ToneGentle)
	if !strings.Contains(gentle, base) || gentle == base {
		t.Error("gentle tone should wrap the hint")
	}
	challenge := ApplyTone(base, affect.ToneChallenge)
	if !strings.Contains(challenge, base) || challenge == base {
		t.Error("challenge tone should wrap the hint")
	}
	if got := ApplyTone(base, affect.ToneNeutral); got != base {
		t.Errorf("neutral tone should not change the hint: %q", got)
	}
}
