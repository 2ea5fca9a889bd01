package viva

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/edforge/mentor/internal/i18n"
	"github.com/edforge/mentor/internal/llm"
	"github.com/edforge/mentor/internal/llm/prompts"
	"github.com/edforge/mentor/internal/model"
)

// QuestionCount is how many questions a session asks. The three slots
// target an edge case, an invariant, and complexity reasoning.
const QuestionCount = 3

// generateQuestions asks the LLM for code-specific questions and
// falls back to the deterministic templates on any failure.
func generateQuestions(ctx context.Context, client llm.Client, code string, analysis model.CodeAnalysisResult) []string {
	prompt := prompts.Questions(prompts.QuestionData{
		Code:      code,
		Pattern:   string(analysis.Pattern),
		Summary:   analysis.ApproachSummary,
		Functions: analysis.Functions,
		Concepts:  analysis.Concepts,
		Count:     QuestionCount,
	})

	raw, err := client.Complete(ctx, llm.PurposeQuestionGen, prompt)
	if err != nil {
		slog.Info("question generation degraded to templates", "error", err)
		return fallbackQuestions(analysis)
	}

	var parsed struct {
		Questions []string `json:"questions"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		slog.Warn("question generation returned bad JSON", "error", err)
		return fallbackQuestions(analysis)
	}

	var qs []string
	for _, q := range parsed.Questions {
		if s := strings.TrimSpace(q); s != "" {
			qs = append(qs, s)
		}
	}
	if len(qs) < QuestionCount {
		return fallbackQuestions(analysis)
	}
	return qs[:QuestionCount]
}

// fallbackQuestions builds the three question slots from the structural
// analysis alone. Profile-aware where it can be, generic otherwise.
func fallbackQuestions(analysis model.CodeAnalysisResult) []string {
	edge := i18n.T("viva.question.edge")
	invariant := i18n.T("viva.question.invariant")
	complexity := i18n.T("viva.question.complexity")

	for _, fp := range analysis.Functions {
		if fp.IsRecursive && !fp.HasBaseCase {
			edge = fmt.Sprintf("Your function `%s` calls itself, but what input makes it stop? Walk me through that case.", fp.Name)
			break
		}
		if fp.IsRecursive {
			invariant = fmt.Sprintf("Walk me through `%s(%s)` on a small example — how and why does the recursion stop?",
				fp.Name, strings.Join(fp.Params, ", "))
		}
	}
	if analysis.Pattern == model.PatternBruteForce {
		complexity = "Your solution uses nested loops. Can you estimate its time complexity and suggest a faster alternative?"
	}

	return []string{edge, invariant, complexity}
}
