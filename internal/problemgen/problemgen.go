// Package problemgen creates practice problems targeted at a concept
// and difficulty, with a deterministic fallback per concept so the
// feature works without the LLM.
package problemgen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/edforge/mentor/internal/llm"
	"github.com/edforge/mentor/internal/llm/prompts"
	"github.com/edforge/mentor/internal/model"
)

// Example is one input/output pair for a problem statement.
type Example struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Problem is a generated practice exercise.
type Problem struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Examples    []Example `json:"examples"`
	Concept     string    `json:"concept"`
	Difficulty  string    `json:"difficulty"`
	Generated   bool      `json:"generated"` // false when served from the fallback set
}

var difficulties = map[string]bool{
	"easy": true, "medium": true, "hard": true,
}

// Generator produces problems through the LLM client.
type Generator struct {
	llm llm.Client
}

// New returns a Generator.
func New(client llm.Client) *Generator {
	return &Generator{llm: client}
}

// Generate returns a problem for the concept/difficulty pair. LLM
// output is validated before use; any failure serves the fallback.
func (g *Generator) Generate(ctx context.Context, concept, difficulty, language string) (*Problem, error) {
	concept = strings.TrimSpace(strings.ToLower(concept))
	difficulty = strings.TrimSpace(strings.ToLower(difficulty))
	if concept == "" {
		return nil, fmt.Errorf("%w: concept is required", model.ErrInvalidInput)
	}
	if difficulty == "" {
		difficulty = "medium"
	}
	if !difficulties[difficulty] {
		return nil, fmt.Errorf("%w: unknown difficulty %q", model.ErrInvalidInput, difficulty)
	}
	if language == "" {
		language = "python"
	}

	raw, err := g.llm.Complete(ctx, llm.PurposeProblemGen, prompts.Problem(prompts.ProblemData{
		Concept:    concept,
		Difficulty: difficulty,
		Language:   language,
	}))
	if err != nil {
		slog.Info("problem generation degraded to fallback", "concept", concept, "error", err)
		return fallbackProblem(concept, difficulty), nil
	}

	var p Problem
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.Title == "" || p.Description == "" {
		slog.Warn("generated problem failed validation", "concept", concept, "error", err)
		return fallbackProblem(concept, difficulty), nil
	}
	p.Concept = concept
	p.Difficulty = difficulty
	p.Generated = true
	return &p, nil
}

// fallbackProblems keeps one canned exercise per common concept.
var fallbackProblems = map[string]Problem{
	"recursion": {
		Title:       "Sum of digits",
		Description: "Write a function digit_sum(n) that returns the sum of the digits of a non-negative integer without using loops.",
		Examples:    []Example{{Input: "1234", Output: "10"}, {Input: "0", Output: "0"}},
	},
	"loops": {
		Title:       "Running maximum",
		Description: "Write a function running_max(values) that returns a list where each position holds the largest value seen so far.",
		Examples:    []Example{{Input: "[2, 1, 5, 3]", Output: "[2, 2, 5, 5]"}},
	},
	"hash_map": {
		Title:       "First unique character",
		Description: "Write a function first_unique(s) that returns the first character appearing exactly once in s, or None.",
		Examples:    []Example{{Input: "\"swiss\"", Output: "\"w\""}},
	},
	"two_pointers": {
		Title:       "Pair with target sum",
		Description: "Given a sorted list and a target, write pair_sum(values, target) returning indices of two values adding to the target, or None.",
		Examples:    []Example{{Input: "[1, 3, 5, 8], 8", Output: "(1, 2)"}},
	},
}

func fallbackProblem(concept, difficulty string) *Problem {
	p, ok := fallbackProblems[concept]
	if !ok {
		p = Problem{
			Title:       "Practice: " + strings.ReplaceAll(concept, "_", " "),
			Description: fmt.Sprintf("Write a small program that demonstrates %s on an input of your choice, then explain each step in a comment.", strings.ReplaceAll(concept, "_", " ")),
		}
	}
	p.Concept = concept
	p.Difficulty = difficulty
	return &p
}
