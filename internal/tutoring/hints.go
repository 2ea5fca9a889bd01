package tutoring

import (
	"context"
	"log/slog"
	"strings"

	"github.com/edforge/mentor/internal/i18n"
	"github.com/edforge/mentor/internal/llm"
	"github.com/edforge/mentor/internal/llm/prompts"
	"github.com/edforge/mentor/internal/model"
)

// HintRequest carries everything the generator needs for one hint.
type HintRequest struct {
	Path         model.HintPath
	Level        int
	Problem      string
	Code         string
	Analysis     model.CodeAnalysisResult
	PreviousHint string
}

// HintResult is a generated (or fallback) hint.
type HintResult struct {
	Text          string
	Level         int
	Path          model.HintPath
	TeachingFocus string
	Fallback      bool
}

// Generator produces hint text, guarding the LLM with a no-solution
// filter and a deterministic fallback.
type Generator struct {
	llm llm.Client
}

// NewGenerator returns a Generator backed by the given LLM client.
func NewGenerator(client llm.Client) *Generator {
	return &Generator{llm: client}
}

// Generate produces the hint for a request. Hints at levels 1-3 must
// not contain literal solution code: a fenced block triggers one
// stricter re-request, and a second violation downgrades to the
// deterministic fallback.
func (g *Generator) Generate(ctx context.Context, req HintRequest) HintResult {
	focus := teachingFocus(req.Analysis)

	prompt := prompts.Hint(prompts.HintData{
		Path:          string(req.Path),
		Level:         req.Level,
		Problem:       req.Problem,
		Code:          req.Code,
		Summary:       req.Analysis.ApproachSummary,
		Issues:        req.Analysis.IssueDetails,
		PreviousHint:  req.PreviousHint,
		TeachingFocus: focus,
	})

	text, err := g.llm.Complete(ctx, llm.PurposeHint, prompt)
	if err != nil {
		slog.Info("hint generation degraded to fallback", "error", err)
		return g.fallback(req, focus)
	}

	if req.Level <= model.LevelPseudoCode && containsCodeFence(text) {
		slog.Warn("hint leaked code, re-requesting", "level", req.Level)
		strict := prompt + "\n\nSTRICT: your previous reply contained a code block. " +
			"Reply again with NO code blocks of any kind."
		text, err = g.llm.Complete(ctx, llm.PurposeHint, strict)
		if err != nil || containsCodeFence(text) {
			return g.fallback(req, focus)
		}
	}

	return HintResult{
		Text:          text,
		Level:         req.Level,
		Path:          req.Path,
		TeachingFocus: focus,
	}
}

// containsCodeFence reports whether text carries a fenced code block.
func containsCodeFence(text string) bool {
	return strings.Contains(text, "```")
}

func teachingFocus(a model.CodeAnalysisResult) string {
	if len(a.IssueDetails) > 0 {
		return string(a.IssueDetails[0].Issue)
	}
	return "general"
}

// fallback derives a level-appropriate hint from the detected issues
// without any LLM involvement.
func (g *Generator) fallback(req HintRequest, focus string) HintResult {
	text := FallbackHint(req.Level, req.Analysis)
	return HintResult{
		Text:          text,
		Level:         req.Level,
		Path:          req.Path,
		TeachingFocus: focus,
		Fallback:      true,
	}
}

// FallbackHint is the deterministic hint used when the LLM is
// unavailable or keeps leaking code. It builds on the analyzer's
// Socratic suggestion for the first detected issue.
func FallbackHint(level int, a model.CodeAnalysisResult) string {
	if len(a.IssueDetails) == 0 {
		switch level {
		case model.LevelConceptualNudge:
			return i18n.T("fallback.clean.level2")
		case model.LevelPseudoCode:
			return i18n.T("fallback.clean.level3")
		case model.LevelDirect:
			return i18n.T("fallback.clean.level4")
		default:
			return i18n.T("fallback.clean.level1")
		}
	}

	d := a.IssueDetails[0]
	data := map[string]any{
		"Suggestion":  d.Suggestion,
		"Description": d.Description,
		"Focus":       strings.ReplaceAll(string(d.Issue), "_", " "),
		"Line":        d.Line,
	}
	switch level {
	case model.LevelConceptualNudge:
		return i18n.Td("fallback.level2", data)
	case model.LevelPseudoCode:
		return i18n.Td("fallback.level3", data)
	case model.LevelDirect:
		return i18n.Td("fallback.level4", data)
	default:
		return i18n.Td("fallback.level1", data)
	}
}
