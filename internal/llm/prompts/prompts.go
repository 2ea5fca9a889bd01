// Package prompts builds the user prompts for each LLM purpose from
// text templates, keeping the wording in one reviewable place.
package prompts

import (
	"strings"
	"sync"
	"text/template"

	"github.com/edforge/mentor/internal/model"
)

// HintData parameterizes the tutoring hint prompt.
type HintData struct {
	Path          string // gentle | socratic | challenge
	Level         int    // 1-4
	Problem       string
	Code          string
	Summary       string // analyzer approach summary
	Issues        []model.IssueDetail
	PreviousHint  string
	TeachingFocus string
}

const hintTmpl = `PROBLEM:
{{.Problem}}

STUDENT'S CODE:
{{.Code}}

STRUCTURAL ANALYSIS:
{{.Summary}}
{{- if .Issues}}
Detected issues:
{{- range .Issues}}
  - line {{.Line}}: {{.Description}} ({{.Suggestion}})
{{- end}}
{{- end}}
{{- if .PreviousHint}}

PREVIOUS HINT (do not repeat it):
{{.PreviousHint}}
{{- end}}

PATH: {{.Path}}
{{.LevelInstruction}}`

// LevelInstruction renders the per-level constraint appended to the
// hint prompt.
func (d HintData) LevelInstruction() string {
	switch d.Level {
	case model.LevelConceptualNudge:
		return "LEVEL 2 — conceptual nudge: name the CATEGORY of the missing idea " +
			"(for example, the termination condition of their recursion) without " +
			"stating the fix. No code."
	case model.LevelPseudoCode:
		return "LEVEL 3 — pseudo-code sketch: outline the shape of the solution in " +
			"plain-language steps with blanks (____) for the student to fill. " +
			"Use their variable and function names. No literal code."
	case model.LevelDirect:
		return "LEVEL 4 — direct pointer: state the specific correction needed, " +
			"minimally. You may include a short snippet with blanks to complete."
	default:
		return "LEVEL 1 — guiding question: ask ONE concise Socratic question that " +
			"names no algorithm and shows no code."
	}
}

// QuestionData parameterizes viva question generation.
type QuestionData struct {
	Code      string
	Pattern   string
	Summary   string
	Functions []model.FunctionProfile
	Concepts  []string
	Count     int
}

const questionTmpl = `A student submitted this code:
{{.Code}}

STRUCTURAL ANALYSIS:
  Algorithm pattern: {{.Pattern}}
  Summary: {{.Summary}}
{{- range .Functions}}
  Function {{.Name}}({{join .Params ", "}}){{if .IsRecursive}} [recursive{{if not .HasBaseCase}}, NO base case{{end}}]{{end}}
{{- end}}
  Concepts: {{join .Concepts ", "}}

Write {{.Count}} oral-examination questions about THIS code:
  1. one about a base case or edge case,
  2. one about an invariant or the loop/recursion reasoning,
  3. one about complexity or an alternative approach.

Respond with JSON: {"questions": ["...", "...", "..."]}`

// ScoreData parameterizes viva answer scoring.
type ScoreData struct {
	Code     string
	Pattern  string
	Summary  string
	Concepts []string
	Question string
	Answer   string
}

const scoreTmpl = `FULL CODE SUBMITTED:
{{.Code}}

STRUCTURAL ANALYSIS (ground truth about what the code does):
  Algorithm pattern: {{.Pattern}}
  Summary: {{.Summary}}
  Concepts present: {{join .Concepts ", "}}

QUESTION ASKED:
{{.Question}}

STUDENT'S SPOKEN ANSWER (transcribed):
"{{.Answer}}"

Judge whether the student genuinely understands their code. The analysis
above is the ground truth. Respond with JSON:
{"score": <0.0-1.0>, "feedback": "<one sentence>"}`

// ProblemData parameterizes practice-problem generation.
type ProblemData struct {
	Concept    string
	Difficulty string
	Language   string
}

const problemTmpl = `Write one {{.Difficulty}} practice problem exercising the concept
"{{.Concept}}" for a student working in {{.Language}}.

Respond with JSON:
{"title": "...", "description": "...", "examples": [{"input": "...", "output": "..."}], "concept": "{{.Concept}}", "difficulty": "{{.Difficulty}}"}`

var (
	once sync.Once
	set  *template.Template
)

func templates() *template.Template {
	once.Do(func() {
		set = template.New("prompts").Funcs(template.FuncMap{
			"join": strings.Join,
		})
		template.Must(set.New("hint").Parse(hintTmpl))
		template.Must(set.New("question").Parse(questionTmpl))
		template.Must(set.New("score").Parse(scoreTmpl))
		template.Must(set.New("problem").Parse(problemTmpl))
	})
	return set
}

func render(name string, data any) string {
	var sb strings.Builder
	if err := templates().ExecuteTemplate(&sb, name, data); err != nil {
		// Templates are static and data is plain structs; a failure here
		// is a programming error surfaced at test time.
		panic(err)
	}
	return sb.String()
}

// Hint renders the tutoring hint prompt.
func Hint(d HintData) string { return render("hint", d) }

// Questions renders the viva question-generation prompt.
func Questions(d QuestionData) string { return render("question", d) }

// Score renders the viva answer-scoring prompt.
func Score(d ScoreData) string { return render("score", d) }

// Problem renders the practice-problem prompt.
func Problem(d ProblemData) string { return render("problem", d) }
