package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/edforge/mentor/internal/model"
)

// visitor turns source code into a language-neutral structural survey.
// Adding a language is a matter of registering a new visitor.
type visitor interface {
	// Survey parses the code and returns its structural digest.
	// A non-nil error means the parser itself failed, not that the
	// student's code is wrong; student syntax errors land in
	// survey.syntaxErrors with a valid (empty) survey.
	Survey(code string) (*survey, error)
}

// survey is the structural digest a visitor produces. Pattern detection,
// concept mapping and metric assembly in this file work only on surveys,
// so they are shared across languages.
type survey struct {
	functions    []funcInfo
	loops        []loopInfo
	conditionals int
	boolOps      int
	assigned     map[string]int // name → first assignment line
	readCounts   map[string]int
	maxNesting   int
	dataStructs  []string
	syntaxErrors []string
	issues       []model.IssueDetail // language-specific heuristics
}

type funcInfo struct {
	name        string
	params      []string
	startLine   int
	hasReturn   bool
	selfCalls   int
	hasBaseCase bool
	calls       []string
	loops       int
	branches    int
	boolOps     int
}

type loopInfo struct {
	kind      string // "for" | "while"
	line      int
	hasBreak  bool
	hasReturn bool
	nested    bool
}

// Analyzer dispatches code analysis to per-language visitors.
// Analysis is pure and deterministic; identical inputs produce
// identical results.
type Analyzer struct {
	visitors map[string]visitor
}

// New returns an Analyzer with the built-in language support.
func New() *Analyzer {
	return &Analyzer{
		visitors: map[string]visitor{
			"python": &pythonVisitor{},
		},
	}
}

// Supports reports whether the given language has a registered visitor.
func (a *Analyzer) Supports(language string) bool {
	_, ok := a.visitors[strings.ToLower(language)]
	return ok
}

// Analyze runs the structural analysis for one submission.
// Student syntax errors produce IsValid=false with neutral defaults;
// the returned error is non-nil only when the language is unsupported
// or the visitor itself failed.
func (a *Analyzer) Analyze(code, language string) (model.CodeAnalysisResult, error) {
	v, ok := a.visitors[strings.ToLower(language)]
	if !ok {
		return emptyResult(), fmt.Errorf("analyze: unsupported language %q", language)
	}

	sv, err := v.Survey(code)
	if err != nil {
		return emptyResult(), fmt.Errorf("analyze: %w", err)
	}

	if len(sv.syntaxErrors) > 0 {
		res := emptyResult()
		res.SyntaxErrors = sv.syntaxErrors
		return res, nil
	}

	pattern := detectPattern(sv)
	res := model.CodeAnalysisResult{
		IsValid:      true,
		SyntaxErrors: []string{},
		Pattern:      pattern,
		Functions:    profiles(sv),
		Metrics:      metrics(sv),
		IssueDetails: sv.issues,
		Issues:       issueList(sv.issues),
		Concepts:     concepts(sv, pattern),
		DataStructures: append([]string(nil),
			sv.dataStructs...),
	}
	res.ApproachSummary = summarize(sv, pattern, res.Issues)
	return res, nil
}

func emptyResult() model.CodeAnalysisResult {
	return model.CodeAnalysisResult{
		IsValid:        false,
		SyntaxErrors:   []string{},
		Pattern:        model.PatternUnknown,
		Functions:      []model.FunctionProfile{},
		Issues:         []model.Issue{},
		IssueDetails:   []model.IssueDetail{},
		Concepts:       []string{},
		DataStructures: []string{},
	}
}

func profiles(sv *survey) []model.FunctionProfile {
	out := make([]model.FunctionProfile, 0, len(sv.functions))
	for _, f := range sv.functions {
		out = append(out, model.FunctionProfile{
			Name:        f.name,
			Params:      append([]string(nil), f.params...),
			StartLine:   f.startLine,
			HasReturn:   f.hasReturn,
			IsRecursive: f.selfCalls > 0,
			HasBaseCase: f.hasBaseCase,
			Calls:       append([]string(nil), f.calls...),
			LoopCount:   f.loops,
			// 1 + branches + loops + boolean connectives
			CyclomaticComplexity: 1 + f.branches + f.loops + f.boolOps,
		})
	}
	return out
}

func metrics(sv *survey) model.Metrics {
	hasRec := false
	for _, f := range sv.functions {
		if f.selfCalls > 0 {
			hasRec = true
		}
	}
	return model.Metrics{
		Functions:    len(sv.functions),
		Loops:        len(sv.loops),
		Conditionals: sv.conditionals,
		Variables:    len(sv.assigned),
		Complexity:   1 + sv.conditionals + len(sv.loops) + sv.boolOps,
		HasRecursion: hasRec,
		NestingDepth: sv.maxNesting,
	}
}

func issueList(details []model.IssueDetail) []model.Issue {
	seen := make(map[model.Issue]bool)
	out := []model.Issue{}
	for _, d := range details {
		if !seen[d.Issue] {
			seen[d.Issue] = true
			out = append(out, d.Issue)
		}
	}
	return out
}

// detectPattern classifies the algorithm shape. Rules are checked from
// most specific to least; the first match wins.
func detectPattern(sv *survey) model.AlgorithmPattern {
	recursive := false
	multiSelfCall := false
	for _, f := range sv.functions {
		if f.selfCalls > 0 {
			recursive = true
		}
		if f.selfCalls >= 2 {
			multiSelfCall = true
		}
	}

	hasMemo := anyVar(sv, "memo", "cache", "dp", "table", "matrix")
	hasLoHi := (hasVar(sv, "lo") || hasVar(sv, "left") || hasVar(sv, "low")) &&
		(hasVar(sv, "hi") || hasVar(sv, "right") || hasVar(sv, "high"))
	hasWindow := anyVar(sv, "window", "win") ||
		((hasVar(sv, "start") || hasVar(sv, "begin")) && hasVar(sv, "end"))

	nested := false
	for _, l := range sv.loops {
		if l.nested {
			nested = true
		}
	}

	switch {
	case recursive && (multiSelfCall || hasLoHi):
		return model.PatternDivideConquer
	case recursive && hasMemo:
		return model.PatternDynamicProg
	case recursive:
		return model.PatternRecursive
	case hasLoHi && len(sv.loops) > 0:
		return model.PatternTwoPointer
	case hasWindow && len(sv.loops) > 0:
		return model.PatternSlidingWindow
	case hasMemo && nested:
		return model.PatternDynamicProg
	case sorted(sv) && len(sv.loops) == 1:
		return model.PatternGreedy
	case nested:
		return model.PatternBruteForce
	case len(sv.loops) > 0:
		return model.PatternIterative
	default:
		return model.PatternUnknown
	}
}

func sorted(sv *survey) bool {
	for _, f := range sv.functions {
		for _, c := range f.calls {
			if c == "sorted" || c == "sort" {
				return true
			}
		}
	}
	return false
}

func hasVar(sv *survey, name string) bool {
	_, ok := sv.assigned[name]
	return ok
}

func anyVar(sv *survey, substrs ...string) bool {
	for v := range sv.assigned {
		for _, s := range substrs {
			if strings.Contains(v, s) {
				return true
			}
		}
	}
	return false
}

// patternConcepts maps a detected pattern to curriculum concept tokens.
var patternConcepts = map[model.AlgorithmPattern][]string{
	model.PatternRecursive:     {"recursion"},
	model.PatternDivideConquer: {"recursion", "divide_and_conquer"},
	model.PatternDynamicProg:   {"recursion", "dynamic_programming"},
	model.PatternTwoPointer:    {"two_pointers", "arrays"},
	model.PatternSlidingWindow: {"sliding_window", "arrays"},
	model.PatternBruteForce:    {"time_complexity"},
	model.PatternGreedy:        {"greedy", "sorting"},
}

func concepts(sv *survey, pattern model.AlgorithmPattern) []string {
	set := make(map[string]bool)
	for _, c := range patternConcepts[pattern] {
		set[c] = true
	}
	if len(sv.loops) > 0 {
		set["loops"] = true
	}
	if len(sv.functions) > 0 {
		set["functions"] = true
	}
	if sv.conditionals > 0 {
		set["conditionals"] = true
	}
	for _, ds := range sv.dataStructs {
		set[dsConcept(ds)] = true
	}
	for _, f := range sv.functions {
		nameConcepts(f.name, set)
	}
	if set["searching"] && (hasVar(sv, "mid") || hasVar(sv, "middle")) {
		set["binary_search"] = true
	}

	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func dsConcept(ds string) string {
	switch ds {
	case "dict":
		return "hash_map"
	case "list":
		return "arrays"
	case "set":
		return "sets"
	case "stack":
		return "stacks"
	case "queue":
		return "queues"
	case "linked_list":
		return "linked_lists"
	case "tree":
		return "trees"
	}
	return ds
}

func nameConcepts(name string, set map[string]bool) {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "sort"):
		set["sorting"] = true
	case strings.Contains(n, "search"), strings.Contains(n, "find"):
		set["searching"] = true
	case strings.Contains(n, "tree"), strings.Contains(n, "node"):
		set["trees"] = true
	case strings.Contains(n, "graph"):
		set["graphs"] = true
	case strings.Contains(n, "fib"), strings.Contains(n, "factorial"):
		set["recursion"] = true
	}
}

// summarize builds the one-sentence approach description injected into
// LLM prompts.
func summarize(sv *survey, pattern model.AlgorithmPattern, issues []model.Issue) string {
	parts := []string{}
	if n := len(sv.functions); n > 0 {
		names := make([]string, 0, n)
		for _, f := range sv.functions {
			names = append(names, f.name)
		}
		parts = append(parts, fmt.Sprintf("defines %d function(s): %s", n, strings.Join(names, ", ")))
	}
	parts = append(parts, fmt.Sprintf("uses a %s approach", strings.ReplaceAll(string(pattern), "_", " ")))
	if n := len(sv.loops); n > 0 {
		parts = append(parts, fmt.Sprintf("%d loop(s)", n))
	}
	if len(sv.dataStructs) > 0 {
		parts = append(parts, "data structures: "+strings.Join(sv.dataStructs, ", "))
	}
	if len(issues) > 0 {
		names := make([]string, 0, len(issues))
		for _, i := range issues {
			names = append(names, strings.ReplaceAll(string(i), "_", " "))
		}
		parts = append(parts, "potential issues: "+strings.Join(names, ", "))
	}
	return "Student's code " + strings.Join(parts, "; ") + "."
}
