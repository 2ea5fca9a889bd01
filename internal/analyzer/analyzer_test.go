package analyzer

import (
	"reflect"
	"testing"

	"github.com/edforge/mentor/internal/model"
)

func analyze(t *testing.T, code string) model.CodeAnalysisResult {
	t.Helper()
	res, err := New().Analyze(code, "python")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return res
}

func TestUnsupportedLanguage(t *testing.T) {
	_, err := New().Analyze("x = 1", "cobol")
	if err == nil {
		t.Fatal("expected error for unsupported language")
	}
}

func TestSyntaxError(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"missing colon", "def f(n)\n    return n"},
		{"unclosed bracket", "x = (1 + 2"},
		{"unexpected indent", "x = 1\n    y = 2"},
		{"empty block", "def f(n):\nx = 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := analyze(t, tt.code)
			if res.IsValid {
				t.Error("expected IsValid=false")
			}
			if len(res.SyntaxErrors) == 0 {
				t.Error("expected syntax errors")
			}
			if res.Pattern != model.PatternUnknown {
				t.Errorf("expected unknown pattern, got %s", res.Pattern)
			}
			if res.Functions == nil || res.Issues == nil || res.Concepts == nil {
				t.Error("invalid result must keep empty, non-nil fields")
			}
		})
	}
}

func TestMissingBaseCase(t *testing.T) {
	res := analyze(t, "def factorial(n):\n    return n * factorial(n-1)")

	if !res.IsValid {
		t.Fatalf("expected valid code, syntax errors: %v", res.SyntaxErrors)
	}
	if res.Pattern != model.PatternRecursive {
		t.Errorf("pattern = %s, want recursive", res.Pattern)
	}
	if !res.HasIssue(model.IssueMissingBaseCase) {
		t.Errorf("expected missing_base_case, got %v", res.Issues)
	}
	if len(res.Functions) != 1 {
		t.Fatalf("expected 1 function profile, got %d", len(res.Functions))
	}
	fp := res.Functions[0]
	if fp.Name != "factorial" || !fp.IsRecursive || fp.HasBaseCase {
		t.Errorf("bad profile: %+v", fp)
	}
	if !res.Metrics.HasRecursion {
		t.Error("metrics should report recursion")
	}
}

func TestCorrectFactorial(t *testing.T) {
	code := "def factorial(n):\n    if n == 0: return 1\n    return n * factorial(n-1)"
	res := analyze(t, code)

	if res.Pattern != model.PatternRecursive {
		t.Errorf("pattern = %s, want recursive", res.Pattern)
	}
	if res.HasIssue(model.IssueMissingBaseCase) {
		t.Error("base case should have been detected")
	}
	if !res.Functions[0].HasBaseCase {
		t.Error("profile should carry HasBaseCase")
	}
	found := false
	for _, c := range res.Concepts {
		if c == "recursion" {
			found = true
		}
	}
	if !found {
		t.Errorf("concepts should include recursion: %v", res.Concepts)
	}
}

func TestDeterminism(t *testing.T) {
	code := "def search(arr, x):\n" +
		"    lo = 0\n" +
		"    hi = len(arr) - 1\n" +
		"    while lo <= hi:\n" +
		"        mid = (lo + hi) // 2\n" +
		"        if arr[mid] == x:\n" +
		"            return mid\n" +
		"        if arr[mid] < x:\n" +
		"            lo = mid + 1\n" +
		"        else:\n" +
		"            hi = mid - 1\n" +
		"    return -1\n"

	first := analyze(t, code)
	for i := 0; i < 5; i++ {
		if got := analyze(t, code); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs from first run", i)
		}
	}
}

func TestPatternDetection(t *testing.T) {
	tests := []struct {
		name string
		code string
		want model.AlgorithmPattern
	}{
		{
			"iterative",
			"total = 0\nfor i in range(10):\n    total += i\n",
			model.PatternIterative,
		},
		{
			"brute force",
			"def pairs(arr):\n    count = 0\n    for i in range(len(arr)):\n        for j in range(len(arr)):\n            count += 1\n    return count\n",
			model.PatternBruteForce,
		},
		{
			"divide and conquer",
			"def msort(arr, lo, hi):\n    if lo >= hi: return\n    mid = (lo + hi) // 2\n    msort(arr, lo, mid)\n    msort(arr, mid + 1, hi)\n",
			model.PatternDivideConquer,
		},
		{
			"two pointer",
			"def rev(arr):\n    left = 0\n    right = len(arr) - 1\n    while left < right:\n        arr[left], arr[right] = arr[right], arr[left]\n        left += 1\n        right -= 1\n",
			model.PatternTwoPointer,
		},
		{
			"memoized fib with two self-calls",
			"def fib(n, memo):\n    if n < 2: return n\n    if n in memo: return memo[n]\n    memo[n] = fib(n-1, memo) + fib(n-2, memo)\n    return memo[n]\n",
			model.PatternDivideConquer, // two self-calls outrank the memo signal
		},
		{
			"unknown",
			"x = 1\ny = x + 2\nprint(y)\n",
			model.PatternUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := analyze(t, tt.code)
			if !res.IsValid {
				t.Fatalf("syntax errors: %v", res.SyntaxErrors)
			}
			if res.Pattern != tt.want {
				t.Errorf("pattern = %s, want %s", res.Pattern, tt.want)
			}
		})
	}
}

func TestIssueHeuristics(t *testing.T) {
	tests := []struct {
		name string
		code string
		want model.Issue
	}{
		{
			"infinite loop",
			"n = 10\nwhile n > 0:\n    print(n)\n",
			model.IssueInfiniteLoop,
		},
		{
			"missing return",
			"def add(a, b):\n    total = a + b\n    print(total)\n",
			model.IssueMissingReturn,
		},
		{
			"unused variable",
			"def f(n):\n    unused_thing = 42 * n\n    return n\n",
			model.IssueUnusedVariable,
		},
		{
			"shadowed builtin",
			"list = [1, 2, 3]\nprint(list)\n",
			model.IssueShadowedName,
		},
		{
			"broad except",
			"try:\n    x = 1\nexcept:\n    pass\n",
			model.IssueBroadExcept,
		},
		{
			"undefined name",
			"result = helper(5)\nprint(result)\n",
			model.IssueUndefinedName,
		},
		{
			"unreachable code",
			"def f(n):\n    return n\n    print(n)\n",
			model.IssueUnreachableCode,
		},
		{
			"off by one",
			"def f(arr):\n    i = 0\n    while i <= len(arr):\n        i += 1\n    return i\n",
			model.IssueOffByOne,
		},
		{
			"mutation in iterator",
			"def f(items):\n    for x in items:\n        items.remove(x)\n",
			model.IssueMutationInIterator,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := analyze(t, tt.code)
			if !res.IsValid {
				t.Fatalf("syntax errors: %v", res.SyntaxErrors)
			}
			if !res.HasIssue(tt.want) {
				t.Errorf("expected %s in %v", tt.want, res.Issues)
			}
		})
	}
}

func TestTerminatingWhileNotFlagged(t *testing.T) {
	res := analyze(t, "n = 10\nwhile n > 0:\n    n -= 1\n")
	if res.HasIssue(model.IssueInfiniteLoop) {
		t.Error("loop that moves its condition variable should not be flagged")
	}
}

func TestCyclomaticComplexity(t *testing.T) {
	// 1 base + 2 branches + 1 loop + 1 connective = 5
	code := "def f(a, b):\n" +
		"    if a > 0 and b > 0:\n" +
		"        return a\n" +
		"    for i in range(b):\n" +
		"        if i == a:\n" +
		"            return i\n" +
		"    return b\n"
	res := analyze(t, code)
	if got := res.Functions[0].CyclomaticComplexity; got != 5 {
		t.Errorf("cyclomatic complexity = %d, want 5", got)
	}
}

func TestConceptsAndSummary(t *testing.T) {
	code := "def binary_search(arr, x):\n" +
		"    lo = 0\n" +
		"    hi = len(arr) - 1\n" +
		"    while lo <= hi:\n" +
		"        mid = (lo + hi) // 2\n" +
		"        if arr[mid] == x:\n" +
		"            return mid\n" +
		"        if arr[mid] < x:\n" +
		"            lo = mid + 1\n" +
		"        else:\n" +
		"            hi = mid - 1\n" +
		"    return -1\n"
	res := analyze(t, code)

	want := map[string]bool{"searching": true, "binary_search": true, "loops": true, "functions": true}
	got := map[string]bool{}
	for _, c := range res.Concepts {
		got[c] = true
	}
	for c := range want {
		if !got[c] {
			t.Errorf("missing concept %s in %v", c, res.Concepts)
		}
	}
	if res.ApproachSummary == "" {
		t.Error("expected a non-empty approach summary")
	}
}
