// Package overlap computes a synonym-aware Jaccard similarity between
// two concept sets, typically the concepts extracted from code and the
// concepts claimed in a viva transcript.
package overlap

import (
	"strings"
)

var groupIndex map[string]int

func init() {
	groupIndex = make(map[string]int)
	for i, group := range synonymGroups {
		for _, member := range group {
			groupIndex[stem(member)] = i
		}
	}
}

// Canonicalize lowercases, normalizes separators and stems one token.
func Canonicalize(token string) string {
	t := strings.ToLower(strings.TrimSpace(token))
	t = strings.ReplaceAll(t, " ", "_")
	t = strings.ReplaceAll(t, "-", "_")
	return stem(t)
}

// stem strips a trailing -s and then -ing, -ed or a silent -e from each
// underscore-separated part, so "iterating", "iterate" and "iterates"
// land on the same root. Short parts are left alone so "ring" or "red"
// do not collapse.
func stem(token string) string {
	parts := strings.Split(token, "_")
	for i, p := range parts {
		if len(p) > 3 && strings.HasSuffix(p, "s") && !strings.HasSuffix(p, "ss") {
			p = p[:len(p)-1]
		}
		switch {
		case len(p) > 5 && strings.HasSuffix(p, "ing"):
			p = p[:len(p)-3]
		case len(p) > 4 && strings.HasSuffix(p, "ed"):
			p = p[:len(p)-2]
		case len(p) > 5 && strings.HasSuffix(p, "e"):
			p = p[:len(p)-1]
		}
		parts[i] = p
	}
	return strings.Join(parts, "_")
}

// expand maps a set of raw tokens to the set of synonym-group IDs they
// touch. Tokens outside every group keep their own identity.
func expand(tokens []string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range tokens {
		c := Canonicalize(tok)
		if c == "" {
			continue
		}
		if idx, ok := groupIndex[c]; ok {
			out["g:"+synonymGroups[idx][0]] = true
		} else {
			out["t:"+c] = true
		}
	}
	return out
}

// Score computes the Jaccard similarity of the expanded sets.
// It is symmetric, deterministic, and returns 0 when either side is
// empty after canonicalization.
func Score(a, b []string) float64 {
	ea, eb := expand(a), expand(b)
	if len(ea) == 0 || len(eb) == 0 {
		return 0
	}
	inter := 0
	for k := range ea {
		if eb[k] {
			inter++
		}
	}
	union := len(ea) + len(eb) - inter
	return float64(inter) / float64(union)
}

// ExtractTranscriptConcepts scans free text for mentions of any synonym
// group member and returns the canonical token of each group found.
func ExtractTranscriptConcepts(transcript string) []string {
	normalized := " " + nonWord.Replace(strings.ToLower(transcript)) + " "
	var found []string
	seen := make(map[int]bool)
	for i, group := range synonymGroups {
		if seen[i] {
			continue
		}
		for _, member := range group {
			phrase := " " + strings.ReplaceAll(member, "_", " ") + " "
			if strings.Contains(normalized, phrase) || containsStemmed(normalized, member) {
				found = append(found, group[0])
				seen[i] = true
				break
			}
		}
	}
	return found
}

var nonWord = strings.NewReplacer(
	",", " ", ".", " ", ";", " ", ":", " ", "!", " ", "?", " ",
	"(", " ", ")", " ", "'", " ", "\"", " ", "\n", " ", "\t", " ",
)

// containsStemmed checks whether any whitespace word of the text stems
// to the (single-word) group member.
func containsStemmed(normalized, member string) bool {
	if strings.Contains(member, "_") {
		return false
	}
	for _, word := range strings.Fields(normalized) {
		if stem(word) == member {
			return true
		}
	}
	return false
}
