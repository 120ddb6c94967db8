package tools

import (
	"strings"
	"unicode"
)

const (
	scoreExact  = 100
	scorePrefix = 80
	scoreWord   = 70
	scoreSubstr = 60
	scoreTypo   = 40
)

// normalize lowercases s and drops separators and punctuation.
func normalize(s string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// nameScore rates how well query names candidate; 0 means no match.
func nameScore(query, candidate string) int {
	q, c := normalize(query), normalize(candidate)
	if q == "" || c == "" {
		return 0
	}
	if q == c {
		return scoreExact
	}
	if strings.HasPrefix(c, q) {
		return scorePrefix
	}
	// "Mira" finds "Captain Mira Vell".
	for _, w := range strings.Fields(strings.ToLower(candidate)) {
		if normalize(w) == q {
			return scoreWord
		}
	}
	if len([]rune(q)) >= 3 && strings.Contains(c, q) {
		return scoreSubstr
	}

	maxDist := len([]rune(q)) / 4
	if maxDist < 1 {
		maxDist = 1
	}
	if d := boundedLevenshtein(q, c, maxDist); d != nil {
		return scoreTypo - *d
	}
	for _, w := range strings.Fields(strings.ToLower(candidate)) {
		if d := boundedLevenshtein(q, normalize(w), maxDist); d != nil {
			return scoreTypo - 10 - *d
		}
	}
	return 0
}

// boundedLevenshtein returns the edit distance between a and b, or nil when it
// exceeds maxDist.
func boundedLevenshtein(a, b string, maxDist int) *int {
	if a == b {
		zero := 0
		return &zero
	}
	r1 := []rune(a)
	r2 := []rune(b)
	len1, len2 := len(r1), len(r2)
	if len1 == 0 || len2 == 0 {
		return nil
	}
	if abs(len1-len2) > maxDist {
		return nil
	}

	prev := make([]int, len2+1)
	curr := make([]int, len2+1)
	for j := 0; j <= len2; j++ {
		prev[j] = j
	}

	for i := 1; i <= len1; i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len2; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if curr[j] < rowMin {
				rowMin = curr[j]
			}
		}
		// Early exit if minimum in row exceeds threshold
		if rowMin > maxDist {
			return nil
		}
		prev, curr = curr, prev
	}

	d := prev[len2]
	if d > maxDist {
		return nil
	}
	return &d
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
