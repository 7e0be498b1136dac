// Package fuzzy scores approximate string matches on a 0-100 scale.
//
// Scores follow the weighted-ratio approach: strings are normalised (lower
// case, non-alphanumerics replaced by spaces), compared with a
// Levenshtein-based ratio, and when their lengths differ substantially the
// best aligned substring match is considered at a discount.
package fuzzy

import (
	"math"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Process normalises s for comparison.
func Process(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.TrimSpace(b.String())
}

// Ratio returns 100 * (1 - distance / longer length), rounded.
func Ratio(a, b string) int {
	return int(math.Round(ratio(a, b)))
}

func ratio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(d)/float64(longest))
}

// partialRatio slides the shorter string over the longer one and keeps the
// best window ratio.
func partialRatio(a, b string) float64 {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}

	s := string(short)
	best := 0.0
	for i := 0; i+len(short) <= len(long); i++ {
		r := ratio(s, string(long[i:i+len(short)]))
		if r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

func tokenSort(s string) string {
	fields := strings.Fields(s)
	slices.Sort(fields)
	return strings.Join(fields, " ")
}

// score computes the weighted ratio of two processed strings.
func score(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0
	}

	base := ratio(a, b)
	sorted := ratio(tokenSort(a), tokenSort(b)) * 0.95

	lenRatio := float64(max(la, lb)) / float64(min(la, lb))
	if lenRatio < 1.5 {
		return math.Max(base, sorted)
	}

	scale := 0.9
	if lenRatio >= 8 {
		scale = 0.6
	}
	partial := partialRatio(a, b) * scale
	partialSorted := partialRatio(tokenSort(a), tokenSort(b)) * 0.95 * scale
	return math.Max(base, math.Max(partial, partialSorted))
}

// Score returns the weighted ratio of a and b after processing, 0-100.
func Score(a, b string) int {
	return int(math.Round(score(Process(a), Process(b))))
}
