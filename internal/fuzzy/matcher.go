package fuzzy

import (
	"context"
	"math"
	"strings"
)

// Choices is a candidate set prepared for repeated matching. It is immutable
// and safe for concurrent use.
type Choices struct {
	labels    []string
	processed []string
	exact     map[string]bool
	folded    map[string]string
}

// NewChoices processes candidates once. Order is preserved and decides ties.
func NewChoices(candidates []string) *Choices {
	c := &Choices{
		labels:    candidates,
		processed: make([]string, len(candidates)),
		exact:     make(map[string]bool, len(candidates)),
		folded:    make(map[string]string, len(candidates)),
	}
	for i, label := range candidates {
		c.processed[i] = Process(label)
		c.exact[label] = true
		fold := strings.ToLower(label)
		if _, ok := c.folded[fold]; !ok {
			c.folded[fold] = label
		}
	}
	return c
}

// Canonical returns label itself when it is a candidate, otherwise the first
// candidate equal to it ignoring case.
func (c *Choices) Canonical(label string) (string, bool) {
	if c == nil {
		return "", false
	}
	if c.exact[label] {
		return label, true
	}
	got, ok := c.folded[strings.ToLower(label)]
	return got, ok
}

// Len returns the number of candidates.
func (c *Choices) Len() int {
	if c == nil {
		return 0
	}
	return len(c.labels)
}

// Matcher picks the best scoring candidate for a query.
type Matcher struct{}

// NewMatcher returns a Matcher using the default processor.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// BestMatch returns the best scoring candidate and its score. Ties keep the
// earliest candidate. An empty query or candidate list scores 0.
func (m *Matcher) BestMatch(query string, candidates []string) (string, int) {
	match, score, _ := m.Best(context.Background(), query, NewChoices(candidates))
	return match, score
}

// Best is BestMatch over prepared choices. It stops early with ctx's error
// when ctx is cancelled.
func (m *Matcher) Best(ctx context.Context, query string, choices *Choices) (string, int, error) {
	q := Process(query)
	if q == "" || choices.Len() == 0 {
		return "", 0, nil
	}

	bestIdx, bestScore := -1, -1.0
	for i, p := range choices.processed {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return "", 0, err
			}
		}
		s := score(q, p)
		if s > bestScore {
			bestIdx, bestScore = i, s
			if s == 100 {
				break
			}
		}
	}
	return choices.labels[bestIdx], int(math.Round(bestScore)), nil
}
