package engine

import (
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/scrypster/filmqa/internal/config"
	"github.com/scrypster/filmqa/internal/fuzzy"
	"github.com/scrypster/filmqa/internal/graph"
	"github.com/scrypster/filmqa/internal/nlp"
	"github.com/scrypster/filmqa/pkg/types"
)

var quotedSpan = regexp.MustCompile(`"([^"]+)"`)

// Categories accepted from entity extraction.
var titleCategories = map[nlp.Category]bool{
	nlp.CategoryWorkOfArt: true,
	nlp.CategoryOrg:       true,
	nlp.CategoryEvent:     true,
}

// Tags and punctuation kept by phrase extraction.
var (
	phraseTags = map[string]bool{
		"NNP": true, "NNPS": true, "NN": true, "NNS": true, "CD": true, "JJ": true,
	}
	phrasePunct = map[string]bool{
		":": true, "-": true, `"`: true, "'": true,
	}
)

// Resolver turns free text into a label of the label universe.
//
// The cascade is: first double-quoted span, then the first title-like named
// entity, then noun phrases from part-of-speech tags, and finally fuzzy
// matching of the candidate (or of the whole utterance) against the universe.
type Resolver struct {
	analyzer  nlp.Analyzer
	labels    *graph.LabelIndex
	matcher   *fuzzy.Matcher
	threshold int
	minLen    int
	stop      map[string]bool
}

// NewResolver creates a resolver. labels maps accepted labels back to graph
// identifiers and may be nil.
func NewResolver(analyzer nlp.Analyzer, labels *graph.LabelIndex, cfg config.ResolverConfig) *Resolver {
	stop := make(map[string]bool, len(cfg.StopWords))
	for _, w := range cfg.StopWords {
		stop[strings.ToLower(w)] = true
	}
	return &Resolver{
		analyzer:  analyzer,
		labels:    labels,
		matcher:   fuzzy.NewMatcher(),
		threshold: cfg.FuzzyThreshold,
		minLen:    cfg.MinInputLength,
		stop:      stop,
	}
}

// Resolve runs the cascade for utterance against universe.
func (r *Resolver) Resolve(ctx context.Context, utterance string, universe *fuzzy.Choices) types.ResolvedEntity {
	candidate, source := r.candidate(ctx, utterance)

	if candidate != "" {
		if label, ok := universe.Canonical(candidate); ok {
			return r.withID(types.ResolvedEntity{
				Label:      label,
				Confidence: types.ConfidenceExact,
				Source:     source,
			})
		}
	}

	for _, query := range []string{candidate, utterance} {
		if query == "" {
			continue
		}
		label, score, ok := r.Match(ctx, query, universe)
		if ok {
			return r.withID(types.ResolvedEntity{
				Label:      label,
				Confidence: types.ConfidenceFuzzy,
				Source:     types.SourceFuzzy,
				Score:      score,
			})
		}
	}

	res := types.Unresolved()
	if candidate != "" {
		res.Label = candidate
		res.Source = source
	}
	return res
}

// Match fuzzy-matches text against universe and accepts the best label when
// it scores at least the threshold. Inputs shorter than the minimum length
// are rejected outright.
func (r *Resolver) Match(ctx context.Context, text string, universe *fuzzy.Choices) (string, int, bool) {
	if len([]rune(strings.TrimSpace(text))) < r.minLen {
		return "", 0, false
	}
	label, score, err := r.matcher.Best(ctx, text, universe)
	if err != nil || label == "" || score < r.threshold {
		return "", score, false
	}
	return label, score, true
}

func (r *Resolver) withID(res types.ResolvedEntity) types.ResolvedEntity {
	if r.labels == nil {
		return res
	}
	if id, ok := r.labels.IDFor(res.Label); ok {
		res.ID = id
	}
	return res
}

// candidate runs the extraction steps and returns the first candidate found.
func (r *Resolver) candidate(ctx context.Context, utterance string) (string, types.ResolutionSource) {
	if m := quotedSpan.FindStringSubmatch(utterance); m != nil {
		return m[1], types.SourceQuoted
	}

	if r.analyzer == nil {
		return "", types.SourceNone
	}

	spans, err := r.analyzer.ExtractEntities(ctx, utterance)
	if err != nil {
		log.Printf("engine: entity extraction failed: %v", err)
	}
	for _, span := range spans {
		text := strings.TrimSpace(span.Text)
		if !titleCategories[span.Category] || text == "" || r.stop[strings.ToLower(text)] {
			continue
		}
		return text, types.SourceNER
	}

	tokens, err := r.analyzer.Tag(ctx, utterance)
	if err != nil {
		log.Printf("engine: tagging failed: %v", err)
		return "", types.SourceNone
	}
	if phrase := r.phrases(tokens); phrase != "" {
		return phrase, types.SourceHeuristic
	}
	return "", types.SourceNone
}

// phrases accumulates runs of noun, number and adjective tokens. Stop words
// and any other token end the current run. Runs are joined with spaces.
func (r *Resolver) phrases(tokens []nlp.Token) string {
	var (
		out     []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			out = append(out, strings.Join(current, " "))
			current = current[:0]
		}
	}
	for _, tok := range tokens {
		keep := phraseTags[tok.Tag] || phrasePunct[tok.Text]
		if !keep || r.stop[strings.ToLower(tok.Text)] {
			flush()
			continue
		}
		current = append(current, tok.Text)
	}
	flush()

	return strings.Trim(strings.Join(out, " "), ` "'`)
}
