// Package alignment scores how well a proposal fits the overarching
// goals of the system. Scores are in [0,100].
package alignment

import (
	"strings"
	"unicode"

	"github.com/ytnobody/accord/internal/proposal"
)

// Provider supplies the alignment input of the scoring engine. It must be
// deterministic for a given proposal and must not block.
type Provider interface {
	Alignment(p proposal.Proposal) float64
}

// NoGoalsScore is what Keyword returns when no goals are configured.
const NoGoalsScore = 75.0

// Static always returns the same score.
type Static float64

func (s Static) Alignment(proposal.Proposal) float64 { return clamp(float64(s)) }

// Keyword scores a proposal by how many goal terms appear in its action,
// outcome description and success metrics. A proposal that mentions
// nothing from any goal scores 50; one that covers every goal term
// scores 100.
type Keyword struct {
	goals [][]string
}

func NewKeyword(goals []string) *Keyword {
	k := &Keyword{}
	for _, g := range goals {
		if terms := tokenize(g); len(terms) > 0 {
			k.goals = append(k.goals, terms)
		}
	}
	return k
}

func (k *Keyword) Alignment(p proposal.Proposal) float64 {
	if len(k.goals) == 0 {
		return NoGoalsScore
	}

	words := make(map[string]struct{})
	texts := append([]string{p.Content.Action, p.Content.Outcome.Description}, p.Content.Outcome.SuccessMetrics...)
	for _, text := range texts {
		for _, w := range tokenize(text) {
			words[w] = struct{}{}
		}
	}

	var coverage float64
	for _, terms := range k.goals {
		matched := 0
		for _, term := range terms {
			if _, ok := words[term]; ok {
				matched++
			}
		}
		coverage += float64(matched) / float64(len(terms))
	}
	coverage /= float64(len(k.goals))
	return clamp(50 + 50*coverage)
}

// tokenize lowercases s and splits it into words of three or more letters
// or digits.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
