// Package scoring rates proposals for a set of participants.
//
// Every score is a pure function of the proposal, the participant set and
// the injected registry, alignment provider and constraint validator.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/ytnobody/accord/internal/agent"
	"github.com/ytnobody/accord/internal/alignment"
	"github.com/ytnobody/accord/internal/proposal"
)

// Feasibility penalties.
const (
	penaltyNotImmediate     = 10.0
	penaltyTooAggressive    = 20.0
	penaltyTooSlow          = 10.0
	penaltyCriticalRejected = 30.0
)

// Composite weights used when choosing among candidates.
const (
	compositeTotal       = 0.4
	compositeFeasibility = 0.3
	compositeAlignment   = 0.2
	compositeRisk        = 0.1
)

const day = 24 * time.Hour

var impactWeight = map[proposal.Impact]float64{
	proposal.ImpactLow:      10,
	proposal.ImpactMedium:   25,
	proposal.ImpactHigh:     50,
	proposal.ImpactCritical: 100,
}

// ProposalScore is derived on demand and never stored across rounds.
type ProposalScore struct {
	ProposalID  string
	Total       float64
	AgentScores map[agent.Role]float64
	Feasibility float64
	Alignment   float64
	Risk        float64
	// Anomaly is non-empty when the proposal content is malformed. Such a
	// proposal is kept for audit but never becomes a consensus candidate.
	Anomaly string
}

// Anomalous reports whether the proposal failed content checks.
func (s ProposalScore) Anomalous() bool { return s.Anomaly != "" }

// Composite is the weighted blend used to rank candidates.
func (s ProposalScore) Composite() float64 {
	return compositeTotal*s.Total +
		compositeFeasibility*s.Feasibility +
		compositeAlignment*s.Alignment +
		compositeRisk*s.Risk
}

// Engine computes proposal scores.
type Engine struct {
	registry  *agent.Registry
	alignment alignment.Provider
	validator ConstraintValidator
}

// NewEngine creates a scoring engine. Nil arguments fall back to the
// built-in registry, keyword alignment without goals and RuleValidator.
func NewEngine(registry *agent.Registry, align alignment.Provider, validator ConstraintValidator) *Engine {
	if registry == nil {
		registry = agent.NewRegistry(nil)
	}
	if align == nil {
		align = alignment.NewKeyword(nil)
	}
	if validator == nil {
		validator = RuleValidator{}
	}
	return &Engine{registry: registry, alignment: align, validator: validator}
}

// Score rates p for the given participants.
func (e *Engine) Score(p proposal.Proposal, participants []agent.Role) ProposalScore {
	score := ProposalScore{
		ProposalID:  p.ID,
		AgentScores: make(map[agent.Role]float64, len(participants)),
	}

	if reason := checkContent(p); reason != "" {
		score.Anomaly = reason
		for _, r := range participants {
			score.AgentScores[r] = 0
		}
		return score
	}

	score.Feasibility = e.feasibility(p)
	score.Alignment = clamp(e.alignment.Alignment(p))
	score.Risk = riskScore(p)

	attrs := attributes(p, score.Alignment, score.Risk)
	var sum float64
	for _, r := range participants {
		s := e.agentScore(p, r, attrs)
		score.AgentScores[r] = s
		sum += s
	}
	if len(participants) > 0 {
		score.Total = sum / float64(len(participants))
	}
	return score
}

// Candidate pairs a proposal with its score.
type Candidate struct {
	Proposal proposal.Proposal
	Score    ProposalScore
}

// Select returns the candidate with the highest composite score. Entries
// are expected in submission order; on a tie the earliest one wins.
// Anomalous proposals are skipped. ok is false when nothing qualifies.
func (e *Engine) Select(entries []proposal.Proposal, participants []agent.Role) (best Candidate, ok bool) {
	bestComposite := math.Inf(-1)
	for _, p := range entries {
		s := e.Score(p, participants)
		if s.Anomalous() {
			continue
		}
		if c := s.Composite(); c > bestComposite {
			bestComposite = c
			best = Candidate{Proposal: p, Score: s}
			ok = true
		}
	}
	return best, ok
}

func (e *Engine) feasibility(p proposal.Proposal) float64 {
	f := 100.0
	for _, r := range p.Content.Resources {
		if r.Availability != proposal.AvailabilityImmediate {
			f -= penaltyNotImmediate
		}
	}
	if tl := p.Content.Timeline; tl.Defined() {
		switch span := tl.Span(); {
		case span < day:
			f -= penaltyTooAggressive
		case span > 30*day:
			f -= penaltyTooSlow
		}
	}
	for _, c := range p.Content.Constraints {
		if c.Severity != proposal.SeverityCritical {
			continue
		}
		if err := e.validator.Validate(c, p); err != nil {
			f -= penaltyCriticalRejected
		}
	}
	return math.Max(f, 0)
}

// agentScore blends the proposal's stated priority and confidence with
// the role's weighted view of its attributes.
func (e *Engine) agentScore(p proposal.Proposal, role agent.Role, attrs map[agent.Dimension]float64) float64 {
	w := e.registry.WeightsFor(role)
	var dot float64
	for _, d := range agent.Dimensions {
		dot += w[d] * attrs[d]
	}
	weighted := dot / w.Sum()
	return clamp(0.3*p.Priority + 0.3*p.Confidence + 0.4*weighted)
}

func riskScore(p proposal.Proposal) float64 {
	r := 100.0
	for _, risk := range p.Content.Outcome.Risks {
		r -= risk.Probability * impactWeight[risk.Impact]
	}
	return clamp(r)
}

// attributes maps a proposal onto the scoring dimensions, each in [0,100].
func attributes(p proposal.Proposal, align, risk float64) map[agent.Dimension]float64 {
	return map[agent.Dimension]float64{
		agent.DimTimeline:  timelineFit(p.Content.Timeline),
		agent.DimResources: resourceReadiness(p.Content.Resources),
		agent.DimQuality:   quality(p.Content),
		agent.DimRisk:      risk,
		agent.DimStrategy:  align,
	}
}

func timelineFit(tl proposal.Timeline) float64 {
	if !tl.Defined() {
		return 70
	}
	days := tl.Span().Hours() / 24
	switch {
	case days < 1:
		return 50
	case days <= 30:
		return 100
	default:
		return math.Max(20, 100-2*(days-30))
	}
}

func resourceReadiness(resources []proposal.Resource) float64 {
	v := 100.0
	for _, r := range resources {
		switch r.Availability {
		case proposal.AvailabilityImmediate:
		case proposal.AvailabilityUnavailable:
			v -= 30
		default:
			v -= 10
		}
	}
	return math.Max(v, 0)
}

func quality(c proposal.Content) float64 {
	v := 40 + 15*float64(len(c.Outcome.SuccessMetrics)) + 5*float64(len(c.Timeline.Milestones))
	return math.Min(v, 100)
}

// checkContent returns a reason when p carries values the engine cannot
// score.
func checkContent(p proposal.Proposal) string {
	if !finite(p.Priority) || p.Priority < 0 || p.Priority > 100 {
		return fmt.Sprintf("priority %v outside [0,100]", p.Priority)
	}
	if !finite(p.Confidence) || p.Confidence < 0 || p.Confidence > 100 {
		return fmt.Sprintf("confidence %v outside [0,100]", p.Confidence)
	}
	for i, r := range p.Content.Outcome.Risks {
		if !finite(r.Probability) || r.Probability < 0 || r.Probability > 1 {
			return fmt.Sprintf("risk[%d] probability %v outside [0,1]", i, r.Probability)
		}
	}
	for i, r := range p.Content.Resources {
		if r.Quantity < 0 {
			return fmt.Sprintf("resource[%d] has negative quantity", i)
		}
	}
	if tl := p.Content.Timeline; tl.Defined() && tl.End.Before(tl.Start) {
		return "timeline ends before it starts"
	}
	return ""
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, 100)
}
