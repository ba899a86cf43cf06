// Package proposal defines proposals, counter-proposals and the
// append-only store that keeps them for the life of a negotiation.
package proposal

import (
	"time"

	"github.com/ytnobody/accord/internal/agent"
)

// Availability describes when a resource can be used.
type Availability string

const (
	AvailabilityImmediate   Availability = "immediate"
	AvailabilityScheduled   Availability = "scheduled"
	AvailabilityUnavailable Availability = "unavailable"
)

// Severity grades a constraint. Only critical constraints affect feasibility.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Impact grades the consequence of a risk materialising.
type Impact string

const (
	ImpactLow      Impact = "low"
	ImpactMedium   Impact = "medium"
	ImpactHigh     Impact = "high"
	ImpactCritical Impact = "critical"
)

type Resource struct {
	Name         string       `toml:"name" yaml:"name"`
	Kind         string       `toml:"kind,omitempty" yaml:"kind,omitempty"`
	Quantity     int          `toml:"quantity,omitempty" yaml:"quantity,omitempty"`
	Availability Availability `toml:"availability" yaml:"availability"`
}

type Milestone struct {
	Name string    `toml:"name" yaml:"name"`
	Due  time.Time `toml:"due" yaml:"due"`
}

type Timeline struct {
	Start      time.Time   `toml:"start" yaml:"start"`
	End        time.Time   `toml:"end" yaml:"end"`
	Milestones []Milestone `toml:"milestones,omitempty" yaml:"milestones,omitempty"`
}

// Defined reports whether both ends of the timeline are set.
func (t Timeline) Defined() bool {
	return !t.Start.IsZero() && !t.End.IsZero()
}

// Span returns End - Start, or zero for an undefined timeline.
func (t Timeline) Span() time.Duration {
	if !t.Defined() {
		return 0
	}
	return t.End.Sub(t.Start)
}

// Constraint is a condition the proposal must satisfy. Rule is a
// validator expression such as "max_days:14"; see scoring.RuleValidator.
type Constraint struct {
	Description string   `toml:"description" yaml:"description"`
	Severity    Severity `toml:"severity" yaml:"severity"`
	Rule        string   `toml:"rule,omitempty" yaml:"rule,omitempty"`
}

type Risk struct {
	Description string  `toml:"description" yaml:"description"`
	Probability float64 `toml:"probability" yaml:"probability"`
	Impact      Impact  `toml:"impact" yaml:"impact"`
	Mitigation  string  `toml:"mitigation,omitempty" yaml:"mitigation,omitempty"`
}

type Outcome struct {
	Description    string   `toml:"description" yaml:"description"`
	SuccessMetrics []string `toml:"success_metrics,omitempty" yaml:"success_metrics,omitempty"`
	Risks          []Risk   `toml:"risks,omitempty" yaml:"risks,omitempty"`
}

// Content is the decision payload of a proposal.
type Content struct {
	Action      string       `toml:"action" yaml:"action"`
	Resources   []Resource   `toml:"resources,omitempty" yaml:"resources,omitempty"`
	Timeline    Timeline     `toml:"timeline" yaml:"timeline"`
	Constraints []Constraint `toml:"constraints,omitempty" yaml:"constraints,omitempty"`
	Outcome     Outcome      `toml:"outcome" yaml:"outcome"`
}

// Clone returns a deep copy of c.
func (c Content) Clone() Content {
	out := c
	out.Resources = append([]Resource(nil), c.Resources...)
	out.Timeline.Milestones = append([]Milestone(nil), c.Timeline.Milestones...)
	out.Constraints = append([]Constraint(nil), c.Constraints...)
	out.Outcome.SuccessMetrics = append([]string(nil), c.Outcome.SuccessMetrics...)
	out.Outcome.Risks = append([]Risk(nil), c.Outcome.Risks...)
	return out
}

// Proposal is a candidate decision. It is never mutated after it enters
// a store; a newer proposal supersedes it instead.
type Proposal struct {
	ID         string     `toml:"id" yaml:"id"`
	Author     agent.Role `toml:"author" yaml:"author"`
	Content    Content    `toml:"content" yaml:"content"`
	Priority   float64    `toml:"priority" yaml:"priority"`
	Confidence float64    `toml:"confidence" yaml:"confidence"`
	CreatedAt  time.Time  `toml:"created_at" yaml:"created_at"`
}

// Modification records a field-level change a counter-proposal makes.
type Modification struct {
	Field         string `toml:"field" yaml:"field"`
	Original      string `toml:"original" yaml:"original"`
	Proposed      string `toml:"proposed" yaml:"proposed"`
	Justification string `toml:"justification,omitempty" yaml:"justification,omitempty"`
}

// CounterProposal amends an earlier entry of the same negotiation,
// referenced by id. The opening proposal of a negotiation is stored as a
// CounterProposal with an empty InResponseTo.
type CounterProposal struct {
	Proposal      `yaml:",inline"`
	InResponseTo  string         `toml:"in_response_to,omitempty" yaml:"in_response_to,omitempty"`
	Modifications []Modification `toml:"modifications,omitempty" yaml:"modifications,omitempty"`
	Justification string         `toml:"justification,omitempty" yaml:"justification,omitempty"`
}

// IsCounter reports whether cp responds to an earlier entry.
func (cp CounterProposal) IsCounter() bool { return cp.InResponseTo != "" }

// Clone returns a deep copy of cp.
func (cp CounterProposal) Clone() CounterProposal {
	out := cp
	out.Content = cp.Content.Clone()
	out.Modifications = append([]Modification(nil), cp.Modifications...)
	return out
}
