package scoring

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ytnobody/accord/internal/proposal"
)

// ConstraintValidator decides whether a proposal satisfies a constraint.
// A nil error means the constraint holds.
type ConstraintValidator interface {
	Validate(c proposal.Constraint, p proposal.Proposal) error
}

// RuleValidator evaluates Constraint.Rule expressions of the form
// "name:arg":
//
//	max_days:N        timeline span at most N days
//	min_days:N        timeline span at least N days
//	max_resources:N   at most N resources listed
//	min_confidence:N  confidence at least N
//	min_priority:N    priority at least N
//	requires:NAME     a resource called NAME is listed and immediately available
//
// Constraints without a rule, and rules it does not know, are accepted.
type RuleValidator struct{}

func (RuleValidator) Validate(c proposal.Constraint, p proposal.Proposal) error {
	if c.Rule == "" {
		return nil
	}
	name, arg, _ := strings.Cut(c.Rule, ":")
	name = strings.TrimSpace(name)
	arg = strings.TrimSpace(arg)

	switch name {
	case "max_days", "min_days", "max_resources", "min_confidence", "min_priority":
		n, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("rule %q: bad argument: %w", c.Rule, err)
		}
		return checkNumeric(name, n, p)
	case "requires":
		for _, r := range p.Content.Resources {
			if strings.EqualFold(r.Name, arg) {
				if r.Availability != proposal.AvailabilityImmediate {
					return fmt.Errorf("rule %q: %s is %s", c.Rule, r.Name, r.Availability)
				}
				return nil
			}
		}
		return fmt.Errorf("rule %q: resource %s not listed", c.Rule, arg)
	}
	return nil
}

func checkNumeric(name string, n float64, p proposal.Proposal) error {
	days := p.Content.Timeline.Span().Hours() / 24
	switch name {
	case "max_days":
		if p.Content.Timeline.Defined() && days > n {
			return fmt.Errorf("timeline of %.1f days exceeds %v", days, n)
		}
	case "min_days":
		if p.Content.Timeline.Defined() && days < n {
			return fmt.Errorf("timeline of %.1f days is under %v", days, n)
		}
	case "max_resources":
		if float64(len(p.Content.Resources)) > n {
			return fmt.Errorf("%d resources exceed %v", len(p.Content.Resources), n)
		}
	case "min_confidence":
		if p.Confidence < n {
			return fmt.Errorf("confidence %v is under %v", p.Confidence, n)
		}
	case "min_priority":
		if p.Priority < n {
			return fmt.Errorf("priority %v is under %v", p.Priority, n)
		}
	}
	return nil
}
