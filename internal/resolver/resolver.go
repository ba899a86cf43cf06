// Package resolver synthesizes a compromise when a negotiation runs out
// of rounds without consensus.
package resolver

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ytnobody/accord/internal/agent"
	"github.com/ytnobody/accord/internal/proposal"
)

// Resolver averages every submitted proposal into one compromise.
type Resolver struct {
	now   func() time.Time
	newID func() string
}

// New returns a Resolver. A nil clock means time.Now.
func New(now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{now: now, newID: uuid.NewString}
}

// Resolve builds a compromise authored by the leader. Its priority and
// confidence are the arithmetic means over entries; its content is a copy
// of the first entry's. Entries with non-finite priority or confidence are
// left out of the means. Resolve returns nil when nothing usable remains,
// which callers treat as a request for human intervention.
func (r *Resolver) Resolve(entries []proposal.CounterProposal) *proposal.Proposal {
	var (
		sumPriority, sumConfidence float64
		n                          int
	)
	for _, e := range entries {
		if !finite(e.Priority) || !finite(e.Confidence) {
			continue
		}
		sumPriority += e.Priority
		sumConfidence += e.Confidence
		n++
	}
	if n == 0 {
		return nil
	}

	return &proposal.Proposal{
		ID:         r.newID(),
		Author:     agent.RoleLeader,
		Content:    entries[0].Content.Clone(),
		Priority:   sumPriority / float64(n),
		Confidence: sumConfidence / float64(n),
		CreatedAt:  r.now(),
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
