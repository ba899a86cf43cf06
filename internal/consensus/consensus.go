// Package consensus tallies participant votes on a candidate proposal.
package consensus

import (
	"fmt"
	"math"

	"github.com/ytnobody/accord/internal/agent"
	"github.com/ytnobody/accord/internal/proposal"
	"github.com/ytnobody/accord/internal/scoring"
)

// DefaultQuorum is the approval fraction required to ratify a proposal.
const DefaultQuorum = 0.75

// DefaultApprovalThreshold is the per-agent score a ThresholdVoter needs
// to approve.
const DefaultApprovalThreshold = 70.0

type Vote struct {
	Agent   agent.Role
	Approve bool
	Reason  string
}

// Voter decides how one participant votes on a scored proposal.
type Voter interface {
	Vote(role agent.Role, p proposal.Proposal, score scoring.ProposalScore) Vote
}

// ThresholdVoter approves when the participant's own score reaches
// Threshold. Anomalous proposals are always rejected.
type ThresholdVoter struct {
	Threshold float64
}

func (v ThresholdVoter) Vote(role agent.Role, _ proposal.Proposal, score scoring.ProposalScore) Vote {
	if score.Anomalous() {
		return Vote{Agent: role, Approve: false, Reason: "malformed proposal: " + score.Anomaly}
	}
	s := score.AgentScores[role]
	if s >= v.Threshold {
		return Vote{Agent: role, Approve: true, Reason: fmt.Sprintf("score %.1f meets threshold %.1f", s, v.Threshold)}
	}
	return Vote{Agent: role, Approve: false, Reason: fmt.Sprintf("score %.1f below threshold %.1f", s, v.Threshold)}
}

// Engine collects votes. It keeps no state between calls.
type Engine struct {
	voter Voter
}

// NewEngine returns an engine using voter, or a ThresholdVoter with
// DefaultApprovalThreshold when voter is nil.
func NewEngine(voter Voter) *Engine {
	if voter == nil {
		voter = ThresholdVoter{Threshold: DefaultApprovalThreshold}
	}
	return &Engine{voter: voter}
}

// CollectVotes asks every participant for a vote, in participant order.
func (e *Engine) CollectVotes(p proposal.Proposal, score scoring.ProposalScore, participants []agent.Role) []Vote {
	votes := make([]Vote, 0, len(participants))
	for _, r := range participants {
		votes = append(votes, e.voter.Vote(r, p, score))
	}
	return votes
}

// HasConsensus collects votes and reports whether approvals reach
// Required(len(participants), quorum). A quorum outside (0,1] is
// replaced by DefaultQuorum.
func (e *Engine) HasConsensus(p proposal.Proposal, score scoring.ProposalScore, participants []agent.Role, quorum float64) (bool, []Vote) {
	votes := e.CollectVotes(p, score, participants)
	if len(participants) == 0 {
		return false, votes
	}
	return Approvals(votes) >= Required(len(participants), quorum), votes
}

// Approvals counts approving votes.
func Approvals(votes []Vote) int {
	n := 0
	for _, v := range votes {
		if v.Approve {
			n++
		}
	}
	return n
}

// Required returns ceil(quorum × n).
func Required(n int, quorum float64) int {
	if quorum <= 0 || quorum > 1 || math.IsNaN(quorum) {
		quorum = DefaultQuorum
	}
	// The epsilon keeps exact products such as 0.75×4 from rounding up.
	return int(math.Ceil(quorum*float64(n) - 1e-9))
}
