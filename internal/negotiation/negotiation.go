// Package negotiation runs the per-negotiation state machine: rounds of
// counter-proposals are scored, put to a vote and either ratified into an
// agreement, continued, or handed to deadlock resolution.
package negotiation

import (
	"errors"
	"time"

	"github.com/ytnobody/accord/internal/agent"
	"github.com/ytnobody/accord/internal/bus"
	"github.com/ytnobody/accord/internal/consensus"
	"github.com/ytnobody/accord/internal/ledger"
	"github.com/ytnobody/accord/internal/proposal"
)

type State string

const (
	StateProposed    State = "proposed"
	StateNegotiating State = "negotiating"
	StateConsensus   State = "consensus"
	StateDeadlock    State = "deadlock"
	StateResolved    State = "resolved"
)

var stateRank = map[State]int{
	StateProposed:    0,
	StateNegotiating: 1,
	StateConsensus:   2,
	StateDeadlock:    2,
	StateResolved:    3,
}

// Terminal reports whether no further submissions are accepted.
func (s State) Terminal() bool { return s == StateResolved }

func (s State) String() string { return string(s) }

var (
	ErrUnknownNegotiation = errors.New("unknown negotiation")
	ErrTerminalState      = errors.New("negotiation no longer accepts proposals")
	ErrUnknownParticipant = errors.New("author is not a participant")
	ErrDuplicateProposal  = errors.New("duplicate proposal id")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrNotEscalated       = errors.New("negotiation is not awaiting an operator")

	// ErrInvalidReference is returned when a counter-proposal responds to
	// a proposal the negotiation has never seen.
	ErrInvalidReference = proposal.ErrInvalidReference
)

// Negotiation is a point-in-time snapshot. Slices are copies; mutating a
// snapshot never affects the orchestrator.
type Negotiation struct {
	ID           string                     `toml:"id"`
	Topic        string                     `toml:"topic"`
	Initiator    agent.Role                 `toml:"initiator"`
	Participants []agent.Role               `toml:"participants"`
	State        State                      `toml:"state"`
	History      []State                    `toml:"history"`
	Proposals    []proposal.CounterProposal `toml:"proposals"`
	Agreement    *ledger.Agreement          `toml:"agreement,omitempty"`
	Deadline     time.Time                  `toml:"deadline"`
	Rounds       int                        `toml:"rounds"`
	MaxRounds    int                        `toml:"max_rounds"`
	Quorum       float64                    `toml:"quorum"`
	CreatedAt    time.Time                  `toml:"created_at"`
	// Escalated is set when deadlock resolution produced no compromise
	// and an operator has to decide.
	Escalated bool `toml:"escalated"`
	// Anomalies lists proposals the scorer refused, keyed by id.
	Anomalies map[string]string `toml:"anomalies,omitempty"`
}

// IsParticipant reports whether r takes part in the negotiation.
func (n Negotiation) IsParticipant(r agent.Role) bool {
	for _, p := range n.Participants {
		if p == r {
			return true
		}
	}
	return false
}

// Event is what the orchestrator reports to its Notifier. Kind reuses the
// bus message kinds.
type Event struct {
	Kind        bus.Kind
	Negotiation Negotiation
	Agreement   *ledger.Agreement
	Votes       []consensus.Vote
	Reason      string
	At          time.Time
}

// Notifier is the operator-facing surface. It receives every lifecycle
// event, including escalations that no participant is addressed by.
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ev Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

// Notifiers fans events out to several notifiers in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ev Event) {
	for _, n := range ns {
		n.Notify(ev)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
