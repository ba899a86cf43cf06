package negotiation

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ytnobody/accord/internal/agent"
	"github.com/ytnobody/accord/internal/bus"
	"github.com/ytnobody/accord/internal/consensus"
	"github.com/ytnobody/accord/internal/ledger"
	"github.com/ytnobody/accord/internal/proposal"
	"github.com/ytnobody/accord/internal/resolver"
	"github.com/ytnobody/accord/internal/scoring"
)

const (
	DefaultMaxRounds       = 10
	DefaultInitialDeadline = 30 * time.Minute
	DefaultRoundDeadline   = 5 * time.Minute
)

// Sender is the outbound half of the message bus.
type Sender interface {
	Broadcast(msg bus.Message, recipients []agent.Role) error
}

// Selector scores proposals and picks the best of a round.
type Selector interface {
	Score(p proposal.Proposal, participants []agent.Role) scoring.ProposalScore
	Select(entries []proposal.Proposal, participants []agent.Role) (scoring.Candidate, bool)
}

// ConsensusChecker decides whether a scored candidate is ratified.
type ConsensusChecker interface {
	HasConsensus(p proposal.Proposal, score scoring.ProposalScore, participants []agent.Role, quorum float64) (bool, []consensus.Vote)
}

// Resolver builds a compromise once the round limit is hit. A nil result
// escalates to an operator.
type Resolver interface {
	Resolve(entries []proposal.CounterProposal) *proposal.Proposal
}

// Options wires the orchestrator. Zero values get the package defaults.
type Options struct {
	Scorer    Selector
	Consensus ConsensusChecker
	Resolver  Resolver
	Ledger    *ledger.Ledger
	Proposals *proposal.Store
	Bus       Sender
	Notifier  Notifier
	Now       func() time.Time

	MaxRounds       int
	Quorum          float64
	InitialDeadline time.Duration
	RoundDeadline   time.Duration
}

// Orchestrator owns every negotiation. Each negotiation has its own lock,
// so submissions to different negotiations never contend. Bus deliveries
// and notifications happen while that lock is held; subscribers must not
// call back into the orchestrator synchronously.
type Orchestrator struct {
	mu           sync.RWMutex
	negotiations map[string]*entry
	settingsMu   sync.RWMutex
	settings     settings

	scorer    Selector
	consensus ConsensusChecker
	resolver  Resolver
	ledger    *ledger.Ledger
	proposals *proposal.Store
	bus       Sender
	notifier  Notifier
	now       func() time.Time
	newID     func() string
}

type settings struct {
	maxRounds       int
	quorum          float64
	initialDeadline time.Duration
	roundDeadline   time.Duration
}

type entry struct {
	mu    sync.Mutex
	n     Negotiation
	store *proposal.Log
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		negotiations: make(map[string]*entry),
		scorer:       opts.Scorer,
		consensus:    opts.Consensus,
		resolver:     opts.Resolver,
		ledger:       opts.Ledger,
		proposals:    opts.Proposals,
		bus:          opts.Bus,
		notifier:     opts.Notifier,
		now:          opts.Now,
		newID:        uuid.NewString,
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.scorer == nil {
		o.scorer = scoring.NewEngine(nil, nil, nil)
	}
	if o.consensus == nil {
		o.consensus = consensus.NewEngine(nil)
	}
	if o.resolver == nil {
		o.resolver = resolver.New(o.now)
	}
	if o.ledger == nil {
		o.ledger = ledger.New(ledger.Options{Now: o.now})
	}
	if o.proposals == nil {
		o.proposals = proposal.NewStore()
	}
	if o.bus == nil {
		o.bus = bus.New()
	}
	if o.notifier == nil {
		o.notifier = nopNotifier{}
	}
	o.Configure(opts.MaxRounds, opts.Quorum, opts.InitialDeadline, opts.RoundDeadline)
	return o
}

// Configure replaces the settings applied to negotiations initiated from
// now on. Running negotiations keep the limits they started with, except
// for the round deadline. Zero values select the defaults.
func (o *Orchestrator) Configure(maxRounds int, quorum float64, initialDeadline, roundDeadline time.Duration) {
	s := settings{
		maxRounds:       maxRounds,
		quorum:          quorum,
		initialDeadline: initialDeadline,
		roundDeadline:   roundDeadline,
	}
	if s.maxRounds <= 0 {
		s.maxRounds = DefaultMaxRounds
	}
	if s.quorum <= 0 || s.quorum > 1 {
		s.quorum = consensus.DefaultQuorum
	}
	if s.initialDeadline <= 0 {
		s.initialDeadline = DefaultInitialDeadline
	}
	if s.roundDeadline <= 0 {
		s.roundDeadline = DefaultRoundDeadline
	}
	o.settingsMu.Lock()
	o.settings = s
	o.settingsMu.Unlock()
}

func (o *Orchestrator) currentSettings() settings {
	o.settingsMu.RLock()
	defer o.settingsMu.RUnlock()
	return o.settings
}

// InitiateOptions override the orchestrator defaults for one negotiation.
type InitiateOptions struct {
	MaxRounds int
	Quorum    float64
}

// InitiateNegotiation opens a negotiation seeded with initial and asks
// every participant for proposals.
func (o *Orchestrator) InitiateNegotiation(topic string, initiator agent.Role, participants []agent.Role, initial proposal.Proposal) (Negotiation, error) {
	return o.Initiate(topic, initiator, participants, initial, InitiateOptions{})
}

// Initiate is InitiateNegotiation with per-negotiation limits.
func (o *Orchestrator) Initiate(topic string, initiator agent.Role, participants []agent.Role, initial proposal.Proposal, opts InitiateOptions) (Negotiation, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Negotiation{}, fmt.Errorf("%w: empty topic", ErrInvalidRequest)
	}
	if !initiator.Known() {
		return Negotiation{}, fmt.Errorf("%w: unknown initiator role %q", ErrInvalidRequest, initiator)
	}
	roles := []agent.Role{initiator}
	seen := map[agent.Role]bool{initiator: true}
	for _, r := range participants {
		if !r.Known() {
			return Negotiation{}, fmt.Errorf("%w: unknown participant role %q", ErrInvalidRequest, r)
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		roles = append(roles, r)
	}

	s := o.currentSettings()
	if opts.MaxRounds > 0 {
		s.maxRounds = opts.MaxRounds
	}
	if opts.Quorum > 0 && opts.Quorum <= 1 {
		s.quorum = opts.Quorum
	}

	now := o.now()
	seed := proposal.CounterProposal{Proposal: initial}
	if seed.ID == "" {
		seed.ID = o.newID()
	}
	if seed.Author == "" {
		seed.Author = initiator
	}
	if seed.CreatedAt.IsZero() {
		seed.CreatedAt = now
	}
	id := o.newID()
	store := o.proposals.Open(id)
	if err := o.proposals.Append(id, seed); err != nil {
		o.proposals.Drop(id)
		return Negotiation{}, fmt.Errorf("%w: initial proposal: %v", ErrInvalidRequest, err)
	}

	e := &entry{
		store: store,
		n: Negotiation{
			ID:           id,
			Topic:        topic,
			Initiator:    initiator,
			Participants: roles,
			State:        StateProposed,
			History:      []State{StateProposed},
			Deadline:     now.Add(s.initialDeadline),
			Rounds:       1,
			MaxRounds:    s.maxRounds,
			Quorum:       s.quorum,
			CreatedAt:    now,
		},
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	o.mu.Lock()
	o.negotiations[e.n.ID] = e
	o.mu.Unlock()

	log.Printf("[negotiation] %s opened on %q by %s with %d participants", e.n.ID, topic, initiator, len(roles))
	o.checkScorable(e, seed.Proposal)
	o.broadcast(e, bus.KindNegotiationRequest, seed.Content.Action)
	snap := e.snapshot()
	o.notifier.Notify(Event{Kind: bus.KindNegotiationRequest, Negotiation: snap, At: now})
	return snap, nil
}

// SubmitCounterProposal adds counter to negotiation id and runs one round
// of selection and voting. counter must respond to a proposal already in
// the negotiation. An empty counter id is assigned. A nil error means the
// submission was accepted, whatever the round outcome.
func (o *Orchestrator) SubmitCounterProposal(id string, author agent.Role, counter proposal.CounterProposal) error {
	e, err := o.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.n.State.Terminal() || e.n.Escalated {
		return fmt.Errorf("%w: %s is %s", ErrTerminalState, id, e.n.State)
	}
	if !e.n.IsParticipant(author) {
		return fmt.Errorf("%w: %s in %s", ErrUnknownParticipant, author, id)
	}

	if counter.InResponseTo == "" {
		return fmt.Errorf("%w: counter-proposal to %s names no proposal it responds to", ErrInvalidReference, id)
	}

	cp := counter.Clone()
	cp.Author = author
	if cp.ID == "" {
		cp.ID = o.newID()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = o.now()
	}
	if err := e.store.Append(cp); err != nil {
		if errors.Is(err, proposal.ErrDuplicateID) {
			return fmt.Errorf("%w: %s", ErrDuplicateProposal, cp.ID)
		}
		return fmt.Errorf("submit to %s: %w", id, err)
	}

	if e.n.State == StateProposed {
		e.advance(StateNegotiating)
	}
	log.Printf("[negotiation] %s round %d: %s submitted %s", id, e.n.Rounds, author, cp.ID)
	o.checkScorable(e, cp.Proposal)

	o.evaluate(e)
	return nil
}

// evaluate runs the round logic after a new proposal entered contention.
// Consensus is checked before the round bound, so a proposal agreed on in
// the last round is ratified rather than deadlocked.
func (o *Orchestrator) evaluate(e *entry) {
	entries := e.store.Entries()
	candidates := make([]proposal.Proposal, len(entries))
	for i, cp := range entries {
		candidates[i] = cp.Proposal
	}

	if best, ok := o.scorer.Select(candidates, e.n.Participants); ok {
		agreed, votes := o.consensus.HasConsensus(best.Proposal, best.Score, e.n.Participants, e.n.Quorum)
		if agreed {
			e.advance(StateConsensus)
			o.ratify(e, best.Proposal, votes, fmt.Sprintf("ratified %s with %d/%d approvals",
				best.Proposal.ID, consensus.Approvals(votes), len(votes)))
			return
		}
	}
	if e.n.Rounds >= e.n.MaxRounds {
		o.deadlock(e, fmt.Sprintf("no consensus after %d rounds", e.n.Rounds))
		return
	}

	e.n.Rounds++
	e.n.Deadline = o.now().Add(o.currentSettings().roundDeadline)
	o.broadcast(e, bus.KindProposalRequest, fmt.Sprintf("round %d of %d", e.n.Rounds, e.n.MaxRounds))
	o.notifier.Notify(Event{Kind: bus.KindProposalRequest, Negotiation: e.snapshot(), At: o.now()})
}

// checkScorable records p in the audit trail when the scorer refuses it.
// The proposal stays in the log; selection skips it.
func (o *Orchestrator) checkScorable(e *entry, p proposal.Proposal) {
	s := o.scorer.Score(p, e.n.Participants)
	if !s.Anomalous() {
		return
	}
	if e.n.Anomalies == nil {
		e.n.Anomalies = make(map[string]string)
	}
	e.n.Anomalies[p.ID] = s.Anomaly
	log.Printf("[negotiation] %s: proposal %s not scorable: %s", e.n.ID, p.ID, s.Anomaly)
}

// deadlock synthesizes a compromise or escalates. The resolver is called
// once per deadlock.
func (o *Orchestrator) deadlock(e *entry, reason string) {
	e.advance(StateDeadlock)
	log.Printf("[negotiation] %s deadlocked: %s", e.n.ID, reason)

	compromise := o.resolver.Resolve(e.store.Entries())
	if compromise == nil {
		o.escalate(e, reason+"; no compromise could be synthesized")
		return
	}

	cp := proposal.CounterProposal{
		Proposal:      *compromise,
		Justification: "compromise synthesized after " + reason,
	}
	if cp.ID == "" || e.store.Has(cp.ID) {
		cp.ID = o.newID()
	}
	if err := e.store.Append(cp); err != nil {
		o.escalate(e, fmt.Sprintf("%s; record compromise: %v", reason, err))
		return
	}
	o.ratify(e, cp.Proposal, nil, "compromise "+cp.ID+" ratified after "+reason)
}

func (o *Orchestrator) escalate(e *entry, reason string) {
	e.n.Escalated = true
	log.Printf("[negotiation] %s needs an operator: %s", e.n.ID, reason)
	o.notifier.Notify(Event{
		Kind:        bus.KindHumanInterventionRequired,
		Negotiation: e.snapshot(),
		Reason:      reason,
		At:          o.now(),
	})
}

// ratify records p as the agreement and resolves the negotiation.
func (o *Orchestrator) ratify(e *entry, p proposal.Proposal, votes []consensus.Vote, reason string) {
	a, err := o.ledger.Create(e.n.ID, e.n.Participants, p)
	if err != nil {
		o.escalate(e, fmt.Sprintf("create agreement: %v", err))
		return
	}
	e.n.Agreement = &a
	e.n.Escalated = false
	e.advance(StateResolved)
	log.Printf("[negotiation] %s resolved: %s", e.n.ID, reason)

	o.broadcast(e, bus.KindAgreementReached, fmt.Sprintf("agreement %s %s", a.ID, a.Terms.Action))
	snap := e.snapshot()
	o.notifier.Notify(Event{
		Kind:        bus.KindAgreementReached,
		Negotiation: snap,
		Agreement:   snap.Agreement,
		Votes:       votes,
		Reason:      reason,
		At:          o.now(),
	})
}

// broadcast is fire-and-forget: failures are logged and the round goes on.
func (o *Orchestrator) broadcast(e *entry, kind bus.Kind, body string) {
	msg := bus.Message{
		Kind:          kind,
		NegotiationID: e.n.ID,
		Topic:         e.n.Topic,
		From:          "accord",
		Round:         e.n.Rounds,
		Deadline:      e.n.Deadline,
		Body:          body,
		SentAt:        o.now(),
	}
	if err := o.bus.Broadcast(msg, e.n.Participants); err != nil {
		log.Printf("[negotiation] %s: broadcast %s: %v", e.n.ID, kind, err)
	}
}

// ExpireOverdue applies deadlock handling to every open negotiation whose
// deadline is before now and returns their ids in creation order.
func (o *Orchestrator) ExpireOverdue(now time.Time) []string {
	var expired []string
	for _, e := range o.entries() {
		e.mu.Lock()
		open := !e.n.State.Terminal() && e.n.State != StateDeadlock
		if open && now.After(e.n.Deadline) {
			// An unanswered opening round still passes through negotiating.
			e.advance(StateNegotiating)
			o.deadlock(e, fmt.Sprintf("round %d deadline %s passed", e.n.Rounds, e.n.Deadline.Format(time.RFC3339)))
			expired = append(expired, e.n.ID)
		}
		e.mu.Unlock()
	}
	return expired
}

// ResolveManually ratifies p for a negotiation waiting on an operator.
func (o *Orchestrator) ResolveManually(id string, p proposal.Proposal) (ledger.Agreement, error) {
	e, err := o.lookup(id)
	if err != nil {
		return ledger.Agreement{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.n.State.Terminal() {
		return ledger.Agreement{}, fmt.Errorf("%w: %s is %s", ErrTerminalState, id, e.n.State)
	}
	if !e.n.Escalated {
		return ledger.Agreement{}, fmt.Errorf("%w: %s is %s", ErrNotEscalated, id, e.n.State)
	}

	cp := proposal.CounterProposal{Proposal: p, Justification: "resolved by operator"}
	if cp.Author == "" {
		cp.Author = agent.RoleLeader
	}
	if cp.ID == "" {
		cp.ID = o.newID()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = o.now()
	}
	if err := e.store.Append(cp); err != nil {
		if errors.Is(err, proposal.ErrDuplicateID) {
			return ledger.Agreement{}, fmt.Errorf("%w: %s", ErrDuplicateProposal, cp.ID)
		}
		return ledger.Agreement{}, fmt.Errorf("resolve %s: %w", id, err)
	}

	o.ratify(e, cp.Proposal, nil, "operator ratified "+cp.ID)
	if e.n.Agreement == nil {
		return ledger.Agreement{}, fmt.Errorf("resolve %s: agreement not recorded", id)
	}
	return *e.n.Agreement, nil
}

// Proposals returns the proposal log of negotiation id in append order.
func (o *Orchestrator) Proposals(id string) ([]proposal.CounterProposal, error) {
	l, err := o.proposals.Log(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNegotiation, id)
	}
	return l.Entries(), nil
}

// Release forgets a resolved negotiation and drops its proposal log. Its
// agreement stays in the ledger.
func (o *Orchestrator) Release(id string) error {
	e, err := o.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.n.State.Terminal() {
		return fmt.Errorf("%w: %s is still %s", ErrInvalidRequest, id, e.n.State)
	}
	o.mu.Lock()
	delete(o.negotiations, id)
	o.mu.Unlock()
	o.proposals.Drop(id)
	log.Printf("[negotiation] %s released", id)
	return nil
}

// Get returns a snapshot of negotiation id.
func (o *Orchestrator) Get(id string) (Negotiation, error) {
	e, err := o.lookup(id)
	if err != nil {
		return Negotiation{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(), nil
}

// GetActiveNegotiations returns every negotiation not yet resolved, oldest
// first.
func (o *Orchestrator) GetActiveNegotiations() []Negotiation {
	var out []Negotiation
	for _, e := range o.entries() {
		e.mu.Lock()
		if !e.n.State.Terminal() {
			out = append(out, e.snapshot())
		}
		e.mu.Unlock()
	}
	return out
}

// GetAgreements lists every agreement ever created.
func (o *Orchestrator) GetAgreements() []ledger.Agreement {
	return o.ledger.List()
}

// Monitor reports the health of an agreement. Unknown ids yield a report
// with ledger.StatusNotFound and an error wrapping ledger.ErrNotFound.
func (o *Orchestrator) Monitor(agreementID string) (ledger.Report, error) {
	return o.ledger.Monitor(agreementID)
}

func (o *Orchestrator) lookup(id string) (*entry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.negotiations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNegotiation, id)
	}
	return e, nil
}

func (o *Orchestrator) entries() []*entry {
	o.mu.RLock()
	out := make([]*entry, 0, len(o.negotiations))
	for _, e := range o.negotiations {
		out = append(out, e)
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].n.CreatedAt, out[j].n.CreatedAt
		if a.Equal(b) {
			return out[i].n.ID < out[j].n.ID
		}
		return a.Before(b)
	})
	return out
}

// advance moves to s, ignoring anything that is not forward.
func (e *entry) advance(s State) {
	if stateRank[s] <= stateRank[e.n.State] {
		return
	}
	e.n.State = s
	e.n.History = append(e.n.History, s)
}

func (e *entry) snapshot() Negotiation {
	n := e.n
	n.Participants = append([]agent.Role(nil), e.n.Participants...)
	n.History = append([]State(nil), e.n.History...)
	n.Proposals = e.store.Entries()
	if e.n.Agreement != nil {
		a := *e.n.Agreement
		n.Agreement = &a
	}
	if e.n.Anomalies != nil {
		n.Anomalies = make(map[string]string, len(e.n.Anomalies))
		for k, v := range e.n.Anomalies {
			n.Anomalies[k] = v
		}
	}
	return n
}
