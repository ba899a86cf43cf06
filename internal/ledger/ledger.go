// Package ledger stores ratified agreements and reports on their health.
package ledger

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ytnobody/accord/internal/agent"
	"github.com/ytnobody/accord/internal/proposal"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusViolated  Status = "violated"
	StatusCancelled Status = "cancelled"
	// StatusNotFound is only ever reported by Monitor.
	StatusNotFound Status = "not_found"
)

type Commitment string

const (
	CommitmentFull        Commitment = "full"
	CommitmentPartial     Commitment = "partial"
	CommitmentConditional Commitment = "conditional"
)

var (
	ErrNotFound        = errors.New("agreement not found")
	ErrAlreadyRatified = errors.New("negotiation already has an agreement")
	ErrFinalStatus     = errors.New("agreement status is final")
)

type Signature struct {
	Agent      agent.Role `toml:"agent"`
	SignedAt   time.Time  `toml:"signed_at"`
	Commitment Commitment `toml:"commitment"`
	Conditions []string   `toml:"conditions,omitempty"`
}

// Agreement is the ratified outcome of a negotiation. Terms never change
// after creation; only Status and Signatories may.
type Agreement struct {
	ID             string                   `toml:"id"`
	NegotiationID  string                   `toml:"negotiation_id"`
	ProposalID     string                   `toml:"proposal_id"`
	Terms          proposal.Content         `toml:"terms"`
	Signatories    map[agent.Role]Signature `toml:"signatories"`
	EffectiveDate  time.Time                `toml:"effective_date"`
	ExpirationDate *time.Time               `toml:"expiration_date,omitempty"`
	Status         Status                   `toml:"status"`
}

func (a Agreement) clone() Agreement {
	out := a
	out.Terms = a.Terms.Clone()
	out.Signatories = make(map[agent.Role]Signature, len(a.Signatories))
	for r, s := range a.Signatories {
		s.Conditions = append([]string(nil), s.Conditions...)
		out.Signatories[r] = s
	}
	if a.ExpirationDate != nil {
		exp := *a.ExpirationDate
		out.ExpirationDate = &exp
	}
	return out
}

// Report is the result of Monitor.
type Report struct {
	AgreementID string
	Status      Status
	Violations  []string
}

// CompletionOracle tells the ledger whether the work an agreement covers
// has been finished. The ledger cannot know this on its own.
type CompletionOracle interface {
	Completed(agreementID string) bool
}

type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time
	// TTL sets the expiration date of new agreements. Zero means none.
	TTL    time.Duration
	Oracle CompletionOracle
}

type record struct {
	mu         sync.Mutex
	agreement  Agreement
	violations []string
}

// Ledger is append-only; each agreement has its own lock so status
// transitions are atomic per agreement id.
type Ledger struct {
	mu            sync.RWMutex
	records       map[string]*record
	byNegotiation map[string]string
	order         []string

	now    func() time.Time
	ttl    time.Duration
	oracle CompletionOracle
}

func New(opts Options) *Ledger {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		records:       make(map[string]*record),
		byNegotiation: make(map[string]string),
		now:           now,
		ttl:           opts.TTL,
		oracle:        opts.Oracle,
	}
}

// Create records the agreement for negotiationID, signing every
// participant with full commitment. A negotiation gets at most one
// agreement.
func (l *Ledger) Create(negotiationID string, participants []agent.Role, ratified proposal.Proposal) (Agreement, error) {
	now := l.now()
	a := Agreement{
		ID:            uuid.NewString(),
		NegotiationID: negotiationID,
		ProposalID:    ratified.ID,
		Terms:         ratified.Content.Clone(),
		Signatories:   make(map[agent.Role]Signature, len(participants)),
		EffectiveDate: now,
		Status:        StatusActive,
	}
	for _, r := range participants {
		a.Signatories[r] = Signature{Agent: r, SignedAt: now, Commitment: CommitmentFull}
	}
	if l.ttl > 0 {
		exp := now.Add(l.ttl)
		a.ExpirationDate = &exp
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.byNegotiation[negotiationID]; ok {
		return Agreement{}, fmt.Errorf("%w: %s has %s", ErrAlreadyRatified, negotiationID, existing)
	}
	l.records[a.ID] = &record{agreement: a}
	l.byNegotiation[negotiationID] = a.ID
	l.order = append(l.order, a.ID)

	log.Printf("[ledger] agreement %s created for negotiation %s (%d signatories)", a.ID, negotiationID, len(participants))
	return a.clone(), nil
}

func (l *Ledger) lookup(id string) (*record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	return rec, ok
}

// Get returns a copy of the agreement with the given id.
func (l *Ledger) Get(id string) (Agreement, error) {
	rec, ok := l.lookup(id)
	if !ok {
		return Agreement{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.agreement.clone(), nil
}

// ForNegotiation returns the agreement ratified for negotiationID.
func (l *Ledger) ForNegotiation(negotiationID string) (Agreement, error) {
	l.mu.RLock()
	id, ok := l.byNegotiation[negotiationID]
	l.mu.RUnlock()
	if !ok {
		return Agreement{}, fmt.Errorf("%w for negotiation %s", ErrNotFound, negotiationID)
	}
	return l.Get(id)
}

// List returns every agreement in creation order.
func (l *Ledger) List() []Agreement {
	l.mu.RLock()
	recs := make([]*record, 0, len(l.order))
	for _, id := range l.order {
		recs = append(recs, l.records[id])
	}
	l.mu.RUnlock()

	out := make([]Agreement, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.agreement.clone())
		rec.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectiveDate.Before(out[j].EffectiveDate)
	})
	return out
}

// Monitor reports what the ledger can determine locally: expiration and,
// through the oracle, completion. An expired active agreement moves to
// violated.
func (l *Ledger) Monitor(id string) (Report, error) {
	rec, ok := l.lookup(id)
	if !ok {
		return Report{AgreementID: id, Status: StatusNotFound}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	a := &rec.agreement
	if a.Status == StatusActive {
		now := l.now()
		switch {
		case a.ExpirationDate != nil && now.After(*a.ExpirationDate):
			a.Status = StatusViolated
			rec.violations = append(rec.violations,
				fmt.Sprintf("agreement expired at %s", a.ExpirationDate.Format(time.RFC3339)))
			log.Printf("[ledger] agreement %s violated: expired", a.ID)
		case l.oracle != nil && l.oracle.Completed(a.ID):
			a.Status = StatusCompleted
			log.Printf("[ledger] agreement %s completed", a.ID)
		}
	}

	return Report{
		AgreementID: a.ID,
		Status:      a.Status,
		Violations:  append([]string(nil), rec.violations...),
	}, nil
}

// Cancel moves an active or violated agreement to cancelled.
func (l *Ledger) Cancel(id string) error {
	rec, ok := l.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch rec.agreement.Status {
	case StatusCompleted, StatusCancelled:
		return fmt.Errorf("%w: %s is %s", ErrFinalStatus, id, rec.agreement.Status)
	}
	rec.agreement.Status = StatusCancelled
	log.Printf("[ledger] agreement %s cancelled", id)
	return nil
}
