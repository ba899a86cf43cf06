// Package bus delivers negotiation messages to agents. It carries no
// business logic and does not retry.
package bus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ytnobody/accord/internal/agent"
)

type Kind string

const (
	KindNegotiationRequest        Kind = "negotiation_request"
	KindProposalRequest           Kind = "proposal_request"
	KindAgreementReached          Kind = "agreement_reached"
	KindHumanInterventionRequired Kind = "human_intervention_required"
)

type Message struct {
	Kind          Kind
	NegotiationID string
	Topic         string
	From          string
	To            agent.Role
	Round         int
	Deadline      time.Time
	Body          string
	SentAt        time.Time
}

// Subscriber receives messages addressed to the roles it subscribed to.
type Subscriber interface {
	Deliver(msg Message) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(msg Message) error

func (f SubscriberFunc) Deliver(msg Message) error { return f(msg) }

// Bus delivers synchronously: Send and Broadcast return once every
// subscriber has been called. Deliveries to one recipient never overlap,
// so per-recipient order matches call order.
type Bus struct {
	mu       sync.RWMutex
	subs     map[agent.Role][]Subscriber
	wildcard []Subscriber
	lanes    map[agent.Role]*sync.Mutex
	now      func() time.Time
}

func New() *Bus {
	return &Bus{
		subs:  make(map[agent.Role][]Subscriber),
		lanes: make(map[agent.Role]*sync.Mutex),
		now:   time.Now,
	}
}

// Subscribe registers s for messages addressed to role.
func (b *Bus) Subscribe(role agent.Role, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[role] = append(b.subs[role], s)
}

// SubscribeAll registers s for every message.
func (b *Bus) SubscribeAll(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, s)
}

func (b *Bus) lane(role agent.Role) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.lanes[role]
	if !ok {
		l = &sync.Mutex{}
		b.lanes[role] = l
	}
	return l
}

// Send delivers msg to recipient. Failures from individual subscribers
// are joined into the returned error; delivery to the others still
// happens.
func (b *Bus) Send(msg Message, recipient agent.Role) error {
	msg.To = recipient
	if msg.SentAt.IsZero() {
		msg.SentAt = b.now()
	}

	b.mu.RLock()
	targets := append(append([]Subscriber(nil), b.subs[recipient]...), b.wildcard...)
	b.mu.RUnlock()

	lane := b.lane(recipient)
	lane.Lock()
	defer lane.Unlock()

	var errs []error
	for _, s := range targets {
		if err := s.Deliver(msg); err != nil {
			errs = append(errs, fmt.Errorf("deliver %s to %s: %w", msg.Kind, recipient, err))
		}
	}
	return errors.Join(errs...)
}

// Broadcast sends msg to each recipient in order.
func (b *Bus) Broadcast(msg Message, recipients []agent.Role) error {
	var errs []error
	for _, r := range recipients {
		if err := b.Send(msg, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
