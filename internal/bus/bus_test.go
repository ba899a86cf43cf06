package bus

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ytnobody/accord/internal/agent"
	"github.com/ytnobody/accord/internal/chatlog"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) Deliver(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestSendDeliversToRecipientOnly(t *testing.T) {
	b := New()
	pm := &recorder{}
	critic := &recorder{}
	b.Subscribe(agent.RoleProjectManager, pm)
	b.Subscribe(agent.RoleCritic, critic)

	if err := b.Send(Message{Kind: KindProposalRequest, NegotiationID: "n1"}, agent.RoleProjectManager); err != nil {
		t.Fatal(err)
	}
	if pm.count() != 1 {
		t.Errorf("expected 1 message for pm, got %d", pm.count())
	}
	if critic.count() != 0 {
		t.Errorf("expected no message for critic, got %d", critic.count())
	}
	if pm.msgs[0].To != agent.RoleProjectManager {
		t.Errorf("expected To=project_manager, got %s", pm.msgs[0].To)
	}
	if pm.msgs[0].SentAt.IsZero() {
		t.Error("expected SentAt to be stamped")
	}
}

func TestBroadcastAndWildcard(t *testing.T) {
	b := New()
	all := &recorder{}
	b.SubscribeAll(all)

	recipients := []agent.Role{agent.RoleLeader, agent.RoleArchitect, agent.RoleFixer}
	if err := b.Broadcast(Message{Kind: KindNegotiationRequest}, recipients); err != nil {
		t.Fatal(err)
	}
	if all.count() != 3 {
		t.Fatalf("expected 3 deliveries, got %d", all.count())
	}
	for i, r := range recipients {
		if all.msgs[i].To != r {
			t.Errorf("delivery %d to %s, want %s", i, all.msgs[i].To, r)
		}
	}
}

func TestSendJoinsErrors(t *testing.T) {
	b := New()
	good := &recorder{}
	b.Subscribe(agent.RoleLeader, SubscriberFunc(func(Message) error { return errors.New("offline") }))
	b.Subscribe(agent.RoleLeader, good)

	err := b.Send(Message{Kind: KindProposalRequest}, agent.RoleLeader)
	if err == nil || !strings.Contains(err.Error(), "offline") {
		t.Fatalf("expected delivery error, got %v", err)
	}
	if good.count() != 1 {
		t.Error("expected the healthy subscriber to still receive the message")
	}
}

func TestPerRecipientOrder(t *testing.T) {
	b := New()
	rec := &recorder{}
	b.Subscribe(agent.RoleEngineer, rec)

	for i := 1; i <= 20; i++ {
		b.Send(Message{Kind: KindProposalRequest, Round: i}, agent.RoleEngineer)
	}
	for i, m := range rec.msgs {
		if m.Round != i+1 {
			t.Fatalf("message %d has round %d", i, m.Round)
		}
	}
}

func TestFormatBody(t *testing.T) {
	msg := Message{
		Kind:          KindProposalRequest,
		NegotiationID: "n1",
		Topic:         "budget",
		Round:         3,
		Deadline:      time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
		Body:          "please\nrespond",
	}
	got := FormatBody(msg)
	want := `PROPOSAL_REQUEST n1 topic="budget" round=3 deadline=2026-01-01T10:00:00Z please respond`
	if got != want {
		t.Errorf("FormatBody() = %q, want %q", got, want)
	}
}

func TestChatLogSink(t *testing.T) {
	cl := chatlog.New(filepath.Join(t.TempDir(), "chatlog.txt"))
	b := New()
	b.SubscribeAll(NewChatLogSink(cl))

	b.Broadcast(Message{Kind: KindNegotiationRequest, NegotiationID: "n1", From: "accord"},
		[]agent.Role{agent.RoleLeader, agent.RoleCritic})

	msgs, err := cl.Poll(string(agent.RoleCritic))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 chatlog line for critic, got %d", len(msgs))
	}
	if msgs[0].Sender != "accord" {
		t.Errorf("expected sender accord, got %s", msgs[0].Sender)
	}
	if !strings.HasPrefix(msgs[0].Body, "NEGOTIATION_REQUEST n1") {
		t.Errorf("unexpected body: %s", msgs[0].Body)
	}
}
