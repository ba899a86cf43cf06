package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ytnobody/accord/internal/bus"
	"github.com/ytnobody/accord/internal/chatlog"
	"github.com/ytnobody/accord/internal/consensus"
	"github.com/ytnobody/accord/internal/ledger"
	"github.com/ytnobody/accord/internal/negotiation"
	"github.com/ytnobody/accord/internal/proposal"
)

func weakProposal() proposal.Proposal {
	return proposal.Proposal{ID: "p0", Priority: 10, Confidence: 10, Content: proposal.Content{Action: "wait"}}
}

func sampleEvent(kind bus.Kind) negotiation.Event {
	return negotiation.Event{
		Kind: kind,
		Negotiation: negotiation.Negotiation{
			ID:        "n1",
			Topic:     "budget",
			State:     negotiation.StateNegotiating,
			Rounds:    2,
			MaxRounds: 5,
			Deadline:  time.Date(2026, 10, 14, 9, 5, 0, 0, time.UTC),
			Proposals: []proposal.CounterProposal{{Proposal: weakProposal()}},
		},
		At: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestFormatEvent(t *testing.T) {
	got := FormatEvent(sampleEvent(bus.KindProposalRequest))
	want := `PROPOSAL_REQUEST n1 topic="budget" state=negotiating round=2/5 proposals=1 deadline=2026-10-14T09:05:00Z`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	ev := sampleEvent(bus.KindAgreementReached)
	ev.Negotiation.State = negotiation.StateResolved
	ev.Agreement = &ledger.Agreement{ID: "a1", Terms: proposal.Content{Action: "ship it"}}
	ev.Votes = []consensus.Vote{{Approve: true}, {Approve: false}}
	ev.Reason = "ratified"
	got = FormatEvent(ev)
	for _, part := range []string{"AGREEMENT_REACHED n1", "agreement=a1", `terms="ship it"`, "approvals=1/2", `reason="ratified"`} {
		if !strings.Contains(got, part) {
			t.Errorf("expected %q in %q", part, got)
		}
	}
	if strings.Contains(got, "deadline=") {
		t.Errorf("agreement events carry no deadline: %q", got)
	}
}

func TestChatLogNotifier(t *testing.T) {
	cl := chatlog.New(filepath.Join(t.TempDir(), "chatlog.txt"))
	NewChatLogNotifier(cl, "").Notify(sampleEvent(bus.KindNegotiationRequest))

	msgs, err := cl.Poll(DefaultOperator)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Sender != Sender || !strings.HasPrefix(msgs[0].Body, "NEGOTIATION_REQUEST n1") {
		t.Errorf("unexpected message %+v", msgs[0])
	}
}

func TestEscalationWriterIgnoresOtherEvents(t *testing.T) {
	dir := t.TempDir()
	w := NewEscalationWriter(dir)
	w.Notify(sampleEvent(bus.KindProposalRequest))
	if _, err := os.Stat(w.Path("n1")); !os.IsNotExist(err) {
		t.Errorf("expected no snapshot for a proposal request, got %v", err)
	}

	w.Notify(sampleEvent(bus.KindHumanInterventionRequired))
	if _, err := os.Stat(w.Path("n1")); err != nil {
		t.Errorf("expected snapshot: %v", err)
	}
}
