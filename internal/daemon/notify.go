package daemon

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/ytnobody/accord/internal/bus"
	"github.com/ytnobody/accord/internal/chatlog"
	"github.com/ytnobody/accord/internal/consensus"
	"github.com/ytnobody/accord/internal/negotiation"
	"github.com/ytnobody/accord/internal/proposal"
)

// Sender is the chatlog name the daemon writes under and listens on.
const Sender = "accord"

// DefaultOperator receives lifecycle events when no operator is set.
const DefaultOperator = "operator"

// ChatLogNotifier reports lifecycle events to the operator as single
// chatlog lines.
type ChatLogNotifier struct {
	log      *chatlog.ChatLog
	operator string
}

func NewChatLogNotifier(cl *chatlog.ChatLog, operator string) *ChatLogNotifier {
	if operator == "" {
		operator = DefaultOperator
	}
	return &ChatLogNotifier{log: cl, operator: operator}
}

func (n *ChatLogNotifier) Notify(ev negotiation.Event) {
	if err := n.log.Append(n.operator, Sender, FormatEvent(ev)); err != nil {
		log.Printf("[daemon] notify %s: %v", ev.Kind, err)
	}
}

// FormatEvent renders ev on one line.
func FormatEvent(ev negotiation.Event) string {
	n := ev.Negotiation
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s topic=%q state=%s round=%d/%d proposals=%d",
		strings.ToUpper(string(ev.Kind)), n.ID, n.Topic, n.State, n.Rounds, n.MaxRounds, len(n.Proposals))
	if ev.Agreement != nil {
		fmt.Fprintf(&sb, " agreement=%s terms=%q", ev.Agreement.ID, ev.Agreement.Terms.Action)
	}
	if len(ev.Votes) > 0 {
		fmt.Fprintf(&sb, " approvals=%d/%d", consensus.Approvals(ev.Votes), len(ev.Votes))
	}
	if ev.Kind == bus.KindNegotiationRequest || ev.Kind == bus.KindProposalRequest {
		fmt.Fprintf(&sb, " deadline=%s", n.Deadline.Format(time.RFC3339))
	}
	if ev.Reason != "" {
		fmt.Fprintf(&sb, " reason=%q", ev.Reason)
	}
	return sb.String()
}

// EscalationWriter stores a TOML snapshot of every negotiation that needs
// an operator, at <dir>/<negotiation-id>.toml.
type EscalationWriter struct {
	dir string
}

func NewEscalationWriter(dir string) *EscalationWriter {
	return &EscalationWriter{dir: dir}
}

// Path returns where the snapshot for negotiationID is written.
func (w *EscalationWriter) Path(negotiationID string) string {
	return filepath.Join(w.dir, negotiationID+".toml")
}

func (w *EscalationWriter) Notify(ev negotiation.Event) {
	if ev.Kind != bus.KindHumanInterventionRequired {
		return
	}
	snap := escalation{Reason: ev.Reason, At: ev.At.Format(time.RFC3339), Negotiation: ev.Negotiation}
	path := w.Path(ev.Negotiation.ID)
	if err := proposal.WriteTOML(path, snap); err != nil {
		log.Printf("[daemon] write escalation snapshot %s: %v", path, err)
		return
	}
	log.Printf("[daemon] escalation snapshot written to %s", path)
}

type escalation struct {
	Reason      string                  `toml:"reason"`
	At          string                  `toml:"at"`
	Negotiation negotiation.Negotiation `toml:"negotiation"`
}
