package bus

import (
	"fmt"
	"strings"
	"time"

	"github.com/ytnobody/accord/internal/chatlog"
)

// ChatLogSink writes every delivered message to a chatlog as one line
// addressed to the recipient role.
type ChatLogSink struct {
	log *chatlog.ChatLog
}

func NewChatLogSink(cl *chatlog.ChatLog) *ChatLogSink {
	return &ChatLogSink{log: cl}
}

func (s *ChatLogSink) Deliver(msg Message) error {
	return s.log.Append(string(msg.To), msg.From, FormatBody(msg))
}

// FormatBody renders msg on a single line.
func FormatBody(msg Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", strings.ToUpper(string(msg.Kind)), msg.NegotiationID)
	if msg.Topic != "" {
		fmt.Fprintf(&sb, " topic=%q", msg.Topic)
	}
	if msg.Round > 0 {
		fmt.Fprintf(&sb, " round=%d", msg.Round)
	}
	if !msg.Deadline.IsZero() {
		fmt.Fprintf(&sb, " deadline=%s", msg.Deadline.Format(time.RFC3339))
	}
	if msg.Body != "" {
		sb.WriteString(" ")
		sb.WriteString(strings.Join(strings.Fields(msg.Body), " "))
	}
	return sb.String()
}
