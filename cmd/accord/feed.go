package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ytnobody/accord/internal/chatlog"
)

var (
	leaderColor   = lipgloss.Color("#ff5f87")
	managerColor  = lipgloss.Color("#ffd166")
	builderColor  = lipgloss.Color("#01cdfe")
	analystColor  = lipgloss.Color("#05ffa1")
	reviewerColor = lipgloss.Color("#c792ea")
	mutedColor    = lipgloss.Color("#9ca3d8")
)

// roleStyles colors feed lines by the role they are addressed to or sent
// by. Keys are matched as prefixes so "critic-2" still gets a color.
var roleStyles = map[string]lipgloss.Style{
	"leader":          lipgloss.NewStyle().Foreground(leaderColor).Bold(true),
	"project_manager": lipgloss.NewStyle().Foreground(managerColor),
	"architect":       lipgloss.NewStyle().Foreground(builderColor),
	"engineer":        lipgloss.NewStyle().Foreground(builderColor),
	"fixer":           lipgloss.NewStyle().Foreground(builderColor),
	"data_analyst":    lipgloss.NewStyle().Foreground(analystColor),
	"researcher":      lipgloss.NewStyle().Foreground(analystColor),
	"critic":          lipgloss.NewStyle().Foreground(reviewerColor),
	"operator":        lipgloss.NewStyle().Foreground(mutedColor).Bold(true),
}

var (
	plainStyle  = lipgloss.NewStyle()
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(leaderColor)
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(analystColor)
	alertStyle  = lipgloss.NewStyle().Bold(true).Foreground(managerColor)
)

func styleFor(name string) (lipgloss.Style, bool) {
	for role, s := range roleStyles {
		if strings.HasPrefix(name, role) {
			return s, true
		}
	}
	return plainStyle, false
}

// renderLine formats one feed entry. The recipient wins over the sender
// so that everything an agent receives shares its color.
func renderLine(recipient, sender, body string) string {
	s, ok := styleFor(recipient)
	if !ok {
		s, _ = styleFor(sender)
	}
	return s.Render(fmt.Sprintf("[@%s] %s: %s", recipient, sender, body))
}

// displayChatLog streams the chatlog to w until ctx is done.
func displayChatLog(ctx context.Context, w io.Writer, logPath string) {
	cl := chatlog.New(logPath)
	msgCh := cl.WatchAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			fmt.Fprintln(w, renderLine(msg.Recipient, msg.Sender, msg.Body))
		}
	}
}
