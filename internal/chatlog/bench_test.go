package chatlog

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func BenchmarkParseMessage(b *testing.B) {
	line := "[2026-01-01T00:00:00] [@critic] accord: PROPOSAL_REQUEST n1 round=2"
	for b.Loop() {
		_, _ = ParseMessage(line)
	}
}

func BenchmarkParseMessageInvalid(b *testing.B) {
	line := "this is not a valid chatlog line"
	for b.Loop() {
		_, _ = ParseMessage(line)
	}
}

func BenchmarkChatLogPoll(b *testing.B) {
	dir := b.TempDir()
	path := filepath.Join(dir, "chatlog.txt")

	// Pre-fill with 100 messages
	f, err := os.Create(path)
	if err != nil {
		b.Fatalf("setup failed: %v", err)
	}
	for i := range 100 {
		fmt.Fprintf(f, "[2026-01-01T00:00:00] [@critic] accord: PROPOSAL_REQUEST n%d round=2\n", i)
	}
	f.Close()

	cl := New(path)
	for b.Loop() {
		_, _ = cl.Poll("critic")
	}
}

func BenchmarkFormatMessage(b *testing.B) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for b.Loop() {
		_ = FormatMessage(ts, "critic", "accord", "PROPOSAL_REQUEST n1 round=2")
	}
}
