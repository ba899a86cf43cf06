package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ytnobody/accord/internal/chatlog"
	"github.com/ytnobody/accord/internal/config"
	"github.com/ytnobody/accord/internal/negotiation"
)

const weakScenario = `
topic = "budget"
initiator = "leader"
participants = ["critic"]

[initial]
id = "p0"
priority = 10
confidence = 10

[initial.content]
action = "postpone the migration"
`

const strongCounter = `
id = "c1"
author = "critic"
in_response_to = "p0"
priority = 90
confidence = 90

[content]
action = "migrate in two phases"

[content.outcome]
description = "migration finished"
success_metrics = ["latency", "cost", "uptime", "coverage"]
`

// The resolver cannot average non-finite values, so this scenario
// escalates once its single round is used.
const unresolvableScenario = `
topic = "vendor"
initiator = "leader"
participants = ["critic"]
max_rounds = 1

[initial]
id = "p0"
priority = nan
confidence = 10

[initial.content]
action = "pick vendor A"

[[counters]]
id = "c1"
author = "critic"
in_response_to = "p0"
priority = nan
confidence = 20

[counters.content]
action = "pick vendor B"
`

const operatorProposal = `
id = "op"
priority = 60
confidence = 60

[content]
action = "pick vendor B with an exit clause"
`

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestDaemon(t *testing.T, cfg *config.Config) (*Daemon, *clock, string) {
	t.Helper()
	dir := t.TempDir()
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.Daemon.DataDir = filepath.Join(dir, "data")
	c := &clock{now: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)}

	d, err := New(context.Background(), cfg, Options{
		ConfigPath: filepath.Join(dir, "accord.toml"),
		Now:        c.Now,
	})
	if err != nil {
		t.Fatal(err)
	}
	return d, c, dir
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func command(body string) chatlog.Message {
	return chatlog.Message{Recipient: Sender, Sender: "operator", Body: body}
}

func replies(t *testing.T, d *Daemon, to string) []string {
	t.Helper()
	msgs, err := d.chatLog.Poll(to)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, m := range msgs {
		if m.Sender == Sender {
			out = append(out, m.Body)
		}
	}
	return out
}

func lastWithPrefix(lines []string, prefix string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], prefix) {
			return lines[i]
		}
	}
	return ""
}

func TestNewCreatesLayout(t *testing.T) {
	d, _, dir := newTestDaemon(t, nil)
	if _, err := os.Stat(filepath.Join(dir, "data", "escalations")); err != nil {
		t.Errorf("expected escalations dir: %v", err)
	}
	if d.ChatLogPath() != filepath.Join(dir, "data", "chatlog.txt") {
		t.Errorf("unexpected chatlog path %s", d.ChatLogPath())
	}
}

func TestInitiateCounterMonitor(t *testing.T) {
	d, _, dir := newTestDaemon(t, nil)
	writeDoc(t, dir, "budget.toml", weakScenario)
	writeDoc(t, dir, "counter.toml", strongCounter)
	ctx := context.Background()

	d.handleCommand(ctx, command("INITIATE budget.toml"))
	active := d.engine.Orchestrator.GetActiveNegotiations()
	if len(active) != 1 {
		t.Fatalf("expected 1 active negotiation, got %d", len(active))
	}
	id := active[0].ID

	out := replies(t, d, "operator")
	if lastWithPrefix(out, "INITIATED "+id) == "" {
		t.Errorf("expected INITIATED reply, got %v", out)
	}
	if lastWithPrefix(out, "NEGOTIATION_REQUEST "+id) == "" {
		t.Errorf("expected negotiation_request event for operator, got %v", out)
	}
	if lastWithPrefix(replies(t, d, "critic"), "NEGOTIATION_REQUEST "+id) == "" {
		t.Error("expected negotiation request delivered to critic")
	}

	d.handleCommand(ctx, command("COUNTER "+id+" counter.toml"))
	out = replies(t, d, "operator")
	if !strings.Contains(lastWithPrefix(out, "ACCEPTED "+id), "state=resolved") {
		t.Fatalf("expected resolved after strong counter, got %v", out)
	}
	if lastWithPrefix(out, "AGREEMENT_REACHED "+id) == "" {
		t.Errorf("expected agreement_reached event, got %v", out)
	}

	agreements := d.engine.Orchestrator.GetAgreements()
	if len(agreements) != 1 {
		t.Fatalf("expected 1 agreement, got %d", len(agreements))
	}
	d.handleCommand(ctx, command("MONITOR "+agreements[0].ID))
	if got := lastWithPrefix(replies(t, d, "operator"), "AGREEMENT "); !strings.Contains(got, "status=active") {
		t.Errorf("expected active agreement, got %q", got)
	}

	d.handleCommand(ctx, command("RELEASE "+id))
	if lastWithPrefix(replies(t, d, "operator"), "RELEASED "+id) == "" {
		t.Errorf("expected RELEASED reply, got %v", replies(t, d, "operator"))
	}
	if _, err := d.engine.Orchestrator.Get(id); err == nil {
		t.Error("expected released negotiation to be gone")
	}
	d.handleCommand(ctx, command("MONITOR "+agreements[0].ID))
	if got := lastWithPrefix(replies(t, d, "operator"), "AGREEMENT "); !strings.Contains(got, "status=active") {
		t.Errorf("expected agreement to outlive release, got %q", got)
	}
}

func TestStatus(t *testing.T) {
	d, _, dir := newTestDaemon(t, nil)
	writeDoc(t, dir, "budget.toml", weakScenario)
	ctx := context.Background()

	d.handleCommand(ctx, command("INITIATE budget.toml"))
	d.handleCommand(ctx, command("STATUS"))

	out := replies(t, d, "operator")
	if got := lastWithPrefix(out, "STATUS "); got != "STATUS active=1 agreements=0" {
		t.Errorf("unexpected status line %q", got)
	}
	if got := lastWithPrefix(out, "NEGOTIATION "); !strings.Contains(got, `topic="budget"`) {
		t.Errorf("expected negotiation line, got %q", got)
	}
}

func TestCommandErrors(t *testing.T) {
	d, _, _ := newTestDaemon(t, nil)
	ctx := context.Background()

	tests := []struct {
		body string
		want string
	}{
		{"DANCE", "unknown command"},
		{"INITIATE", "usage: INITIATE"},
		{"INITIATE missing.toml", "load scenario"},
		{"COUNTER only-id", "usage: COUNTER"},
		{"MONITOR nope", "agreement not found"},
		{"RESOLVE x", "usage: RESOLVE"},
		{"RELEASE", "usage: RELEASE"},
		{"RELEASE nope", "unknown negotiation"},
	}
	for _, tt := range tests {
		d.handleCommand(ctx, command(tt.body))
		got := lastWithPrefix(replies(t, d, "operator"), "ERROR ")
		if !strings.Contains(got, tt.want) {
			t.Errorf("%s: expected error containing %q, got %q", tt.body, tt.want, got)
		}
	}
}

func TestEscalationSnapshotAndResolve(t *testing.T) {
	d, _, dir := newTestDaemon(t, nil)
	writeDoc(t, dir, "vendor.toml", unresolvableScenario)
	writeDoc(t, dir, "op.toml", operatorProposal)
	ctx := context.Background()

	d.handleCommand(ctx, command("INITIATE vendor.toml"))
	active := d.engine.Orchestrator.GetActiveNegotiations()
	if len(active) != 1 || !active[0].Escalated {
		t.Fatalf("expected one escalated negotiation, got %+v", active)
	}
	id := active[0].ID

	if lastWithPrefix(replies(t, d, "operator"), "HUMAN_INTERVENTION_REQUIRED "+id) == "" {
		t.Error("expected escalation event for operator")
	}

	data, err := os.ReadFile(d.escalations.Path(id))
	if err != nil {
		t.Fatalf("expected escalation snapshot: %v", err)
	}
	var snap escalation
	if _, err := toml.Decode(string(data), &snap); err != nil {
		t.Fatalf("snapshot should be valid TOML: %v", err)
	}
	if snap.Negotiation.ID != id || len(snap.Negotiation.Proposals) != 2 {
		t.Errorf("unexpected snapshot: id=%s proposals=%d", snap.Negotiation.ID, len(snap.Negotiation.Proposals))
	}
	if snap.Reason == "" {
		t.Error("expected a reason in the snapshot")
	}

	d.handleCommand(ctx, command("RESOLVE "+id+" op.toml"))
	if lastWithPrefix(replies(t, d, "operator"), "RESOLVED "+id) == "" {
		t.Errorf("expected RESOLVED reply, got %v", replies(t, d, "operator"))
	}
	n, _ := d.engine.Orchestrator.Get(id)
	if n.State != negotiation.StateResolved {
		t.Errorf("expected resolved, got %s", n.State)
	}
}

func TestSweepExpiresOverdue(t *testing.T) {
	d, c, dir := newTestDaemon(t, nil)
	writeDoc(t, dir, "budget.toml", weakScenario)
	d.handleCommand(context.Background(), command("INITIATE budget.toml"))

	if ids := d.sweep(); len(ids) != 0 {
		t.Fatalf("nothing should expire yet, got %v", ids)
	}
	c.Advance(31 * time.Minute)
	ids := d.sweep()
	if len(ids) != 1 {
		t.Fatalf("expected 1 expired negotiation, got %v", ids)
	}
	n, _ := d.engine.Orchestrator.Get(ids[0])
	if n.State != negotiation.StateResolved {
		t.Errorf("expected compromise to resolve the expired negotiation, got %s", n.State)
	}
}

func TestApplyReloadedConfig(t *testing.T) {
	d, _, dir := newTestDaemon(t, nil)
	writeDoc(t, dir, "budget.toml", weakScenario)

	cfg := config.Default()
	cfg.Negotiation.MaxRounds = 3
	d.apply(cfg)

	if d.Config().Negotiation.MaxRounds != 3 {
		t.Errorf("expected active config replaced")
	}
	d.handleCommand(context.Background(), command("INITIATE budget.toml"))
	n := d.engine.Orchestrator.GetActiveNegotiations()[0]
	if n.MaxRounds != 3 {
		t.Errorf("expected new negotiations to use max_rounds 3, got %d", n.MaxRounds)
	}
}

func TestRunAnswersCommands(t *testing.T) {
	d, _, _ := newTestDaemon(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	if err := d.chatLog.Append(Sender, "operator", "STATUS"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for lastWithPrefix(replies(t, d, "operator"), "STATUS ") == "" {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("timed out waiting for STATUS reply")
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNewAlignmentGeminiRequiresKey(t *testing.T) {
	cfg := config.Default()
	cfg.Alignment.Provider = config.ProviderGemini
	cfg.Alignment.GeminiAPIKeyEnv = "ACCORD_TEST_MISSING_KEY"
	t.Setenv("ACCORD_TEST_MISSING_KEY", "")

	if _, _, err := NewAlignment(context.Background(), cfg); err == nil {
		t.Error("expected error without an API key")
	}
}

func TestNewAlignmentStatic(t *testing.T) {
	cfg := config.Default()
	cfg.Alignment.Provider = config.ProviderStatic
	cfg.Alignment.StaticValue = 42

	p, g, err := NewAlignment(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if g != nil {
		t.Error("static provider should not return a Gemini handle")
	}
	if v := p.Alignment(weakProposal()); v != 42 {
		t.Errorf("expected 42, got %v", v)
	}
}
