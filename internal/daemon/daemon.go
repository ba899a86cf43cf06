package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ytnobody/accord/internal/bus"
	"github.com/ytnobody/accord/internal/chatlog"
	"github.com/ytnobody/accord/internal/config"
	"github.com/ytnobody/accord/internal/negotiation"
	"github.com/ytnobody/accord/internal/proposal"
)

// Daemon accepts commands addressed to "accord" on the chatlog and
// relays every negotiation message back through it.
type Daemon struct {
	cfg        *config.Config
	cfgMu      sync.RWMutex // protects cfg for hot-reload
	configPath string       // path to accord.toml for hot-reload watcher
	baseDir    string       // relative document paths resolve here

	chatLog     *chatlog.ChatLog
	escalations *EscalationWriter
	engine      *Engine
	now         func() time.Time
}

// Options configure a Daemon beyond what the config file holds.
type Options struct {
	// ConfigPath enables hot reload and anchors relative paths.
	ConfigPath string
	Operator   string
	Now        func() time.Time
	Engine     EngineOptions
}

// New creates the data directory layout and the engine.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Daemon, error) {
	dataDir := cfg.Daemon.DataDir
	baseDir, _ := os.Getwd()
	if opts.ConfigPath != "" {
		baseDir = filepath.Dir(opts.ConfigPath)
	}
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(baseDir, dataDir)
	}
	for _, sub := range []string{"", "escalations"} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	d := &Daemon{
		cfg:         cfg,
		configPath:  opts.ConfigPath,
		baseDir:     baseDir,
		chatLog:     chatlog.New(filepath.Join(dataDir, "chatlog.txt")),
		escalations: NewEscalationWriter(filepath.Join(dataDir, "escalations")),
		now:         now,
	}

	engineOpts := opts.Engine
	notifiers := negotiation.Notifiers{NewChatLogNotifier(d.chatLog, opts.Operator), d.escalations}
	if engineOpts.Notifier != nil {
		notifiers = append(notifiers, engineOpts.Notifier)
	}
	engineOpts.Notifier = notifiers
	if engineOpts.Now == nil {
		engineOpts.Now = now
	}

	engine, err := NewEngine(ctx, cfg, engineOpts)
	if err != nil {
		return nil, err
	}
	engine.Bus.SubscribeAll(bus.NewChatLogSink(d.chatLog))
	d.engine = engine
	return d, nil
}

// Config returns the active config.
func (d *Daemon) Config() *config.Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

func (d *Daemon) ChatLogPath() string {
	return d.chatLog.Path()
}

func (d *Daemon) Engine() *Engine {
	return d.engine
}

// Run blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	log.Println("[daemon] starting")

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.watchCommands(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.runSweeper(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.runChatlogCleanup(ctx)
	}()

	if d.configPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.runConfigWatcher(ctx)
		}()
	}

	log.Println("[daemon] all subsystems started")

	<-ctx.Done()
	log.Println("[daemon] shutting down")
	wg.Wait()
	log.Println("[daemon] stopped")
	return ctx.Err()
}

func (d *Daemon) watchCommands(ctx context.Context) {
	msgCh := d.chatLog.Watch(ctx, Sender)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			d.handleCommand(ctx, msg)
		}
	}
}

// handleCommand executes one chatlog command and replies to its sender.
func (d *Daemon) handleCommand(ctx context.Context, msg chatlog.Message) {
	fields := strings.Fields(msg.Body)
	if len(fields) == 0 {
		return
	}

	var replies []string
	var err error
	switch strings.ToUpper(fields[0]) {
	case "INITIATE":
		replies, err = d.handleInitiate(ctx, fields[1:])
	case "COUNTER":
		replies, err = d.handleCounter(ctx, fields[1:])
	case "MONITOR":
		replies, err = d.handleMonitor(fields[1:])
	case "STATUS":
		replies = d.handleStatus()
	case "RESOLVE":
		replies, err = d.handleResolve(ctx, fields[1:])
	case "RELEASE":
		replies, err = d.handleRelease(fields[1:])
	default:
		err = fmt.Errorf("unknown command %q", fields[0])
	}

	if err != nil {
		log.Printf("[daemon] %s from %s failed: %v", fields[0], msg.Sender, err)
		replies = []string{"ERROR " + err.Error()}
	}
	for _, r := range replies {
		d.reply(msg.Sender, r)
	}
}

func (d *Daemon) reply(to, body string) {
	if err := d.chatLog.Append(to, Sender, body); err != nil {
		log.Printf("[daemon] reply to %s: %v", to, err)
	}
}

// resolvePath anchors relative document paths at the config directory.
func (d *Daemon) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(d.baseDir, p)
}

// INITIATE <scenario-file>
func (d *Daemon) handleInitiate(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: INITIATE <file>")
	}
	sc, err := proposal.LoadScenario(d.resolvePath(args[0]))
	if err != nil {
		return nil, err
	}
	n, err := d.engine.Replay(ctx, sc)
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("INITIATED %s state=%s", n.ID, n.State)}, nil
}

// COUNTER <negotiation-id> <file>
func (d *Daemon) handleCounter(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("usage: COUNTER <negotiation-id> <file>")
	}
	cp, err := proposal.LoadCounter(d.resolvePath(args[1]))
	if err != nil {
		return nil, err
	}
	if err := d.engine.Submit(ctx, args[0], cp); err != nil {
		return nil, err
	}
	n, err := d.engine.Orchestrator.Get(args[0])
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("ACCEPTED %s state=%s round=%d/%d", n.ID, n.State, n.Rounds, n.MaxRounds)}, nil
}

// MONITOR <agreement-id>
func (d *Daemon) handleMonitor(args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: MONITOR <agreement-id>")
	}
	rep, err := d.engine.Orchestrator.Monitor(args[0])
	if err != nil {
		return nil, err
	}
	line := fmt.Sprintf("AGREEMENT %s status=%s", rep.AgreementID, rep.Status)
	if len(rep.Violations) > 0 {
		line += fmt.Sprintf(" violations=%q", strings.Join(rep.Violations, "; "))
	}
	return []string{line}, nil
}

// STATUS
func (d *Daemon) handleStatus() []string {
	active := d.engine.Orchestrator.GetActiveNegotiations()
	lines := []string{fmt.Sprintf("STATUS active=%d agreements=%d", len(active), len(d.engine.Orchestrator.GetAgreements()))}
	for _, n := range active {
		line := fmt.Sprintf("NEGOTIATION %s topic=%q state=%s round=%d/%d deadline=%s",
			n.ID, n.Topic, n.State, n.Rounds, n.MaxRounds, n.Deadline.Format(time.RFC3339))
		if n.Escalated {
			line += " escalated=" + d.escalations.Path(n.ID)
		}
		lines = append(lines, line)
	}
	return lines
}

// RESOLVE <negotiation-id> <file>
func (d *Daemon) handleResolve(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("usage: RESOLVE <negotiation-id> <file>")
	}
	p, err := proposal.LoadProposal(d.resolvePath(args[1]))
	if err != nil {
		return nil, err
	}
	d.engine.prepare(ctx, &p)
	a, err := d.engine.Orchestrator.ResolveManually(args[0], p)
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("RESOLVED %s agreement=%s", args[0], a.ID)}, nil
}

// RELEASE <negotiation-id>
func (d *Daemon) handleRelease(args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: RELEASE <negotiation-id>")
	}
	if err := d.engine.Orchestrator.Release(args[0]); err != nil {
		return nil, err
	}
	return []string{"RELEASED " + args[0]}, nil
}

// runSweeper expires negotiations whose round deadline passed.
func (d *Daemon) runSweeper(ctx context.Context) {
	interval := d.Config().SweepInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

func (d *Daemon) sweep() []string {
	ids := d.engine.Orchestrator.ExpireOverdue(d.now())
	if len(ids) > 0 {
		log.Printf("[daemon] expired %d overdue negotiation(s)", len(ids))
	}
	return ids
}

func (d *Daemon) runChatlogCleanup(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			maxLines := d.Config().Daemon.ChatlogMaxLines
			if maxLines <= 0 {
				continue
			}
			if err := d.chatLog.Truncate(maxLines); err != nil {
				log.Printf("[daemon] chatlog cleanup failed: %v", err)
			}
		}
	}
}

func (d *Daemon) runConfigWatcher(ctx context.Context) {
	w := config.NewWatcher(d.configPath, 0)
	log.Printf("[daemon] watching %s for changes", d.configPath)

	cfgCh := w.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-cfgCh:
			if !ok {
				return
			}
			d.apply(newCfg)
		}
	}
}

func (d *Daemon) apply(cfg *config.Config) {
	d.cfgMu.Lock()
	d.cfg = cfg
	d.cfgMu.Unlock()
	d.engine.Apply(cfg)
	log.Println("[daemon] active config updated")
}
