package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ytnobody/accord/internal/bus"
	"github.com/ytnobody/accord/internal/config"
	"github.com/ytnobody/accord/internal/daemon"
	"github.com/ytnobody/accord/internal/negotiation"
	"github.com/ytnobody/accord/internal/proposal"
)

// version is set via ldflags at build time (e.g., -ldflags "-X main.version=v1.2.3").
var version = "dev"

const usage = `Usage: accord <command> [options]

Commands:
  init [--force]                     Write accord.toml and an example scenario
  simulate <scenario> [--config f]   Run a scenario document and print the feed
  serve [--config f]                 Run the negotiation daemon on the chatlog
  version                            Show current version
`

const defaultConfigFile = "accord.toml"

const exampleScenarioFile = "scenario.example.toml"

const exampleScenario = `topic = "resource-allocation"
initiator = "leader"
participants = ["project_manager", "architect"]

[initial]
id = "p0"
priority = 60
confidence = 55

[initial.content]
action = "move two engineers to the billing migration"

[[initial.content.resources]]
name = "engineer"
quantity = 2
availability = "scheduled"

[[counters]]
id = "c1"
author = "project_manager"
in_response_to = "p0"
priority = 85
confidence = 90
justification = "staff is free now and the window fits the quarter"

[counters.content]
action = "move two engineers to the billing migration this sprint"

[[counters.content.resources]]
name = "engineer"
quantity = 2
availability = "immediate"

[counters.content.timeline]
start = 2026-11-02T00:00:00Z
end = 2026-11-20T00:00:00Z

[counters.content.outcome]
description = "billing runs on the new platform"
success_metrics = ["zero failed invoices", "p95 under 200ms", "old system retired"]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit(os.Args[2:])
	case "simulate":
		err = cmdSimulate(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("accord %s\n", version)
		return
	case "help", "--help", "-h":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdInit(args []string) error {
	force := false
	for _, a := range args {
		if a == "--force" {
			force = true
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	files := []struct {
		name    string
		content string
	}{
		{defaultConfigFile, config.Template},
		{exampleScenarioFile, exampleScenario},
	}
	for _, f := range files {
		path := filepath.Join(cwd, f.name)
		if _, err := os.Stat(path); err == nil && !force {
			fmt.Printf("Keeping existing %s\n", path)
			continue
		}
		if err := os.WriteFile(path, []byte(f.content), 0644); err != nil {
			return fmt.Errorf("create %s: %w", f.name, err)
		}
		fmt.Printf("Wrote %s\n", path)
	}
	return nil
}

// parseConfigFlag extracts --config from args and returns the remaining
// positional arguments.
func parseConfigFlag(args []string) (string, []string) {
	path := ""
	var rest []string
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" && i+1 < len(args) {
			i++
			path = args[i]
			continue
		}
		rest = append(rest, args[i])
	}
	return path, rest
}

// loadConfig reads the config at path, or accord.toml in the working
// directory when path is empty. A missing default file yields the
// built-in defaults and an empty path.
func loadConfig(path string) (string, *config.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err != nil {
			return "", config.Default(), nil
		}
		path = defaultConfigFile
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(abs)
	if err != nil {
		return "", nil, err
	}
	return abs, cfg, nil
}

func cmdSimulate(args []string) error {
	cfgPath, rest := parseConfigFlag(args)
	if len(rest) != 1 {
		return fmt.Errorf("usage: accord simulate <scenario> [--config file]")
	}
	_, cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	sc, err := proposal.LoadScenario(rest[0])
	if err != nil {
		return err
	}

	n, err := simulate(context.Background(), os.Stdout, cfg, sc)
	if err != nil {
		return err
	}
	if n.State != negotiation.StateResolved {
		return fmt.Errorf("negotiation %s ended in %s", n.ID, n.State)
	}
	return nil
}

// simulate replays sc in-process, writing every bus message and lifecycle
// event to w.
func simulate(ctx context.Context, w io.Writer, cfg *config.Config, sc *proposal.Scenario) (negotiation.Negotiation, error) {
	notifier := negotiation.NotifierFunc(func(ev negotiation.Event) {
		fmt.Fprintln(w, renderLine(daemon.DefaultOperator, daemon.Sender, daemon.FormatEvent(ev)))
	})
	engine, err := daemon.NewEngine(ctx, cfg, daemon.EngineOptions{Notifier: notifier})
	if err != nil {
		return negotiation.Negotiation{}, err
	}
	engine.Bus.SubscribeAll(bus.SubscriberFunc(func(msg bus.Message) error {
		fmt.Fprintln(w, renderLine(string(msg.To), msg.From, bus.FormatBody(msg)))
		return nil
	}))

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("== %s (%d counter-proposals)", sc.Topic, len(sc.Counters))))
	n, err := engine.Replay(ctx, sc)
	if err != nil {
		return negotiation.Negotiation{}, err
	}
	printSummary(w, n)
	return n, nil
}

func printSummary(w io.Writer, n negotiation.Negotiation) {
	switch {
	case n.Agreement != nil:
		fmt.Fprintln(w, okStyle.Render(fmt.Sprintf("== %s after %d round(s): agreement %s on %q",
			n.State, n.Rounds, n.Agreement.ID, n.Agreement.Terms.Action)))
	case n.Escalated:
		fmt.Fprintln(w, alertStyle.Render(fmt.Sprintf("== %s: operator decision required", n.State)))
	default:
		fmt.Fprintln(w, alertStyle.Render(fmt.Sprintf("== %s, round %d of %d", n.State, n.Rounds, n.MaxRounds)))
	}
	for id, reason := range n.Anomalies {
		fmt.Fprintf(w, "   not scored: %s (%s)\n", id, reason)
	}
}

func cmdServe(args []string) error {
	cfgPath, _ := parseConfigFlag(args)
	configPath, cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := daemon.New(ctx, cfg, daemon.Options{ConfigPath: configPath})
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	go displayChatLog(ctx, os.Stdout, d.ChatLogPath())

	fmt.Printf("accord listening on %s (send commands to @%s)\n", d.ChatLogPath(), daemon.Sender)
	err = d.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
