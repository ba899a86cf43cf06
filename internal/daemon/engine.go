// Package daemon hosts the negotiation engine as a long-running process
// driven through the chatlog.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ytnobody/accord/internal/agent"
	"github.com/ytnobody/accord/internal/alignment"
	"github.com/ytnobody/accord/internal/bus"
	"github.com/ytnobody/accord/internal/config"
	"github.com/ytnobody/accord/internal/consensus"
	"github.com/ytnobody/accord/internal/ledger"
	"github.com/ytnobody/accord/internal/negotiation"
	"github.com/ytnobody/accord/internal/proposal"
	"github.com/ytnobody/accord/internal/resolver"
	"github.com/ytnobody/accord/internal/scoring"
)

// Engine is the negotiation core assembled from a config.
type Engine struct {
	Orchestrator *negotiation.Orchestrator
	Ledger       *ledger.Ledger
	Proposals    *proposal.Store
	Bus          *bus.Bus

	gemini *alignment.Gemini
	voter  *thresholdVoter
}

// EngineOptions are the collaborators the config cannot describe.
type EngineOptions struct {
	Notifier negotiation.Notifier
	Now      func() time.Time
	// Alignment overrides the provider selected by the config.
	Alignment alignment.Provider
}

// NewEngine wires scoring, consensus, resolver, ledger and bus according
// to cfg.
func NewEngine(ctx context.Context, cfg *config.Config, opts EngineOptions) (*Engine, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		Bus:       bus.New(),
		Proposals: proposal.NewStore(),
		voter:     &thresholdVoter{threshold: cfg.Negotiation.ApprovalThreshold},
	}

	provider := opts.Alignment
	if provider == nil {
		p, g, err := NewAlignment(ctx, cfg)
		if err != nil {
			return nil, err
		}
		provider, e.gemini = p, g
	}

	e.Ledger = ledger.New(ledger.Options{Now: now, TTL: cfg.AgreementTTL()})
	e.Orchestrator = negotiation.New(negotiation.Options{
		Scorer:          scoring.NewEngine(agent.NewRegistry(cfg.RoleOverrides()), provider, nil),
		Consensus:       consensus.NewEngine(e.voter),
		Resolver:        resolver.New(now),
		Ledger:          e.Ledger,
		Proposals:       e.Proposals,
		Bus:             e.Bus,
		Notifier:        opts.Notifier,
		Now:             now,
		MaxRounds:       cfg.Negotiation.MaxRounds,
		Quorum:          cfg.Negotiation.Quorum,
		InitialDeadline: cfg.InitialDeadline(),
		RoundDeadline:   cfg.RoundDeadline(),
	})
	return e, nil
}

// NewAlignment builds the provider named by cfg. The Gemini provider is
// returned separately so callers can warm its cache.
func NewAlignment(ctx context.Context, cfg *config.Config) (alignment.Provider, *alignment.Gemini, error) {
	a := cfg.Alignment
	switch a.Provider {
	case config.ProviderStatic:
		return alignment.Static(a.StaticValue), nil, nil
	case config.ProviderGemini:
		key := os.Getenv(a.GeminiAPIKeyEnv)
		if key == "" {
			return nil, nil, fmt.Errorf("gemini alignment: %s is not set", a.GeminiAPIKeyEnv)
		}
		g, err := alignment.NewGemini(ctx, alignment.GeminiOptions{
			APIKey: key,
			Model:  a.GeminiModel,
			Goals:  a.Goals,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("gemini alignment: %w", err)
		}
		return g, g, nil
	default:
		return alignment.NewKeyword(a.Goals), nil, nil
	}
}

// Apply pushes a reloaded config into the running engine. Limits apply to
// negotiations opened afterwards; the approval threshold applies to the
// next vote.
func (e *Engine) Apply(cfg *config.Config) {
	e.Orchestrator.Configure(cfg.Negotiation.MaxRounds, cfg.Negotiation.Quorum, cfg.InitialDeadline(), cfg.RoundDeadline())
	e.voter.set(cfg.Negotiation.ApprovalThreshold)
}

// prepare gives p an id and, with a Gemini provider, scores it remotely
// before it reaches the orchestrator.
func (e *Engine) prepare(ctx context.Context, p *proposal.Proposal) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if e.gemini == nil {
		return
	}
	if _, err := e.gemini.Warm(ctx, *p); err != nil {
		log.Printf("[daemon] alignment for %s falls back to keywords: %v", p.ID, err)
	}
}

// Replay opens the scenario and submits its counter-proposals in order.
// Rejected counters are logged and skipped.
func (e *Engine) Replay(ctx context.Context, sc *proposal.Scenario) (negotiation.Negotiation, error) {
	initiator, err := agent.ParseRole(sc.Initiator)
	if err != nil {
		return negotiation.Negotiation{}, fmt.Errorf("scenario initiator: %w", err)
	}
	participants := make([]agent.Role, 0, len(sc.Participants))
	for _, s := range sc.Participants {
		r, err := agent.ParseRole(s)
		if err != nil {
			return negotiation.Negotiation{}, fmt.Errorf("scenario participant: %w", err)
		}
		participants = append(participants, r)
	}

	initial := sc.Initial
	if initial.Author != "" {
		if initial.Author, err = agent.ParseRole(string(initial.Author)); err != nil {
			return negotiation.Negotiation{}, fmt.Errorf("scenario initial author: %w", err)
		}
	}
	e.prepare(ctx, &initial)
	n, err := e.Orchestrator.Initiate(sc.Topic, initiator, participants, initial, negotiation.InitiateOptions{
		MaxRounds: sc.MaxRounds,
		Quorum:    sc.Quorum,
	})
	if err != nil {
		return negotiation.Negotiation{}, err
	}

	for i, c := range sc.Counters {
		if err := e.Submit(ctx, n.ID, c); err != nil {
			log.Printf("[daemon] %s: counter %d rejected: %v", n.ID, i, err)
		}
	}
	return e.Orchestrator.Get(n.ID)
}

// Submit sends a counter-proposal on behalf of its author.
func (e *Engine) Submit(ctx context.Context, negotiationID string, cp proposal.CounterProposal) error {
	author, err := agent.ParseRole(string(cp.Author))
	if err != nil {
		return fmt.Errorf("counter author: %w", err)
	}
	e.prepare(ctx, &cp.Proposal)
	return e.Orchestrator.SubmitCounterProposal(negotiationID, author, cp)
}

// thresholdVoter is a consensus.ThresholdVoter whose threshold can be
// changed while votes are running.
type thresholdVoter struct {
	mu        sync.RWMutex
	threshold float64
}

func (v *thresholdVoter) set(t float64) {
	v.mu.Lock()
	v.threshold = t
	v.mu.Unlock()
}

func (v *thresholdVoter) Vote(role agent.Role, p proposal.Proposal, score scoring.ProposalScore) consensus.Vote {
	v.mu.RLock()
	t := v.threshold
	v.mu.RUnlock()
	return consensus.ThresholdVoter{Threshold: t}.Vote(role, p, score)
}
