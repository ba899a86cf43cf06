package alignment

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/ytnobody/accord/internal/proposal"
)

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiOptions configures a Gemini provider.
type GeminiOptions struct {
	APIKey   string
	Model    string
	Goals    []string
	Fallback Provider
	Timeout  time.Duration
}

// Gemini asks a Gemini model to rate proposals against the configured
// goals. Network calls happen only in Warm; Alignment reads the cache and
// falls back to the wrapped provider for proposals that were never warmed.
// Ratings are cached by prompt, so proposals sharing an id but not their
// content are rated separately.
type Gemini struct {
	models   contentGenerator
	model    string
	goals    []string
	fallback Provider
	timeout  time.Duration

	mu    sync.RWMutex
	cache map[string]float64 // keyed by prompt
}

// NewGemini creates a provider backed by the Gemini API.
func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: opts.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGemini(client.Models, opts), nil
}

func newGemini(models contentGenerator, opts GeminiOptions) *Gemini {
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewKeyword(opts.Goals)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gemini{
		models:   models,
		model:    opts.Model,
		goals:    opts.Goals,
		fallback: fallback,
		timeout:  timeout,
		cache:    make(map[string]float64),
	}
}

// Alignment returns the cached rating for p, or the fallback score.
func (g *Gemini) Alignment(p proposal.Proposal) float64 {
	g.mu.RLock()
	v, ok := g.cache[g.buildPrompt(p)]
	g.mu.RUnlock()
	if ok {
		return v
	}
	return g.fallback.Alignment(p)
}

// Warm rates p with the model and caches the result. Call it before
// submitting p so that scoring stays free of network I/O.
func (g *Gemini) Warm(ctx context.Context, p proposal.Proposal) (float64, error) {
	prompt := g.buildPrompt(p)
	g.mu.RLock()
	v, ok := g.cache[prompt]
	g.mu.RUnlock()
	if ok {
		return v, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: prompt}}}}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}},
	})
	if err != nil {
		return 0, fmt.Errorf("gemini alignment for %s: %w", p.ID, err)
	}

	score, err := parseScore(extractText(resp))
	if err != nil {
		return 0, fmt.Errorf("gemini alignment for %s: %w", p.ID, err)
	}

	g.mu.Lock()
	g.cache[prompt] = score
	g.mu.Unlock()
	log.Printf("[alignment] gemini rated %s at %.1f", p.ID, score)
	return score, nil
}

const systemInstruction = `You rate how well a proposed decision serves a set of goals.
Reply with a single integer from 0 to 100 and nothing else.`

func (g *Gemini) buildPrompt(p proposal.Proposal) string {
	var sb strings.Builder
	sb.WriteString("Goals:\n")
	if len(g.goals) == 0 {
		sb.WriteString("- deliver value with acceptable risk\n")
	}
	for _, goal := range g.goals {
		fmt.Fprintf(&sb, "- %s\n", goal)
	}
	sb.WriteString("\nProposal:\n")
	fmt.Fprintf(&sb, "Action: %s\n", p.Content.Action)
	if p.Content.Outcome.Description != "" {
		fmt.Fprintf(&sb, "Expected outcome: %s\n", p.Content.Outcome.Description)
	}
	for _, m := range p.Content.Outcome.SuccessMetrics {
		fmt.Fprintf(&sb, "Success metric: %s\n", m)
	}
	for _, r := range p.Content.Resources {
		fmt.Fprintf(&sb, "Resource: %s (%s)\n", r.Name, r.Availability)
	}
	for _, r := range p.Content.Outcome.Risks {
		fmt.Fprintf(&sb, "Risk: %s (p=%.2f, impact=%s)\n", r.Description, r.Probability, r.Impact)
	}
	return sb.String()
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

var numberPattern = regexp.MustCompile(`-?\d+(\.\d+)?`)

func parseScore(text string) (float64, error) {
	m := numberPattern.FindString(text)
	if m == "" {
		return 0, fmt.Errorf("no score in response %q", text)
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, fmt.Errorf("parse score %q: %w", m, err)
	}
	return clamp(v), nil
}
