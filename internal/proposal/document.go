package proposal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Scenario is a scripted negotiation: an opening proposal followed by
// counter-proposals submitted in order.
type Scenario struct {
	Topic        string            `toml:"topic" yaml:"topic"`
	Initiator    string            `toml:"initiator" yaml:"initiator"`
	Participants []string          `toml:"participants" yaml:"participants"`
	MaxRounds    int               `toml:"max_rounds,omitempty" yaml:"max_rounds,omitempty"`
	Quorum       float64           `toml:"quorum,omitempty" yaml:"quorum,omitempty"`
	Initial      Proposal          `toml:"initial" yaml:"initial"`
	Counters     []CounterProposal `toml:"counters,omitempty" yaml:"counters,omitempty"`
}

// LoadCounter reads a single counter-proposal document. The format is
// chosen by extension: .toml, .yaml or .yml.
func LoadCounter(path string) (CounterProposal, error) {
	var cp CounterProposal
	if err := decodeFile(path, &cp); err != nil {
		return CounterProposal{}, fmt.Errorf("load proposal: %w", err)
	}
	return cp, nil
}

// LoadProposal reads a single proposal document.
func LoadProposal(path string) (Proposal, error) {
	cp, err := LoadCounter(path)
	if err != nil {
		return Proposal{}, err
	}
	return cp.Proposal, nil
}

// LoadScenario reads a scenario document and checks its required fields.
func LoadScenario(path string) (*Scenario, error) {
	var sc Scenario
	if err := decodeFile(path, &sc); err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}
	if sc.Topic == "" {
		return nil, fmt.Errorf("load scenario: topic is required")
	}
	if sc.Initiator == "" {
		return nil, fmt.Errorf("load scenario: initiator is required")
	}
	for i, c := range sc.Counters {
		if c.InResponseTo == "" {
			return nil, fmt.Errorf("load scenario: counters[%d].in_response_to is required", i)
		}
	}
	return &sc, nil
}

// WriteTOML encodes v to path atomically (temp file + rename).
func WriteTOML(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if err := toml.NewEncoder(tmp).Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported document format %q", filepath.Ext(path))
	}
	return nil
}
