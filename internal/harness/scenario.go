package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario defines a multi-actor canvas scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Actors lists the sessions to start, in join order.
	Actors []string `yaml:"actors"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one command issued by an actor, or a network step.
type Step struct {
	// Actor issues the command. Network steps (partition, heal, sync)
	// leave it empty.
	Actor string `yaml:"actor,omitempty"`

	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// Type is the block type for create_block.
	Type string `yaml:"type,omitempty"`

	// Block targets a single block.
	Block string `yaml:"block,omitempty"`

	// Blocks lists the targets of select and delete_blocks.
	Blocks []string `yaml:"blocks,omitempty"`

	// Links lists the targets of delete_links.
	Links []string `yaml:"links,omitempty"`

	Source string `yaml:"source,omitempty"`
	Target string `yaml:"target,omitempty"`

	X      float64 `yaml:"x,omitempty"`
	Y      float64 `yaml:"y,omitempty"`
	Width  float64 `yaml:"width,omitempty"`
	Height float64 `yaml:"height,omitempty"`

	// Index and Delete address a text edit; Text is inserted at Index.
	Index  int    `yaml:"index,omitempty"`
	Delete int    `yaml:"delete,omitempty"`
	Text   string `yaml:"text,omitempty"`

	// Content seeds the text of a block created by create_block.
	Content string `yaml:"content,omitempty"`

	// Expect is the expected error code. Empty means the step must succeed.
	Expect string `yaml:"expect,omitempty"`
}

// Step operations.
const (
	OpCreateBlock  = "create_block"
	OpMoveBlock    = "move_block"
	OpResizeBlock  = "resize_block"
	OpEditText     = "edit_text"
	OpToggleLock   = "toggle_lock"
	OpConnect      = "connect"
	OpDeleteBlocks = "delete_blocks"
	OpDeleteLinks  = "delete_links"
	OpSelect       = "select"
	OpUndo         = "undo"
	OpRedo         = "redo"
	OpLeave        = "leave"
	OpPartition    = "partition"
	OpHeal         = "heal"
	OpSync         = "sync"
)

var actorOps = []string{
	OpCreateBlock, OpMoveBlock, OpResizeBlock, OpEditText, OpToggleLock,
	OpConnect, OpDeleteBlocks, OpDeleteLinks, OpSelect, OpUndo, OpRedo, OpLeave,
}

var networkOps = []string{OpPartition, OpHeal, OpSync}

// Assertion validates the final state of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Block is the block checked by a block assertion.
	Block string `yaml:"block,omitempty"`

	// Expected fields of a block assertion. Nil fields are not checked.
	Content *string  `yaml:"content,omitempty"`
	X       *float64 `yaml:"x,omitempty"`
	Y       *float64 `yaml:"y,omitempty"`
	Owner   *string  `yaml:"owner,omitempty"`
	Locked  *bool    `yaml:"locked,omitempty"`
	Absent  bool     `yaml:"absent,omitempty"`

	// Count is the expected number of blocks or links.
	Count int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertConverged  = "converged"
	AssertBlock      = "block"
	AssertBlockCount = "block_count"
	AssertLinkCount  = "link_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid scenario: empty document")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Actors) == 0 {
		return fmt.Errorf("at least one actor is required")
	}
	seen := make(map[string]bool, len(s.Actors))
	for _, a := range s.Actors {
		if a == "" {
			return fmt.Errorf("actor name cannot be empty")
		}
		if seen[a] {
			return fmt.Errorf("duplicate actor %q", a)
		}
		seen[a] = true
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}

	for i, step := range s.Steps {
		switch {
		case slices.Contains(networkOps, step.Op):
			if step.Actor != "" {
				return fmt.Errorf("steps[%d]: %s takes no actor", i, step.Op)
			}
		case slices.Contains(actorOps, step.Op):
			if !seen[step.Actor] {
				return fmt.Errorf("steps[%d]: unknown actor %q", i, step.Actor)
			}
		default:
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		switch a.Type {
		case AssertConverged, AssertBlockCount, AssertLinkCount:
		case AssertBlock:
			if a.Block == "" {
				return fmt.Errorf("assertions[%d]: block is required", i)
			}
		default:
			return fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type)
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch step.Op {
	case OpCreateBlock:
		if step.Type == "" {
			return fmt.Errorf("%s: type is required", step.Op)
		}
	case OpMoveBlock, OpResizeBlock, OpEditText, OpToggleLock:
		if step.Block == "" {
			return fmt.Errorf("%s: block is required", step.Op)
		}
	case OpConnect:
		if step.Source == "" || step.Target == "" {
			return fmt.Errorf("%s: source and target are required", step.Op)
		}
	case OpDeleteBlocks:
		if len(step.Blocks) == 0 {
			return fmt.Errorf("%s: blocks is required", step.Op)
		}
	case OpDeleteLinks:
		if len(step.Links) == 0 {
			return fmt.Errorf("%s: links is required", step.Op)
		}
	}
	return nil
}
