package harness

import (
	"fmt"

	"github.com/roach88/tessera/internal/ir"
)

// checkAssertions evaluates assertions against the final state and records
// every failure on the result.
func checkAssertions(r *Result, assertions []Assertion) {
	for i, a := range assertions {
		if err := checkAssertion(r, a); err != nil {
			r.AddError(fmt.Sprintf("assertions[%d] %s: %v", i, a.Type, err))
		}
	}
}

func checkAssertion(r *Result, a Assertion) error {
	switch a.Type {
	case AssertConverged:
		if !r.Converged {
			return fmt.Errorf("replicas diverged")
		}
	case AssertBlockCount:
		if got := len(r.State.Blocks); got != a.Count {
			return fmt.Errorf("got %d blocks, want %d", got, a.Count)
		}
	case AssertLinkCount:
		if got := len(r.State.Links); got != a.Count {
			return fmt.Errorf("got %d links, want %d", got, a.Count)
		}
	case AssertBlock:
		return checkBlock(r.State, a)
	default:
		return fmt.Errorf("unknown assertion type")
	}
	return nil
}

func checkBlock(g ir.Graph, a Assertion) error {
	var (
		b     ir.Block
		found bool
	)
	for _, candidate := range g.Blocks {
		if candidate.ID == a.Block {
			b, found = candidate, true
			break
		}
	}
	if a.Absent {
		if found {
			return fmt.Errorf("block %s still present", a.Block)
		}
		return nil
	}
	if !found {
		return fmt.Errorf("block %s not found", a.Block)
	}

	if a.Content != nil && b.Data.Content != *a.Content {
		return fmt.Errorf("block %s content: got %q, want %q", a.Block, b.Data.Content, *a.Content)
	}
	if a.X != nil && b.Position.X != *a.X {
		return fmt.Errorf("block %s x: got %v, want %v", a.Block, b.Position.X, *a.X)
	}
	if a.Y != nil && b.Position.Y != *a.Y {
		return fmt.Errorf("block %s y: got %v, want %v", a.Block, b.Position.Y, *a.Y)
	}
	if a.Owner != nil && b.Data.OwnerID != *a.Owner {
		return fmt.Errorf("block %s owner: got %q, want %q", a.Block, b.Data.OwnerID, *a.Owner)
	}
	if a.Locked != nil && b.Data.IsLocked != *a.Locked {
		return fmt.Errorf("block %s locked: got %v, want %v", a.Block, b.Data.IsLocked, *a.Locked)
	}
	return nil
}
