package harness

import (
	"cmp"
	"slices"

	"github.com/roach88/tessera/internal/ir"
)

// StepResult is the outcome of one step.
type StepResult struct {
	Actor string `json:"actor,omitempty"`
	Op    string `json:"op"`

	// Result is the id returned by create_block and connect.
	Result string `json:"result,omitempty"`

	// Error is the canvas error code, or the error text for other failures.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	Name string `json:"name"`

	// Pass is true if every step met its expectation and every assertion
	// held.
	Pass bool `json:"pass"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	Steps []StepResult `json:"steps"`

	// Converged is true if every live replica ended on the same graph.
	Converged bool `json:"converged"`

	// State is the final graph of the first live replica.
	State ir.Graph `json:"state"`
}

// NewResult creates a new passing result.
func NewResult(name string) *Result {
	return &Result{
		Name:   name,
		Pass:   true,
		Errors: []string{},
		Steps:  []StepResult{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Report converts the result into the map compared against golden files.
// Blocks and links are sorted by id; pass and errors are left out so the
// golden file records behavior rather than expectations.
func (r *Result) Report() map[string]any {
	steps := make([]any, len(r.Steps))
	for i, s := range r.Steps {
		m := map[string]any{"op": s.Op}
		if s.Actor != "" {
			m["actor"] = s.Actor
		}
		if s.Result != "" {
			m["result"] = s.Result
		}
		if s.Error != "" {
			m["error"] = s.Error
		}
		steps[i] = m
	}

	blocks := slices.Clone(r.State.Blocks)
	slices.SortFunc(blocks, func(a, b ir.Block) int { return cmp.Compare(a.ID, b.ID) })
	blockList := make([]any, len(blocks))
	for i, b := range blocks {
		m := map[string]any{
			"id":      b.ID,
			"type":    string(b.Type),
			"x":       b.Position.X,
			"y":       b.Position.Y,
			"content": b.Data.Content,
			"owner":   b.Data.OwnerID,
			"locked":  b.Data.IsLocked,
		}
		if b.Width != 0 || b.Height != 0 {
			m["width"] = b.Width
			m["height"] = b.Height
		}
		blockList[i] = m
	}

	links := slices.Clone(r.State.Links)
	slices.SortFunc(links, func(a, b ir.Link) int { return cmp.Compare(a.ID, b.ID) })
	linkList := make([]any, len(links))
	for i, l := range links {
		linkList[i] = map[string]any{
			"id":     l.ID,
			"source": l.Source,
			"target": l.Target,
		}
	}

	return map[string]any{
		"name":      r.Name,
		"converged": r.Converged,
		"steps":     steps,
		"state": map[string]any{
			"blocks": blockList,
			"links":  linkList,
		},
	}
}
