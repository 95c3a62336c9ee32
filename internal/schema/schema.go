// Package schema validates canvas graphs before they are imported.
//
// Validation runs in two passes. The document is first unified with the
// embedded CUE definition #Graph, which checks shapes and field types.
// The decoded graph is then checked for identity invariants the schema
// cannot express: unique ids, at most one core block, and links that
// join two distinct existing blocks.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/tessera/internal/ir"
)

//go:embed graph.cue
var graphSchema string

// Validation error codes (E200-E299)
const (
	ErrSchema         = "E200" // document does not match #Graph
	ErrDuplicateBlock = "E201" // two blocks share an id
	ErrDuplicateLink  = "E202" // two links share an id
	ErrMultipleCores  = "E203" // more than one core block
	ErrDanglingLink   = "E204" // link endpoint is not a block
	ErrSelfLink       = "E205" // link joins a block to itself
	ErrDecode         = "E206" // document is not a decodable graph
)

// ValidationError is one problem found in an imported graph.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Errors is a non-empty list of validation errors.
type Errors []ValidationError

func (es Errors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Validator checks graph documents against the compiled schema.
type Validator struct {
	graph cue.Value
}

// New compiles the embedded schema.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(graphSchema, cue.Filename("graph.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#Graph"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("lookup #Graph: %w", err)
	}
	return &Validator{graph: def}, nil
}

// Validate parses a JSON graph document and returns the normalized graph.
// Every problem found is reported; a non-nil error is always Errors.
func (v *Validator) Validate(filename string, data []byte) (ir.Graph, error) {
	doc := v.graph.Context().CompileBytes(data, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return ir.Graph{}, Errors(fromCUE(err, ErrDecode))
	}
	if err := v.graph.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return ir.Graph{}, Errors(fromCUE(err, ErrSchema))
	}

	var g ir.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return ir.Graph{}, Errors{{Field: "graph", Message: err.Error(), Code: ErrDecode}}
	}
	for i := range g.Blocks {
		g.Blocks[i] = ir.NormalizeBlock(g.Blocks[i])
	}
	if g.Blocks == nil {
		g.Blocks = []ir.Block{}
	}
	if g.Links == nil {
		g.Links = []ir.Link{}
	}

	if errs := Check(g); len(errs) > 0 {
		return ir.Graph{}, errs
	}
	return g, nil
}

// Check reports identity invariant violations of a decoded graph.
func Check(g ir.Graph) Errors {
	var errs Errors
	blocks := make(map[string]bool, len(g.Blocks))
	cores := 0
	for i, b := range g.Blocks {
		if blocks[b.ID] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("blocks[%d].id", i),
				Message: fmt.Sprintf("duplicate block id: %q", b.ID),
				Code:    ErrDuplicateBlock,
			})
		}
		blocks[b.ID] = true
		if b.Type == ir.BlockCore {
			cores++
			if cores == 2 {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("blocks[%d].type", i),
					Message: "graph has more than one core block",
					Code:    ErrMultipleCores,
				})
			}
		}
	}

	links := make(map[string]bool, len(g.Links))
	for i, l := range g.Links {
		if links[l.ID] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("links[%d].id", i),
				Message: fmt.Sprintf("duplicate link id: %q", l.ID),
				Code:    ErrDuplicateLink,
			})
		}
		links[l.ID] = true
		if l.Source == l.Target {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("links[%d]", i),
				Message: fmt.Sprintf("link %q joins block %q to itself", l.ID, l.Source),
				Code:    ErrSelfLink,
			})
		}
		for _, end := range []struct{ name, id string }{{"source", l.Source}, {"target", l.Target}} {
			if !blocks[end.id] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("links[%d].%s", i, end.name),
					Message: fmt.Sprintf("unknown block %q", end.id),
					Code:    ErrDanglingLink,
				})
			}
		}
	}
	return errs
}

// fromCUE flattens a CUE error into validation errors with positions.
func fromCUE(err error, code string) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		ve := ValidationError{
			Field:   strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		}
		if ve.Field == "" {
			ve.Field = "graph"
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.Line = pos[0].Line()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Field: "graph", Message: err.Error(), Code: code})
	}
	return out
}
