package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/tessera/internal/engine"
	"github.com/roach88/tessera/internal/ir"
	"github.com/roach88/tessera/internal/testutil"
	"github.com/roach88/tessera/internal/transport"
)

// Option configures Run.
type Option func(*runner)

// WithLogger sets the logger handed to every session. Sessions log to a
// discarding logger by default.
func WithLogger(l *slog.Logger) Option {
	return func(r *runner) {
		r.logger = l
	}
}

type runner struct {
	scenario *Scenario
	logger   *slog.Logger
	hub      *transport.Hub
	sessions map[string]*engine.Session
	live     []*engine.Session
	result   *Result
}

// Run executes a scenario and returns its result.
//
// Run returns an error only when the scenario could not be executed at
// all. Step outcomes that differ from their expectation, divergent
// replicas and failed assertions are recorded in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	r := &runner{
		scenario: scenario,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		hub:      transport.NewHub(),
		sessions: make(map[string]*engine.Session, len(scenario.Actors)),
		result:   NewResult(scenario.Name),
	}
	for _, opt := range opts {
		opt(r)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, actor := range scenario.Actors {
		c := engine.New(actor,
			engine.WithIDGenerator(testutil.NewSequenceGenerator(actor)),
			engine.WithLogger(r.logger))
		s := engine.NewSession(c,
			engine.WithRoom(scenario.Name),
			engine.WithTransport(r.hub.Join(actor)),
			engine.WithSessionLogger(r.logger))
		r.sessions[actor] = s
		r.live = append(r.live, s)
		go s.Run(runCtx)
	}
	defer r.closeAll()

	if err := engine.Settle(ctx, r.live...); err != nil {
		return nil, fmt.Errorf("start sessions: %w", err)
	}

	for i, step := range scenario.Steps {
		if err := r.step(ctx, i, step); err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, step.Op, err)
		}
	}

	if err := engine.Settle(ctx, r.live...); err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}
	if err := r.collect(ctx); err != nil {
		return nil, err
	}
	checkAssertions(r.result, scenario.Assertions)
	return r.result, nil
}

func (r *runner) closeAll() {
	for _, actor := range r.scenario.Actors {
		s := r.sessions[actor]
		s.Close()
		<-s.Done()
	}
}

// step runs one step. Command failures are recorded; only harness
// failures are returned.
func (r *runner) step(ctx context.Context, i int, step Step) error {
	sr := StepResult{Actor: step.Actor, Op: step.Op}
	var err error

	switch step.Op {
	case OpPartition:
		r.hub.Pause()
	case OpHeal:
		r.hub.Resume()
	case OpSync:
		if err := engine.Settle(ctx, r.live...); err != nil {
			return err
		}
	case OpLeave:
		s := r.sessions[step.Actor]
		err = s.Close()
		<-s.Done()
		r.live = slices.DeleteFunc(r.live, func(l *engine.Session) bool { return l == s })
	default:
		err = r.sessions[step.Actor].Do(ctx, func(c *engine.Canvas) error {
			res, err := apply(c, step)
			sr.Result = res
			return err
		})
	}

	if err != nil {
		sr.Error = errorCode(err)
	}
	if sr.Error != step.Expect {
		r.result.AddError(fmt.Sprintf("steps[%d] %s by %s: got error %q, want %q",
			i, step.Op, step.Actor, sr.Error, step.Expect))
	}
	r.result.Steps = append(r.result.Steps, sr)
	return nil
}

// apply issues one canvas command.
func apply(c *engine.Canvas, step Step) (string, error) {
	switch step.Op {
	case OpCreateBlock:
		return c.CreateBlock(ir.BlockType(step.Type),
			ir.Position{X: step.X, Y: step.Y},
			ir.BlockData{Content: step.Content})
	case OpMoveBlock:
		return "", c.MoveBlock(step.Block, ir.Position{X: step.X, Y: step.Y})
	case OpResizeBlock:
		return "", c.ResizeBlock(step.Block, step.Width, step.Height)
	case OpEditText:
		return "", c.EditText(step.Block, step.Index, step.Delete, step.Text)
	case OpToggleLock:
		return "", c.ToggleLock(step.Block)
	case OpConnect:
		return c.Connect(step.Source, step.Target)
	case OpDeleteBlocks:
		return "", c.DeleteBlocks(step.Blocks...)
	case OpDeleteLinks:
		return "", c.DeleteLinks(step.Links...)
	case OpSelect:
		return "", c.Select(step.Blocks...)
	case OpUndo:
		return "", c.Undo()
	case OpRedo:
		return "", c.Redo()
	default:
		return "", fmt.Errorf("unknown op %q", step.Op)
	}
}

// errorCode reduces err to the code recorded in reports.
func errorCode(err error) string {
	var ce *engine.CanvasError
	if errors.As(err, &ce) {
		return string(ce.Code)
	}
	return err.Error()
}

// collect records the final graph and whether the live replicas agree.
func (r *runner) collect(ctx context.Context) error {
	if len(r.live) == 0 {
		r.result.Converged = true
		return nil
	}
	var first string
	r.result.Converged = true
	for i, s := range r.live {
		g, err := s.Graph(ctx)
		if err != nil {
			return fmt.Errorf("read graph of %s: %w", s.Actor(), err)
		}
		digest, err := ir.GraphDigest(g.Blocks, g.Links)
		if err != nil {
			return fmt.Errorf("digest graph of %s: %w", s.Actor(), err)
		}
		if i == 0 {
			first = digest
			r.result.State = g
			continue
		}
		if digest != first {
			r.result.Converged = false
		}
	}
	return nil
}
