package scenario

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/studiowebux/perfhttp/internal/executor"
	"github.com/studiowebux/perfhttp/internal/parser"
	"github.com/studiowebux/perfhttp/internal/worker"
	"golang.org/x/sync/errgroup"
)

// ErrNoWorkers is returned when Run is asked for fewer than one worker
var ErrNoWorkers = errors.New("workers must be greater than 0")

// MaxWorkers bounds the number of concurrent virtual users
const MaxWorkers = 1000

// WorkerResult is what one virtual user did
type WorkerResult struct {
	Index    int
	WorkerID string
	Outcomes []*executor.Outcome
	Err      error
}

// Result aggregates a run of all workers
type Result struct {
	Workers         []WorkerResult
	Sent            int
	Succeeded       int
	Failed          int
	TransportErrors int
	Duration        time.Duration
}

// Err joins the errors that stopped workers early
func (r *Result) Err() error {
	var errs []error
	for _, w := range r.Workers {
		if w.Err != nil {
			errs = append(errs, fmt.Errorf("worker %d: %w", w.Index, w.Err))
		}
	}
	return errors.Join(errs...)
}

// ProgressFunc is called after every request. It may be called from
// several goroutines at once.
type ProgressFunc func(index int, o *executor.Outcome)

// Runner runs a scenario file with independent workers spawned from one root
type Runner struct {
	exec     *executor.Executor
	root     *worker.Context
	file     *parser.File
	vars     *parser.VariableResolver
	progress ProgressFunc

	sent      atomic.Int64
	succeeded atomic.Int64
}

// Option configures a Runner
type Option func(*Runner)

// WithProgress registers a callback for each outcome
func WithProgress(fn ProgressFunc) Option {
	return func(r *Runner) { r.progress = fn }
}

// WithVariables sets the resolver every worker forks from
func WithVariables(vr *parser.VariableResolver) Option {
	return func(r *Runner) { r.vars = vr }
}

// NewRunner creates a runner. Workers inherit root's settings at Run time.
func NewRunner(exec *executor.Executor, root *worker.Context, file *parser.File, opts ...Option) *Runner {
	r := &Runner{exec: exec, root: root, file: file}
	for _, opt := range opts {
		opt(r)
	}
	if r.vars == nil {
		r.vars = parser.NewVariableResolver(file.Vars, nil, nil)
	}
	return r
}

// Stats returns the live request counters
func (r *Runner) Stats() (sent, succeeded int64) {
	return r.sent.Load(), r.succeeded.Load()
}

// Run starts the given number of workers. Each runs every request of the
// file once, in order. A worker stops early on a fail-fast error, a request
// that cannot be built, a failed extraction or a cancelled context; the
// others carry on.
func (r *Runner) Run(ctx context.Context, workers int) (*Result, error) {
	if workers <= 0 {
		return nil, ErrNoWorkers
	}
	if workers > MaxWorkers {
		return nil, fmt.Errorf("workers cannot exceed %d", MaxWorkers)
	}

	start := time.Now()
	results := make([]WorkerResult, workers)

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		w := r.root.Spawn()
		g.Go(func() error {
			results[i] = r.runWorker(ctx, i, w)
			return nil
		})
	}
	g.Wait()

	res := &Result{Workers: results, Duration: time.Since(start)}
	for _, wr := range results {
		for _, o := range wr.Outcomes {
			res.Sent++
			switch {
			case o.IsSuccess():
				res.Succeeded++
			case o.HasTransportError():
				res.TransportErrors++
				res.Failed++
			default:
				res.Failed++
			}
		}
	}
	return res, nil
}

func (r *Runner) runWorker(ctx context.Context, index int, w *worker.Context) WorkerResult {
	res := WorkerResult{Index: index, WorkerID: w.ID()}
	logger := w.Logger()

	if r.file.PAC != "" && w.PACSource() == "" {
		if err := w.SetPACSource(r.file.PAC); err != nil {
			res.Err = err
			return res
		}
	}
	w.AddLogDetail("vu", strconv.Itoa(index))
	vr := r.vars.Fork()
	ctx = worker.NewContext(ctx, w)

	for i := range r.file.Requests {
		step := &r.file.Requests[i]
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		req, err := step.Build(vr)
		if err != nil {
			res.Err = fmt.Errorf("%s: %w", step.Label(), err)
			return res
		}

		out, err := r.exec.Send(ctx, w, req)
		if out != nil && out.State() != executor.StateMalformedURL {
			res.Outcomes = append(res.Outcomes, out)
			r.sent.Add(1)
			if out.IsSuccess() {
				r.succeeded.Add(1)
			}
			if r.progress != nil {
				r.progress(index, out)
			}
		}
		if err != nil {
			res.Err = err
			return res
		}

		if !out.IsSuccess() {
			continue
		}
		extracted, err := parser.ExtractVariables(step, out, vr)
		if err != nil {
			res.Err = fmt.Errorf("%s: %w", step.Label(), err)
			return res
		}
		if len(extracted) > 0 {
			logger.Debug().Str("request", step.Label()).Int("count", len(extracted)).Msg("variables extracted")
		}
	}
	return res
}

// Collector gathers outcomes from a ProgressFunc safely
type Collector struct {
	mu       sync.Mutex
	outcomes []*executor.Outcome
}

// Add is a ProgressFunc
func (c *Collector) Add(index int, o *executor.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, o)
}

// Outcomes returns a copy of everything collected
func (c *Collector) Outcomes() []*executor.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*executor.Outcome(nil), c.outcomes...)
}
