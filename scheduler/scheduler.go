// Package scheduler implements the cooperative scheduling model: a
// bounded pool of concurrently *running* programs, suspension at storage and
// messaging I/O, fair progress, and cancellation. Per DESIGN.md's
// "Cooperative scheduling: realized via goroutines, not a hand-rolled
// step()", a worker goroutine is the thread of control for one program from
// admission to completion; "suspension" is a real blocking call inside
// vm.Env.Suspend, which releases a counting semaphore (this package's
// `running` channel) for the blocking call's duration so a parked program
// does not pin a worker slot. Concurrency fan-out/fan-in uses
// golang.org/x/sync/errgroup.
package scheduler

import (
	"context"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"

	log "github.com/erigontech/erigon-lib/log/v3"

	"github.com/pumpkindb/pumpkindb/bus"
	"github.com/pumpkindb/pumpkindb/dispatch"
	"github.com/pumpkindb/pumpkindb/hlc"
	"github.com/pumpkindb/pumpkindb/internal/pumpkinlog"
	"github.com/pumpkindb/pumpkindb/kv"
	"github.com/pumpkindb/pumpkindb/vm"
)

// Result is a completed program's outcome: either the resulting stack
// (bottom-to-top) or a caught error.
type Result struct {
	Stack [][]byte
	Err   *vm.EnvError
}

// Scheduler multiplexes concurrently submitted programs across a bounded
// pool of "running" slots.
type Scheduler struct {
	running    chan struct{}
	backend    kv.RwDB
	bus        *bus.Bus
	clock      *hlc.Clock
	dispatcher vm.Dispatcher
	trace      io.Writer
	log        log.Logger
}

// New returns a Scheduler bounding concurrent running programs to workers
// (NumCPU if <= 0), executing against backend and bus, resolving
// instructions with the built-in set from dispatch.New. trace backs the TRACE instruction; pass io.Discard
// if no terminal is attached.
func New(workers int, backend kv.RwDB, messageBus *bus.Bus, clock *hlc.Clock, trace io.Writer) *Scheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Scheduler{
		running:    make(chan struct{}, workers),
		backend:    backend,
		bus:        messageBus,
		clock:      clock,
		dispatcher: dispatch.New(),
		trace:      trace,
		log:        pumpkinlog.New("scheduler"),
	}
}

// Run admits program, executes it to completion, error, or cancellation, and
// returns its outcome. It blocks the calling goroutine only until a running
// slot is free (or ctx is cancelled); the program itself then runs on the
// calling goroutine, suspending (via vm.Env.Suspend) around storage and
// messaging I/O without holding its slot.
func (s *Scheduler) Run(ctx context.Context, program []byte) Result {
	select {
	case s.running <- struct{}{}:
	case <-ctx.Done():
		return Result{Err: cancelledErr(ctx.Err())}
	}
	defer func() { <-s.running }()

	env := vm.New(ctx, vm.Deps{
		Dispatcher: s.dispatcher,
		Backend:    s.backend,
		Bus:        s.bus,
		Clock:      s.clock,
		Trace:      s.trace,
		Running:    s.running,
	})
	defer env.Release()

	runErr := vm.Run(env, program)
	if runErr != nil {
		if envErr, ok := runErr.(*vm.EnvError); ok {
			s.log.Debug("program errored", "kind", envErr.Kind, "err", envErr.Description)
			return Result{Err: envErr}
		}
		s.log.Warn("program terminated by cancellation", "err", runErr)
		return Result{Err: cancelledErr(runErr)}
	}
	return Result{Stack: copyStack(env.Stack())}
}

// RunMany executes each of programs concurrently (bounded by the
// scheduler's running-slot pool) and returns their results in the same
// order as the input, using golang.org/x/sync/errgroup for fan-out. Unlike
// a Session, this does not guarantee submission-order *delivery* as
// completions happen — callers that need that guarantee should use a
// Session instead. It exists for batch/CLI use where only the final
// ordered results matter, not delivery timing.
func (s *Scheduler) RunMany(ctx context.Context, programs [][]byte) []Result {
	results := make([]Result, len(programs))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range programs {
		i, p := i, p
		g.Go(func() error {
			results[i] = s.Run(gctx, p)
			return nil
		})
	}
	_ = g.Wait() // Run never returns an error from the goroutine itself
	return results
}

func copyStack(stack []vm.Value) [][]byte {
	out := make([][]byte, len(stack))
	for i, v := range stack {
		out[i] = append([]byte(nil), v...)
	}
	return out
}

func cancelledErr(cause error) *vm.EnvError {
	return &vm.EnvError{Kind: vm.KindDatabaseError, Description: cancelledPrefix + cause.Error()}
}
