package scheduler

import (
	"context"
	"sync"

	log "github.com/erigontech/erigon-lib/log/v3"

	"github.com/pumpkindb/pumpkindb/internal/pumpkinlog"
	"github.com/pumpkindb/pumpkindb/vm"
)

// Session owns the environments created for one client connection: programs
// submitted on it execute in submission order, their results are emitted in
// the same order, and closing the session cancels every
// environment it owns — open transactions roll back, cursors and
// subscriptions are released.
//
// The boundary between two programs on the same session is a suspension
// point: the session's drain goroutine returns to the queue after
// each program, so a long backlog on one session never starves programs
// submitted on another.
type Session struct {
	id    string
	sched *Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	queue chan submission
	done  chan struct{}

	mu        sync.Mutex // guards closed; serializes Submit against Close
	closed    bool
	closeOnce sync.Once
	log       log.Logger
}

type submission struct {
	program []byte
	result  chan Result
}

// sessionBacklog bounds programs queued but not yet started on one session;
// Submit blocks once it is full.
const sessionBacklog = 64

// NewSession opens a session whose environments live under ctx. Close (or
// ctx cancellation) tears it down.
func (s *Scheduler) NewSession(ctx context.Context, id string) *Session {
	sctx, cancel := context.WithCancel(ctx)
	sess := &Session{
		id:     id,
		sched:  s,
		ctx:    sctx,
		cancel: cancel,
		queue:  make(chan submission, sessionBacklog),
		done:   make(chan struct{}),
		log:    pumpkinlog.New("session"),
	}
	go sess.drain()
	return sess
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Submit enqueues program and returns a channel that will carry its single
// Result. Results across a session's submissions are also delivered in
// submission order: the session executes one program at a time, so a later
// program's result channel never fires before an earlier one's. Submitting
// on a closed session yields a cancellation result immediately.
func (s *Session) Submit(program []byte) <-chan Result {
	ch := make(chan Result, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ch <- Result{Err: cancelledErr(context.Canceled)}
		return ch
	}
	s.queue <- submission{program: program, result: ch}
	s.mu.Unlock()
	return ch
}

// Close cancels every environment owned by the session, waits for the
// in-flight program (if any) to finish rolling back, then answers every
// still-queued submission with a cancellation result so no Submit caller is
// left waiting. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		<-s.done
		s.flushCancelled()
	})
}

func (s *Session) drain() {
	defer close(s.done)
	for {
		select {
		case sub := <-s.queue:
			res := s.sched.Run(s.ctx, sub.program)
			if res.Err != nil {
				s.log.Debug("program failed", "session", s.id, "kind", res.Err.Kind, "err", res.Err.Description)
			}
			sub.result <- res
		case <-s.ctx.Done():
			return
		}
	}
}

// flushCancelled runs after the drain goroutine has exited; every queued
// submission was enqueued before the session closed, so draining until empty
// here answers all of them.
func (s *Session) flushCancelled() {
	for {
		select {
		case sub := <-s.queue:
			sub.result <- Result{Err: cancelledErr(s.ctx.Err())}
		default:
			return
		}
	}
}

// cancelledPrefix marks a Result produced by session teardown rather than a
// program-level failure. Cancellation is not one of the ten catchable
// instruction kinds, so it reuses DatabaseError's code at the wire level
// while remaining distinguishable in-process by the description prefix.
const cancelledPrefix = "cancelled: "

// IsCancelled reports whether err is a cancellation produced by session
// teardown rather than a program-level failure.
func IsCancelled(err *vm.EnvError) bool {
	return err != nil && len(err.Description) >= len(cancelledPrefix) &&
		err.Description[:len(cancelledPrefix)] == cancelledPrefix
}
