package vm

import (
	"context"
	"io"

	"github.com/pumpkindb/pumpkindb/bus"
	"github.com/pumpkindb/pumpkindb/hlc"
	"github.com/pumpkindb/pumpkindb/kv"
)

// dictEntry is a dictionary binding: SET installs a raw
// value (pushed verbatim on lookup), DEF installs a closure (executed on
// lookup).
type dictEntry struct {
	value   Value
	closure bool
}

// Dispatcher resolves an instruction name to a handler. Built in modules
// (stack, control, arithmetic, ...) are composed into one Dispatcher and
// consulted before the environment's own dictionary, so dynamic user
// definitions take precedence over module lookup only when the name differs
// from every built-in.
type Dispatcher interface {
	// Lookup reports whether name is a built-in instruction.
	Lookup(name string) (Handler, bool)
}

// Handler executes one built-in instruction against env.
type Handler func(env *Env) error

// txSlot holds the environment's single active transaction.
type txSlot struct {
	tx      kv.Tx
	rw      kv.RwTx
	write   bool
	commit  bool
	cursors map[string]kv.Cursor
	nextCur uint64
}

// subscription tracks one bus subscription owned by this environment, so
// it can be released at termination even if the program never called
// UNSUBSCRIBE itself.
type subscription struct {
	id       string
	messages <-chan bus.Message
}

// Env is one program's execution state: stacks, dictionary, transaction
// slot, cursor table, and subscription table. An Env is owned by
// exactly one goroutine for its entire lifetime; it is never shared
// between workers, so none of its fields need synchronization.
type Env struct {
	ctx context.Context

	dispatcher Dispatcher
	dict       map[string]*dictEntry

	stack      []Value
	savedStack [][]Value // stack-of-stacks (`<`/`>`)
	ret        []Value   // return stack (`>R`/`R>`)
	queue      []Value   // double-ended queue (`>Q`/`<Q`/`Q>`/`Q<`/`Q?`)

	tx   *txSlot
	subs map[string]*subscription

	backend kv.RwDB
	bus     *bus.Bus
	clock   *hlc.Clock
	trace   io.Writer

	// running bounds concurrent executing (non-suspended) environments
	// process-wide; release/acquire wraps every blocking call so a parked
	// environment does not hold a worker slot (DESIGN.md: "Cooperative
	// scheduling: realized via goroutines, not a hand-rolled step()").
	running chan struct{}

	maxKeySize uint32
}

// Deps bundles an Env's process-wide collaborators.
type Deps struct {
	Dispatcher Dispatcher
	Backend    kv.RwDB
	Bus        *bus.Bus
	Clock      *hlc.Clock
	Trace      io.Writer
	Running    chan struct{} // worker-concurrency semaphore, shared process-wide
}

// New returns a fresh Env ready to run one program.
func New(ctx context.Context, deps Deps) *Env {
	return &Env{
		ctx:        ctx,
		dispatcher: deps.Dispatcher,
		dict:       make(map[string]*dictEntry),
		subs:       make(map[string]*subscription),
		backend:    deps.Backend,
		bus:        deps.Bus,
		clock:      deps.Clock,
		trace:      deps.Trace,
		running:    deps.Running,
		maxKeySize: deps.Backend.MaxKeySize(),
	}
}

// Context returns the environment's cancellation context.
func (e *Env) Context() context.Context { return e.ctx }

// Clock returns the process-wide HLC source.
func (e *Env) Clock() *hlc.Clock { return e.clock }

// Bus returns the process-wide pub/sub bus.
func (e *Env) Bus() *bus.Bus { return e.bus }

// Trace returns the writer TRACE emits to, as supplied in Deps.Trace.
func (e *Env) Trace() io.Writer { return e.trace }

// MaxKeySize backs $SYSTEM/MAXKEYSIZE.
func (e *Env) MaxKeySize() uint32 { return e.maxKeySize }

// Suspend releases the worker-concurrency slot for the duration of a
// blocking operation, then reacquires it before returning, honoring
// cancellation throughout. Every blocking storage or messaging call in the
// dispatch modules goes through this so suspended environments never pin a
// worker goroutine slot.
func (e *Env) Suspend(block func(ctx context.Context) error) error {
	if e.running != nil {
		select {
		case <-e.running:
		case <-e.ctx.Done():
			return e.ctx.Err()
		}
		defer func() { e.running <- struct{}{} }()
	}
	return block(e.ctx)
}

// --- value stack --------------------------------------------------------

// Push appends v to the top of the value stack.
func (e *Env) Push(v Value) { e.stack = append(e.stack, v) }

// Pop removes and returns the top value, failing with EmptyStack if empty.
func (e *Env) Pop() (Value, error) {
	if len(e.stack) == 0 {
		return nil, ErrEmptyStack("POP")
	}
	n := len(e.stack) - 1
	v := e.stack[n]
	e.stack = e.stack[:n]
	return v, nil
}

// PopN pops n values, returning them in original (bottom-to-top) order.
func (e *Env) PopN(n int) ([]Value, error) {
	if len(e.stack) < n {
		return nil, ErrEmptyStack("POPN")
	}
	at := len(e.stack) - n
	vs := append([]Value(nil), e.stack[at:]...)
	e.stack = e.stack[:at]
	return vs, nil
}

// Peek returns the top value without removing it.
func (e *Env) Peek() (Value, error) {
	if len(e.stack) == 0 {
		return nil, ErrEmptyStack("PEEK")
	}
	return e.stack[len(e.stack)-1], nil
}

// Stack returns the current stack, bottom-to-top. Callers must not mutate
// the returned slice.
func (e *Env) Stack() []Value { return e.stack }

// ReplaceStack installs a fresh stack, used by CURSOR/DOWHILE's and
// CURSOR/DOWHILE-PREFIXED's "fresh stack per iteration" semantics.
func (e *Env) ReplaceStack(s []Value) (old []Value) {
	old = e.stack
	e.stack = s
	return old
}

// PushStack saves the current stack and installs an empty one, backing `<`.
func (e *Env) PushStack() {
	e.savedStack = append(e.savedStack, e.stack)
	e.stack = nil
}

// PopStack discards the current stack and restores the saved one, backing
// `>`. Fails with EmptyStack if there is no saved stack.
func (e *Env) PopStack() error {
	if len(e.savedStack) == 0 {
		return ErrEmptyStack(">")
	}
	n := len(e.savedStack) - 1
	e.stack = e.savedStack[n]
	e.savedStack = e.savedStack[:n]
	return nil
}

// --- return stack --------------------------------------------------------

// ToReturn pops the value stack's top and pushes it on the return stack,
// backing `>R`.
func (e *Env) ToReturn() error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	e.ret = append(e.ret, v)
	return nil
}

// FromReturn pops the return stack and pushes onto the value stack,
// backing `R>`.
func (e *Env) FromReturn() error {
	if len(e.ret) == 0 {
		return ErrEmptyStack("R>")
	}
	n := len(e.ret) - 1
	v := e.ret[n]
	e.ret = e.ret[:n]
	e.Push(v)
	return nil
}

// --- queue ---------------------------------------------------------------

// PushBack appends to the back of the queue, backing `>Q`.
func (e *Env) PushBack(v Value) { e.queue = append(e.queue, v) }

// PushFront prepends to the queue, backing `<Q`.
func (e *Env) PushFront(v Value) { e.queue = append([]Value{v}, e.queue...) }

// PopBack removes from the back of the queue, backing `Q>`.
func (e *Env) PopBack() (Value, error) {
	if len(e.queue) == 0 {
		return nil, ErrNoValue("queue is empty")
	}
	n := len(e.queue) - 1
	v := e.queue[n]
	e.queue = e.queue[:n]
	return v, nil
}

// PopFront removes from the front of the queue, backing `Q<`.
func (e *Env) PopFront() (Value, error) {
	if len(e.queue) == 0 {
		return nil, ErrNoValue("queue is empty")
	}
	v := e.queue[0]
	e.queue = e.queue[1:]
	return v, nil
}

// QueueNonEmpty backs `Q?`.
func (e *Env) QueueNonEmpty() bool { return len(e.queue) > 0 }

// --- dictionary ------------------------------------------------------------

// Resolve looks up name against the built-in dispatcher first, then the
// dictionary; built-ins always win.
func (e *Env) Resolve(name []byte) (Handler, *dictEntry, error) {
	if h, ok := e.dispatcher.Lookup(string(name)); ok {
		return h, nil, nil
	}
	if ent, ok := e.dict[string(name)]; ok {
		return nil, ent, nil
	}
	return nil, nil, ErrUnknownInstruction(name)
}

// SetRaw installs name to push value verbatim on resolution, backing SET.
// Fails with InvalidInstruction if name shadows a built-in.
func (e *Env) SetRaw(name []byte, value Value) error {
	if _, ok := e.dispatcher.Lookup(string(name)); ok {
		return ErrInvalidInstruction("cannot redefine built-in " + string(name))
	}
	e.dict[string(name)] = &dictEntry{value: value, closure: false}
	return nil
}

// DefClosure installs name to execute closure on resolution, backing DEF.
func (e *Env) DefClosure(name []byte, closure Value) error {
	if _, ok := e.dispatcher.Lookup(string(name)); ok {
		return ErrInvalidInstruction("cannot redefine built-in " + string(name))
	}
	e.dict[string(name)] = &dictEntry{value: closure, closure: true}
	return nil
}

// snapshotDict and restoreDict back EVAL/SCOPED: dictionary mutations
// during a scoped sub-program must not outlive it.
func (e *Env) snapshotDict() map[string]*dictEntry {
	snap := make(map[string]*dictEntry, len(e.dict))
	for k, v := range e.dict {
		snap[k] = v
	}
	return snap
}

func (e *Env) restoreDict(snap map[string]*dictEntry) {
	e.dict = snap
}

// Scoped runs body with the dictionary checkpointed: any SET/DEF performed
// during body (directly or by nested EVAL) is reverted once body returns,
// backing EVAL/SCOPED.
func (e *Env) Scoped(body func() error) error {
	snap := e.snapshotDict()
	err := body()
	e.restoreDict(snap)
	return err
}

// --- transactions ----------------------------------------------------------

// InTransaction reports whether a transaction is currently open.
func (e *Env) InTransaction() bool { return e.tx != nil }

// requireTx fetches the active transaction, failing with NoTransaction if
// none is open; every storage instruction runs inside one.
func (e *Env) requireTx() (*txSlot, error) {
	if e.tx == nil {
		return nil, ErrNoTransaction("no active transaction")
	}
	return e.tx, nil
}

// requireWriteTx is like requireTx but additionally demands a write
// transaction (ASSOC, COMMIT).
func (e *Env) requireWriteTx() (*txSlot, error) {
	t, err := e.requireTx()
	if err != nil {
		return nil, err
	}
	if !t.write {
		return nil, ErrNoTransaction("not inside a write transaction")
	}
	return t, nil
}

// BeginWrite opens a write transaction for the duration of body, rejecting
// a nested WRITE. Suspension (blocking for the single writer slot) goes
// through Suspend.
func (e *Env) BeginWrite(body func() error) error {
	if e.tx != nil {
		return ErrNoTransaction("nested WRITE is not permitted")
	}
	var rwtx kv.RwTx
	if err := e.Suspend(func(ctx context.Context) error {
		var err error
		rwtx, err = e.backend.BeginRw(ctx)
		return err
	}); err != nil {
		return ErrDatabaseError(err)
	}

	e.tx = &txSlot{tx: rwtx, rw: rwtx, write: true, cursors: make(map[string]kv.Cursor)}
	bodyErr := body()
	t := e.tx
	e.releaseCursors(t)
	e.tx = nil

	if bodyErr != nil {
		rwtx.Rollback()
		return bodyErr
	}
	if t.commit {
		if err := rwtx.Commit(); err != nil {
			return ErrDatabaseError(err)
		}
	} else {
		rwtx.Rollback()
	}
	return nil
}

// BeginRead opens a read transaction for the duration of body, rejecting a
// READ nested inside any open transaction.
func (e *Env) BeginRead(body func() error) error {
	if e.tx != nil {
		return ErrNoTransaction("nested READ is not permitted")
	}
	var rotx kv.Tx
	if err := e.Suspend(func(ctx context.Context) error {
		var err error
		rotx, err = e.backend.BeginRo(ctx)
		return err
	}); err != nil {
		return ErrDatabaseError(err)
	}

	e.tx = &txSlot{tx: rotx, write: false, cursors: make(map[string]kv.Cursor)}
	bodyErr := body()
	t := e.tx
	e.releaseCursors(t)
	e.tx = nil
	rotx.Rollback()
	return bodyErr
}

func (e *Env) releaseCursors(t *txSlot) {
	for _, c := range t.cursors {
		c.Close()
	}
}

// MarkCommit marks the active write transaction to persist at its end,
// backing COMMIT.
func (e *Env) MarkCommit() error {
	t, err := e.requireWriteTx()
	if err != nil {
		return err
	}
	t.commit = true
	return nil
}

// TxID returns a unique monotonically-increasing transaction id, backing
// TXID.
func (e *Env) TxID() (uint64, error) {
	t, err := e.requireTx()
	if err != nil {
		return 0, err
	}
	return t.tx.ID(), nil
}

// Assoc inserts key/value, backing ASSOC. Requires a write transaction.
func (e *Env) Assoc(key, value Value) error {
	t, err := e.requireWriteTx()
	if err != nil {
		return err
	}
	if err := t.rw.Assoc(key, value); err != nil {
		if err == kv.ErrDuplicateKey {
			return ErrDuplicateKey(key)
		}
		return ErrDatabaseError(err)
	}
	return nil
}

// Has tests key membership, backing ASSOC?. Valid in either transaction kind.
func (e *Env) Has(key Value) (bool, error) {
	t, err := e.requireTx()
	if err != nil {
		return false, err
	}
	ok, err := t.tx.Has(key)
	if err != nil {
		return false, ErrDatabaseError(err)
	}
	return ok, nil
}

// Retrieve performs a point lookup, backing RETR.
func (e *Env) Retrieve(key Value) (Value, error) {
	t, err := e.requireTx()
	if err != nil {
		return nil, err
	}
	v, ok, err := t.tx.Get(key)
	if err != nil {
		return nil, ErrDatabaseError(err)
	}
	if !ok {
		return nil, ErrUnknownKey(key)
	}
	return v, nil
}

// --- cursors -----------------------------------------------------------

// NewCursor creates a cursor within the active transaction and returns its
// opaque id, backing CURSOR.
func (e *Env) NewCursor() ([]byte, error) {
	t, err := e.requireTx()
	if err != nil {
		return nil, err
	}
	c, err := t.tx.Cursor()
	if err != nil {
		return nil, ErrDatabaseError(err)
	}
	t.nextCur++
	id := cursorID(t.nextCur)
	t.cursors[string(id)] = c
	return id, nil
}

// Cursor resolves an opaque cursor id to its handle, failing with
// InvalidValue on an unknown or expired id.
func (e *Env) Cursor(id []byte) (kv.Cursor, error) {
	t, err := e.requireTx()
	if err != nil {
		return nil, err
	}
	c, ok := t.cursors[string(id)]
	if !ok {
		return nil, ErrInvalidValue("unknown or expired cursor id")
	}
	return c, nil
}

func cursorID(n uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(n)
		n >>= 8
	}
	return b
}

// --- messaging -----------------------------------------------------------

// Subscribe registers interest in topic, backing SUBSCRIBE.
func (e *Env) Subscribe(topic string) []byte {
	id, ch := e.bus.Subscribe(topic)
	e.subs[id] = &subscription{id: id, messages: ch}
	return []byte(id)
}

// Unsubscribe cancels a subscription owned by this environment, backing
// UNSUBSCRIBE.
func (e *Env) Unsubscribe(id []byte) {
	sid := string(id)
	if _, ok := e.subs[sid]; !ok {
		return
	}
	delete(e.subs, sid)
	e.bus.Unsubscribe(sid)
}

// Publish delivers value to topic's subscribers, backing PUBLISH.
func (e *Env) Publish(topic string, value Value) {
	e.bus.Publish(topic, value)
}

// AwaitMessage blocks until a message arrives on the named subscription,
// backing a subscriber's message-delivery suspension point.
func (e *Env) AwaitMessage(id []byte) (bus.Message, error) {
	sub, ok := e.subs[string(id)]
	if !ok {
		return bus.Message{}, ErrInvalidValue("unknown or expired subscription id")
	}
	var msg bus.Message
	err := e.Suspend(func(ctx context.Context) error {
		select {
		case m, open := <-sub.messages:
			if !open {
				return ErrNoValue("subscription closed")
			}
			msg = m
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return msg, err
}

// Release tears down every resource this environment owns: rolls back an
// open transaction and releases its cursors, then cancels every
// subscription. Called by the scheduler on normal termination, error, or
// cancellation.
func (e *Env) Release() {
	if e.tx != nil {
		e.releaseCursors(e.tx)
		e.tx.tx.Rollback()
		e.tx = nil
	}
	if len(e.subs) > 0 {
		ids := make([]string, 0, len(e.subs))
		for id := range e.subs {
			ids = append(ids, id)
		}
		e.bus.ReleaseAll(ids)
		e.subs = make(map[string]*subscription)
	}
}
