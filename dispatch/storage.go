package dispatch

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/pumpkindb/pumpkindb/common/bigint"
	"github.com/pumpkindb/pumpkindb/vm"
)

// StorageModule implements the transaction, association, and cursor
// instructions against the active environment's transaction slot
// (vm.Env.BeginWrite/BeginRead/Assoc/... wrap the kv backend).
func StorageModule() Module {
	return Module{Name: "storage", Handlers: map[string]vm.Handler{
		"WRITE": opWriteTx,
		"READ":  opReadTx,

		"ASSOC":  opAssoc,
		"ASSOC?": opAssocQuery,
		"RETR":   opRetrieve,
		"COMMIT": opCommit,
		"TXID":   opTxID,

		"$SYSTEM/MAXKEYSIZE": opMaxKeySize,

		"CURSOR":                  opCursorNew,
		"CURSOR/FIRST":            cursorMove(func(c cursorLike) (k, v []byte, ok bool, err error) { return c.First() }),
		"CURSOR/LAST":             cursorMove(func(c cursorLike) (k, v []byte, ok bool, err error) { return c.Last() }),
		"CURSOR/NEXT":             cursorMove(func(c cursorLike) (k, v []byte, ok bool, err error) { return c.Next() }),
		"CURSOR/PREV":             cursorMove(func(c cursorLike) (k, v []byte, ok bool, err error) { return c.Prev() }),
		"CURSOR/SEEK":             opCursorSeek,
		"CURSOR/SEEKLAST":         opCursorSeekLast,
		"CURSOR/KEY":              opCursorKey,
		"CURSOR/VAL":              opCursorVal,
		"CURSOR/POSITIONED?":      opCursorPositioned,
		"CURSOR/DOWHILE":          opCursorDoWhile,
		"CURSOR/DOWHILE-PREFIXED": opCursorDoWhilePrefixed,
	}}
}

func opWriteTx(e *vm.Env) error {
	closure, err := e.Pop()
	if err != nil {
		return err
	}
	return e.BeginWrite(func() error { return vm.Run(e, closure) })
}

func opReadTx(e *vm.Env) error {
	closure, err := e.Pop()
	if err != nil {
		return err
	}
	return e.BeginRead(func() error { return vm.Run(e, closure) })
}

func opAssoc(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	key, value := vs[0], vs[1]
	return e.Assoc(key, value)
}

func opAssocQuery(e *vm.Env) error {
	key, err := e.Pop()
	if err != nil {
		return err
	}
	ok, err := e.Has(key)
	if err != nil {
		return err
	}
	e.Push(boolByte(ok))
	return nil
}

func opRetrieve(e *vm.Env) error {
	key, err := e.Pop()
	if err != nil {
		return err
	}
	v, err := e.Retrieve(key)
	if err != nil {
		return err
	}
	e.Push(v)
	return nil
}

func opCommit(e *vm.Env) error {
	return e.MarkCommit()
}

func opTxID(e *vm.Env) error {
	id, err := e.TxID()
	if err != nil {
		return err
	}
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, id)
	e.Push(out)
	return nil
}

func opMaxKeySize(e *vm.Env) error {
	e.Push(bigint.EncodeUint(big.NewInt(int64(e.MaxKeySize()))))
	return nil
}

func opCursorNew(e *vm.Env) error {
	id, err := e.NewCursor()
	if err != nil {
		return err
	}
	e.Push(id)
	return nil
}

// cursorLike is the subset of kv.Cursor the positioning handlers need;
// satisfied by kv.Cursor directly.
type cursorLike interface {
	First() (k, v []byte, ok bool, err error)
	Last() (k, v []byte, ok bool, err error)
	Next() (k, v []byte, ok bool, err error)
	Prev() (k, v []byte, ok bool, err error)
}

func cursorMove(move func(c cursorLike) (k, v []byte, ok bool, err error)) vm.Handler {
	return func(e *vm.Env) error {
		id, err := e.Pop()
		if err != nil {
			return err
		}
		c, err := e.Cursor(id)
		if err != nil {
			return err
		}
		_, _, ok, moveErr := move(c)
		if moveErr != nil {
			return vm.ErrDatabaseError(moveErr)
		}
		e.Push(boolByte(ok))
		return nil
	}
}

func opCursorSeek(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	key, id := vs[0], vs[1]
	c, err := e.Cursor(id)
	if err != nil {
		return err
	}
	_, _, ok, moveErr := c.Seek(key)
	if moveErr != nil {
		return vm.ErrDatabaseError(moveErr)
	}
	e.Push(boolByte(ok))
	return nil
}

func opCursorSeekLast(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	prefix, id := vs[0], vs[1]
	c, err := e.Cursor(id)
	if err != nil {
		return err
	}
	_, _, ok, moveErr := c.SeekLast(prefix)
	if moveErr != nil {
		return vm.ErrDatabaseError(moveErr)
	}
	e.Push(boolByte(ok))
	return nil
}

func opCursorKey(e *vm.Env) error {
	id, err := e.Pop()
	if err != nil {
		return err
	}
	c, err := e.Cursor(id)
	if err != nil {
		return err
	}
	k, ok := c.Key()
	if !ok {
		return vm.ErrNoValue("CURSOR/KEY: cursor is not positioned")
	}
	e.Push(k)
	return nil
}

func opCursorVal(e *vm.Env) error {
	id, err := e.Pop()
	if err != nil {
		return err
	}
	c, err := e.Cursor(id)
	if err != nil {
		return err
	}
	v, ok := c.Value()
	if !ok {
		return vm.ErrNoValue("CURSOR/VAL: cursor is not positioned")
	}
	e.Push(v)
	return nil
}

func opCursorPositioned(e *vm.Env) error {
	id, err := e.Pop()
	if err != nil {
		return err
	}
	c, err := e.Cursor(id)
	if err != nil {
		return err
	}
	e.Push(boolByte(c.Positioned()))
	return nil
}

// opCursorDoWhile evaluates closure repeatedly, each time on a fresh stack
// holding only the cursor id, until it leaves a non-0x01 value; after each
// iteration, iterator runs (also on a fresh stack holding the cursor id) to
// advance the cursor.
func opCursorDoWhile(e *vm.Env) error {
	vs, err := e.PopN(3)
	if err != nil {
		return err
	}
	id, closure, iterator := vs[0], vs[1], vs[2]
	for {
		cont, err := runCursorBody(e, id, closure)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		if err := runCursorAdvance(e, id, iterator); err != nil {
			return err
		}
	}
}

// opCursorDoWhilePrefixed creates its own cursor, positions it at the first
// key >= prefix, and iterates via CURSOR/NEXT while the key still has
// prefix and closure leaves 0x01.
func opCursorDoWhilePrefixed(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	prefix, closure := vs[0], vs[1]
	id, err := e.NewCursor()
	if err != nil {
		return err
	}
	c, err := e.Cursor(id)
	if err != nil {
		return err
	}
	k, _, ok, moveErr := c.Seek(prefix)
	if moveErr != nil {
		return vm.ErrDatabaseError(moveErr)
	}
	for ok && bytes.HasPrefix(k, prefix) {
		cont, err := runCursorBody(e, id, closure)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		k, _, ok, moveErr = c.Next()
		if moveErr != nil {
			return vm.ErrDatabaseError(moveErr)
		}
	}
	return nil
}

// runCursorBody runs code on a fresh stack holding only id, returning
// whether the closure left 0x01 on top (continue iterating).
func runCursorBody(e *vm.Env, id vm.Value, code vm.Value) (bool, error) {
	saved := e.ReplaceStack([]vm.Value{id})
	runErr := vm.Run(e, code)
	var result vm.Value
	var popErr error
	if runErr == nil {
		result, popErr = e.Pop()
	}
	e.ReplaceStack(saved)
	if runErr != nil {
		return false, runErr
	}
	if popErr != nil {
		return false, popErr
	}
	return isTrue(result), nil
}

func runCursorAdvance(e *vm.Env, id vm.Value, iterator vm.Value) error {
	saved := e.ReplaceStack([]vm.Value{id})
	runErr := vm.Run(e, iterator)
	e.ReplaceStack(saved)
	return runErr
}
