package dispatch

import (
	"github.com/pumpkindb/pumpkindb/common/bigint"
	"github.com/pumpkindb/pumpkindb/vm"
)

// ControlModule implements the evaluation and definition
// instructions.
func ControlModule() Module {
	return Module{Name: "control", Handlers: map[string]vm.Handler{
		"EVAL":        opEval,
		"EVAL/SCOPED": opEvalScoped,
		"EVAL/VALID?": opEvalValid,
		"TRY":         opTry,
		"IF":          opIf,
		"IFELSE":      opIfElse,
		"DOWHILE":     opDoWhile,
		"TIMES":       opTimes,
		"SET":         opSet,
		"DEF":         opDef,
	}}
}

func opEval(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	return vm.Run(e, v)
}

func opEvalScoped(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	return e.Scoped(func() error { return vm.Run(e, v) })
}

func opEvalValid(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	if vm.Valid(v) {
		e.Push([]byte{1})
	} else {
		e.Push([]byte{0})
	}
	return nil
}

// opTry runs the top closure, catching any *vm.EnvError it raises and
// pushing the triple [description detail code] in its place.
// Transactions opened during the closure were already rolled back by
// BeginWrite/BeginRead before the error reached here; TRY only needs to
// convert the error into data.
func opTry(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	runErr := vm.Run(e, v)
	if runErr == nil {
		e.Push(vm.Wrap(nil))
		return nil
	}
	envErr, ok := runErr.(*vm.EnvError)
	if !ok {
		return runErr // a context-cancellation or similar is not catchable data
	}
	e.Push(vm.Wrap([]vm.Value{
		[]byte(envErr.Description),
		envErr.Detail,
		{byte(envErr.Kind)},
	}))
	return nil
}

func opIf(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	cond, then := vs[0], vs[1]
	switch {
	case isTrue(cond):
		return vm.Run(e, then)
	case isFalse(cond):
		return nil
	default:
		return vm.ErrInvalidValue("IF: condition must be 0x00 or 0x01")
	}
}

func opIfElse(e *vm.Env) error {
	vs, err := e.PopN(3)
	if err != nil {
		return err
	}
	cond, then, els := vs[0], vs[1], vs[2]
	switch {
	case isTrue(cond):
		return vm.Run(e, then)
	case isFalse(cond):
		return vm.Run(e, els)
	default:
		return vm.ErrInvalidValue("IFELSE: condition must be 0x00 or 0x01")
	}
}

// opDoWhile executes the top closure repeatedly until a non-0x01 value
// remains on top, consumed each iteration.
func opDoWhile(e *vm.Env) error {
	code, err := e.Pop()
	if err != nil {
		return err
	}
	for {
		if err := vm.Run(e, code); err != nil {
			return err
		}
		cond, err := e.Pop()
		if err != nil {
			return err
		}
		if !isTrue(cond) {
			return nil
		}
	}
}

// opTimes evaluates code exactly n times, each iteration on a fresh stack
// discarded at the end; values escape an iteration only via the return
// stack or the queue.
func opTimes(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	code, nRaw := vs[0], vs[1]
	n := bigint.DecodeUint(nRaw)
	if !n.IsUint64() {
		return vm.ErrInvalidValue("TIMES: count out of range")
	}
	count := n.Uint64()
	for i := uint64(0); i < count; i++ {
		e.PushStack()
		runErr := vm.Run(e, code)
		if popErr := e.PopStack(); popErr != nil {
			return popErr
		}
		if runErr != nil {
			return runErr
		}
	}
	return nil
}

func opSet(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	v, w := vs[0], vs[1]
	return e.SetRaw(w, v)
}

func opDef(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	c, w := vs[0], vs[1]
	return e.DefClosure(w, c)
}

func isTrue(v vm.Value) bool  { return len(v) == 1 && v[0] == 0x01 }
func isFalse(v vm.Value) bool { return len(v) == 1 && v[0] == 0x00 }
