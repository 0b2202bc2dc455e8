package dispatch

import (
	"bytes"

	"github.com/pumpkindb/pumpkindb/vm"
)

// CompareModule implements the lexicographic byte comparisons and
// boolean operators. EQUAL?/LT?/GT? treat their operands purely as byte
// sequences (shorter-is-lesser when a prefix), distinct from the
// family-scoped UINT/EQUAL? etc, which decode before comparing.
func CompareModule() Module {
	return Module{Name: "compare", Handlers: map[string]vm.Handler{
		"EQUAL?": cmpOp(func(c int) bool { return c == 0 }),
		"LT?":    cmpOp(func(c int) bool { return c < 0 }),
		"GT?":    cmpOp(func(c int) bool { return c > 0 }),

		"AND": boolOp(func(a, b bool) bool { return a && b }),
		"OR":  boolOp(func(a, b bool) bool { return a || b }),
		"NOT": opNot,
	}}
}

func cmpOp(pred func(cmp int) bool) vm.Handler {
	return func(e *vm.Env) error {
		vs, err := e.PopN(2)
		if err != nil {
			return err
		}
		e.Push(boolByte(pred(bytes.Compare(vs[0], vs[1]))))
		return nil
	}
}

func boolOp(combine func(a, b bool) bool) vm.Handler {
	return func(e *vm.Env) error {
		vs, err := e.PopN(2)
		if err != nil {
			return err
		}
		a, err := boolArg(vs[0])
		if err != nil {
			return err
		}
		b, err := boolArg(vs[1])
		if err != nil {
			return err
		}
		e.Push(boolByte(combine(a, b)))
		return nil
	}
}

func opNot(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	a, err := boolArg(v)
	if err != nil {
		return err
	}
	e.Push(boolByte(!a))
	return nil
}

func boolArg(v vm.Value) (bool, error) {
	if len(v) != 1 || (v[0] != 0x00 && v[0] != 0x01) {
		return false, vm.ErrInvalidValue("boolean operand must be 0x00 or 0x01")
	}
	return v[0] == 0x01, nil
}

func boolByte(b bool) vm.Value {
	if b {
		return []byte{0x01}
	}
	return []byte{0x00}
}
