package dispatch

import (
	"math/big"

	"github.com/pumpkindb/pumpkindb/common/bigint"
	"github.com/pumpkindb/pumpkindb/vm"
)

// StackModule implements the stack, return-stack, queue, and
// stack-of-stacks instructions, every one of which is total up to
// vm.ErrEmptyStack / vm.ErrNoValue.
func StackModule() Module {
	return Module{Name: "stack", Handlers: map[string]vm.Handler{
		"DROP":  opDrop,
		"2DROP": opDropN(2),
		"3DROP": opDropN(3),

		"DUP":  opDup,
		"2DUP": opDupN(2),
		"3DUP": opDupN(3),

		"SWAP":  opSwap,
		"2SWAP": op2Swap,
		"OVER":  opOver,
		"2OVER": op2Over,
		"ROT":   opRot,
		"-ROT":  opRotInv,
		"2ROT":  op2Rot,
		"NIP":   opNip,
		"2NIP":  op2Nip,
		"TUCK":  opTuck,
		"2TUCK": op2Tuck,

		"DEPTH": opDepth,
		"STACK": opStack,

		"WRAP":   opWrap,
		"UNWRAP": opUnwrap,

		"LENGTH":      opLength,
		"CONCAT":      opConcat,
		"SLICE":       opSlice,
		"PAD":         opPad,
		"STARTSWITH?": opStartsWith,

		">R": func(e *vm.Env) error { return e.ToReturn() },
		"R>": func(e *vm.Env) error { return e.FromReturn() },

		">Q": opQueuePushBack,
		"<Q": opQueuePushFront,
		"Q>": opQueuePopBack,
		"Q<": opQueuePopFront,
		"Q?": opQueueNonEmpty,

		"<": func(e *vm.Env) error { e.PushStack(); return nil },
		">": func(e *vm.Env) error { return e.PopStack() },
	}}
}

func opDrop(e *vm.Env) error {
	_, err := e.Pop()
	return err
}

func opDropN(n int) vm.Handler {
	return func(e *vm.Env) error {
		_, err := e.PopN(n)
		return err
	}
}

func opDup(e *vm.Env) error {
	v, err := e.Peek()
	if err != nil {
		return err
	}
	e.Push(v)
	return nil
}

func opDupN(n int) vm.Handler {
	return func(e *vm.Env) error {
		vs, err := e.PopN(n)
		if err != nil {
			return err
		}
		for _, v := range vs {
			e.Push(v)
		}
		for _, v := range vs {
			e.Push(v)
		}
		return nil
	}
}

func opSwap(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	e.Push(vs[1])
	e.Push(vs[0])
	return nil
}

func op2Swap(e *vm.Env) error {
	vs, err := e.PopN(4)
	if err != nil {
		return err
	}
	// a b c d -> c d a b
	push(e, vs[2], vs[3], vs[0], vs[1])
	return nil
}

func opOver(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	push(e, vs[0], vs[1], vs[0])
	return nil
}

func op2Over(e *vm.Env) error {
	vs, err := e.PopN(4)
	if err != nil {
		return err
	}
	// a b c d -> a b c d a b
	push(e, vs[0], vs[1], vs[2], vs[3], vs[0], vs[1])
	return nil
}

func opRot(e *vm.Env) error {
	vs, err := e.PopN(3)
	if err != nil {
		return err
	}
	// a b c -> b c a
	push(e, vs[1], vs[2], vs[0])
	return nil
}

func opRotInv(e *vm.Env) error {
	vs, err := e.PopN(3)
	if err != nil {
		return err
	}
	// a b c -> c a b
	push(e, vs[2], vs[0], vs[1])
	return nil
}

func op2Rot(e *vm.Env) error {
	vs, err := e.PopN(6)
	if err != nil {
		return err
	}
	// a b c d e f -> c d e f a b
	push(e, vs[2], vs[3], vs[4], vs[5], vs[0], vs[1])
	return nil
}

func opNip(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	push(e, vs[1])
	return nil
}

func op2Nip(e *vm.Env) error {
	vs, err := e.PopN(4)
	if err != nil {
		return err
	}
	// a b c d -> c d
	push(e, vs[2], vs[3])
	return nil
}

func opTuck(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	// a b -> b a b
	push(e, vs[1], vs[0], vs[1])
	return nil
}

func op2Tuck(e *vm.Env) error {
	vs, err := e.PopN(4)
	if err != nil {
		return err
	}
	// a b c d -> c d a b c d
	push(e, vs[2], vs[3], vs[0], vs[1], vs[2], vs[3])
	return nil
}

func push(e *vm.Env, vs ...vm.Value) {
	for _, v := range vs {
		e.Push(v)
	}
}

func opDepth(e *vm.Env) error {
	e.Push(bigint.EncodeUint(big.NewInt(int64(len(e.Stack())))))
	return nil
}

func opStack(e *vm.Env) error {
	e.Push(vm.Wrap(e.Stack()))
	return nil
}

func opWrap(e *vm.Env) error {
	nRaw, err := e.Pop()
	if err != nil {
		return err
	}
	n, err := uintArg(nRaw)
	if err != nil {
		return err
	}
	vs, err := e.PopN(n)
	if err != nil {
		return err
	}
	e.Push(vm.Wrap(vs))
	return nil
}

func opUnwrap(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	return vm.RunValuesOnly(e, v)
}

func opLength(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	e.Push(bigint.EncodeUint(big.NewInt(int64(len(v)))))
	return nil
}

func opConcat(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	out := make([]byte, 0, len(vs[0])+len(vs[1]))
	out = append(out, vs[0]...)
	out = append(out, vs[1]...)
	e.Push(out)
	return nil
}

func opSlice(e *vm.Env) error {
	vs, err := e.PopN(3)
	if err != nil {
		return err
	}
	v, startRaw, endRaw := vs[0], vs[1], vs[2]
	start, err := uintArg(startRaw)
	if err != nil {
		return err
	}
	end, err := uintArg(endRaw)
	if err != nil {
		return err
	}
	if start < 0 || end < start || end > len(v) {
		return vm.ErrInvalidValue("SLICE: out of range")
	}
	e.Push(v[start:end])
	return nil
}

func opPad(e *vm.Env) error {
	vs, err := e.PopN(3)
	if err != nil {
		return err
	}
	a, sizeRaw, padByte := vs[0], vs[1], vs[2]
	if len(padByte) != 1 {
		return vm.ErrInvalidValue("PAD: byte argument must be exactly 1 byte")
	}
	size, err := uintArg(sizeRaw)
	if err != nil {
		return err
	}
	if size > 1024 {
		return vm.ErrInvalidValue("PAD: size exceeds 1024")
	}
	if size < len(a) {
		return vm.ErrInvalidValue("PAD: size smaller than value length")
	}
	out := make([]byte, size)
	for i := 0; i < size-len(a); i++ {
		out[i] = padByte[0]
	}
	copy(out[size-len(a):], a)
	e.Push(out)
	return nil
}

func opStartsWith(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	a, b := vs[0], vs[1]
	result := byte(0)
	if len(b) <= len(a) {
		match := true
		for i := range b {
			if a[i] != b[i] {
				match = false
				break
			}
		}
		if match {
			result = 1
		}
	}
	e.Push([]byte{result})
	return nil
}

func opQueuePushBack(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	e.PushBack(v)
	return nil
}

func opQueuePushFront(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	e.PushFront(v)
	return nil
}

func opQueuePopBack(e *vm.Env) error {
	v, err := e.PopBack()
	if err != nil {
		return err
	}
	e.Push(v)
	return nil
}

func opQueuePopFront(e *vm.Env) error {
	v, err := e.PopFront()
	if err != nil {
		return err
	}
	e.Push(v)
	return nil
}

func opQueueNonEmpty(e *vm.Env) error {
	if e.QueueNonEmpty() {
		e.Push([]byte{1})
	} else {
		e.Push([]byte{0})
	}
	return nil
}

// uintArg decodes v as a UINT and returns it as an int, failing with
// InvalidValue if it does not fit.
func uintArg(v vm.Value) (int, error) {
	n := bigint.DecodeUint(v)
	if !n.IsInt64() || n.Sign() < 0 || n.Int64() > int64(^uint(0)>>1) {
		return 0, vm.ErrInvalidValue("value out of range for a length/count argument")
	}
	return int(n.Int64()), nil
}
