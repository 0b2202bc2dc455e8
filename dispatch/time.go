package dispatch

import (
	"github.com/google/uuid"

	"github.com/pumpkindb/pumpkindb/hlc"
	"github.com/pumpkindb/pumpkindb/vm"
)

// TimeModule implements the HLC timestamp and UUID instructions.
// The clock is reached through vm.Env.Clock(), a process-wide
// *hlc.Clock shared by every environment.
func TimeModule() Module {
	return Module{Name: "time", Handlers: map[string]vm.Handler{
		"HLC":         opHLC,
		"HLC/TICK":    opHLCTick,
		"HLC/LC":      opHLCLogicalCounter,
		"HLC/OBSERVE": opHLCObserve,
		"HLC/LT?":     hlcCmp(func(a, b hlc.Timestamp) bool { return a.Less(b) }),
		"HLC/GT?":     hlcCmp(func(a, b hlc.Timestamp) bool { return a.Greater(b) }),

		"UUID":          opUUID,
		"UUID/STRING->": opUUIDFromString,
		"UUID/->STRING": opUUIDToString,
	}}
}

func opHLC(e *vm.Env) error {
	ts := e.Clock().Now()
	e.Push(append([]byte(nil), ts[:]...))
	return nil
}

func decodeTimestamp(v vm.Value) (hlc.Timestamp, error) {
	var ts hlc.Timestamp
	if len(v) != hlc.Size {
		return ts, vm.ErrInvalidValue("HLC timestamp must be exactly 12 bytes")
	}
	copy(ts[:], v)
	return ts, nil
}

func opHLCTick(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	ts, err := decodeTimestamp(v)
	if err != nil {
		return err
	}
	ticked := ts.Tick()
	e.Push(append([]byte(nil), ticked[:]...))
	return nil
}

func opHLCLogicalCounter(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	ts, err := decodeTimestamp(v)
	if err != nil {
		return err
	}
	lc := make([]byte, 4)
	l := ts.Logical()
	lc[0] = byte(l >> 24)
	lc[1] = byte(l >> 16)
	lc[2] = byte(l >> 8)
	lc[3] = byte(l)
	e.Push(lc)
	return nil
}

func opHLCObserve(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	ts, err := decodeTimestamp(v)
	if err != nil {
		return err
	}
	e.Clock().Observe(ts)
	return nil
}

func hlcCmp(pred func(a, b hlc.Timestamp) bool) vm.Handler {
	return func(e *vm.Env) error {
		vs, err := e.PopN(2)
		if err != nil {
			return err
		}
		a, err := decodeTimestamp(vs[0])
		if err != nil {
			return err
		}
		b, err := decodeTimestamp(vs[1])
		if err != nil {
			return err
		}
		e.Push(boolByte(pred(a, b)))
		return nil
	}
}

func opUUID(e *vm.Env) error {
	id := uuid.New()
	e.Push(id[:])
	return nil
}

func opUUIDFromString(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	id, parseErr := uuid.Parse(string(v))
	if parseErr != nil {
		return vm.ErrInvalidValue("UUID/STRING->: " + parseErr.Error())
	}
	e.Push(id[:])
	return nil
}

func opUUIDToString(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	if len(v) != 16 {
		return vm.ErrInvalidValue("UUID/->STRING: value must be exactly 16 bytes")
	}
	id, parseErr := uuid.FromBytes(v)
	if parseErr != nil {
		return vm.ErrInvalidValue("UUID/->STRING: " + parseErr.Error())
	}
	e.Push([]byte(id.String()))
	return nil
}
