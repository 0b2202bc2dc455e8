package dispatch

import (
	"encoding/binary"
	"math"
	"math/big"
	"strconv"

	"github.com/holiman/uint256"

	"github.com/pumpkindb/pumpkindb/common/bigint"
	"github.com/pumpkindb/pumpkindb/vm"
)

// ArithmeticModule implements the numeric instruction families: arbitrary-length
// UINT/INT (backed by math/big via common/bigint), fixed-width sized
// integers UINT8/16/32/64 and INT8/16/32/64, and IEEE-754 F32/F64, each
// exposing ADD SUB EQUAL? LT? GT? ->STRING (UINT and INT additionally
// UINT/->INT and INT/->UINT), plus the STRING/->* parsers.
func ArithmeticModule() Module {
	h := map[string]vm.Handler{
		"UINT/ADD":      opUintAdd,
		"UINT/SUB":      opUintSub,
		"UINT/EQUAL?":   uintCmp(func(c int) bool { return c == 0 }),
		"UINT/LT?":      uintCmp(func(c int) bool { return c < 0 }),
		"UINT/GT?":      uintCmp(func(c int) bool { return c > 0 }),
		"UINT/->STRING": opUintToString,
		"UINT/->INT":    opUintToInt,

		"INT/ADD":      opIntAdd,
		"INT/SUB":      opIntSub,
		"INT/EQUAL?":   intCmp(func(c int) bool { return c == 0 }),
		"INT/LT?":      intCmp(func(c int) bool { return c < 0 }),
		"INT/GT?":      intCmp(func(c int) bool { return c > 0 }),
		"INT/->STRING": opIntToString,
		"INT/->UINT":   opIntToUint,

		"STRING/->INT":  opStringToInt,
		"STRING/->UINT": opStringToUint,

		"F32/->STRING": floatToString(32),
		"F64/->STRING": floatToString(64),
		"F32/ADD":      floatAdd(32),
		"F64/ADD":      floatAdd(64),
		"F32/SUB":      floatSub(32),
		"F64/SUB":      floatSub(64),
		"F32/EQUAL?":   floatCmp(32, func(c int) bool { return c == 0 }),
		"F64/EQUAL?":   floatCmp(64, func(c int) bool { return c == 0 }),
		"F32/LT?":      floatCmp(32, func(c int) bool { return c < 0 }),
		"F64/LT?":      floatCmp(64, func(c int) bool { return c < 0 }),
		"F32/GT?":      floatCmp(32, func(c int) bool { return c > 0 }),
		"F64/GT?":      floatCmp(64, func(c int) bool { return c > 0 }),
		"STRING/->F32": stringToFloat(32),
		"STRING/->F64": stringToFloat(64),
	}
	for _, width := range []int{8, 16, 32, 64} {
		addSizedUnsigned(h, width)
		addSizedSigned(h, width)
	}
	return Module{Name: "arithmetic", Handlers: h}
}

// --- arbitrary-length UINT/INT ------------------------------------------

func opUintAdd(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	a, b := bigint.DecodeUint(vs[0]), bigint.DecodeUint(vs[1])
	e.Push(bigint.EncodeUint(new(big.Int).Add(a, b)))
	return nil
}

func opUintSub(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	a, b := bigint.DecodeUint(vs[0]), bigint.DecodeUint(vs[1])
	if a.Cmp(b) < 0 {
		return vm.ErrInvalidValue("UINT/SUB: underflow")
	}
	e.Push(bigint.EncodeUint(new(big.Int).Sub(a, b)))
	return nil
}

func uintCmp(pred func(int) bool) vm.Handler {
	return func(e *vm.Env) error {
		vs, err := e.PopN(2)
		if err != nil {
			return err
		}
		a, b := bigint.DecodeUint(vs[0]), bigint.DecodeUint(vs[1])
		e.Push(boolByte(pred(a.Cmp(b))))
		return nil
	}
}

func opUintToString(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	e.Push([]byte(bigint.DecodeUint(v).String()))
	return nil
}

func opUintToInt(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	e.Push(bigint.EncodeInt(bigint.DecodeUint(v)))
	return nil
}

func opIntAdd(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	a, err := bigint.DecodeInt(vs[0])
	if err != nil {
		return vm.ErrInvalidValue("INT/ADD: " + err.Error())
	}
	b, err := bigint.DecodeInt(vs[1])
	if err != nil {
		return vm.ErrInvalidValue("INT/ADD: " + err.Error())
	}
	e.Push(bigint.EncodeInt(new(big.Int).Add(a, b)))
	return nil
}

func opIntSub(e *vm.Env) error {
	vs, err := e.PopN(2)
	if err != nil {
		return err
	}
	a, err := bigint.DecodeInt(vs[0])
	if err != nil {
		return vm.ErrInvalidValue("INT/SUB: " + err.Error())
	}
	b, err := bigint.DecodeInt(vs[1])
	if err != nil {
		return vm.ErrInvalidValue("INT/SUB: " + err.Error())
	}
	e.Push(bigint.EncodeInt(new(big.Int).Sub(a, b)))
	return nil
}

func intCmp(pred func(int) bool) vm.Handler {
	return func(e *vm.Env) error {
		vs, err := e.PopN(2)
		if err != nil {
			return err
		}
		a, err := bigint.DecodeInt(vs[0])
		if err != nil {
			return vm.ErrInvalidValue("INT compare: " + err.Error())
		}
		b, err := bigint.DecodeInt(vs[1])
		if err != nil {
			return vm.ErrInvalidValue("INT compare: " + err.Error())
		}
		e.Push(boolByte(pred(a.Cmp(b))))
		return nil
	}
}

func opIntToString(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	n, err := bigint.DecodeInt(v)
	if err != nil {
		return vm.ErrInvalidValue("INT/->STRING: " + err.Error())
	}
	e.Push([]byte(n.String()))
	return nil
}

func opIntToUint(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	n, err := bigint.DecodeInt(v)
	if err != nil {
		return vm.ErrInvalidValue("INT/->UINT: " + err.Error())
	}
	if n.Sign() < 0 {
		return vm.ErrInvalidValue("INT/->UINT: negative value")
	}
	e.Push(bigint.EncodeUint(n))
	return nil
}

func opStringToInt(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	n, ok := new(big.Int).SetString(string(v), 10)
	if !ok {
		return vm.ErrInvalidValue("STRING/->INT: not a decimal integer")
	}
	e.Push(bigint.EncodeInt(n))
	return nil
}

func opStringToUint(e *vm.Env) error {
	v, err := e.Pop()
	if err != nil {
		return err
	}
	n, ok := new(big.Int).SetString(string(v), 10)
	if !ok || n.Sign() < 0 {
		return vm.ErrInvalidValue("STRING/->UINT: not a non-negative decimal integer")
	}
	e.Push(bigint.EncodeUint(n))
	return nil
}

// --- fixed-width SIZED unsigned/signed integers ---------------------------

func addSizedUnsigned(h map[string]vm.Handler, width int) {
	fam := "UINT" + strconv.Itoa(width)
	maxVal := sizedMax(width)

	h[fam+"/ADD"] = func(e *vm.Env) error {
		vs, err := e.PopN(2)
		if err != nil {
			return err
		}
		a, err := decodeUintWidth(vs[0], width)
		if err != nil {
			return err
		}
		b, err := decodeUintWidth(vs[1], width)
		if err != nil {
			return err
		}
		sum, overflow := addWithParity(a, b, width)
		if overflow || sum > maxVal {
			return vm.ErrInvalidValue(fam + "/ADD: overflow")
		}
		e.Push(encodeUintWidth(sum, width))
		return nil
	}
	h[fam+"/SUB"] = func(e *vm.Env) error {
		vs, err := e.PopN(2)
		if err != nil {
			return err
		}
		a, err := decodeUintWidth(vs[0], width)
		if err != nil {
			return err
		}
		b, err := decodeUintWidth(vs[1], width)
		if err != nil {
			return err
		}
		diff, underflow := bigint.SafeSubUint64(a, b)
		if underflow {
			return vm.ErrInvalidValue(fam + "/SUB: underflow")
		}
		e.Push(encodeUintWidth(diff, width))
		return nil
	}
	h[fam+"/EQUAL?"] = sizedUintCmp(width, func(c int) bool { return c == 0 })
	h[fam+"/LT?"] = sizedUintCmp(width, func(c int) bool { return c < 0 })
	h[fam+"/GT?"] = sizedUintCmp(width, func(c int) bool { return c > 0 })
	h[fam+"/->STRING"] = func(e *vm.Env) error {
		v, err := e.Pop()
		if err != nil {
			return err
		}
		n, err := decodeUintWidth(v, width)
		if err != nil {
			return err
		}
		e.Push([]byte(strconv.FormatUint(n, 10)))
		return nil
	}
}

func addSizedSigned(h map[string]vm.Handler, width int) {
	fam := "INT" + strconv.Itoa(width)
	minVal, maxVal := sizedSignedBounds(width)

	h[fam+"/ADD"] = func(e *vm.Env) error {
		vs, err := e.PopN(2)
		if err != nil {
			return err
		}
		a, err := decodeIntWidth(vs[0], width)
		if err != nil {
			return err
		}
		b, err := decodeIntWidth(vs[1], width)
		if err != nil {
			return err
		}
		sum := a + b
		if sum < minVal || sum > maxVal || ((a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum > 0)) {
			return vm.ErrInvalidValue(fam + "/ADD: overflow")
		}
		e.Push(encodeIntWidth(sum, width))
		return nil
	}
	h[fam+"/SUB"] = func(e *vm.Env) error {
		vs, err := e.PopN(2)
		if err != nil {
			return err
		}
		a, err := decodeIntWidth(vs[0], width)
		if err != nil {
			return err
		}
		b, err := decodeIntWidth(vs[1], width)
		if err != nil {
			return err
		}
		diff := a - b
		if diff < minVal || diff > maxVal || (b < 0 && diff < a) || (b > 0 && diff > a) {
			return vm.ErrInvalidValue(fam + "/SUB: overflow")
		}
		e.Push(encodeIntWidth(diff, width))
		return nil
	}
	h[fam+"/EQUAL?"] = sizedIntCmp(width, func(c int) bool { return c == 0 })
	h[fam+"/LT?"] = sizedIntCmp(width, func(c int) bool { return c < 0 })
	h[fam+"/GT?"] = sizedIntCmp(width, func(c int) bool { return c > 0 })
	h[fam+"/->STRING"] = func(e *vm.Env) error {
		v, err := e.Pop()
		if err != nil {
			return err
		}
		n, err := decodeIntWidth(v, width)
		if err != nil {
			return err
		}
		e.Push([]byte(strconv.FormatInt(n, 10)))
		return nil
	}
	h["STRING/->"+fam] = func(e *vm.Env) error {
		v, err := e.Pop()
		if err != nil {
			return err
		}
		n, err := strconv.ParseInt(string(v), 10, width)
		if err != nil {
			return vm.ErrInvalidValue("STRING/->" + fam + ": " + err.Error())
		}
		e.Push(encodeIntWidth(n, width))
		return nil
	}
}

func sizedUintCmp(width int, pred func(int) bool) vm.Handler {
	return func(e *vm.Env) error {
		vs, err := e.PopN(2)
		if err != nil {
			return err
		}
		a, err := decodeUintWidth(vs[0], width)
		if err != nil {
			return err
		}
		b, err := decodeUintWidth(vs[1], width)
		if err != nil {
			return err
		}
		e.Push(boolByte(pred(cmpUint64(a, b))))
		return nil
	}
}

func sizedIntCmp(width int, pred func(int) bool) vm.Handler {
	return func(e *vm.Env) error {
		vs, err := e.PopN(2)
		if err != nil {
			return err
		}
		a, err := decodeIntWidth(vs[0], width)
		if err != nil {
			return err
		}
		b, err := decodeIntWidth(vs[1], width)
		if err != nil {
			return err
		}
		e.Push(boolByte(pred(cmpInt64(a, b))))
		return nil
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func sizedMax(width int) uint64 {
	if width >= 64 {
		return math.MaxUint64
	}
	return (uint64(1) << uint(width)) - 1
}

func sizedSignedBounds(width int) (min, max int64) {
	if width >= 64 {
		return math.MinInt64, math.MaxInt64
	}
	max = (int64(1) << uint(width-1)) - 1
	min = -(int64(1) << uint(width-1))
	return min, max
}

func decodeUintWidth(v []byte, width int) (uint64, error) {
	nbytes := width / 8
	if len(v) != nbytes {
		return 0, vm.ErrInvalidValue("UINT" + strconv.Itoa(width) + ": value must be exactly " + strconv.Itoa(nbytes) + " bytes")
	}
	switch width {
	case 8:
		return uint64(v[0]), nil
	case 16:
		return uint64(binary.BigEndian.Uint16(v)), nil
	case 32:
		return uint64(binary.BigEndian.Uint32(v)), nil
	default:
		return binary.BigEndian.Uint64(v), nil
	}
}

func encodeUintWidth(n uint64, width int) []byte {
	out := make([]byte, width/8)
	switch width {
	case 8:
		out[0] = byte(n)
	case 16:
		binary.BigEndian.PutUint16(out, uint16(n))
	case 32:
		binary.BigEndian.PutUint32(out, uint32(n))
	default:
		binary.BigEndian.PutUint64(out, n)
	}
	return out
}

func decodeIntWidth(v []byte, width int) (int64, error) {
	n, err := decodeUintWidth(v, width)
	if err != nil {
		return 0, err
	}
	if width >= 64 {
		return int64(n), nil
	}
	signBit := uint64(1) << uint(width-1)
	if n&signBit != 0 {
		return int64(n) - int64(uint64(1)<<uint(width)), nil
	}
	return int64(n), nil
}

func encodeIntWidth(n int64, width int) []byte {
	if width >= 64 {
		return encodeUintWidth(uint64(n), width)
	}
	mask := (uint64(1) << uint(width)) - 1
	return encodeUintWidth(uint64(n)&mask, width)
}

// addWithParity adds a+b for the UINT64 family, cross-checking the
// bits.Add64-based overflow detection in common/bigint against
// holiman/uint256's wraparound arithmetic as an independent parity check —
// both must agree on whether 64-bit addition overflowed.
func addWithParity(a, b uint64, width int) (uint64, bool) {
	if width != 64 {
		return a + b, a+b < a // narrower widths are range-checked by the caller regardless
	}
	sum, overflow := bigint.SafeAddUint64(a, b)
	u256Sum := new(uint256.Int).Add(uint256.NewInt(a), uint256.NewInt(b))
	parityOverflow := !u256Sum.IsUint64() || u256Sum.Uint64() != sum
	return sum, overflow || parityOverflow
}

// --- IEEE-754 floats -------------------------------------------------------

func decodeFloat(v []byte, width int) (float64, error) {
	switch width {
	case 32:
		if len(v) != 4 {
			return 0, vm.ErrInvalidValue("F32: value must be exactly 4 bytes")
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(v))), nil
	default:
		if len(v) != 8 {
			return 0, vm.ErrInvalidValue("F64: value must be exactly 8 bytes")
		}
		return math.Float64frombits(binary.BigEndian.Uint64(v)), nil
	}
}

func encodeFloat(f float64, width int) []byte {
	if width == 32 {
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, math.Float32bits(float32(f)))
		return out
	}
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, math.Float64bits(f))
	return out
}

func floatAdd(width int) vm.Handler {
	return func(e *vm.Env) error {
		vs, err := e.PopN(2)
		if err != nil {
			return err
		}
		a, err := decodeFloat(vs[0], width)
		if err != nil {
			return err
		}
		b, err := decodeFloat(vs[1], width)
		if err != nil {
			return err
		}
		r := a + b
		if math.IsInf(r, 0) || math.IsNaN(r) {
			return vm.ErrInvalidValue("float ADD: result is not finite")
		}
		e.Push(encodeFloat(r, width))
		return nil
	}
}

func floatSub(width int) vm.Handler {
	return func(e *vm.Env) error {
		vs, err := e.PopN(2)
		if err != nil {
			return err
		}
		a, err := decodeFloat(vs[0], width)
		if err != nil {
			return err
		}
		b, err := decodeFloat(vs[1], width)
		if err != nil {
			return err
		}
		r := a - b
		if math.IsInf(r, 0) || math.IsNaN(r) {
			return vm.ErrInvalidValue("float SUB: result is not finite")
		}
		e.Push(encodeFloat(r, width))
		return nil
	}
}

func floatCmp(width int, pred func(int) bool) vm.Handler {
	return func(e *vm.Env) error {
		vs, err := e.PopN(2)
		if err != nil {
			return err
		}
		a, err := decodeFloat(vs[0], width)
		if err != nil {
			return err
		}
		b, err := decodeFloat(vs[1], width)
		if err != nil {
			return err
		}
		var c int
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
		e.Push(boolByte(pred(c)))
		return nil
	}
}

func floatToString(width int) vm.Handler {
	return func(e *vm.Env) error {
		v, err := e.Pop()
		if err != nil {
			return err
		}
		f, err := decodeFloat(v, width)
		if err != nil {
			return err
		}
		e.Push([]byte(strconv.FormatFloat(f, 'g', -1, width)))
		return nil
	}
}

func stringToFloat(width int) vm.Handler {
	return func(e *vm.Env) error {
		v, err := e.Pop()
		if err != nil {
			return err
		}
		f, err := strconv.ParseFloat(string(v), width)
		if err != nil {
			return vm.ErrInvalidValue("STRING/->F" + strconv.Itoa(width) + ": " + err.Error())
		}
		e.Push(encodeFloat(f, width))
		return nil
	}
}
