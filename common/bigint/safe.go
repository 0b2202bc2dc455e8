// Package bigint implements the UINT/INT/SIZED numeric conventions used by
// the arithmetic instruction families: big-endian arbitrary-length
// unsigned/signed integers plus overflow-checked fixed-width helpers.
package bigint

import (
	"math/big"
	"math/bits"
)

// Sign bytes for the INT convention: a one-byte prefix followed
// by the magnitude encoded as UINT.
const (
	SignNegative byte = 0x00
	SignNonNeg   byte = 0x01
)

// DecodeUint decodes a big-endian arbitrary-length unsigned integer. The
// empty byte sequence decodes to zero.
func DecodeUint(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// EncodeUint encodes a non-negative big.Int as a big-endian byte sequence
// with no leading zero byte (the empty slice for zero).
func EncodeUint(v *big.Int) []byte {
	if v.Sign() < 0 {
		panic("bigint: EncodeUint of negative value")
	}
	return v.Bytes()
}

// DecodeInt decodes the INT convention: sign byte + UINT magnitude.
func DecodeInt(b []byte) (*big.Int, error) {
	if len(b) == 0 {
		return nil, errInvalidInt
	}
	mag := DecodeUint(b[1:])
	switch b[0] {
	case SignNonNeg:
		return mag, nil
	case SignNegative:
		if mag.Sign() == 0 {
			return nil, errInvalidInt // -0 is not a canonical encoding
		}
		return new(big.Int).Neg(mag), nil
	default:
		return nil, errInvalidInt
	}
}

// EncodeInt encodes v using the INT convention.
func EncodeInt(v *big.Int) []byte {
	if v.Sign() < 0 {
		mag := new(big.Int).Neg(v)
		return append([]byte{SignNegative}, EncodeUint(mag)...)
	}
	return append([]byte{SignNonNeg}, EncodeUint(v)...)
}

type invalidIntError struct{}

func (invalidIntError) Error() string { return "bigint: invalid INT encoding" }

var errInvalidInt = invalidIntError{}

// SafeAddUint64 returns x+y and reports whether the addition overflowed,
// grounded on erigon-lib's math.SafeAdd.
func SafeAddUint64(x, y uint64) (sum uint64, overflow bool) {
	s, carry := bits.Add64(x, y, 0)
	return s, carry != 0
}

// SafeSubUint64 returns x-y and reports whether it underflowed.
func SafeSubUint64(x, y uint64) (diff uint64, underflow bool) {
	d, borrow := bits.Sub64(x, y, 0)
	return d, borrow != 0
}

// SafeMulUint64 returns x*y and reports whether the multiplication
// overflowed, grounded on erigon-lib's math.SafeMul.
func SafeMulUint64(x, y uint64) (product uint64, overflow bool) {
	hi, lo := bits.Mul64(x, y)
	return lo, hi != 0
}

// CeilDiv performs ceiling integer division, returning 0 when y is 0.
func CeilDiv(x, y int) int {
	if y == 0 {
		return 0
	}
	return (x + y - 1) / y
}
