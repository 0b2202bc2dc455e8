package dispatch

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"

	"golang.org/x/crypto/blake2b"

	"github.com/pumpkindb/pumpkindb/vm"
)

// HashModule implements the fixed-length digest instructions. Every
// handler is pure and only EmptyStack can fail it.
func HashModule() Module {
	return Module{Name: "hash", Handlers: map[string]vm.Handler{
		"HASH/SHA1":    hashOp(func(v []byte) []byte { d := sha1.Sum(v); return d[:] }),
		"HASH/SHA256":  hashOp(func(v []byte) []byte { d := sha256.Sum256(v); return d[:] }),
		"HASH/SHA512":  hashOp(func(v []byte) []byte { d := sha512.Sum512(v); return d[:] }),
		"HASH/BLAKE2B": hashOp(func(v []byte) []byte { d := blake2b.Sum512(v); return d[:] }),
	}}
}

func hashOp(digest func([]byte) []byte) vm.Handler {
	return func(e *vm.Env) error {
		v, err := e.Pop()
		if err != nil {
			return err
		}
		e.Push(digest(v))
		return nil
	}
}
