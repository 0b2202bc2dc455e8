package dispatch

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pumpkindb/pumpkindb/bus"
	"github.com/pumpkindb/pumpkindb/hlc"
	"github.com/pumpkindb/pumpkindb/kv/memkv"
	"github.com/pumpkindb/pumpkindb/vm"
)

// newTestEnv builds an environment over a fresh in-memory backend with the
// full built-in instruction set.
func newTestEnv(t *testing.T) *vm.Env {
	t.Helper()
	db, err := memkv.New()
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return vm.New(context.Background(), vm.Deps{
		Dispatcher: New(),
		Backend:    db,
		Bus:        bus.New(),
		Clock:      hlc.NewClock(),
		Trace:      io.Discard,
	})
}

// prog concatenates wire-encoded tokens into one program.
func prog(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// lit encodes a data push.
func lit(v []byte) []byte { return vm.EncodePush(v) }

// litS encodes a data push of a string.
func litS(s string) []byte { return vm.EncodePush([]byte(s)) }

// word encodes an instruction token.
func word(name string) []byte { return vm.EncodeInstruction([]byte(name)) }

func mustRun(t *testing.T, e *vm.Env, parts ...[]byte) {
	t.Helper()
	require.NoError(t, vm.Run(e, prog(parts...)))
}

func requireStack(t *testing.T, e *vm.Env, want ...[]byte) {
	t.Helper()
	got := e.Stack()
	require.Len(t, got, len(want))
	for i := range want {
		require.True(t, bytes.Equal(want[i], got[i]),
			"stack[%d] = %x, want %x", i, got[i], want[i])
	}
}

func requireKind(t *testing.T, err error, kind vm.Kind) {
	t.Helper()
	require.Error(t, err)
	envErr, ok := err.(*vm.EnvError)
	require.True(t, ok, "expected *vm.EnvError, got %T: %v", err, err)
	require.Equal(t, kind, envErr.Kind, "got %s: %s", envErr.Kind, envErr.Description)
}
