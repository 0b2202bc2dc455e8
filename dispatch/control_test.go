package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pumpkindb/pumpkindb/vm"
)

func TestEval(t *testing.T) {
	e := newTestEnv(t)
	mustRun(t, e, lit(prog(litS("a"), litS("b"), word("SWAP"))), word("EVAL"))
	requireStack(t, e, []byte("b"), []byte("a"))
}

func TestEvalDecodingError(t *testing.T) {
	e := newTestEnv(t)
	e.Push([]byte{0x7C}) // reserved tag
	requireKind(t, vm.Run(e, word("EVAL")), vm.KindDecoding)
}

func TestEvalValid(t *testing.T) {
	e := newTestEnv(t)
	mustRun(t, e, lit(prog(litS("x"), word("DUP"))), word("EVAL/VALID?"))
	requireStack(t, e, []byte{1})

	e = newTestEnv(t)
	mustRun(t, e, lit([]byte{0x80}), word("EVAL/VALID?"))
	requireStack(t, e, []byte{0})
}

func TestEvalScopedDefinitionsDoNotOutliveCall(t *testing.T) {
	e := newTestEnv(t)
	scoped := prog(litS("v"), litS("x"), word("SET"), word("x"))
	mustRun(t, e, lit(scoped), word("EVAL/SCOPED"))
	requireStack(t, e, []byte("v")) // visible inside the scope

	requireKind(t, vm.Run(e, word("x")), vm.KindUnknownInstruction)
}

func TestEvalScopedRestoresShadowedDefinition(t *testing.T) {
	e := newTestEnv(t)
	mustRun(t, e, litS("old"), litS("x"), word("SET"))
	mustRun(t, e, lit(prog(litS("new"), litS("x"), word("SET"))), word("EVAL/SCOPED"))
	mustRun(t, e, word("x"))
	requireStack(t, e, []byte("old"))
}

func TestIf(t *testing.T) {
	e := newTestEnv(t)
	mustRun(t, e, lit([]byte{1}), lit(litS("ran")), word("IF"))
	requireStack(t, e, []byte("ran"))

	e = newTestEnv(t)
	mustRun(t, e, lit([]byte{0}), lit(litS("ran")), word("IF"))
	requireStack(t, e)

	e = newTestEnv(t)
	requireKind(t,
		vm.Run(e, prog(lit([]byte{7}), lit(litS("ran")), word("IF"))),
		vm.KindInvalidValue)
}

func TestIfElse(t *testing.T) {
	// the two literal scenarios from the end-to-end suite
	e := newTestEnv(t)
	mustRun(t, e, lit([]byte{1}), lit(lit([]byte{0x20})), lit(lit([]byte{0x30})), word("IFELSE"))
	requireStack(t, e, []byte{0x20})

	e = newTestEnv(t)
	mustRun(t, e, lit([]byte{0}), lit(lit([]byte{0x20})), lit(lit([]byte{0x30})), word("IFELSE"))
	requireStack(t, e, []byte{0x30})

	e = newTestEnv(t)
	requireKind(t,
		vm.Run(e, prog(litS("??"), lit(nil), lit(nil), word("IFELSE"))),
		vm.KindInvalidValue)
}

func TestDoWhile(t *testing.T) {
	e := newTestEnv(t)
	// preload the queue with two continues and a stop; the closure drains it
	mustRun(t, e,
		lit([]byte{1}), word(">Q"),
		lit([]byte{1}), word(">Q"),
		lit([]byte{0}), word(">Q"),
		lit(word("Q<")), word("DOWHILE"),
	)
	requireStack(t, e)
	require.False(t, e.QueueNonEmpty())
}

func TestTimesRunsOnFreshStack(t *testing.T) {
	e := newTestEnv(t)
	mustRun(t, e,
		litS("below"),
		lit(prog(litS("x"), word(">Q"))), lit([]byte{3}), word("TIMES"),
	)
	// iteration stacks were discarded; only the queue carried values out
	requireStack(t, e, []byte("below"))
	mustRun(t, e, word("Q<"), word("Q<"), word("Q<"))
	requireStack(t, e, []byte("below"), []byte("x"), []byte("x"), []byte("x"))
}

func TestTimesZero(t *testing.T) {
	e := newTestEnv(t)
	mustRun(t, e, lit(word("DUP")), lit(nil), word("TIMES")) // empty UINT is zero
	requireStack(t, e)
}

func TestSetPushesRawValue(t *testing.T) {
	e := newTestEnv(t)
	mustRun(t, e, litS("hello"), litS("greeting"), word("SET"), word("greeting"), word("greeting"))
	requireStack(t, e, []byte("hello"), []byte("hello"))
}

func TestDefExecutesClosure(t *testing.T) {
	e := newTestEnv(t)
	mustRun(t, e,
		lit(prog(litS("a"), litS("b"), word("SWAP"))), litS("flip"), word("DEF"),
		word("flip"),
	)
	requireStack(t, e, []byte("b"), []byte("a"))
}

func TestRedefiningBuiltinFails(t *testing.T) {
	e := newTestEnv(t)
	requireKind(t,
		vm.Run(e, prog(litS("v"), litS("DUP"), word("SET"))),
		vm.KindInvalidInstruction)
	requireKind(t,
		vm.Run(e, prog(lit(nil), litS("SWAP"), word("DEF"))),
		vm.KindInvalidInstruction)
}

func TestUnknownInstruction(t *testing.T) {
	e := newTestEnv(t)
	requireKind(t, vm.Run(e, word("NO-SUCH-WORD")), vm.KindUnknownInstruction)
}

func TestTryCatchesEmptyStack(t *testing.T) {
	// [1 DROP DROP] TRY UNWRAP 0x04 EQUAL?  ->  top of stack 0x01
	e := newTestEnv(t)
	mustRun(t, e,
		lit(prog(lit([]byte{1}), word("DROP"), word("DROP"))), word("TRY"),
		word("UNWRAP"),
		lit([]byte{0x04}), word("EQUAL?"),
	)
	stack := e.Stack()
	require.NotEmpty(t, stack)
	require.Equal(t, []byte{0x01}, []byte(stack[len(stack)-1]))
}

func TestTryPushesEmptyClosureOnSuccess(t *testing.T) {
	e := newTestEnv(t)
	mustRun(t, e, lit(litS("ok")), word("TRY"))
	requireStack(t, e, []byte("ok"), []byte{})
}

func TestTryCatchesEveryNonFatalKind(t *testing.T) {
	cases := []struct {
		name    string
		closure []byte
		kind    vm.Kind
	}{
		{"UnknownInstruction", word("BOGUS"), vm.KindUnknownInstruction},
		{"InvalidInstruction", prog(litS("v"), litS("DUP"), word("SET")), vm.KindInvalidInstruction},
		{"InvalidValue", prog(litS("xx"), lit(litS("t")), word("IF")), vm.KindInvalidValue},
		{"EmptyStack", word("DROP"), vm.KindEmptyStack},
		{"Decoding", prog(lit([]byte{0x7C}), word("EVAL")), vm.KindDecoding},
		{"DuplicateKey", prog(
			lit(prog(litS("k"), litS("v"), word("ASSOC"), word("COMMIT"))), word("WRITE"),
			lit(prog(litS("k"), litS("w"), word("ASSOC"))), word("WRITE"),
		), vm.KindDuplicateKey},
		{"UnknownKey", prog(lit(prog(litS("ghost"), word("RETR"))), word("READ")), vm.KindUnknownKey},
		{"NoTransaction", prog(litS("k"), litS("v"), word("ASSOC")), vm.KindNoTransaction},
		{"NoValue", word("Q>"), vm.KindNoValue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t)
			mustRun(t, e, lit(tc.closure), word("TRY"), word("UNWRAP"))
			stack := e.Stack()
			require.NotEmpty(t, stack)
			require.Equal(t, []byte{byte(tc.kind)}, []byte(stack[len(stack)-1]))
		})
	}
}
