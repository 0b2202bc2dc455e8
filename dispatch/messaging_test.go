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

func TestSubscribePushesOpaqueID(t *testing.T) {
	e := newTestEnv(t)
	mustRun(t, e, litS("topic"), word("SUBSCRIBE"), litS("topic"), word("SUBSCRIBE"))
	stack := e.Stack()
	require.Len(t, stack, 2)
	require.NotEmpty(t, []byte(stack[0]))
	require.NotEqual(t, []byte(stack[0]), []byte(stack[1]))
}

func TestPublishReachesSubscriberEnvironment(t *testing.T) {
	b := bus.New()
	db, err := memkv.New()
	require.NoError(t, err)
	t.Cleanup(db.Close)
	deps := vm.Deps{
		Dispatcher: New(),
		Backend:    db,
		Bus:        b,
		Clock:      hlc.NewClock(),
		Trace:      io.Discard,
	}
	receiver := vm.New(context.Background(), deps)
	sender := vm.New(context.Background(), deps)

	require.NoError(t, vm.Run(receiver, prog(litS("events"), word("SUBSCRIBE"))))
	id, err := receiver.Pop()
	require.NoError(t, err)

	require.NoError(t, vm.Run(sender, prog(litS("payload"), litS("events"), word("PUBLISH"))))

	msg, err := receiver.AwaitMessage(id)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), msg.Value)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e := newTestEnv(t)
	mustRun(t, e,
		litS("t"), word("SUBSCRIBE"),
		word("DUP"), word("UNSUBSCRIBE"),
	)
	id, err := e.Pop()
	require.NoError(t, err)
	_, err = e.AwaitMessage(id)
	requireKind(t, err, vm.KindInvalidValue)
}

func TestUnsubscribeUnknownIDIsNoop(t *testing.T) {
	e := newTestEnv(t)
	mustRun(t, e, litS("who"), word("UNSUBSCRIBE"))
	requireStack(t, e)
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer
	db, err := memkv.New()
	require.NoError(t, err)
	t.Cleanup(db.Close)
	e := vm.New(context.Background(), vm.Deps{
		Dispatcher: New(),
		Backend:    db,
		Bus:        bus.New(),
		Clock:      hlc.NewClock(),
		Trace:      &buf,
	})
	mustRun(t, e, litS("checkpoint"), word("TRACE"))
	requireStack(t, e)
	require.Contains(t, buf.String(), "checkpoint")
}
