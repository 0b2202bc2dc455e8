package scheduler

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pumpkindb/pumpkindb/bus"
	"github.com/pumpkindb/pumpkindb/hlc"
	"github.com/pumpkindb/pumpkindb/kv/memkv"
	"github.com/pumpkindb/pumpkindb/vm"
)

func newScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()
	db, err := memkv.New()
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return New(workers, db, bus.New(), hlc.NewClock(), io.Discard)
}

func prog(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func lit(v []byte) []byte     { return vm.EncodePush(v) }
func litS(s string) []byte    { return vm.EncodePush([]byte(s)) }
func word(name string) []byte { return vm.EncodeInstruction([]byte(name)) }

func TestRunWriteThenRead(t *testing.T) {
	s := newScheduler(t, 2)
	res := s.Run(context.Background(), prog(
		lit(prog(litS("k"), litS("v"), word("ASSOC"), word("COMMIT"))), word("WRITE"),
		lit(prog(litS("k"), word("RETR"))), word("READ"),
	))
	require.Nil(t, res.Err)
	require.Equal(t, [][]byte{[]byte("v")}, res.Stack)
}

func TestRunReportsErrorKind(t *testing.T) {
	s := newScheduler(t, 1)
	res := s.Run(context.Background(), word("DROP"))
	require.NotNil(t, res.Err)
	require.Equal(t, vm.KindEmptyStack, res.Err.Kind)
	require.Nil(t, res.Stack)
}

func TestRunRejectsMalformedProgram(t *testing.T) {
	s := newScheduler(t, 1)
	res := s.Run(context.Background(), []byte{0x7C})
	require.NotNil(t, res.Err)
	require.Equal(t, vm.KindDecoding, res.Err.Kind)
}

func TestDuplicateKeyAcrossPrograms(t *testing.T) {
	s := newScheduler(t, 2)
	first := s.Run(context.Background(), prog(
		lit(prog(litS("k"), litS("v"), word("ASSOC"), word("COMMIT"))), word("WRITE"),
	))
	require.Nil(t, first.Err)

	second := s.Run(context.Background(), prog(
		lit(prog(litS("k"), litS("w"), word("ASSOC"), word("COMMIT"))), word("WRITE"),
	))
	require.NotNil(t, second.Err)
	require.Equal(t, vm.KindDuplicateKey, second.Err.Kind)
}

func TestRunManyPreservesInputOrder(t *testing.T) {
	s := newScheduler(t, 4)
	programs := make([][]byte, 20)
	for i := range programs {
		programs[i] = litS(fmt.Sprintf("result-%02d", i))
	}
	results := s.RunMany(context.Background(), programs)
	require.Len(t, results, len(programs))
	for i, res := range results {
		require.Nil(t, res.Err)
		require.Equal(t, [][]byte{[]byte(fmt.Sprintf("result-%02d", i))}, res.Stack)
	}
}

func TestConcurrentWritersSerialize(t *testing.T) {
	s := newScheduler(t, 4)
	programs := make([][]byte, 8)
	for i := range programs {
		key := fmt.Sprintf("key-%d", i)
		programs[i] = prog(
			lit(prog(litS(key), litS("v"), word("ASSOC"), word("COMMIT"))), word("WRITE"),
		)
	}
	for _, res := range s.RunMany(context.Background(), programs) {
		require.Nil(t, res.Err)
	}

	check := s.Run(context.Background(), prog(
		lit(prog(litS("key-0"), word("ASSOC?"), litS("key-7"), word("ASSOC?"))), word("READ"),
	))
	require.Nil(t, check.Err)
	require.Equal(t, [][]byte{{1}, {1}}, check.Stack)
}

func TestSessionEmitsResultsInSubmissionOrder(t *testing.T) {
	s := newScheduler(t, 4)
	sess := s.NewSession(context.Background(), "t1")
	defer sess.Close()

	channels := make([]<-chan Result, 10)
	for i := range channels {
		channels[i] = sess.Submit(litS(fmt.Sprintf("p%d", i)))
	}
	for i, ch := range channels {
		res := <-ch
		require.Nil(t, res.Err)
		require.Equal(t, [][]byte{[]byte(fmt.Sprintf("p%d", i))}, res.Stack)
	}
}

func TestSessionProgramsShareNothing(t *testing.T) {
	s := newScheduler(t, 2)
	sess := s.NewSession(context.Background(), "t2")
	defer sess.Close()

	// a dictionary definition in one program is invisible to the next:
	// each submission gets a fresh environment
	first := <-sess.Submit(prog(litS("v"), litS("x"), word("SET"), word("x")))
	require.Nil(t, first.Err)
	require.Equal(t, [][]byte{[]byte("v")}, first.Stack)

	second := <-sess.Submit(word("x"))
	require.NotNil(t, second.Err)
	require.Equal(t, vm.KindUnknownInstruction, second.Err.Kind)
}

func TestSessionCloseCancelsInfiniteProgram(t *testing.T) {
	s := newScheduler(t, 1)
	sess := s.NewSession(context.Background(), "t3")

	// [0x01] DOWHILE loops forever until cancellation
	spin := prog(lit(lit([]byte{1})), word("DOWHILE"))
	ch := sess.Submit(spin)

	time.Sleep(50 * time.Millisecond) // let it start spinning
	done := make(chan struct{})
	go func() {
		sess.Close()
		close(done)
	}()

	select {
	case res := <-ch:
		require.NotNil(t, res.Err)
		require.True(t, IsCancelled(res.Err))
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled program never produced a result")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session close did not return")
	}
}

func TestSessionCloseFlushesQueuedPrograms(t *testing.T) {
	s := newScheduler(t, 1)
	sess := s.NewSession(context.Background(), "t4")

	spin := prog(lit(lit([]byte{1})), word("DOWHILE"))
	inFlight := sess.Submit(spin)
	queued := sess.Submit(litS("never runs"))

	time.Sleep(50 * time.Millisecond)
	sess.Close()

	res := <-inFlight
	require.True(t, IsCancelled(res.Err))
	res = <-queued
	require.True(t, IsCancelled(res.Err))
}

func TestSubmitAfterCloseIsCancelled(t *testing.T) {
	s := newScheduler(t, 1)
	sess := s.NewSession(context.Background(), "t5")
	sess.Close()

	res := <-sess.Submit(litS("late"))
	require.True(t, IsCancelled(res.Err))
}

func TestCancelledBeforeAdmission(t *testing.T) {
	s := newScheduler(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := s.Run(ctx, litS("v"))
	require.True(t, IsCancelled(res.Err))
}

func TestSuspendedWriterDoesNotPinWorkerSlot(t *testing.T) {
	// one running slot; a program suspended waiting for the write lock must
	// not block an independent program from making progress
	db, err := memkv.New()
	require.NoError(t, err)
	t.Cleanup(db.Close)
	s := New(1, db, bus.New(), hlc.NewClock(), io.Discard)

	// hold the single write slot from outside the scheduler
	blockTx, err := db.BeginRw(context.Background())
	require.NoError(t, err)

	blockedCh := make(chan Result, 1)
	go func() {
		blockedCh <- s.Run(context.Background(), prog(
			lit(prog(litS("k"), litS("v"), word("ASSOC"), word("COMMIT"))), word("WRITE"),
		))
	}()
	time.Sleep(50 * time.Millisecond) // blocked program is now suspended on BeginRw

	free := s.Run(context.Background(), litS("independent"))
	require.Nil(t, free.Err, "independent program must run while another is suspended")

	blockTx.Rollback() // release the writer; the suspended program resumes
	select {
	case res := <-blockedCh:
		require.Nil(t, res.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("suspended writer never resumed")
	}
}
