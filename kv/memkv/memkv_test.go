package memkv

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pumpkindb/pumpkindb/kv"
)

func newDB(t *testing.T) *DB {
	t.Helper()
	d, err := New()
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func mustAssoc(t *testing.T, d *DB, pairs ...string) {
	t.Helper()
	require.Zero(t, len(pairs)%2)
	tx, err := d.BeginRw(context.Background())
	require.NoError(t, err)
	for i := 0; i < len(pairs); i += 2 {
		require.NoError(t, tx.Assoc([]byte(pairs[i]), []byte(pairs[i+1])))
	}
	require.NoError(t, tx.Commit())
}

func TestSingleAssignment(t *testing.T) {
	d := newDB(t)
	mustAssoc(t, d, "k", "v")

	tx, err := d.BeginRw(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	require.ErrorIs(t, tx.Assoc([]byte("k"), []byte("w")), kv.ErrDuplicateKey)
}

func TestUncommittedWritesAreDiscarded(t *testing.T) {
	d := newDB(t)
	tx, err := d.BeginRw(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Assoc([]byte("k"), []byte("v")))
	tx.Rollback()

	ro, err := d.BeginRo(context.Background())
	require.NoError(t, err)
	defer ro.Rollback()
	_, ok, err := ro.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadSnapshotIsolation(t *testing.T) {
	d := newDB(t)
	mustAssoc(t, d, "a", "1")

	ro, err := d.BeginRo(context.Background())
	require.NoError(t, err)
	defer ro.Rollback()

	mustAssoc(t, d, "b", "2") // committed after the read began

	_, ok, err := ro.Get([]byte("b"))
	require.NoError(t, err)
	require.False(t, ok, "reader must see the pre-commit state for its whole lifetime")

	v, ok, err := ro.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestSingleWriter(t *testing.T) {
	d := newDB(t)
	tx, err := d.BeginRw(context.Background())
	require.NoError(t, err)

	_, ok := d.TryBeginRw()
	require.False(t, ok, "second concurrent write transaction must not start")

	tx.Rollback()
	tx2, ok := d.TryBeginRw()
	require.True(t, ok)
	tx2.Rollback()
}

func TestReadersLimit(t *testing.T) {
	d := newDB(t)
	open := make([]kv.Tx, 0, kv.ReadersLimit)
	for i := 0; i < kv.ReadersLimit; i++ {
		tx, ok := d.TryBeginRo()
		require.True(t, ok, "reader %d", i)
		open = append(open, tx)
	}
	_, ok := d.TryBeginRo()
	require.False(t, ok, "reader beyond the limit must not start")

	open[0].Rollback()
	tx, ok := d.TryBeginRo()
	require.True(t, ok)
	tx.Rollback()
	for _, tx := range open[1:] {
		tx.Rollback()
	}
}

func TestTxIDsIncrease(t *testing.T) {
	d := newDB(t)
	var prev uint64
	for i := 0; i < 5; i++ {
		tx, err := d.BeginRo(context.Background())
		require.NoError(t, err)
		require.Greater(t, tx.ID(), prev)
		prev = tx.ID()
		tx.Rollback()
	}
}

func TestClosedTxRejectsOperations(t *testing.T) {
	d := newDB(t)
	tx, err := d.BeginRw(context.Background())
	require.NoError(t, err)
	tx.Rollback()

	_, _, err = tx.Get([]byte("k"))
	require.ErrorIs(t, err, kv.ErrTxClosed)
	require.ErrorIs(t, tx.Assoc([]byte("k"), []byte("v")), kv.ErrTxClosed)
	require.ErrorIs(t, tx.Commit(), kv.ErrTxClosed)
	tx.Rollback() // second rollback is a no-op
}

func TestRoTxRejectsWrites(t *testing.T) {
	d := newDB(t)
	ro, err := d.BeginRo(context.Background())
	require.NoError(t, err)
	defer ro.Rollback()

	rw, ok := ro.(kv.RwTx)
	require.True(t, ok) // same concrete type serves both interfaces
	require.ErrorIs(t, rw.Assoc([]byte("k"), []byte("v")), kv.ErrReadOnly)
	_, err = rw.RwCursor()
	require.ErrorIs(t, err, kv.ErrReadOnly)
}

func TestCursorTraversal(t *testing.T) {
	d := newDB(t)
	mustAssoc(t, d, "a", "1", "b", "2", "c", "3")

	ro, err := d.BeginRo(context.Background())
	require.NoError(t, err)
	defer ro.Rollback()
	c, err := ro.Cursor()
	require.NoError(t, err)
	defer c.Close()

	require.False(t, c.Positioned())
	_, ok := c.Key()
	require.False(t, ok)

	k, v, ok, err := c.First()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("a"), k)
	require.Equal(t, []byte("1"), v)

	k, _, ok, err = c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("b"), k)

	k, _, ok, err = c.Prev()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("a"), k)

	k, v, ok, err = c.Last()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("c"), k)
	require.Equal(t, []byte("3"), v)

	// stepping past the end fails the move but keeps the position
	_, _, ok, err = c.Next()
	require.NoError(t, err)
	require.False(t, ok)
	k, ok = c.Key()
	require.True(t, ok)
	require.Equal(t, []byte("c"), k)
}

func TestCursorSeek(t *testing.T) {
	d := newDB(t)
	mustAssoc(t, d, "a", "1", "c", "3", "e", "5")

	ro, err := d.BeginRo(context.Background())
	require.NoError(t, err)
	defer ro.Rollback()
	c, err := ro.Cursor()
	require.NoError(t, err)
	defer c.Close()

	k, _, ok, err := c.Seek([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("c"), k, "seek positions at the first key >= target")

	_, _, ok, err = c.Seek([]byte("f"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCursorSeekLast(t *testing.T) {
	d := newDB(t)
	mustAssoc(t, d, "app/1", "a", "app/2", "b", "app/3", "c", "zoo", "z")

	ro, err := d.BeginRo(context.Background())
	require.NoError(t, err)
	defer ro.Rollback()
	c, err := ro.Cursor()
	require.NoError(t, err)
	defer c.Close()

	k, v, ok, err := c.SeekLast([]byte("app/"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("app/3"), k)
	require.Equal(t, []byte("c"), v)

	_, _, ok, err = c.SeekLast([]byte("missing/"))
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, c.Positioned(), "position is undefined after a SeekLast miss")
}

func TestPrefixUpperBound(t *testing.T) {
	require.Equal(t, []byte("app0"), prefixUpperBound([]byte("app/")))
	require.Equal(t, []byte{0x01}, prefixUpperBound([]byte{0x00}))
	require.Equal(t, []byte{0x02}, prefixUpperBound([]byte{0x01, 0xFF}))
	require.Nil(t, prefixUpperBound([]byte{0xFF, 0xFF}))
}

func TestSeekLastAllFFPrefix(t *testing.T) {
	d := newDB(t)
	mustAssoc(t, d, "\xff\x01", "a", "\xff\xff", "b", "\xff\xff\x07", "c")

	ro, err := d.BeginRo(context.Background())
	require.NoError(t, err)
	defer ro.Rollback()
	c, err := ro.Cursor()
	require.NoError(t, err)
	defer c.Close()

	k, _, ok, err := c.SeekLast([]byte{0xFF, 0xFF})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0xFF, 0xFF, 0x07}, k)
}

func TestManyKeysOrdered(t *testing.T) {
	d := newDB(t)
	tx, err := d.BeginRw(context.Background())
	require.NoError(t, err)
	for i := 99; i >= 0; i-- { // inserted out of order
		require.NoError(t, tx.Assoc([]byte(fmt.Sprintf("k%02d", i)), []byte{byte(i)}))
	}
	require.NoError(t, tx.Commit())

	ro, err := d.BeginRo(context.Background())
	require.NoError(t, err)
	defer ro.Rollback()
	c, err := ro.Cursor()
	require.NoError(t, err)
	defer c.Close()

	n := 0
	for k, _, ok, err := c.First(); ok; k, _, ok, err = c.Next() {
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("k%02d", n), string(k))
		n++
	}
	require.Equal(t, 100, n)
}
