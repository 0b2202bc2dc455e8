// Package kv defines the storage backend contract consumed by the core
//: a single-writer/many-reader transactional key-value
// store over an ordered byte-string keyspace, with cursors for ordered
// traversal. The shape is adapted from erigon-lib's kv.RoDB/RwDB/Tx/Cursor
// family, narrowed to PumpkinDB's single flat keyspace and single-assignment
// semantics.
package kv

import (
	"context"
	"errors"
)

// Variable naming, matching erigon-lib's convention:
//   tx  - storage transaction
//   k,v - key, value
//   Cursor - low-level ordered-traversal handle bound to one transaction

var (
	// ErrDuplicateKey is returned by RwTx.Assoc when the key is already
	// present (keys are single-assignment).
	ErrDuplicateKey = errors.New("kv: key already associated")
	// ErrUnknownKey is returned by Tx.Get-adjacent lookups that require
	// presence (error kind UnknownKey).
	ErrUnknownKey = errors.New("kv: key not present")
	// ErrTxClosed is returned by any operation performed on a transaction
	// that has already committed or rolled back.
	ErrTxClosed = errors.New("kv: transaction closed")
	// ErrTooManyReaders reports that ReadersLimit concurrent read
	// transactions are outstanding. memkv's BeginRo does not return it: it
	// blocks until a reader slot is free.
	ErrTooManyReaders = errors.New("kv: too many concurrent readers")
	// ErrWriterBusy reports that another write transaction is in flight (at
	// most one exists process-wide). memkv's BeginRw does not return it: it
	// blocks until the writer slot is free.
	ErrWriterBusy = errors.New("kv: a write transaction is already active")
	// ErrReadOnly is returned by a write-only operation (Assoc, RwCursor)
	// invoked against a transaction opened with BeginRo.
	ErrReadOnly = errors.New("kv: transaction is read-only")
)

// Closer is implemented by anything owning OS resources released on Close.
type Closer interface {
	Close()
}

// RoDB is the read side of a storage backend.
type RoDB interface {
	Closer

	// BeginRo starts a new read-only transaction. The transaction sees a
	// consistent snapshot of the keyspace for its entire lifetime: a reader
	// started before a write commits sees the pre-commit state throughout.
	BeginRo(ctx context.Context) (Tx, error)

	// MaxKeySize reports the configured maximum key size, backing
	// $SYSTEM/MAXKEYSIZE.
	MaxKeySize() uint32
}

// RwDB is a storage backend that also accepts write transactions. At most
// one RwTx may be open at a time, process-wide.
type RwDB interface {
	RoDB

	BeginRw(ctx context.Context) (RwTx, error)
}

// Tx is a read-only (or read side of a read-write) transaction.
//
// WARNING: a Tx and its cursors must only be used by the goroutine that
// created them, and released (Rollback, or Commit for RwTx) before the
// owning environment proceeds past its READ/WRITE body.
type Tx interface {
	// ID returns a transaction identifier, unique and monotonically
	// increasing process-wide, backing TXID.
	ID() uint64

	// Get performs a point lookup. ok is false when the key is absent;
	// callers requiring presence (RETR) translate that into UnknownKey.
	Get(key []byte) (value []byte, ok bool, err error)

	// Has tests key membership, backing ASSOC?.
	Has(key []byte) (bool, error)

	// Cursor creates a new, unpositioned read cursor: Next and Prev fail on
	// it until a First, Last, Seek or SeekLast succeeds.
	Cursor() (Cursor, error)

	// Rollback discards the transaction. Safe to call on an
	// already-terminated transaction (no-op).
	Rollback()
}

// RwTx is a read-write transaction. Exactly one exists process-wide at any
// time across all backends sharing the same underlying store.
type RwTx interface {
	Tx

	// Assoc inserts a new key, failing with ErrDuplicateKey if it already
	// exists.
	Assoc(key, value []byte) error

	// RwCursor creates a new read-write cursor.
	RwCursor() (RwCursor, error)

	// Commit persists the transaction's writes. Calling Commit without
	// having been told to (the VM's COMMIT instruction) is the caller's
	// responsibility to avoid; the kv layer itself commits unconditionally
	// when asked.
	Commit() error
}

// Cursor walks an ordered keyspace within the transaction that created it.
// Every positioning method reports ok=false (without error) when it could
// not move to a valid entry, leaving the cursor's position unspecified only
// for SeekLast; all other methods leave the cursor at its
// last valid position on a failed move.
type Cursor interface {
	First() (k, v []byte, ok bool, err error)
	Last() (k, v []byte, ok bool, err error)
	Next() (k, v []byte, ok bool, err error)
	Prev() (k, v []byte, ok bool, err error)
	// Seek positions at the first key >= seek.
	Seek(seek []byte) (k, v []byte, ok bool, err error)
	// SeekLast positions at the last key having prefix, or reports ok=false
	// with the position left undefined on a miss.
	SeekLast(prefix []byte) (k, v []byte, ok bool, err error)

	// Key/Value return the key/value at the current position. ok is false
	// if the cursor is not positioned (NoValue).
	Key() (k []byte, ok bool)
	Value() (v []byte, ok bool)
	Positioned() bool

	Close()
}

// RwCursor is a Cursor bound to a write transaction. PumpkinDB's
// single-assignment data model never mutates through a cursor (there is no
// DELETE instruction), so RwCursor adds no methods over Cursor today; it
// exists as a distinct type to mirror erigon-lib's Cursor/RwCursor split
// and to leave room for a future mutating cursor instruction without an
// interface-breaking change.
type RwCursor interface {
	Cursor
}
