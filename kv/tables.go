package kv

// SchemaVersion identifies the on-disk layout of a backend implementing
// RwDB. Bump Major on incompatible layout changes, Minor on additive ones.
//
// 1.0 - initial single-keyspace layout: flat ordered key -> value bucket,
//       single-assignment, no secondary indices.
var SchemaVersion = Version{Major: 1, Minor: 0, Patch: 0}

// Version is a semantic-version triple reported by a backend.
type Version struct {
	Major, Minor, Patch uint32
}

// DefaultBucket is the name of PumpkinDB's single flat keyspace. Unlike
// erigon's many chain-data buckets, PumpkinDB's data model exposes
// exactly one ordered key space per database; the name exists so backends
// that are themselves bucket-oriented (e.g. an embedded engine with named
// tables) have somewhere canonical to keep the data.
const DefaultBucket = "pumpkin"

// ReadersLimit bounds the number of concurrent read transactions a backend
// may serve. Backends are free to enforce a smaller limit but must not
// exceed this one.
const ReadersLimit = 126

// DefaultMaxKeySize is the key-size ceiling reported by $SYSTEM/MAXKEYSIZE
// when a backend does not override it at construction time.
const DefaultMaxKeySize = 8192
