// Package objectstore defines the abstract object-store capability set the
// grace protocol engine (pkg/grace) is built against: atomic read of a
// data payload plus an unordered key/value sidecar ("omap"), version-
// conditional writes, and a best-effort notify/watch channel.
//
// This mirrors the external librados capability set described in spec
// section 6: compare-and-swap on a single named object, never a general
// purpose transaction manager. Concrete backends live in sibling packages
// (memstore, badgerstore, s3store); all three satisfy Client and pass the
// shared conformance suite in storetest.
package objectstore

import "context"

// Entry is a single node-map (omap) key/value pair. Value is the raw
// value blob as stored; backends do not interpret it, and pkg/grace
// decodes the flags itself.
type Entry struct {
	Key   string
	Value []byte
}

// ReadResult is the outcome of a Read: the data payload, the omap
// entries visible at read time (bounded by ReadOptions.OmapLimit), whether
// more entries exist beyond that bound, and the version to present to a
// subsequent conditional write.
type ReadResult struct {
	Payload []byte
	Entries []Entry
	More    bool
	Version Version
}

// Version is an opaque, backend-assigned, monotonically increasing
// commit marker. Two reads of an unmodified object return equal
// Versions; callers never construct or compare Versions except via
// WriteOp.AssertVersion.
type Version interface {
	// String renders the version for logging only; it carries no
	// cross-backend meaning.
	String() string
}

// ReadOptions controls how much of the omap a Read fetches.
type ReadOptions struct {
	// OmapPrefix restricts the scan to keys with this prefix ("" = all).
	OmapPrefix string
	// OmapLimit bounds the number of omap keys returned in one Read.
	// Zero means "payload only, skip the omap scan".
	OmapLimit int
}

// WriteOp describes one conditional read-modify-write transaction
// against a single named object. A Write call is all-or-nothing: either
// every non-nil field is applied atomically, or nothing is.
type WriteOp struct {
	// Create, if set, creates the object if it is absent. Exclusive
	// create fails with ErrAlreadyExists if the object exists;
	// idempotent create succeeds either way. A non-nil AssertVersion is
	// still checked, against the initial version of a freshly created
	// object.
	Create *CreateMode

	// Payload, if non-nil, replaces the object's data payload in full.
	Payload []byte

	// OmapSet adds or overwrites the listed node-map entries.
	OmapSet []Entry

	// OmapRemove deletes the listed node-map keys (no-op for absent
	// keys).
	OmapRemove []string

	// OmapClear, if true, removes every node-map entry before applying
	// OmapSet. The grace engine never sets it.
	OmapClear bool

	// AssertVersion, if non-nil, fails the write with
	// ErrVersionMismatch unless the object's current version equals it.
	// A nil AssertVersion performs an unconditional write (used only by
	// Create on a fresh object, where there is nothing to race against
	// yet).
	AssertVersion Version
}

// CreateMode selects create semantics for WriteOp.Create.
type CreateMode int

const (
	// CreateExclusive fails with ErrAlreadyExists if the object exists.
	CreateExclusive CreateMode = iota
	// CreateIdempotent succeeds whether or not the object already
	// existed, leaving an existing object's contents untouched beyond
	// what the rest of the WriteOp specifies.
	CreateIdempotent
)

// Client is the object-store capability surface the grace engine
// requires. Implementations must be safe for concurrent use.
type Client interface {
	// Read performs an atomic read of the payload and (optionally) the
	// omap of the named object in one round trip, returning the version
	// to present on a following Write.
	//
	// Returns an *Error with ErrNotFound if the object does not exist.
	Read(ctx context.Context, oid string, opts ReadOptions) (*ReadResult, error)

	// Write performs the conditional read-modify-write described by op.
	//
	// Returns an *Error with ErrVersionMismatch if op.AssertVersion is
	// set and stale; ErrAlreadyExists if op.Create is CreateExclusive
	// and the object exists; ErrNotFound if the object doesn't exist and
	// op.Create is nil.
	Write(ctx context.Context, oid string, op WriteOp) error

	// Notify best-effort broadcasts to current watchers of oid that its
	// state changed. Failures are never fatal to the caller; backends
	// log and swallow them internally, returning nil.
	Notify(ctx context.Context, oid string) error

	// Watch installs cb to be invoked (with no ordering or delivery
	// guarantee) whenever a Notify is observed for oid. cb is passed an
	// ack func that it must call once it has safely reacted to the
	// notification; backends that model an underlying ack protocol (as
	// librados does) use this to acknowledge the notify upstream, while
	// backends without one (memstore, badgerstore) simply allow it as a
	// no-op. Watch returns a cancel func to uninstall the watch.
	Watch(ctx context.Context, oid string, cb func(ack func())) (cancel func(), err error)
}
