// Package ledger implements the append-only, file-backed store of
// extension lifecycle events and the derived queries over it.
//
// The backing store is a single newline-delimited JSON file. Every
// record is one self-contained envelope; there is no header, no index
// and no multi-line record. Writers append one line at a time under an
// exclusive advisory lock; readers are lock-free full scans that
// tolerate a malformed line (a concurrent, not-yet-flushed write) by
// skipping it with a warning.
//
// The event stream is the only source of truth: every "current state"
// view is a fold over it. The only destructive operation is Compact,
// which rewrites the whole file atomically (temp file + rename) and is
// engineered to never change what latest-status resolves to.
package ledger
