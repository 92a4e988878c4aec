// Package registry maintains the local catalog of known extensions in
// SQLite. The catalog caches extension manifests and their metadata so
// listing and resolution do not re-read manifest files; it is distinct
// from the status ledger, which records what actually happened.
package registry
