// Package report renders ledger-derived status and history for the
// CLI. It is a pure presentation layer: every value it prints is read
// from the ledger or a verification result, never computed from the
// live system.
package report
