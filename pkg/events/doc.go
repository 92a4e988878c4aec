// Package events defines the closed vocabulary of extension lifecycle
// facts and the envelope that carries them. An Envelope is the only
// unit ever written to the status ledger: it is created once, at the
// moment of a state transition, and never modified afterwards.
//
// The package performs no business-logic validation. An envelope with
// an unusual transition (for example installed -> installing) is still
// a well-formed envelope; whether it makes sense is the orchestrator's
// problem, not the schema's.
package events
