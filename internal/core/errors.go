// Package core defines the sentinel errors shared across the dataflow
// engine, per spec.md §7 (Error Handling Design).
package core

import "errors"

// Sentinel errors following the engine's error-kind taxonomy (spec.md §7).
var (
	// BuildError — the plan refers to a channel not in the graph, mismatched
	// scope levels, or a duplicate operator index. Fatal at build time.
	ErrBuildUnknownChannel    = errors.New("pegasus: build: operator references unknown channel")
	ErrBuildDuplicateOperator = errors.New("pegasus: build: duplicate operator index")
	ErrBuildScopeLevelMismatch = errors.New("pegasus: build: channel scope level does not match operator scope level")
	ErrBuildUnknownKind       = errors.New("pegasus: build: no builder registered for operator kind")
	ErrBuildMissingSink       = errors.New("pegasus: build: job request has no sink descriptor")

	// IOError — a channel or the event bus could not send/receive (peer
	// gone, buffer overflow beyond the configured limit). Fatal for the job.
	ErrIOPeerGone       = errors.New("pegasus: io: peer worker gone")
	ErrIOBufferOverflow = errors.New("pegasus: io: channel buffer overflow")

	// Exhausted is not an error condition on its own; it is converted to an
	// EOS event by the caller. Kept here so callers can use errors.Is against
	// a stable sentinel when a SourceIterator chooses to signal this way.
	ErrExhausted = errors.New("pegasus: source exhausted")

	// BlockedOutput is transient: the scheduler backs off and retries the
	// operator in a later step. Never surfaced to the worker loop as fatal.
	ErrBlockedOutput = errors.New("pegasus: scheduler: output blocked")

	// CancelHonored signals that a scope was cancelled; the downstream
	// contract still guarantees an End arrives for it.
	ErrCancelHonored = errors.New("pegasus: cancellation honored")

	// PanicInUserCode wraps a recovered panic from an operator's
	// OnReceive/OnNotify/OnActive hook.
	ErrPanicInUserCode = errors.New("pegasus: panic in operator core")
)
