package engine

import "errors"

// Client-protocol errors: surfaced verbatim as a WebSocket/JSON-RPC error
// frame per spec.md §7. Connection state is unchanged when these occur.
var (
	// ErrCapacityExceeded is returned by AddSub when the table already
	// holds MaxSubscriptions live entries.
	ErrCapacityExceeded = errors.New("CapacityExceeded")

	// ErrAlreadySubscribed is returned when the same (cid, event) pair
	// already has an interest registered for the given address.
	ErrAlreadySubscribed = errors.New("AlreadySubscribed")

	// ErrNotAnAccount is returned when a subscribe address fails the
	// adapter's IsAccount check.
	ErrNotAnAccount = errors.New("NotAnAccount")

	// ErrNotAContract is returned when an entry in the token list is
	// actually an account, not a contract.
	ErrNotAContract = errors.New("NotAContract")
)
