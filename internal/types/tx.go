// Package types holds the data shapes shared between chain adapters and
// the engine — the normalized transaction record spec.md §3 defines, and
// the wire payload it is rendered into on dispatch.
package types

import "math/big"

// NormalizedTx is the canonical in-memory record a chain adapter produces
// and the matcher consumes. It is the single shape crossing the boundary
// between an adapter and the engine.
type NormalizedTx struct {
	// Hash is the adapter-defined canonical encoding: hex for EVM/Tron,
	// base64 for TON, signature for Solana.
	Hash string

	// From is absent (nil) when the adapter can not recover the sender,
	// e.g. a Solana balance-diff derived transfer.
	From *string

	// To is required.
	To string

	// Value is non-negative; a zero value is dropped before dispatch.
	Value *big.Int

	// BlockNumber is non-negative; for Solana this is the slot number.
	BlockNumber uint64

	// Timestamp is optional; the adapter documents seconds vs. ms.
	Timestamp *uint64

	// Token is the token contract address when this is a token transfer;
	// nil for native transfers.
	Token *string

	// Symbol is an informational human token symbol.
	Symbol *string

	// Fee is an optional network fee, present for chains that report it
	// inline with the transaction (e.g. Tron).
	Fee *big.Int

	// Receipt is an optional adapter-specific execution status string.
	Receipt *string

	// HashKeyIsTxID selects the wire key used to carry Hash in a dispatched
	// event payload: "txid" for Tron/Solana-native, "hash" otherwise, per
	// spec.md §4.4.
	HashKeyIsTxID bool
}

// IsZeroValue reports whether the transaction carries no value and must be
// dropped before dispatch per spec.md §3.
func (t *NormalizedTx) IsZeroValue() bool {
	return t.Value == nil || t.Value.Sign() == 0
}

// IsTokenTransfer reports whether this record represents a token transfer
// rather than a native-asset transfer.
func (t *NormalizedTx) IsTokenTransfer() bool {
	return t.Token != nil && *t.Token != ""
}
