// Package chain defines the ChainAdapter capability contract every
// upstream backend (hardhat, ankr, solana, tron, toncenter) satisfies, and
// the errors shared across adapters and the engine.
//
// The contract is deliberately a plain interface rather than a base type:
// the generic height-polling logic in internal/engine is a free function
// taking this interface, not a method on some shared adapter struct —
// following spec.md §9's explicit design note.
package chain

import (
	"context"
	"errors"

	"chain-gateway/internal/types"
)

// Adapter is the capability set every chain backend implements.
type Adapter interface {
	// Name identifies the adapter for logging, e.g. "hardhat", "tron".
	Name() string

	// Height returns the current best known height/slot. Fails with
	// ErrUpstreamUnavailable on transport error.
	Height(ctx context.Context) (uint64, error)

	// TxsAt returns every relevant transaction normalized from the given
	// height. It never fails the whole call on a partial per-tx error:
	// failed items are dropped and logged, and an empty slice is returned
	// when the block has none. A block that can not be fetched fails the
	// call with an error wrapping ErrUpstreamUnavailable.
	TxsAt(ctx context.Context, height uint64) ([]types.NormalizedTx, error)

	// SubscribeContract installs whatever upstream log filter is needed to
	// observe token transfer events for addr. Idempotent; may be a no-op
	// for adapters that harvest logs inline from block fetch.
	SubscribeContract(ctx context.Context, addr string) error

	// UnsubscribeContract reverses SubscribeContract, releasing any
	// upstream filter or poll loop associated with addr. Idempotent.
	UnsubscribeContract(addr string)

	// IsAccount reports whether addr is a plain externally-owned address
	// (false for contracts). Chains without code-at-address semantics
	// return a pure syntactic validity check.
	IsAccount(ctx context.Context, addr string) (bool, error)

	// DisableHeightProcessing reports whether the HeightPoller loop should
	// skip block-height discovery entirely for this adapter (true only for
	// Solana, which relies on the external GraphQL aggregator subscription).
	DisableHeightProcessing() bool

	// BlockReadInterval is how often the HeightPoller should wake for this
	// adapter, honoring any configured override.
	BlockReadInterval() (milliseconds int)
}

// Sentinel errors shared across adapters, the repository facade, and the
// engine. Client-protocol errors live in internal/engine/errors.go instead
// — these are upstream/transport errors.
var (
	// ErrUpstreamUnavailable signals a soft failure talking to the
	// upstream node/provider: the caller should log and skip, not crash.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrHeightNotFound names a requested height the chain has not
	// produced yet. The adapters in this repository do not return it; they
	// report such a failed fetch as ErrUpstreamUnavailable.
	ErrHeightNotFound = errors.New("height not found")
)
