// Package solana implements the ChainAdapter contract for Solana. Height
// discovery is disabled for this adapter (spec.md §4.3 step 1): live events
// arrive through the external GraphQL aggregator subscription instead of
// slot-by-slot polling, so HeightPoller's generic loop never drives it.
package solana

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"chain-gateway/internal/chain"
	"chain-gateway/internal/logger"
	gwtypes "chain-gateway/internal/types"
)

// associatedTokenProgramID is the well-known SPL associated-token-account
// program, used to derive the deterministic ATA for (wallet, mint) pairs.
var associatedTokenProgramID = solanago.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

// Adapter implements chain.Adapter for Solana via a JSON-RPC client, plus an
// aggregator watch loop for live subscription delivery.
type Adapter struct {
	name       string
	client     *rpc.Client
	aggURL     string
	httpClient *http.Client
	log        logger.Logger
	interval   int

	mu        sync.Mutex
	contracts map[string]struct{}
}

// New creates a Solana adapter against rpcURL, with aggregatorURL pointing
// at the external GraphQL aggregator this adapter subscribes to for live
// events (see WatchAggregator).
func New(name, rpcURL, aggregatorURL string, blockReadIntervalMS int, log logger.Logger) *Adapter {
	if blockReadIntervalMS <= 0 {
		blockReadIntervalMS = 1000
	}
	return &Adapter{
		name:       name,
		client:     rpc.New(rpcURL),
		aggURL:     aggregatorURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
		interval:   blockReadIntervalMS,
		contracts:  make(map[string]struct{}),
	}
}

func (a *Adapter) Name() string                  { return a.name }
func (a *Adapter) DisableHeightProcessing() bool { return true }
func (a *Adapter) BlockReadInterval() int        { return a.interval }

// IsAccount implements chain.Adapter as a pure syntactic check — Solana's
// program-vs-wallet distinction isn't recoverable from the address alone,
// so well-formed base58 public keys are accepted as accounts here. Token
// mints are not classified anywhere: the validator accepts any well-formed
// key in the tokens list.
func (a *Adapter) IsAccount(ctx context.Context, addr string) (bool, error) {
	_, err := solanago.PublicKeyFromBase58(addr)
	return err == nil, nil
}

// Height implements chain.Adapter for completeness (used by historical
// query handlers, never by HeightPoller since DisableHeightProcessing is
// true).
func (a *Adapter) Height(ctx context.Context) (uint64, error) {
	slot, err := a.client.GetSlot(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %s", a.name, chain.ErrUpstreamUnavailable, err.Error())
	}
	return slot, nil
}

// TxsAt implements chain.Adapter for completeness; it is not invoked by
// HeightPoller for this adapter. It fetches the block at the given slot and
// normalizes every transaction's balance deltas per spec.md §4.1.
func (a *Adapter) TxsAt(ctx context.Context, height uint64) ([]gwtypes.NormalizedTx, error) {
	maxVersion := uint64(0)
	block, err := a.client.GetBlockWithOpts(ctx, height, &rpc.GetBlockOpts{
		Encoding:                       solanago.EncodingBase64,
		MaxSupportedTransactionVersion: &maxVersion,
		TransactionDetails:             rpc.TransactionDetailsFull,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", a.name, chain.ErrUpstreamUnavailable, err.Error())
	}

	var out []gwtypes.NormalizedTx
	for _, txWithMeta := range block.Transactions {
		out = append(out, NormalizeTransaction(txWithMeta, height)...)
	}
	return out, nil
}

// SubscribeContract implements chain.Adapter: records a jetton/SPL mint as
// an interest for the aggregator watch loop's filtering.
func (a *Adapter) SubscribeContract(ctx context.Context, addr string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.contracts[addr] = struct{}{}
	return nil
}

// UnsubscribeContract implements chain.Adapter.
func (a *Adapter) UnsubscribeContract(addr string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.contracts, addr)
}

// DeriveAssociatedTokenAccount computes the ATA for (owner, mint), for
// wiring into engine.Matcher.DeriveAssociatedAccount (spec.md §4.4's
// Solana-specific dual-match rule).
func DeriveAssociatedTokenAccount(owner, mint string) (string, bool) {
	ownerKey, err := solanago.PublicKeyFromBase58(owner)
	if err != nil {
		return "", false
	}
	mintKey, err := solanago.PublicKeyFromBase58(mint)
	if err != nil {
		return "", false
	}

	seeds := [][]byte{ownerKey.Bytes(), solanago.TokenProgramID.Bytes(), mintKey.Bytes()}
	ata, _, err := solanago.FindProgramAddress(seeds, associatedTokenProgramID)
	if err != nil {
		return "", false
	}
	return ata.String(), true
}

func bigFromUint64Diff(pre, post uint64) *big.Int {
	return new(big.Int).Sub(new(big.Int).SetUint64(post), new(big.Int).SetUint64(pre))
}
