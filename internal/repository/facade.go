// Package repository wires a single chain.Adapter to the subscription
// engine and exposes the historical query handlers the JSON-RPC transport
// calls into. One Facade instance is created per process (the backend
// selected on the command line), mirroring the teacher's one-proxy-per-
// process repository shape.
package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"chain-gateway/internal/chain"
	"chain-gateway/internal/chain/solana"
	"chain-gateway/internal/engine"
	"chain-gateway/internal/logger"
	"chain-gateway/internal/store"
	gwtypes "chain-gateway/internal/types"
)

// Facade owns the engine's live pieces (SubscriptionTable, ContractInterestSet,
// HeightPoller, connection Lifecycle) for one backend, plus the read-through
// cache backing historical queries.
type Facade struct {
	log     logger.Logger
	adapter chain.Adapter

	Table     *engine.SubscriptionTable
	Contracts *engine.ContractInterestSet
	Matcher   *engine.Matcher
	Lifecycle *engine.Lifecycle
	poller    *engine.HeightPoller

	cg    singleflight.Group
	cache *store.Cache

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Facade bound to adapter, wiring a fresh engine core.
func New(adapter chain.Adapter, cache *store.Cache, log logger.Logger) *Facade {
	table := engine.NewSubscriptionTable()
	contracts := engine.NewContractInterestSet(log)
	matcher := &engine.Matcher{CaseInsensitive: adapter.Name() == "hardhat" || adapter.Name() == "ankr"}
	if adapter.Name() == "solana" {
		matcher.DeriveAssociatedAccount = solana.DeriveAssociatedTokenAccount
	}

	f := &Facade{
		log:       log,
		adapter:   adapter,
		Table:     table,
		Contracts: contracts,
		Matcher:   matcher,
		Lifecycle: engine.NewLifecycle(table, log),
		cache:     cache,
	}

	f.poller = engine.NewHeightPoller(adapter, table, matcher, log, f.deliver)
	return f
}

// deliver is the HeightPoller's onDeliver callback: it simply invokes the
// bound send function, matching spec.md §7's "delivery failures are logged,
// never retried" policy.
func (f *Facade) deliver(d engine.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Errorf("panic delivering to %s: %v", d.CID, r)
		}
	}()
	d.SendFn(engine.EventSubscribeAccount, d.Payload)
}

// aggregatorWatcher is satisfied only by the Solana adapter: when height
// processing is disabled (spec.md §4.3 step 1), live events arrive through
// this aggregator poll loop instead of HeightPoller's slot iteration.
type aggregatorWatcher interface {
	WatchAggregator(ctx context.Context, onTx func(gwtypes.NormalizedTx)) error
}

// Run starts the HeightPoller and the tombstone sweeper under a context
// derived from ctx, following the teacher's wg-tracked service lifecycle
// (internal/repository/trx_flow.go) with context cancellation standing in
// for the teacher's sigStop channel.
func (f *Facade) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	f.log.Noticef("%s: repository facade started", f.adapter.Name())

	f.wg.Add(2)
	go func() {
		defer f.wg.Done()
		if err := f.poller.Run(runCtx); err != nil {
			f.log.Errorf("%s: height poller stopped: %s", f.adapter.Name(), err.Error())
		}
	}()
	go func() {
		defer f.wg.Done()
		f.Lifecycle.RunSweeper(runCtx)
	}()

	if watcher, ok := f.adapter.(aggregatorWatcher); ok && f.adapter.DisableHeightProcessing() {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			if err := watcher.WatchAggregator(runCtx, f.dispatchLive); err != nil {
				f.log.Errorf("%s: aggregator watch stopped: %s", f.adapter.Name(), err.Error())
			}
		}()
	}
}

// dispatchLive feeds one normalized transaction from the aggregator poll
// path through the same Matcher the HeightPoller uses, using a fresh
// per-call dedup set since aggregator transactions arrive one at a time
// rather than in a per-height batch.
func (f *Facade) dispatchLive(tx gwtypes.NormalizedTx) {
	if tx.IsZeroValue() {
		return
	}
	subs := f.Table.GetSubsForEvent(engine.EventSubscribeAccount)
	if len(subs) == 0 {
		return
	}
	dedup := engine.NewDedupSet()
	for _, d := range f.Matcher.Match(&tx, subs, dedup) {
		f.deliver(d)
	}
}

// Close signals shutdown and waits for the background services to exit.
func (f *Facade) Close() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	f.log.Notice("repository facade closed")
}

// SeedContractInterest registers token in the shared ContractInterestSet
// and, the first time it is seen, asks the adapter to install whatever
// upstream log filter observes transfers for it (spec.md §4.5). Called
// once per first-seen token on a successful subscribe; idempotent for
// tokens already known.
func (f *Facade) SeedContractInterest(ctx context.Context, token string) error {
	if f.Contracts.Contains(token) {
		return nil
	}
	if !f.Contracts.Add(token) {
		return nil
	}
	if err := f.adapter.SubscribeContract(ctx, token); err != nil {
		f.log.Warningf("%s: subscribeContract(%s) failed: %s", f.adapter.Name(), token, err.Error())
		return err
	}
	return nil
}

// Status implements the "status" JSON-RPC method.
func (f *Facade) Status(ctx context.Context) (map[string]interface{}, error) {
	v, err, _ := f.cg.Do("status", func() (interface{}, error) {
		h, err := f.adapter.Height(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get status")
		}
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"height": v.(uint64)}, nil
}

// GetTransactionsByAddress implements the historical JSON-RPC method of the
// same name (spec.md §6), read-through cached per (address, fromBlock,
// toBlock, tokenAddress) key via store.Cache, falling through to a ranged
// adapter scan on a cache miss.
func (f *Facade) GetTransactionsByAddress(ctx context.Context, address string, fromBlock, toBlock *uint64, tokenAddress *string, pageSize int) ([]gwtypes.NormalizedTx, error) {
	keyAddr, keyToken := address, tokenAddress
	if f.Matcher.CaseInsensitive {
		keyAddr = strings.ToLower(address)
		if tokenAddress != nil {
			lowered := strings.ToLower(*tokenAddress)
			keyToken = &lowered
		}
	}
	key := store.TxQueryKey(f.adapter.Name(), keyAddr, fromBlock, toBlock, keyToken)

	if cached, ok := f.cache.GetTxs(key); ok {
		return limitPage(cached, pageSize), nil
	}

	v, err, _ := f.cg.Do(key, func() (interface{}, error) {
		return f.scanRange(ctx, address, fromBlock, toBlock, tokenAddress)
	})
	if err != nil {
		return nil, err
	}

	txs := v.([]gwtypes.NormalizedTx)
	f.cache.SetTxs(key, txs)
	return limitPage(txs, pageSize), nil
}

// scanRange fetches every height in [fromBlock, toBlock] (each bound
// defaulting to the current height when nil, with the bounds swapped when
// toBlock is below fromBlock) and filters for address/token involvement. This is a
// best-effort historical scan, not the live dispatch path — it deliberately
// reuses chain.Adapter.TxsAt rather than a separate indexer query surface.
func (f *Facade) scanRange(ctx context.Context, address string, fromBlock, toBlock *uint64, tokenAddress *string) ([]gwtypes.NormalizedTx, error) {
	current, err := f.adapter.Height(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get status")
	}

	start, end := current, current
	if fromBlock != nil {
		start = *fromBlock
	}
	if toBlock != nil {
		end = *toBlock
	} else if fromBlock != nil {
		end = current
	}
	if end < start {
		start, end = end, start
	}

	var out []gwtypes.NormalizedTx
	for h := start; h <= end; h++ {
		txs, err := f.adapter.TxsAt(ctx, h)
		if err != nil {
			f.log.Warningf("%s: scan skipped height %d: %s", f.adapter.Name(), h, err.Error())
			continue
		}
		for _, tx := range txs {
			if !involvesAddress(tx, address, f.Matcher.CaseInsensitive) {
				continue
			}
			if tokenAddress != nil && !addrEqual(derefStr(tx.Token), *tokenAddress, f.Matcher.CaseInsensitive) {
				continue
			}
			out = append(out, tx)
		}
	}
	return out, nil
}

// tokenTransfersProvider is satisfied only by the TON adapter, which
// exposes jetton transfer history through its own indexer call rather
// than the generic height-range scan every other backend uses.
type tokenTransfersProvider interface {
	GetTokenTransfers(ctx context.Context, address, jettonMaster string) ([]gwtypes.NormalizedTx, error)
}

// GetTokenTransfers implements the TON-specific "getTokenTransfers"
// JSON-RPC method (spec.md §6). It fails on every backend but TON.
func (f *Facade) GetTokenTransfers(ctx context.Context, address, jettonMaster string) ([]gwtypes.NormalizedTx, error) {
	provider, ok := f.adapter.(tokenTransfersProvider)
	if !ok {
		return nil, fmt.Errorf("getTokenTransfers is not supported on backend %q", f.adapter.Name())
	}
	return provider.GetTokenTransfers(ctx, address, jettonMaster)
}

func involvesAddress(tx gwtypes.NormalizedTx, address string, caseInsensitive bool) bool {
	if addrEqual(tx.To, address, caseInsensitive) {
		return true
	}
	return tx.From != nil && addrEqual(*tx.From, address, caseInsensitive)
}

func addrEqual(a, b string, caseInsensitive bool) bool {
	if caseInsensitive {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func limitPage(txs []gwtypes.NormalizedTx, pageSize int) []gwtypes.NormalizedTx {
	if pageSize <= 0 || pageSize >= len(txs) {
		return txs
	}
	return txs[:pageSize]
}
