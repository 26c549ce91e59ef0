package engine

import (
	"context"
	"sync/atomic"
	"time"

	"chain-gateway/internal/chain"
	"chain-gateway/internal/logger"
)

// defaultBlockReadIntervalMS is T in spec.md §4.3 for most chains; Tron
// overrides this via its own adapter.BlockReadInterval().
const defaultBlockReadIntervalMS = 5000

// HeightPoller is the single long-lived task per chain adapter that
// discovers new heights, fetches their transactions, and feeds the
// Matcher. One instance runs per process (the process serves exactly one
// backend, selected by the CLI argument).
type HeightPoller struct {
	adapter   chain.Adapter
	table     *SubscriptionTable
	matcher   *Matcher
	log       logger.Logger
	onDeliver func(Delivery)

	lastProcessedHeight uint64
	retryHeight         *uint64
	inFlight            int32
}

// NewHeightPoller creates a poller for adapter. onDeliver is invoked for
// every matched event; it must not block (it is expected to enqueue onto
// a per-connection channel).
func NewHeightPoller(adapter chain.Adapter, table *SubscriptionTable, matcher *Matcher, log logger.Logger, onDeliver func(Delivery)) *HeightPoller {
	return &HeightPoller{
		adapter:   adapter,
		table:     table,
		matcher:   matcher,
		log:       log,
		onDeliver: onDeliver,
	}
}

// Run blocks until ctx is canceled, waking every adapter.BlockReadInterval()
// to poll. If the adapter disables height processing (spec.md §4.3 step 1,
// e.g. Solana riding the external GraphQL aggregator), Run returns
// immediately without starting the tick loop.
func (p *HeightPoller) Run(ctx context.Context) error {
	if p.adapter.DisableHeightProcessing() {
		p.log.Noticef("%s: height processing disabled, poller idle", p.adapter.Name())
		return nil
	}

	h, err := p.adapter.Height(ctx)
	if err != nil {
		return err
	}
	atomic.StoreUint64(&p.lastProcessedHeight, h)

	interval := p.adapter.BlockReadInterval()
	if interval <= 0 {
		interval = defaultBlockReadIntervalMS
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			go p.tick(ctx)
		}
	}
}

// tick performs one wake of the poller loop described in spec.md §4.3.
func (p *HeightPoller) tick(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&p.inFlight, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&p.inFlight, 0)

	subs := p.table.GetSubsForEvent(EventSubscribeAccount)
	if len(subs) == 0 {
		h, err := p.adapter.Height(ctx)
		if err != nil {
			p.log.Debugf("%s: height check failed while idle: %s", p.adapter.Name(), err.Error())
			return
		}
		atomic.StoreUint64(&p.lastProcessedHeight, h)
		return
	}

	current, err := p.adapter.Height(ctx)
	if err != nil {
		p.log.Errorf("%s: height() failed: %s", p.adapter.Name(), err.Error())
		return
	}

	dedup := NewDedupSet()
	start := atomic.LoadUint64(&p.lastProcessedHeight) + 1

	if p.retryHeight != nil {
		h := *p.retryHeight
		p.retryHeight = nil
		if !p.processHeight(ctx, h, subs, dedup) {
			p.log.Warningf("%s: height %d failed twice, skipping", p.adapter.Name(), h)
		}
		atomic.StoreUint64(&p.lastProcessedHeight, h)
		start = h + 1
	}

	for h := start; h <= current; h++ {
		if !p.processHeight(ctx, h, subs, dedup) {
			p.retryHeight = &h
			return
		}
		atomic.StoreUint64(&p.lastProcessedHeight, h)
	}
}

// processHeight fetches and dispatches the transactions at height h. It
// returns false on an upstream fetch failure (the height is not advanced
// past by the caller on first failure, per the skip-and-advance policy
// documented in SPEC_FULL.md §9).
func (p *HeightPoller) processHeight(ctx context.Context, h uint64, subs []SubEntry, dedup *DedupSet) bool {
	txs, err := p.adapter.TxsAt(ctx, h)
	if err != nil {
		p.log.Errorf("%s: txsAt(%d) failed: %s", p.adapter.Name(), h, err.Error())
		return false
	}

	for i := range txs {
		tx := &txs[i]
		if tx.IsZeroValue() {
			continue
		}
		for _, d := range p.matcher.Match(tx, subs, dedup) {
			p.onDeliver(d)
		}
	}
	return true
}

// LastProcessedHeight reports the poller's current watermark, for tests
// and status introspection.
func (p *HeightPoller) LastProcessedHeight() uint64 {
	return atomic.LoadUint64(&p.lastProcessedHeight)
}
