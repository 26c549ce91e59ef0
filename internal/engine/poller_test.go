package engine

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chain-gateway/internal/logger"
	"chain-gateway/internal/types"
)

// fakeAdapter is a minimal chain.Adapter test double. TxsAt calls are
// counted so idle-efficiency (spec.md §8 property: no TxsAt calls while
// zero subscribers are registered) can be asserted directly.
type fakeAdapter struct {
	mu         sync.Mutex
	height     uint64
	txsByBlock map[uint64][]types.NormalizedTx
	failAt     map[uint64]int // remaining failures before success, per height

	txsAtCalls int32
}

func newFakeAdapter(height uint64) *fakeAdapter {
	return &fakeAdapter{height: height, txsByBlock: map[uint64][]types.NormalizedTx{}, failAt: map[uint64]int{}}
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Height(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *fakeAdapter) setHeight(h uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = h
}

func (f *fakeAdapter) TxsAt(ctx context.Context, height uint64) ([]types.NormalizedTx, error) {
	atomic.AddInt32(&f.txsAtCalls, 1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if remaining, ok := f.failAt[height]; ok && remaining > 0 {
		f.failAt[height] = remaining - 1
		return nil, errTransient
	}
	return f.txsByBlock[height], nil
}

func (f *fakeAdapter) SubscribeContract(ctx context.Context, addr string) error { return nil }
func (f *fakeAdapter) UnsubscribeContract(addr string)                         {}
func (f *fakeAdapter) IsAccount(ctx context.Context, addr string) (bool, error) { return true, nil }
func (f *fakeAdapter) DisableHeightProcessing() bool                            { return false }
func (f *fakeAdapter) BlockReadInterval() int                                   { return 10 }

var errTransient = &transientErr{}

type transientErr struct{}

func (e *transientErr) Error() string { return "transient upstream failure" }

func TestPollerIdleSkipsTxsAt(t *testing.T) {
	adapter := newFakeAdapter(100)
	table := NewSubscriptionTable()
	matcher := &Matcher{}
	poller := NewHeightPoller(adapter, table, matcher, logger.New("test"), func(Delivery) {})

	poller.lastProcessedHeight = 100
	adapter.setHeight(105)

	poller.tick(context.Background())

	if calls := atomic.LoadInt32(&adapter.txsAtCalls); calls != 0 {
		t.Fatalf("TxsAt called %d times with zero subscribers, want 0", calls)
	}
	if poller.LastProcessedHeight() != 105 {
		t.Fatalf("LastProcessedHeight = %d, want 105 (height still tracked while idle)", poller.LastProcessedHeight())
	}
}

func TestPollerAdvancesMonotonicallyWithSubscribers(t *testing.T) {
	addr := "0xsubscribed"
	tx := types.NormalizedTx{Hash: "0x1", To: addr, Value: big.NewInt(1), BlockNumber: 101}
	adapter := newFakeAdapter(100)
	adapter.txsByBlock[101] = []types.NormalizedTx{tx}

	table := NewSubscriptionTable()
	if err := table.AddSub("cid", EventSubscribeAccount, noopSend, noopErr, []Interest{{Address: addr}}); err != nil {
		t.Fatalf("AddSub: %v", err)
	}

	var delivered []Delivery
	var dmu sync.Mutex
	matcher := &Matcher{}
	poller := NewHeightPoller(adapter, table, matcher, logger.New("test"), func(d Delivery) {
		dmu.Lock()
		defer dmu.Unlock()
		delivered = append(delivered, d)
	})
	poller.lastProcessedHeight = 100
	adapter.setHeight(103)

	poller.tick(context.Background())

	if poller.LastProcessedHeight() != 103 {
		t.Fatalf("LastProcessedHeight = %d, want 103", poller.LastProcessedHeight())
	}
	dmu.Lock()
	defer dmu.Unlock()
	if len(delivered) != 1 {
		t.Fatalf("delivered %d events, want 1", len(delivered))
	}
}

// TestPollerSkipAndAdvanceWithRetry exercises the Open Question (a)
// resolution: a height that fails once is retried exactly once on the next
// wake before the poller gives up and advances past it.
func TestPollerSkipAndAdvanceWithRetry(t *testing.T) {
	addr := "0xsubscribed"
	adapter := newFakeAdapter(100)
	adapter.failAt[101] = 1 // fails the first TxsAt(101), succeeds the second
	adapter.txsByBlock[101] = []types.NormalizedTx{{Hash: "0x1", To: addr, Value: big.NewInt(1), BlockNumber: 101}}

	table := NewSubscriptionTable()
	if err := table.AddSub("cid", EventSubscribeAccount, noopSend, noopErr, []Interest{{Address: addr}}); err != nil {
		t.Fatalf("AddSub: %v", err)
	}

	var deliveredCount int32
	matcher := &Matcher{}
	poller := NewHeightPoller(adapter, table, matcher, logger.New("test"), func(Delivery) {
		atomic.AddInt32(&deliveredCount, 1)
	})
	poller.lastProcessedHeight = 100
	adapter.setHeight(101)

	// First wake: height 101 fails, poller does not advance past it and
	// records a retry height instead of dropping the height permanently.
	poller.tick(context.Background())
	if poller.LastProcessedHeight() != 100 {
		t.Fatalf("LastProcessedHeight after failed height = %d, want unchanged 100", poller.LastProcessedHeight())
	}
	if poller.retryHeight == nil || *poller.retryHeight != 101 {
		t.Fatalf("retryHeight = %v, want pointer to 101", poller.retryHeight)
	}

	// Second wake: the retry succeeds and the watermark advances.
	poller.tick(context.Background())
	if poller.LastProcessedHeight() != 101 {
		t.Fatalf("LastProcessedHeight after retry = %d, want 101", poller.LastProcessedHeight())
	}
	if atomic.LoadInt32(&deliveredCount) != 1 {
		t.Fatalf("delivered %d events across both wakes, want 1 (no double-delivery from the retry)", deliveredCount)
	}
}

func TestPollerRunReturnsImmediatelyWhenHeightProcessingDisabled(t *testing.T) {
	adapter := newFakeAdapter(1)
	adapter2 := &disabledAdapter{fakeAdapter: adapter}
	table := NewSubscriptionTable()
	matcher := &Matcher{}
	poller := NewHeightPoller(adapter2, table, matcher, logger.New("test"), func(Delivery) {})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run() did not return immediately for a height-processing-disabled adapter")
	}
}

type disabledAdapter struct {
	*fakeAdapter
}

func (d *disabledAdapter) DisableHeightProcessing() bool { return true }
