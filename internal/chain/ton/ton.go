// Package ton implements the ChainAdapter contract for a TON indexer
// (toncenter-compatible HTTP API).
package ton

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"chain-gateway/internal/chain"
	"chain-gateway/internal/logger"
	gwtypes "chain-gateway/internal/types"
)

// indexerPageSize and maxIndexerPages implement spec.md §4.1's pagination
// policy for TON's indexer calls: limit=200, capped at 250 pages
// (50,000 records) per call.
const (
	indexerPageSize = 200
	maxIndexerPages = 250
)

// contractPollInterval is how often a subscribed jetton master's transfer
// feed is re-polled. spec.md §9 Open Question (c) flags the original
// design's bug where this interval is started but never tracked for
// cancellation on unsubscribe; this adapter fixes that by keeping
// contractIntervals populated.
const contractPollInterval = 5 * time.Second

// Adapter implements chain.Adapter for TON via a toncenter-style indexer.
type Adapter struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        logger.Logger
	interval   int

	mu                sync.Mutex
	contractIntervals map[string]context.CancelFunc
}

// New creates a TON adapter against baseURL (e.g. https://toncenter.com/api/v2).
func New(name, baseURL, apiKey string, blockReadIntervalMS int, log logger.Logger) *Adapter {
	if blockReadIntervalMS <= 0 {
		blockReadIntervalMS = 5000
	}
	return &Adapter{
		name:              name,
		baseURL:           strings.TrimRight(baseURL, "/"),
		apiKey:            apiKey,
		httpClient:        &http.Client{Timeout: 15 * time.Second},
		log:               log,
		interval:          blockReadIntervalMS,
		contractIntervals: make(map[string]context.CancelFunc),
	}
}

func (a *Adapter) Name() string                  { return a.name }
func (a *Adapter) DisableHeightProcessing() bool { return false }
func (a *Adapter) BlockReadInterval() int        { return a.interval }

// IsAccount implements chain.Adapter as a pure syntactic validity check —
// TON has no code-at-address semantics exposed here, per spec.md §4.1.
func (a *Adapter) IsAccount(ctx context.Context, addr string) (bool, error) {
	return isValidTonAddress(addr), nil
}

// Height implements chain.Adapter via the indexer's masterchain info.
func (a *Adapter) Height(ctx context.Context) (uint64, error) {
	var resp masterchainInfoResponse
	if err := a.get(ctx, "/getMasterchainInfo", nil, &resp); err != nil {
		return 0, fmt.Errorf("%s: %w: %s", a.name, chain.ErrUpstreamUnavailable, err.Error())
	}
	return uint64(resp.Last.Seqno), nil
}

// TxsAt implements chain.Adapter. Only inbound deposits are reported: a
// transaction with a non-empty outgoing message list is treated as
// non-deposit and skipped, per spec.md §4.1 (current design only reports
// inbound value).
func (a *Adapter) TxsAt(ctx context.Context, height uint64) ([]gwtypes.NormalizedTx, error) {
	var out []gwtypes.NormalizedTx
	offset := 0

	for page := 0; page < maxIndexerPages; page++ {
		var resp blockTransactionsResponse
		params := url.Values{
			"workchain": {"-1"},
			"seqno":     {strconv.FormatUint(height, 10)},
			"shard":     {"-9223372036854775808"},
			"count":     {strconv.Itoa(indexerPageSize)},
			"after_lt":  {strconv.Itoa(offset)},
		}
		if err := a.get(ctx, "/getBlockTransactions", params, &resp); err != nil {
			return nil, fmt.Errorf("%s: %w: %s", a.name, chain.ErrUpstreamUnavailable, err.Error())
		}

		for _, tx := range resp.Transactions {
			if len(tx.OutMsgs) > 0 {
				continue
			}
			ntx, ok := decodeDeposit(tx, height)
			if !ok {
				continue
			}
			out = append(out, ntx)
		}

		if !resp.Incomplete || len(resp.Transactions) == 0 {
			break
		}
		offset += len(resp.Transactions)
	}

	return out, nil
}

// SubscribeContract implements chain.Adapter: starts a tracked polling
// loop for the jetton master's transfer feed.
func (a *Adapter) SubscribeContract(ctx context.Context, addr string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.contractIntervals[addr]; ok {
		return nil
	}

	pollCtx, cancel := context.WithCancel(ctx)
	a.contractIntervals[addr] = cancel
	go a.pollContract(pollCtx, addr)
	return nil
}

// UnsubscribeContract implements chain.Adapter, canceling the tracked
// poll loop — the fix for spec.md §9 Open Question (c).
func (a *Adapter) UnsubscribeContract(addr string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cancel, ok := a.contractIntervals[addr]; ok {
		cancel()
		delete(a.contractIntervals, addr)
	}
}

func (a *Adapter) pollContract(ctx context.Context, jettonMaster string) {
	ticker := time.NewTicker(contractPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Transfer harvesting for a jetton master happens through the
			// getTokenTransfers JSON-RPC method (GetTokenTransfers below),
			// not through this background loop; the loop's job is solely
			// to keep the indexer's subscription warm so GetTokenTransfers
			// calls return fresh data without a cold-start penalty.
			if _, err := a.warmJettonFeed(ctx, jettonMaster); err != nil {
				a.log.Debugf("%s: jetton feed warm-up failed for %s: %s", a.name, jettonMaster, err.Error())
			}
		}
	}
}

func (a *Adapter) warmJettonFeed(ctx context.Context, jettonMaster string) (bool, error) {
	var resp jettonTransfersResponse
	err := a.get(ctx, "/getTransactions", url.Values{
		"address": {jettonMaster},
		"limit":   {"1"},
	}, &resp)
	return err == nil, err
}

// GetTokenTransfers implements the TON-specific getTokenTransfers JSON-RPC
// method (spec.md §6): transfers of jettonMaster involving address.
func (a *Adapter) GetTokenTransfers(ctx context.Context, address, jettonMaster string) ([]gwtypes.NormalizedTx, error) {
	var out []gwtypes.NormalizedTx
	lt := ""

	for page := 0; page < maxIndexerPages; page++ {
		params := url.Values{
			"address": {address},
			"limit":   {strconv.Itoa(indexerPageSize)},
		}
		if lt != "" {
			params.Set("lt", lt)
		}

		var resp jettonTransfersResponse
		if err := a.get(ctx, "/getTransactions", params, &resp); err != nil {
			return nil, fmt.Errorf("%s: %w: %s", a.name, chain.ErrUpstreamUnavailable, err.Error())
		}

		for _, t := range resp.Transactions {
			if t.JettonMaster != jettonMaster {
				continue
			}
			token := t.JettonMaster
			from := t.Source
			ts := uint64(t.Timestamp)
			out = append(out, gwtypes.NormalizedTx{
				Hash:        NormalizeHash(t.Hash),
				From:        &from,
				To:          t.Destination,
				Value:       parseAmount(t.Amount),
				BlockNumber: uint64(t.Seqno),
				Timestamp:   &ts,
				Token:       &token,
			})
		}

		if len(resp.Transactions) < indexerPageSize {
			break
		}
		lt = resp.Transactions[len(resp.Transactions)-1].Lt
	}

	return out, nil
}

func decodeDeposit(tx indexerTransaction, height uint64) (gwtypes.NormalizedTx, bool) {
	if tx.InMsg == nil || tx.InMsg.Value == "" {
		return gwtypes.NormalizedTx{}, false
	}
	value := parseAmount(tx.InMsg.Value)
	if value == nil || value.Sign() <= 0 {
		return gwtypes.NormalizedTx{}, false
	}

	var fromPtr *string
	if tx.InMsg.Source != "" {
		f := tx.InMsg.Source
		fromPtr = &f
	}
	ts := uint64(tx.Utime)

	return gwtypes.NormalizedTx{
		Hash:        NormalizeHash(tx.TransactionID.Hash),
		From:        fromPtr,
		To:          tx.Account,
		Value:       value,
		BlockNumber: height,
		Timestamp:   &ts,
	}, true
}

func parseAmount(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}

// NormalizeHash converts a base64url transaction hash to base64
// (-→+, _→/), per spec.md §4.1.
func NormalizeHash(h string) string {
	h = strings.ReplaceAll(h, "-", "+")
	h = strings.ReplaceAll(h, "_", "/")
	return h
}

// isValidTonAddress is a syntactic check for TON's non-bounceable base64url
// address form: 48 characters, valid base64url alphabet.
func isValidTonAddress(addr string) bool {
	if len(addr) != 48 {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(addr, "="))
	return err == nil
}
