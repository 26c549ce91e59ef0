package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	gwtypes "chain-gateway/internal/types"
)

// aggregatorPollInterval is how often WatchAggregator re-polls the external
// GraphQL aggregator for new signatures. It equals the adapter's default
// BlockReadInterval and is fixed: a configured block_read_interval_ms does
// not change it.
const aggregatorPollInterval = 1 * time.Second

type aggregatorQuery struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type aggregatorTxNode struct {
	Slot      uint64 `json:"slot"`
	Signature string `json:"signature"`
}

type aggregatorResponse struct {
	Data struct {
		Transactions []aggregatorTxNode `json:"transactions"`
	} `json:"data"`
}

// WatchAggregator polls the external GraphQL aggregator for newly confirmed
// signatures and, for each, fetches and normalizes the full transaction,
// invoking onTx for every resulting record. This is the live-event path
// HeightPoller's generic height loop is disabled in favor of (spec.md
// §4.3 step 1): the aggregator, not slot iteration, drives discovery.
func (a *Adapter) WatchAggregator(ctx context.Context, onTx func(gwtypes.NormalizedTx)) error {
	if a.aggURL == "" {
		return fmt.Errorf("%s: no aggregator URL configured", a.name)
	}

	ticker := time.NewTicker(aggregatorPollInterval)
	defer ticker.Stop()

	var lastSeen string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			nodes, err := a.pollAggregator(ctx, lastSeen)
			if err != nil {
				a.log.Warningf("%s: aggregator poll failed: %s", a.name, err.Error())
				continue
			}
			for _, n := range nodes {
				lastSeen = n.Signature
				a.emitForSignature(ctx, n, onTx)
			}
		}
	}
}

func (a *Adapter) emitForSignature(ctx context.Context, n aggregatorTxNode, onTx func(gwtypes.NormalizedTx)) {
	sig, err := solanago.SignatureFromBase58(n.Signature)
	if err != nil {
		a.log.Warningf("%s: aggregator returned malformed signature %q", a.name, n.Signature)
		return
	}

	maxVersion := uint64(0)
	result, err := a.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solanago.EncodingBase64,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil || result == nil || result.Meta == nil {
		a.log.Warningf("%s: transaction lookup failed for %s", a.name, n.Signature)
		return
	}

	txWithMeta := rpc.TransactionWithMeta{
		Meta:        result.Meta,
		Transaction: result.Transaction,
	}
	for _, ntx := range NormalizeTransaction(txWithMeta, n.Slot) {
		onTx(ntx)
	}
}

func (a *Adapter) pollAggregator(ctx context.Context, after string) ([]aggregatorTxNode, error) {
	body := aggregatorQuery{
		Query: `query($programs: [String!]!, $after: String) {
			transactions(programs: $programs, after: $after) { slot signature }
		}`,
		Variables: map[string]interface{}{
			"programs": a.watchedContracts(),
			"after":    after,
		},
	}

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.aggURL, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator returned status %d", resp.StatusCode)
	}

	var out aggregatorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Data.Transactions, nil
}

func (a *Adapter) watchedContracts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.contracts))
	for c := range a.contracts {
		out = append(out, c)
	}
	return out
}
