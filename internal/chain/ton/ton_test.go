package ton

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chain-gateway/internal/logger"
)

func TestNormalizeHash(t *testing.T) {
	got := NormalizeHash("ab-cd_ef")
	if want := "ab+cd/ef"; got != want {
		t.Fatalf("NormalizeHash = %q, want %q", got, want)
	}
}

func TestDecodeDepositSkipsZeroAndMissing(t *testing.T) {
	if _, ok := decodeDeposit(indexerTransaction{}, 1); ok {
		t.Fatalf("decodeDeposit accepted a transaction with no in_msg")
	}
	if _, ok := decodeDeposit(indexerTransaction{InMsg: &inMsg{Value: "0"}}, 1); ok {
		t.Fatalf("decodeDeposit accepted a zero-value in_msg")
	}

	tx := indexerTransaction{
		TransactionID: txID{Hash: "ab-cd_ef"},
		Account:       "EQAccount",
		Utime:         1234,
		InMsg:         &inMsg{Source: "EQSource", Value: "5000000000"},
	}
	ntx, ok := decodeDeposit(tx, 42)
	if !ok {
		t.Fatalf("decodeDeposit rejected a valid deposit")
	}
	if ntx.Hash != "ab+cd/ef" {
		t.Fatalf("Hash = %q, want normalized base64", ntx.Hash)
	}
	if ntx.From == nil || *ntx.From != "EQSource" {
		t.Fatalf("From = %v, want EQSource", ntx.From)
	}
	if ntx.Value.String() != "5000000000" {
		t.Fatalf("Value = %s, want 5000000000", ntx.Value.String())
	}
	if ntx.BlockNumber != 42 {
		t.Fatalf("BlockNumber = %d, want 42", ntx.BlockNumber)
	}
}

// TestTxsAtSkipsNonDepositTransactions is scenario S4: a transaction
// carrying a non-empty out_msgs list produces zero records, deposit-only.
func TestTxsAtSkipsNonDepositTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := blockTransactionsResponse{
			Transactions: []indexerTransaction{
				{
					TransactionID: txID{Hash: "aa"},
					Account:       "EQWithdrawal",
					InMsg:         &inMsg{Source: "EQx", Value: "1000"},
					OutMsgs:       []inMsg{{Source: "EQWithdrawal", Value: "1000"}},
				},
				{
					TransactionID: txID{Hash: "bb"},
					Account:       "EQDeposit",
					InMsg:         &inMsg{Source: "EQy", Value: "2000"},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	adapter := New("toncenter", srv.URL, "", 0, logger.New("test"))
	txs, err := adapter.TxsAt(context.Background(), 1)
	if err != nil {
		t.Fatalf("TxsAt: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("len(txs) = %d, want 1 (the withdrawal tx must be skipped)", len(txs))
	}
	if txs[0].To != "EQDeposit" {
		t.Fatalf("surviving tx.To = %q, want EQDeposit", txs[0].To)
	}
}

// TestUnsubscribeContractCancelsPoll verifies the Open Question (c) fix:
// unsubscribing actually removes the tracked interval so it can be
// re-subscribed (and, in the real adapter, stops the background goroutine).
func TestUnsubscribeContractCancelsPoll(t *testing.T) {
	adapter := New("toncenter", "http://unused.invalid", "", 0, logger.New("test"))

	if err := adapter.SubscribeContract(context.Background(), "EQJetton"); err != nil {
		t.Fatalf("SubscribeContract: %v", err)
	}
	adapter.mu.Lock()
	_, tracked := adapter.contractIntervals["EQJetton"]
	adapter.mu.Unlock()
	if !tracked {
		t.Fatalf("SubscribeContract did not record a tracked interval")
	}

	adapter.UnsubscribeContract("EQJetton")
	adapter.mu.Lock()
	_, stillTracked := adapter.contractIntervals["EQJetton"]
	adapter.mu.Unlock()
	if stillTracked {
		t.Fatalf("UnsubscribeContract left the interval tracked")
	}
}
