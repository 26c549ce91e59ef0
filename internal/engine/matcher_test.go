package engine

import (
	"math/big"
	"testing"

	"chain-gateway/internal/types"
)

func strp(s string) *string { return &s }

// TestMatchEVMNative is scenario S1: a native transfer into a subscribed
// address produces exactly one delivery with the decimal-string value.
func TestMatchEVMNative(t *testing.T) {
	m := &Matcher{CaseInsensitive: true}
	tx := &types.NormalizedTx{
		Hash:        "0xdeadbeef",
		From:        strp("0x0000000000000000000000000000000000000001"),
		To:          "0xf8200ce84c3151f64a79e723245544e1e58badec",
		Value:       new(big.Int).SetUint64(1_000_000_000_000_000_000),
		BlockNumber: 42,
	}
	subs := []SubEntry{{
		CID:       "A",
		SendFn:    noopSend,
		Interests: []Interest{{Address: "0xF8200cE84C3151F64A79e723245544e1E58baDec"}},
	}}

	deliveries := m.Match(tx, subs, NewDedupSet())
	if len(deliveries) != 1 {
		t.Fatalf("len(deliveries) = %d, want 1", len(deliveries))
	}
	d := deliveries[0]
	if d.Payload.Tx.Value != "1000000000000000000" {
		t.Fatalf("value = %q, want decimal string", d.Payload.Tx.Value)
	}
	if d.Payload.Addr != "0xF8200cE84C3151F64A79e723245544e1E58baDec" {
		t.Fatalf("addr = %q, want the subscribed (unnormalized) address", d.Payload.Addr)
	}
}

// TestMatchEVMToken is scenario S2: a token transfer matches only when the
// subscription names that token in its Tokens filter.
func TestMatchEVMToken(t *testing.T) {
	m := &Matcher{CaseInsensitive: true}
	token := "0xbF43558373B4ED1E024186F18f611c0e209d1cEC"
	tx := &types.NormalizedTx{
		Hash:        "0xabc123",
		From:        strp("0xa6EBD7CbdC447c7429a9cC7F78110373F0Aa0804"),
		To:          "0x000000000000000000000000000000deadbeef",
		Value:       big.NewInt(1),
		BlockNumber: 1000,
		Token:       &token,
	}
	subs := []SubEntry{{
		CID:    "B",
		SendFn: noopSend,
		Interests: []Interest{{
			Address: "0xa6EBD7CbdC447c7429a9cC7F78110373F0Aa0804",
			Tokens:  []string{"0xbF43558373B4ED1E024186F18f611c0e209d1cEC"},
		}},
	}}

	deliveries := m.Match(tx, subs, NewDedupSet())
	if len(deliveries) != 1 {
		t.Fatalf("len(deliveries) = %d, want 1", len(deliveries))
	}
	if got := *deliveries[0].Payload.Token; got != token {
		t.Fatalf("token = %q, want %q", got, token)
	}
	if deliveries[0].Payload.Tx.Height != 1000 {
		t.Fatalf("height = %d, want 1000", deliveries[0].Payload.Tx.Height)
	}
}

// TestMatchTronToken is scenario S3, using the fixture's literal values.
func TestMatchTronToken(t *testing.T) {
	m := &Matcher{CaseInsensitive: false}
	token := "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	fee := big.NewInt(13844850)
	tx := &types.NormalizedTx{
		Hash:          "14f76e000000000000000000000000000000000000000000000000000000dd10",
		From:          strp("TXFBqBbqJ8HnnGNuGw6QnGKvxiVF4X5vWH"),
		To:            "TSSZG8wWojpog8mBJ2Sunm5r6bDn1PM5KJ",
		Value:         big.NewInt(5000000),
		BlockNumber:   65475881,
		Token:         &token,
		Fee:           fee,
		HashKeyIsTxID: true,
	}
	subs := []SubEntry{{
		CID:    "C",
		SendFn: noopSend,
		Interests: []Interest{{
			Address: "TSSZG8wWojpog8mBJ2Sunm5r6bDn1PM5KJ",
			Tokens:  []string{"TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"},
		}},
	}}

	deliveries := m.Match(tx, subs, NewDedupSet())
	if len(deliveries) != 1 {
		t.Fatalf("len(deliveries) = %d, want 1", len(deliveries))
	}
	etx := deliveries[0].Payload.Tx
	if etx.TxID != tx.Hash || etx.Hash != "" {
		t.Fatalf("txid/hash placement wrong: txid=%q hash=%q", etx.TxID, etx.Hash)
	}
	if etx.Value != "5000000" {
		t.Fatalf("value = %q, want 5000000", etx.Value)
	}
	if etx.Fee == nil || *etx.Fee != "13844850" {
		t.Fatalf("fee = %v, want 13844850", etx.Fee)
	}
	if etx.Height != 65475881 {
		t.Fatalf("height = %d, want 65475881", etx.Height)
	}
}

// TestMatchSolanaNative is scenario S5: a balance-diff transfer with no
// recoverable sender still matches on the To side alone.
func TestMatchSolanaNative(t *testing.T) {
	m := &Matcher{CaseInsensitive: false}
	addr := "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	tx := &types.NormalizedTx{
		Hash:          "5sigBase58...",
		From:          nil,
		To:            addr,
		Value:         big.NewInt(5_000_000_000),
		BlockNumber:   1234,
		HashKeyIsTxID: true,
	}
	subs := []SubEntry{{CID: "D", SendFn: noopSend, Interests: []Interest{{Address: addr}}}}

	deliveries := m.Match(tx, subs, NewDedupSet())
	if len(deliveries) != 1 {
		t.Fatalf("len(deliveries) = %d, want 1", len(deliveries))
	}
	if deliveries[0].Payload.Tx.From != nil {
		t.Fatalf("from = %v, want absent", deliveries[0].Payload.Tx.From)
	}
	if deliveries[0].Payload.Tx.Value != "5000000000" {
		t.Fatalf("value = %q, want 5000000000", deliveries[0].Payload.Tx.Value)
	}
}

// TestMatchDedupAtMostOncePerCycle verifies spec.md §8 property 1: the same
// (cid, tx, addr, token) delivery never fires twice within one dedup set,
// even if two overlapping interests on the same connection would both
// match it.
func TestMatchDedupAtMostOncePerCycle(t *testing.T) {
	m := &Matcher{CaseInsensitive: true}
	tx := &types.NormalizedTx{
		Hash: "0xsame", From: strp("0xfrom"), To: "0xto",
		Value: big.NewInt(1), BlockNumber: 1,
	}
	subs := []SubEntry{{
		CID:    "E",
		SendFn: noopSend,
		Interests: []Interest{
			{Address: "0xto"},
			{Address: "0xto"}, // duplicate interest, same key space
		},
	}}

	dedup := NewDedupSet()
	deliveries := m.Match(tx, subs, dedup)
	if len(deliveries) != 1 {
		t.Fatalf("len(deliveries) = %d, want 1 (deduped)", len(deliveries))
	}

	// A second Match call against a fresh per-cycle DedupSet (a new poller
	// wake) must deliver again — dedup is scoped to one cycle only.
	deliveries2 := m.Match(tx, subs, NewDedupSet())
	if len(deliveries2) != 1 {
		t.Fatalf("second cycle len(deliveries) = %d, want 1", len(deliveries2))
	}
}

// TestMatchInterestIsolation verifies a tx touching one subscription's
// address never fires for an unrelated subscription.
func TestMatchInterestIsolation(t *testing.T) {
	m := &Matcher{CaseInsensitive: true}
	tx := &types.NormalizedTx{
		Hash: "0x1", From: strp("0xfrom"), To: "0xto",
		Value: big.NewInt(1), BlockNumber: 1,
	}
	subs := []SubEntry{
		{CID: "F", SendFn: noopSend, Interests: []Interest{{Address: "0xto"}}},
		{CID: "G", SendFn: noopSend, Interests: []Interest{{Address: "0xunrelated"}}},
	}

	deliveries := m.Match(tx, subs, NewDedupSet())
	if len(deliveries) != 1 {
		t.Fatalf("len(deliveries) = %d, want 1", len(deliveries))
	}
	if deliveries[0].CID != "F" {
		t.Fatalf("delivery went to %q, want F", deliveries[0].CID)
	}
}

// TestMatchSolanaDerivedAssociatedAccount exercises the Solana-only
// associated-token-account dual-match extension (spec.md §4.4): a token
// transfer to the derived ATA matches a subscription on the owner wallet
// even though the tx's To is the ATA, not the wallet itself.
func TestMatchSolanaDerivedAssociatedAccount(t *testing.T) {
	owner := "owner-wallet"
	mint := "mint-address"
	ata := "derived-ata"

	m := &Matcher{
		CaseInsensitive: false,
		DeriveAssociatedAccount: func(o, tk string) (string, bool) {
			if o == owner && tk == mint {
				return ata, true
			}
			return "", false
		},
	}
	tx := &types.NormalizedTx{
		Hash: "0x2", From: nil, To: ata,
		Value: big.NewInt(7), BlockNumber: 1, Token: &mint,
	}
	subs := []SubEntry{{
		CID:       "H",
		SendFn:    noopSend,
		Interests: []Interest{{Address: owner, Tokens: []string{mint}}},
	}}

	deliveries := m.Match(tx, subs, NewDedupSet())
	if len(deliveries) != 1 {
		t.Fatalf("len(deliveries) = %d, want 1 via derived ATA match", len(deliveries))
	}
	if deliveries[0].Payload.Addr != owner {
		t.Fatalf("payload addr = %q, want owner wallet %q", deliveries[0].Payload.Addr, owner)
	}
}
