package engine

import (
	"math/big"
	"strings"

	"chain-gateway/internal/types"
)

// Delivery is one match ready to be handed to a subscription's SendFunc.
type Delivery struct {
	CID     ConnID
	SendFn  SendFunc
	Payload types.SubscribeAccountPayload
}

// AssociatedAccountDeriver derives the chain-specific associated token
// account for (owner, tokenMint), used only by the Solana adapter to
// extend native-side matching per spec.md §4.4. Adapters that have no such
// concept leave this nil on the Matcher.
type AssociatedAccountDeriver func(owner, tokenMint string) (string, bool)

// Matcher is the pure function from (NormalizedTx, subscription snapshot)
// to a set of deliveries. It performs no I/O and never suspends.
type Matcher struct {
	// CaseInsensitive controls whether address comparisons lowercase both
	// sides first (true for EVM; false for Tron/TON/Solana, whose
	// canonical forms are already case-sensitive-correct on input).
	CaseInsensitive bool

	// DeriveAssociatedAccount is non-nil only for the Solana adapter.
	DeriveAssociatedAccount AssociatedAccountDeriver
}

// dedupKey identifies one (subscription, tx, addr, token) delivery for the
// at-most-once-per-cycle guarantee in spec.md §4.4/§8.
type dedupKey struct {
	cid   ConnID
	hash  string
	addr  string
	token string
}

// DedupSet tracks delivery keys already emitted within one poller cycle.
// A fresh DedupSet must be created per HeightPoller wake.
type DedupSet struct {
	seen map[dedupKey]struct{}
}

// NewDedupSet creates an empty per-cycle dedup tracker.
func NewDedupSet() *DedupSet {
	return &DedupSet{seen: make(map[dedupKey]struct{})}
}

func (d *DedupSet) mark(k dedupKey) bool {
	if _, ok := d.seen[k]; ok {
		return false
	}
	d.seen[k] = struct{}{}
	return true
}

func (m *Matcher) normalize(addr string) string {
	if m.CaseInsensitive {
		return strings.ToLower(addr)
	}
	return addr
}

// Match evaluates tx against every live subscription snapshot and returns
// every delivery that should fire, deduplicated against dedup within this
// cycle. tx with a zero value must be filtered out by the caller before
// Match is invoked (spec.md §3 invariant).
func (m *Matcher) Match(tx *types.NormalizedTx, subs []SubEntry, dedup *DedupSet) []Delivery {
	var deliveries []Delivery

	txFrom := ""
	hasFrom := tx.From != nil
	if hasFrom {
		txFrom = m.normalize(*tx.From)
	}
	txTo := m.normalize(tx.To)

	var txToken string
	isTokenTx := tx.IsTokenTransfer()
	if isTokenTx {
		txToken = m.normalize(*tx.Token)
	}

	for _, sub := range subs {
		for _, interest := range sub.Interests {
			subAddr := m.normalize(interest.Address)

			var tokenMatch string
			matched := false

			if !isTokenTx {
				if (hasFrom && txFrom == subAddr) || txTo == subAddr {
					matched = true
				}
				if !matched && m.DeriveAssociatedAccount != nil {
					// Solana native transfers never carry a token, so the
					// derived-ATA extension only applies when the caller's
					// interest itself names a token to watch the ATA for.
					for _, tok := range interest.Tokens {
						if derived, ok := m.DeriveAssociatedAccount(interest.Address, tok); ok {
							d := m.normalize(derived)
							if (hasFrom && txFrom == d) || txTo == d {
								matched = true
								break
							}
						}
					}
				}
			} else {
				if !containsToken(interest.Tokens, *tx.Token, m.CaseInsensitive) {
					continue
				}
				if (hasFrom && txFrom == subAddr) || txTo == subAddr {
					matched = true
					tokenMatch = txToken
				}
				if !matched && m.DeriveAssociatedAccount != nil {
					if derived, ok := m.DeriveAssociatedAccount(interest.Address, *tx.Token); ok {
						d := m.normalize(derived)
						if (hasFrom && txFrom == d) || txTo == d {
							matched = true
							tokenMatch = txToken
						}
					}
				}
			}

			if !matched {
				continue
			}

			key := dedupKey{cid: sub.CID, hash: tx.Hash, addr: subAddr, token: tokenMatch}
			if !dedup.mark(key) {
				continue
			}

			deliveries = append(deliveries, Delivery{
				CID:     sub.CID,
				SendFn:  sub.SendFn,
				Payload: buildPayload(tx, interest.Address, tx.Token),
			})
		}
	}

	return deliveries
}

func containsToken(tokens []string, token string, caseInsensitive bool) bool {
	for _, t := range tokens {
		if caseInsensitive {
			if strings.EqualFold(t, token) {
				return true
			}
		} else if t == token {
			return true
		}
	}
	return false
}

// buildPayload renders the wire payload for a matched transaction, per
// spec.md §4.4: hash key is "txid" for Tron/Solana-native, "hash"
// otherwise, and value is always a decimal string.
func buildPayload(tx *types.NormalizedTx, addr string, token *string) types.SubscribeAccountPayload {
	etx := types.EventTx{
		Height: tx.BlockNumber,
		From:   tx.From,
		To:     tx.To,
		Value:  bigString(tx.Value),
		Symbol: tx.Symbol,
	}
	if tx.HashKeyIsTxID {
		etx.TxID = tx.Hash
	} else {
		etx.Hash = tx.Hash
	}
	if tx.Fee != nil {
		fee := bigString(tx.Fee)
		etx.Fee = &fee
	}
	etx.Receipt = tx.Receipt

	return types.SubscribeAccountPayload{
		Event: string(EventSubscribeAccount),
		Addr:  addr,
		Token: token,
		Tx:    etx,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
