package solana

import (
	"math/big"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	gwtypes "chain-gateway/internal/types"
)

// NormalizeTransaction turns one block transaction into zero or more
// NormalizedTx records, per spec.md §4.1's Solana rules: rejected outright
// when meta.err is set (meta.status is not consulted), native transfers from
// postBalances-preBalances diffs, and SPL transfers from paired
// pre/postTokenBalances. transferChecked instructions are not harvested
// from the instruction list; such transfers surface only through the token
// balance diffs.
func NormalizeTransaction(txWithMeta rpc.TransactionWithMeta, slot uint64) []gwtypes.NormalizedTx {
	if txWithMeta.Meta == nil {
		return nil
	}
	if txWithMeta.Meta.Err != nil {
		return nil
	}

	tx, err := txWithMeta.GetTransaction()
	if err != nil || tx == nil {
		return nil
	}

	var out []gwtypes.NormalizedTx
	out = append(out, nativeTransfers(tx, txWithMeta.Meta, slot)...)
	out = append(out, tokenTransfers(tx, txWithMeta.Meta, slot)...)
	return out
}

// nativeTransfers derives lamport transfers from the balance diff, per
// account index. from is left nil since the source cannot be recovered
// from a balance diff alone (spec.md §4.1).
func nativeTransfers(tx *solanago.Transaction, meta *rpc.TransactionMeta, slot uint64) []gwtypes.NormalizedTx {
	var out []gwtypes.NormalizedTx
	accounts := tx.Message.AccountKeys

	n := len(meta.PreBalances)
	if len(meta.PostBalances) < n {
		n = len(meta.PostBalances)
	}
	if len(accounts) < n {
		n = len(accounts)
	}

	for i := 0; i < n; i++ {
		delta := bigFromUint64Diff(meta.PreBalances[i], meta.PostBalances[i])
		if delta.Sign() <= 0 {
			continue
		}
		out = append(out, gwtypes.NormalizedTx{
			Hash:          tx.Signatures[0].String(),
			From:          nil,
			To:            accounts[i].String(),
			Value:         delta,
			BlockNumber:   slot,
			HashKeyIsTxID: true,
		})
	}
	return out
}

// tokenTransfers pairs pre/postTokenBalances by accountIndex. A missing
// pre-balance is treated as zero only when the transaction also carries a
// createIdempotent/create associated-token-account instruction for that
// destination, per spec.md §4.1.
func tokenTransfers(tx *solanago.Transaction, meta *rpc.TransactionMeta, slot uint64) []gwtypes.NormalizedTx {
	hasCreateATA := instructionsCreateATA(tx)

	pre := make(map[uint16]rpc.TokenBalance)
	for _, tb := range meta.PreTokenBalances {
		pre[tb.AccountIndex] = tb
	}

	var out []gwtypes.NormalizedTx
	for _, post := range meta.PostTokenBalances {
		preBal, hasPre := pre[post.AccountIndex]

		var preAmount *big.Int
		if hasPre {
			preAmount = parseUiAmount(preBal.UiTokenAmount.Amount)
		} else if hasCreateATA {
			preAmount = big.NewInt(0)
		} else {
			continue
		}

		postAmount := parseUiAmount(post.UiTokenAmount.Amount)
		if preAmount == nil || postAmount == nil {
			continue
		}
		delta := new(big.Int).Sub(postAmount, preAmount)
		if delta.Sign() <= 0 {
			continue
		}

		if int(post.AccountIndex) >= len(tx.Message.AccountKeys) {
			continue
		}
		to := tx.Message.AccountKeys[post.AccountIndex].String()
		mint := post.Mint

		// From is left nil: post here is the receiving token account (the
		// one whose balance increased), so post.Owner names the recipient's
		// wallet, not the sender's — the same "source not recoverable from
		// a balance diff alone" limitation spec.md §4.1 states for native
		// transfers applies here.
		out = append(out, gwtypes.NormalizedTx{
			Hash:        tx.Signatures[0].String(),
			From:        nil,
			To:          to,
			Value:       delta,
			BlockNumber: slot,
			Token:       &mint,
		})
	}
	return out
}

func instructionsCreateATA(tx *solanago.Transaction) bool {
	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			continue
		}
		if !tx.Message.AccountKeys[ix.ProgramIDIndex].Equals(associatedTokenProgramID) {
			continue
		}
		// The associated-token-account program's Create/CreateIdempotent
		// instructions carry a single discriminator byte (0 or 1) in data
		// when any data is present; an empty instruction data payload is
		// also a valid Create call on some client encodings.
		if len(ix.Data) == 0 || ix.Data[0] == 0 || ix.Data[0] == 1 {
			return true
		}
	}
	return false
}

func parseUiAmount(raw string) *big.Int {
	if raw == "" {
		return big.NewInt(0)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil
	}
	return v
}
