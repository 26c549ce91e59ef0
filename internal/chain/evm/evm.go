// Package evm implements the ChainAdapter contract for EVM-family chains.
// One Adapter instance serves either the local hardhat node or a remote
// provider (ankr) — they differ only in the RPC endpoint configured, so
// both backends in cmd/gateway construct the same Adapter type.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"chain-gateway/internal/chain"
	"chain-gateway/internal/logger"
	gwtypes "chain-gateway/internal/types"
)

// transferEventSig is keccak256("Transfer(address,address,uint256)"), the
// ERC20 token-transfer log topic spec.md §4.1 names.
var transferEventSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Adapter implements chain.Adapter for an EVM-compatible node, reached
// either directly (hardhat) or through a third-party provider (ankr).
type Adapter struct {
	name     string
	client   *ethclient.Client
	log      logger.Logger
	interval int

	mu        sync.Mutex
	contracts map[string]struct{}
}

// Dial connects to an EVM JSON-RPC endpoint and returns a ready Adapter.
func Dial(ctx context.Context, name, rpcURL string, blockReadIntervalMS int, log logger.Logger) (*Adapter, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%s: can not dial %s: %w", name, rpcURL, err)
	}
	return &Adapter{
		name:      name,
		client:    client,
		log:       log,
		interval:  blockReadIntervalMS,
		contracts: make(map[string]struct{}),
	}, nil
}

// Name implements chain.Adapter.
func (a *Adapter) Name() string { return a.name }

// DisableHeightProcessing implements chain.Adapter; EVM chains are always
// height-polled.
func (a *Adapter) DisableHeightProcessing() bool { return false }

// BlockReadInterval implements chain.Adapter.
func (a *Adapter) BlockReadInterval() int { return a.interval }

// Height implements chain.Adapter.
func (a *Adapter) Height(ctx context.Context) (uint64, error) {
	h, err := a.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %s", a.name, chain.ErrUpstreamUnavailable, err.Error())
	}
	return h, nil
}

// SubscribeContract implements chain.Adapter: it records addr as a log
// filter target for future TxsAt calls. Idempotent.
func (a *Adapter) SubscribeContract(ctx context.Context, addr string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.contracts[Normalize(addr)] = struct{}{}
	return nil
}

// UnsubscribeContract implements chain.Adapter.
func (a *Adapter) UnsubscribeContract(addr string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.contracts, Normalize(addr))
}

func (a *Adapter) subscribedAddrs() []common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]common.Address, 0, len(a.contracts))
	for addr := range a.contracts {
		out = append(out, common.HexToAddress(addr))
	}
	return out
}

// IsAccount implements chain.Adapter: true for an address with no deployed
// bytecode.
func (a *Adapter) IsAccount(ctx context.Context, addr string) (bool, error) {
	if !common.IsHexAddress(addr) {
		return false, fmt.Errorf("%s: not a valid EVM address: %s", a.name, addr)
	}
	code, err := a.client.CodeAt(ctx, common.HexToAddress(addr), nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w: %s", a.name, chain.ErrUpstreamUnavailable, err.Error())
	}
	return len(code) == 0, nil
}

// TxsAt implements chain.Adapter: native-value transfers come from the
// block's transaction list, token transfers come from Transfer(...) logs
// on every currently subscribed contract. A log that doesn't decode
// cleanly is skipped and logged; it never fails the whole call.
func (a *Adapter) TxsAt(ctx context.Context, height uint64) ([]gwtypes.NormalizedTx, error) {
	blockNum := new(big.Int).SetUint64(height)
	block, err := a.client.BlockByNumber(ctx, blockNum)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", a.name, chain.ErrUpstreamUnavailable, err.Error())
	}

	var out []gwtypes.NormalizedTx

	for _, tx := range block.Transactions() {
		if tx.To() == nil || tx.Value() == nil || tx.Value().Sign() <= 0 {
			continue
		}

		var fromPtr *string
		if sender, err := senderOf(tx); err == nil {
			f := Normalize(sender.Hex())
			fromPtr = &f
		} else {
			a.log.Debugf("%s: can not recover sender for tx %s: %s", a.name, tx.Hash().Hex(), err.Error())
		}

		out = append(out, gwtypes.NormalizedTx{
			Hash:        Normalize(tx.Hash().Hex()),
			From:        fromPtr,
			To:          Normalize(tx.To().Hex()),
			Value:       new(big.Int).Set(tx.Value()),
			BlockNumber: height,
			Timestamp:   uint64Ptr(block.Time()),
		})
	}

	contracts := a.subscribedAddrs()
	if len(contracts) == 0 {
		return out, nil
	}

	logs, err := a.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: blockNum,
		ToBlock:   blockNum,
		Addresses: contracts,
		Topics:    [][]common.Hash{{transferEventSig}},
	})
	if err != nil {
		a.log.Warningf("%s: log filter failed at height %d: %s", a.name, height, err.Error())
		return out, nil
	}

	for _, lg := range logs {
		tx, ok := decodeTransferLog(lg, height, block.Time())
		if !ok {
			a.log.Warningf("%s: malformed Transfer log at height %d, tx %s, skipped", a.name, height, lg.TxHash.Hex())
			continue
		}
		out = append(out, tx)
	}

	return out, nil
}

// decodeTransferLog decodes one Transfer(address,address,uint256) log
// entry into a NormalizedTx. It returns ok=false for a log that does not
// have exactly the expected topic/data shape.
func decodeTransferLog(lg types.Log, height uint64, blockTime uint64) (gwtypes.NormalizedTx, bool) {
	if len(lg.Topics) != 3 || lg.Topics[0] != transferEventSig {
		return gwtypes.NormalizedTx{}, false
	}
	if len(lg.Data) < 32 {
		return gwtypes.NormalizedTx{}, false
	}

	from := Normalize(common.HexToAddress(lg.Topics[1].Hex()).Hex())
	to := Normalize(common.HexToAddress(lg.Topics[2].Hex()).Hex())
	value := new(big.Int).SetBytes(lg.Data[len(lg.Data)-32:])
	token := Normalize(lg.Address.Hex())

	return gwtypes.NormalizedTx{
		Hash:        Normalize(lg.TxHash.Hex()),
		From:        &from,
		To:          to,
		Value:       value,
		BlockNumber: height,
		Timestamp:   uint64Ptr(blockTime),
		Token:       &token,
	}, true
}

func senderOf(tx *types.Transaction) (common.Address, error) {
	chainID := tx.ChainId()
	if chainID == nil || chainID.Sign() == 0 {
		return types.Sender(types.HomesteadSigner{}, tx)
	}
	return types.Sender(types.NewLondonSigner(chainID), tx)
}

func uint64Ptr(v uint64) *uint64 { return &v }

// Normalize lowercases an EVM address/hash, the canonical form spec.md §3
// requires. It does not add a 0x prefix: inputs from go-ethereum's Hex()
// already carry one, and other inputs keep whatever prefix they were given.
func Normalize(s string) string {
	return strings.ToLower(s)
}
