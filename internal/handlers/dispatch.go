package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"chain-gateway/internal/repository"
)

// dispatch resolves one registered method against facade. The method enum
// is fixed per spec.md §6: ping, status, getTransactionsByAddress, and (TON
// only) getTokenTransfers, which Facade routes to the TON adapter's own
// jetton transfer history call.
func dispatch(ctx context.Context, facade *repository.Facade, method string, params []interface{}) (interface{}, error) {
	switch method {
	case "ping":
		return []string{"pong"}, nil

	case "status":
		return facade.Status(ctx)

	case "getTransactionsByAddress":
		req, err := parseTxQuery(params)
		if err != nil {
			return nil, err
		}
		return facade.GetTransactionsByAddress(ctx, req.Address, req.FromBlock, req.ToBlock, req.TokenAddress, req.PageSize)

	case "getTokenTransfers":
		req, err := parseTokenTransfersQuery(params)
		if err != nil {
			return nil, err
		}
		return facade.GetTokenTransfers(ctx, req.Address, req.JettonMaster)

	default:
		return nil, errMethodNotFound
	}
}

// errMethodNotFound is the sentinel dispatch returns for an unregistered
// method, letting the HTTP handler pick the numeric-code error envelope
// spec.md §6 reserves for this one case.
var errMethodNotFound = fmt.Errorf("Method not found")

// txQueryParams is the single positional object getTransactionsByAddress
// accepts, per spec.md §6.
type txQueryParams struct {
	Address      string  `json:"address"`
	FromBlock    *uint64 `json:"fromBlock"`
	ToBlock      *uint64 `json:"toBlock"`
	PageSize     int     `json:"pageSize"`
	TokenAddress *string `json:"token_address"`
}

func parseTxQuery(params []interface{}) (*txQueryParams, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("getTransactionsByAddress expects exactly one object parameter")
	}
	var req txQueryParams
	if err := reencode(params[0], &req); err != nil {
		return nil, err
	}
	if req.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	return &req, nil
}

type tokenTransfersParams struct {
	Address      string `json:"address"`
	JettonMaster string `json:"jettonMaster"`
}

func parseTokenTransfersQuery(params []interface{}) (*tokenTransfersParams, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("getTokenTransfers expects exactly one object parameter")
	}
	var req tokenTransfersParams
	if err := reencode(params[0], &req); err != nil {
		return nil, err
	}
	if req.Address == "" || req.JettonMaster == "" {
		return nil, fmt.Errorf("address and jettonMaster are required")
	}
	return &req, nil
}

// reencode round-trips v (already a decoded interface{} from the outer
// JSON-RPC request) through JSON to populate dst, avoiding a bespoke
// map[string]interface{} walk for every positional object shape.
func reencode(v interface{}, dst interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
