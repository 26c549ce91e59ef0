// Package validator classifies addresses as accounts or contracts for the
// subscribe-path checks SubscriptionTable's invariants require, dispatching
// to whichever chain.Adapter backs the current backend.
package validator

import (
	"context"
	"fmt"

	"chain-gateway/internal/chain"
	"chain-gateway/internal/config"
	"chain-gateway/internal/logger"
)

// AddressValidator validates account/contract addresses for one backend,
// shaped after the teacher's ContractValidator: a thin struct wrapping the
// backing adapter, a logger, and the resolved config.
type AddressValidator struct {
	adapter chain.Adapter
	log     logger.Logger
	cfg     *config.Upstream
}

// NewAddressValidator creates a validator bound to adapter.
func NewAddressValidator(cfg *config.Upstream, adapter chain.Adapter, log logger.Logger) *AddressValidator {
	return &AddressValidator{
		adapter: adapter,
		log:     log,
		cfg:     cfg,
	}
}

// ValidateAccount implements spec.md §4.2's "invalid account fails with
// NotAnAccount" rule: the address must be syntactically valid and classify
// as a plain account (not a contract) on this adapter's chain.
func (v *AddressValidator) ValidateAccount(ctx context.Context, addr string) error {
	ok, err := v.adapter.IsAccount(ctx, addr)
	if err != nil {
		v.log.Errorf("%s: account validation failed for %s: %s", v.adapter.Name(), addr, err.Error())
		return err
	}
	if !ok {
		return fmt.Errorf("not an account: %s", addr)
	}
	return nil
}

// ValidateTokens implements the companion rule: "when any entry in tokens
// is actually an account (not a contract), the call fails with
// NotAContract" — the only place that distinction matters (spec.md §4.2).
// On the EVM backends (hardhat, ankr) a token is classified as a contract
// by the inverse of IsAccount; adapters with no code-at-address semantics
// accept any syntactically valid address as satisfying both checks,
// matching the teacher's light validation touch for non-EVM backends.
func (v *AddressValidator) ValidateTokens(ctx context.Context, tokens []string) error {
	codeAtAddress := v.adapter.Name() == "hardhat" || v.adapter.Name() == "ankr"
	for _, t := range tokens {
		isAccount, err := v.adapter.IsAccount(ctx, t)
		if err != nil {
			v.log.Errorf("%s: token validation failed for %s: %s", v.adapter.Name(), t, err.Error())
			return err
		}
		if !codeAtAddress {
			if !isAccount {
				return fmt.Errorf("not a valid token address: %s", t)
			}
			continue
		}
		if isAccount {
			return fmt.Errorf("not a contract: %s", t)
		}
	}
	return nil
}
