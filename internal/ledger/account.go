package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset identifies the chain's native currency. Any other asset
// address is a token contract.
var NativeAsset = common.Address{}

// IsNative reports whether asset denotes the native currency.
func IsNative(asset common.Address) bool {
	return asset == NativeAsset
}

// AssetName renders an asset for paths and logs.
func AssetName(asset common.Address) string {
	if IsNative(asset) {
		return "native"
	}
	return "token:" + asset.Hex()
}

// ParseAsset accepts "native", an empty string or a hex token address.
func ParseAsset(s string) (common.Address, error) {
	switch s {
	case "", "native":
		return NativeAsset, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: asset %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// ParseAccount parses a non-zero hex account address.
func ParseAccount(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: account %q", ErrInvalidAddress, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero account", ErrInvalidAddress)
	}
	return addr, nil
}

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	// AccountScopeUser holds what the ledger owes an account holder.
	AccountScopeUser AccountScope = iota
	// AccountScopeCustody holds what the custodian keeps on the ledger's behalf.
	AccountScopeCustody
)

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope AccountScope
	Owner common.Address
	Asset common.Address
}

// NewUserAccountKey creates a key for a holder's balance of asset
func NewUserAccountKey(owner, asset common.Address) AccountKey {
	return AccountKey{Scope: AccountScopeUser, Owner: owner, Asset: asset}
}

// NewCustodyAccountKey creates the custody key of asset
func NewCustodyAccountKey(asset common.Address) AccountKey {
	return AccountKey{Scope: AccountScopeCustody, Asset: asset}
}

// IsUser reports whether the key is a holder balance.
func (k AccountKey) IsUser() bool {
	return k.Scope == AccountScopeUser
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s", k.Owner.Hex(), AssetName(k.Asset))
	case AccountScopeCustody:
		return fmt.Sprintf("custody:%s", AssetName(k.Asset))
	}
	return "unknown"
}

// debitIncreases reports the normal side of the account: custody is an asset
// of the ledger (debit-normal), user balances are liabilities (credit-normal).
func (k AccountKey) debitIncreases() bool {
	return k.Scope == AccountScopeCustody
}
