package custody

import (
	"ExchangeLedger/internal/ledger"
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

type walletKey struct {
	account common.Address
	asset   common.Address
}

// Memory is an in-process custodian: account wallets and the vault are
// balances in memory. The native asset is always supported; tokens must be
// listed.
type Memory struct {
	mu      sync.Mutex
	tokens  map[common.Address]bool
	frozen  map[common.Address]bool
	wallets map[walletKey]*uint256.Int
	vault   map[common.Address]*uint256.Int
	logger  zerolog.Logger
}

func NewMemory(tokens []common.Address, logger zerolog.Logger) *Memory {
	m := &Memory{
		tokens:  make(map[common.Address]bool, len(tokens)),
		frozen:  make(map[common.Address]bool),
		wallets: make(map[walletKey]*uint256.Int),
		vault:   make(map[common.Address]*uint256.Int),
		logger:  logger,
	}
	for _, t := range tokens {
		m.tokens[t] = true
	}
	return m
}

// Fund credits an external wallet, e.g. from a faucet or test fixture.
func (m *Memory) Fund(account, asset common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.supported(asset) {
		return fmt.Errorf("unsupported asset %s", ledger.AssetName(asset))
	}
	k := walletKey{account, asset}
	next, overflow := new(uint256.Int).AddOverflow(orZero(m.wallets[k]), amount)
	if overflow {
		return fmt.Errorf("wallet overflow for %s", account.Hex())
	}
	m.wallets[k] = next
	return nil
}

// WalletBalance returns the external wallet balance of account.
func (m *Memory) WalletBalance(account, asset common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return orZero(m.wallets[walletKey{account, asset}]).Clone()
}

// Freeze makes every transfer of asset fail until Unfreeze.
func (m *Memory) Freeze(asset common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen[asset] = true
}

func (m *Memory) Unfreeze(asset common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.frozen, asset)
}

func (m *Memory) supported(asset common.Address) bool {
	return ledger.IsNative(asset) || m.tokens[asset]
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

// Settle implements Custodian.
func (m *Memory) Settle(ctx context.Context, transfers []Transfer) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrExternalTransferFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	wallets := make(map[walletKey]*uint256.Int)
	vault := make(map[common.Address]*uint256.Int)
	wallet := func(k walletKey) *uint256.Int {
		if v, ok := wallets[k]; ok {
			return v
		}
		v := orZero(m.wallets[k]).Clone()
		wallets[k] = v
		return v
	}
	held := func(asset common.Address) *uint256.Int {
		if v, ok := vault[asset]; ok {
			return v
		}
		v := orZero(m.vault[asset]).Clone()
		vault[asset] = v
		return v
	}

	for i, t := range transfers {
		if !m.supported(t.Asset) {
			return fmt.Errorf("%w: transfer %d: unsupported asset %s", ledger.ErrExternalTransferFailed, i, ledger.AssetName(t.Asset))
		}
		if m.frozen[t.Asset] {
			return fmt.Errorf("%w: transfer %d: asset %s rejected the transfer", ledger.ErrExternalTransferFailed, i, ledger.AssetName(t.Asset))
		}
		from, to := wallet(walletKey{t.Account, t.Asset}), held(t.Asset)
		if t.Direction == Out {
			from, to = to, from
		}
		if from.Lt(t.Amount) {
			return fmt.Errorf("%w: transfer %d: %s: source holds %s", ledger.ErrExternalTransferFailed, i, t, from.Dec())
		}
		if _, overflow := new(uint256.Int).AddOverflow(to, t.Amount); overflow {
			return fmt.Errorf("%w: transfer %d: %s overflows destination", ledger.ErrExternalTransferFailed, i, t)
		}
		from.Sub(from, t.Amount)
		to.Add(to, t.Amount)
	}

	for k, v := range wallets {
		m.wallets[k] = v
	}
	for k, v := range vault {
		m.vault[k] = v
	}
	m.logger.Debug().Int("transfers", len(transfers)).Msg("custody settlement applied")
	return nil
}

// Holdings implements Custodian.
func (m *Memory) Holdings(ctx context.Context) (map[common.Address]*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[common.Address]*uint256.Int, len(m.vault))
	for asset, v := range m.vault {
		out[asset] = v.Clone()
	}
	return out, nil
}

// SetHoldings replaces the vault contents. The in-process custodian keeps no
// durable state, so a recovered ledger re-seeds it with what it owes.
func (m *Memory) SetHoldings(holdings map[common.Address]*uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vault = make(map[common.Address]*uint256.Int, len(holdings))
	for asset, v := range holdings {
		m.vault[asset] = v.Clone()
	}
}
