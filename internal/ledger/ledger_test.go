package ledger_test

import (
	"ExchangeLedger/internal/ledger"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	token = common.HexToAddress("0x00000000000000000000000000000000000070c0")
)

func deposit(t *testing.T, bt *ledger.BalanceTracker, owner, asset common.Address, amount uint64) {
	t.Helper()
	gen := ledger.NewJournalGenerator(bt)
	batch, err := gen.GenerateDeposit(owner, asset, uint256.NewInt(amount), "test", 0)
	require.NoError(t, err)
	require.NoError(t, bt.ApplyBatch(batch))
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	key := ledger.NewUserAccountKey(alice, ledger.NativeAsset)
	assert.Equal(t, "user:"+alice.Hex()+":native", key.AccountPath())

	key = ledger.NewUserAccountKey(alice, token)
	assert.Equal(t, "user:"+alice.Hex()+":token:"+token.Hex(), key.AccountPath())
}

func TestAccountKey_CustodyPath(t *testing.T) {
	assert.Equal(t, "custody:native", ledger.NewCustodyAccountKey(ledger.NativeAsset).AccountPath())
}

func TestParseAsset(t *testing.T) {
	asset, err := ledger.ParseAsset("native")
	require.NoError(t, err)
	assert.True(t, ledger.IsNative(asset))

	asset, err = ledger.ParseAsset(token.Hex())
	require.NoError(t, err)
	assert.Equal(t, token, asset)

	_, err = ledger.ParseAsset("0x1234")
	assert.ErrorIs(t, err, ledger.ErrInvalidAddress)
}

func TestParseAccount_RejectsZero(t *testing.T) {
	_, err := ledger.ParseAccount(common.Address{}.Hex())
	assert.ErrorIs(t, err, ledger.ErrInvalidAddress)

	addr, err := ledger.ParseAccount(alice.Hex())
	require.NoError(t, err)
	assert.Equal(t, alice, addr)
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assert.True(t, bt.UserBalance(alice, ledger.NativeAsset).IsZero())
}

func TestBalanceTracker_DepositCreditsHolderAndCustody(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	deposit(t, bt, alice, token, 100)

	assert.Equal(t, uint64(100), bt.UserBalance(alice, token).Uint64())
	assert.Equal(t, uint64(100), bt.CustodyBalance(token).Uint64())
	assert.True(t, bt.UserBalance(alice, ledger.NativeAsset).IsZero())
}

func TestBalanceTracker_WithdrawalInsufficient(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	deposit(t, bt, alice, ledger.NativeAsset, 10)

	gen := ledger.NewJournalGenerator(bt)
	_, err := gen.GenerateWithdrawal(alice, ledger.NativeAsset, uint256.NewInt(11), ledger.JournalTypeWithdrawal, "w", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrInsufficientBalance))
	assert.Equal(t, uint64(10), bt.UserBalance(alice, ledger.NativeAsset).Uint64())
}

func TestBalanceTracker_ApplyBatchAllOrNothing(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	deposit(t, bt, alice, ledger.NativeAsset, 50)

	gen := ledger.NewJournalGenerator(bt)
	first, err := gen.GenerateWithdrawal(alice, ledger.NativeAsset, uint256.NewInt(30), ledger.JournalTypeWithdrawal, "a", 0)
	require.NoError(t, err)
	second, err := gen.GenerateWithdrawal(alice, ledger.NativeAsset, uint256.NewInt(30), ledger.JournalTypeWithdrawal, "b", 0)
	require.NoError(t, err)
	first.Merge(second)

	err = bt.ApplyBatch(first)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, uint64(50), bt.UserBalance(alice, ledger.NativeAsset).Uint64())
	assert.Equal(t, uint64(50), bt.CustodyBalance(ledger.NativeAsset).Uint64())
}

func TestBalanceTracker_ForkIsolatedUntilMerge(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	deposit(t, bt, alice, ledger.NativeAsset, 100)

	fork := bt.Fork()
	deposit(t, fork, bob, ledger.NativeAsset, 5)
	gen := ledger.NewJournalGenerator(fork)
	w, err := gen.GenerateWithdrawal(alice, ledger.NativeAsset, uint256.NewInt(100), ledger.JournalTypeWithdrawal, "w", 0)
	require.NoError(t, err)
	require.NoError(t, fork.ApplyBatch(w))

	// parent unchanged
	assert.Equal(t, uint64(100), bt.UserBalance(alice, ledger.NativeAsset).Uint64())
	assert.True(t, bt.UserBalance(bob, ledger.NativeAsset).IsZero())
	// fork sees its own writes
	assert.True(t, fork.UserBalance(alice, ledger.NativeAsset).IsZero())
	assert.Equal(t, uint64(5), fork.UserBalance(bob, ledger.NativeAsset).Uint64())

	fork.Merge()
	assert.True(t, bt.UserBalance(alice, ledger.NativeAsset).IsZero())
	assert.Equal(t, uint64(5), bt.UserBalance(bob, ledger.NativeAsset).Uint64())

	snap := bt.Snapshot()
	_, hasAlice := snap[ledger.NewUserAccountKey(alice, ledger.NativeAsset)]
	assert.False(t, hasAlice, "zero balances are dropped on merge")
}

func TestBalanceTracker_Overflow(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	max := new(uint256.Int).SetAllOne()
	gen := ledger.NewJournalGenerator(bt)

	b, err := gen.GenerateDeposit(alice, ledger.NativeAsset, max, "max", 0)
	require.NoError(t, err)
	require.NoError(t, bt.ApplyBatch(b))

	b, err = gen.GenerateDeposit(bob, ledger.NativeAsset, uint256.NewInt(1), "one", 0)
	require.NoError(t, err)
	assert.ErrorIs(t, bt.ApplyBatch(b), ledger.ErrBalanceOverflow)
	assert.True(t, bt.UserBalance(bob, ledger.NativeAsset).IsZero())
}

func TestBalanceTracker_RestoreRoundTrip(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	deposit(t, bt, alice, token, 7)
	deposit(t, bt, bob, ledger.NativeAsset, 9)

	restored := ledger.NewBalanceTracker()
	restored.Restore(bt.Snapshot())
	assert.Equal(t, bt.Snapshot(), restored.Snapshot())
}

// ============================================================================
// Test: Batch
// ============================================================================

func TestBatch_ValidateRejectsZeroAmount(t *testing.T) {
	gen := ledger.NewJournalGenerator(ledger.NewBalanceTracker())
	_, err := gen.GenerateDeposit(alice, ledger.NativeAsset, uint256.NewInt(0), "z", 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	b := &ledger.Batch{}
	assert.Error(t, b.Validate())
}

func TestBatch_StampAndAffectedAccounts(t *testing.T) {
	gen := ledger.NewJournalGenerator(ledger.NewBalanceTracker())
	b, err := gen.GenerateDeposit(alice, token, uint256.NewInt(1), "d", 0)
	require.NoError(t, err)
	b.Stamp(42)

	assert.Equal(t, int64(42), b.Sequence)
	assert.Equal(t, int64(42), b.Journals[0].Sequence)
	assert.ElementsMatch(t, []ledger.AccountKey{
		ledger.NewCustodyAccountKey(token),
		ledger.NewUserAccountKey(alice, token),
	}, b.AffectedAccounts())
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_Conservation(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	deposit(t, bt, alice, token, 40)
	deposit(t, bt, bob, token, 60)

	v := ledger.NewInvariantValidator(bt)
	require.NoError(t, v.ValidateConservation())

	require.NoError(t, v.ValidateHoldings(map[common.Address]*uint256.Int{token: uint256.NewInt(100)}))
	assert.Error(t, v.ValidateHoldings(map[common.Address]*uint256.Int{token: uint256.NewInt(99)}))
}

func TestInvariantValidator_DetectsDrift(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	snap := map[ledger.AccountKey]*uint256.Int{
		ledger.NewUserAccountKey(alice, token): uint256.NewInt(5),
		ledger.NewCustodyAccountKey(token):     uint256.NewInt(4),
	}
	bt.Restore(snap)
	assert.Error(t, ledger.NewInvariantValidator(bt).ValidateConservation())
}

// ============================================================================
// Test: Reason
// ============================================================================

func TestReason(t *testing.T) {
	err := errors.Join(errors.New("ctx"), ledger.ErrInvalidNonce)
	assert.Equal(t, "InvalidNonce", ledger.Reason(err))
	assert.Equal(t, ledger.ReasonInternal, ledger.Reason(errors.New("boom")))
	assert.Equal(t, "", ledger.Reason(nil))
	assert.True(t, ledger.IsRejection(ledger.ErrUnauthorized))
	assert.False(t, ledger.IsRejection(ledger.ErrExternalTransferFailed))
}
