package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultlab/portfolio-engine/internal/model"
	"github.com/vaultlab/portfolio-engine/internal/reconcile"
	"github.com/vaultlab/portfolio-engine/internal/store"
	"github.com/vaultlab/portfolio-engine/internal/topics"
)

const testUser = "0x1a9c8182c09f50c8318d769245bea52c32be35bc"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeReader is the on-chain read collaborator used by withdrawal tests.
type fakeReader struct {
	shares decimal.Decimal
	pps    decimal.Decimal
	err    error
	calls  int
}

func (f *fakeReader) VaultBalance(_ context.Context, _ *model.Vault, _ string) (decimal.Decimal, decimal.Decimal, error) {
	f.calls++
	if f.err != nil {
		return decimal.Zero, decimal.Zero, f.err
	}
	return f.shares, f.pps, nil
}

func newTestEnv(t *testing.T, reader *fakeReader) (*reconcile.Engine, *store.MemoryStore, *model.Vault) {
	t.Helper()
	ms := store.NewMemoryStore()
	vault := ms.SeedVault(&model.Vault{
		Chain:         "ethereum",
		Address:       "0x9d39a5de30e57443bff2a8307a4256c8797a3497",
		Strategy:      model.StrategyStablecoin,
		UnitDecimals:  6,
		ShareDecimals: 6,
		Active:        true,
		TVL:           decimal.Zero,
	})

	if reader == nil {
		reader = &fakeReader{shares: decimal.Zero, pps: d("1")}
	}
	eng := reconcile.NewEngine(ms, reader)
	eng.Clock = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return eng, ms, vault
}

func deposit(amount, shares string) *model.DecodedEvent {
	return &model.DecodedEvent{
		Amount:      d(amount),
		Shares:      d(shares),
		FromAddress: testUser,
	}
}

func mustApply(t *testing.T, eng *reconcile.Engine, vault *model.Vault, kind topics.EventKind, ev *model.DecodedEvent, tx string) {
	t.Helper()
	if err := eng.Apply(context.Background(), vault, kind, ev, tx); err != nil {
		t.Fatalf("apply %v (%s): %v", kind, tx, err)
	}
}

func activePosition(t *testing.T, ms *store.MemoryStore, vaultID int64) *model.Position {
	t.Helper()
	pos, err := ms.GetActivePosition(context.Background(), vaultID, testUser)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	return pos
}

func TestFirstDepositOpensPosition(t *testing.T) {
	eng, ms, vault := newTestEnv(t, nil)

	mustApply(t, eng, vault, topics.Deposit, deposit("20", "20"), "0xtx1")

	pos := activePosition(t, ms, vault.ID)
	if pos == nil {
		t.Fatal("no position created")
	}
	if !pos.TotalBalance.Equal(d("20")) {
		t.Errorf("totalBalance = %s, want 20", pos.TotalBalance)
	}
	if !pos.InitDeposit.Equal(d("20")) {
		t.Errorf("initDeposit = %s, want 20", pos.InitDeposit)
	}
	if pos.Status != model.StatusActive {
		t.Errorf("status = %s, want ACTIVE", pos.Status)
	}
	// No pps_history yet: entry price defaults to 1.
	if !pos.EntryPrice.Equal(d("1")) {
		t.Errorf("entryPrice = %s, want 1", pos.EntryPrice)
	}

	tvl, _ := ms.GetVaultTVL(context.Background(), vault.ID)
	if !tvl.Equal(d("20")) {
		t.Errorf("tvl = %s, want 20", tvl)
	}
}

func TestDepositRecomputesWeightedEntryPrice(t *testing.T) {
	eng, ms, vault := newTestEnv(t, nil)

	ms.SeedPricePerShare(model.PricePerSharePoint{
		VaultID: vault.ID, Price: d("1.0"), Timestamp: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	mustApply(t, eng, vault, topics.Deposit, deposit("20", "20"), "0xtx1")

	ms.SeedPricePerShare(model.PricePerSharePoint{
		VaultID: vault.ID, Price: d("1.05"), Timestamp: time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC),
	})
	mustApply(t, eng, vault, topics.Deposit, deposit("10.5", "10"), "0xtx2")

	pos := activePosition(t, ms, vault.ID)
	// (20·1.0 + 10·1.05) / 30 = 1.01666…
	if got := pos.EntryPrice.Round(4); !got.Equal(d("1.0167")) {
		t.Errorf("entryPrice = %s (rounded %s), want ≈ 1.0167", pos.EntryPrice, got)
	}
	if !pos.TotalShares.Equal(d("30")) {
		t.Errorf("totalShares = %s, want 30", pos.TotalShares)
	}
	if !pos.TotalBalance.Equal(d("30.5")) {
		t.Errorf("totalBalance = %s, want 30.5", pos.TotalBalance)
	}
}

func TestIdempotentApply(t *testing.T) {
	eng, ms, vault := newTestEnv(t, nil)
	ev := deposit("20", "20")

	mustApply(t, eng, vault, topics.Deposit, ev, "0xdup")
	mustApply(t, eng, vault, topics.Deposit, ev, "0xdup") // redelivery

	pos := activePosition(t, ms, vault.ID)
	if !pos.TotalBalance.Equal(d("20")) {
		t.Errorf("totalBalance = %s, want 20 (applied once)", pos.TotalBalance)
	}
	if !pos.TotalShares.Equal(d("20")) {
		t.Errorf("totalShares = %s, want 20 (applied once)", pos.TotalShares)
	}
	tvl, _ := ms.GetVaultTVL(context.Background(), vault.ID)
	if !tvl.Equal(d("20")) {
		t.Errorf("tvl = %s, want 20 (applied once)", tvl)
	}
}

func TestInitiateWithdrawFloorsInitDeposit(t *testing.T) {
	eng, ms, vault := newTestEnv(t, nil)
	mustApply(t, eng, vault, topics.Deposit, deposit("20", "20"), "0xtx1")

	// Withdraw more value than was ever deposited.
	mustApply(t, eng, vault, topics.InitiateWithdraw, deposit("50", "15"), "0xtx2")

	pos := activePosition(t, ms, vault.ID)
	if !pos.InitDeposit.Equal(decimal.Zero) {
		t.Errorf("initDeposit = %s, want 0 (floored)", pos.InitDeposit)
	}
	if !pos.PendingWithdrawal.Equal(d("15")) {
		t.Errorf("pendingWithdrawal = %s, want 15", pos.PendingWithdrawal)
	}
	if pos.InitiatedWithdrawalAt == nil {
		t.Error("initiatedWithdrawalAt not set")
	}

	// Earmarked funds are still locked: TVL unchanged.
	tvl, _ := ms.GetVaultTVL(context.Background(), vault.ID)
	if !tvl.Equal(d("20")) {
		t.Errorf("tvl = %s, want 20 (unchanged)", tvl)
	}
}

func TestInitiateWithdrawWithoutPositionIsSkipped(t *testing.T) {
	eng, ms, vault := newTestEnv(t, nil)

	mustApply(t, eng, vault, topics.InitiateWithdraw, deposit("10", "10"), "0xtx1")

	if pos := activePosition(t, ms, vault.ID); pos != nil {
		t.Error("position must not be created by a withdraw event")
	}
	tvl, _ := ms.GetVaultTVL(context.Background(), vault.ID)
	if !tvl.Equal(decimal.Zero) {
		t.Errorf("tvl = %s, want 0", tvl)
	}
}

func TestWithdrawnRecomputesFromLiveBalance(t *testing.T) {
	reader := &fakeReader{shares: d("5"), pps: d("1.1")}
	eng, ms, vault := newTestEnv(t, reader)

	mustApply(t, eng, vault, topics.Deposit, deposit("20", "20"), "0xtx1")
	mustApply(t, eng, vault, topics.InitiateWithdraw, deposit("15", "15"), "0xtx2")
	mustApply(t, eng, vault, topics.Withdrawn, deposit("15", "15"), "0xtx3")

	pos := activePosition(t, ms, vault.ID)
	if pos == nil {
		t.Fatal("position should remain active with a residual balance")
	}
	// Balance comes from the live read (5 × 1.1), not the event payload.
	if !pos.TotalBalance.Equal(d("5.5")) {
		t.Errorf("totalBalance = %s, want 5.5", pos.TotalBalance)
	}
	if !pos.PendingWithdrawal.Equal(decimal.Zero) {
		t.Errorf("pendingWithdrawal = %s, want 0", pos.PendingWithdrawal)
	}
	if pos.InitiatedWithdrawalAt != nil {
		t.Error("initiatedWithdrawalAt should be cleared")
	}

	// TVL decremented by the event's value.
	tvl, _ := ms.GetVaultTVL(context.Background(), vault.ID)
	if !tvl.Equal(d("5")) {
		t.Errorf("tvl = %s, want 5", tvl)
	}
}

func TestWithdrawnClosesEmptiedPosition(t *testing.T) {
	reader := &fakeReader{shares: decimal.Zero, pps: d("1")}
	eng, ms, vault := newTestEnv(t, reader)

	mustApply(t, eng, vault, topics.Deposit, deposit("20", "20"), "0xtx1")
	mustApply(t, eng, vault, topics.Withdrawn, deposit("20", "20"), "0xtx2")

	if pos := activePosition(t, ms, vault.ID); pos != nil {
		t.Fatal("position still ACTIVE after full withdrawal")
	}

	// A fresh deposit after closure opens a new ACTIVE position.
	mustApply(t, eng, vault, topics.Deposit, deposit("7", "7"), "0xtx3")
	pos := activePosition(t, ms, vault.ID)
	if pos == nil {
		t.Fatal("new deposit after closure did not open a position")
	}
	if !pos.TotalBalance.Equal(d("7")) {
		t.Errorf("totalBalance = %s, want 7", pos.TotalBalance)
	}
}

func TestWithdrawnLiveReadFailureRollsBack(t *testing.T) {
	reader := &fakeReader{err: errors.New("rpc: connection refused")}
	eng, ms, vault := newTestEnv(t, reader)

	mustApply(t, eng, vault, topics.Deposit, deposit("20", "20"), "0xtx1")

	err := eng.Apply(context.Background(), vault, topics.Withdrawn, deposit("20", "20"), "0xtx2")
	if err == nil {
		t.Fatal("expected error from failed live read")
	}

	// Rolled back: position untouched, hash unrecorded so a redelivery
	// retries the event.
	pos := activePosition(t, ms, vault.ID)
	if pos == nil || !pos.TotalBalance.Equal(d("20")) {
		t.Fatal("position mutated despite rollback")
	}

	reader.err = nil
	reader.shares = decimal.Zero
	reader.pps = d("1")
	mustApply(t, eng, vault, topics.Withdrawn, deposit("20", "20"), "0xtx2")

	if pos := activePosition(t, ms, vault.ID); pos != nil {
		t.Error("redelivered withdrawal did not settle")
	}
	tvl, _ := ms.GetVaultTVL(context.Background(), vault.ID)
	if !tvl.Equal(decimal.Zero) {
		t.Errorf("tvl = %s, want 0", tvl)
	}
}
