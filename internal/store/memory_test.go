package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultlab/portfolio-engine/internal/model"
)

func TestMemoryStoreTransactionRollback(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	vault := ms.SeedVault(&model.Vault{
		Chain:    "ethereum",
		Address:  "0x9d39a5de30e57443bff2a8307a4256c8797a3497",
		Strategy: model.StrategyStablecoin,
		Active:   true,
		TVL:      decimal.Zero,
	})

	failed := errors.New("downstream failure")
	err := ms.InTransaction(ctx, func(tx Store) error {
		if fresh, err := tx.RecordProcessedTx(ctx, "0xtx1"); err != nil || !fresh {
			t.Fatalf("record: fresh=%v err=%v", fresh, err)
		}
		if err := tx.AdjustVaultTVL(ctx, vault.ID, decimal.NewFromInt(20)); err != nil {
			t.Fatalf("adjust: %v", err)
		}
		return failed
	})
	if !errors.Is(err, failed) {
		t.Fatalf("InTransaction err = %v, want wrapped failure", err)
	}

	// Every write inside the failed fn is undone, including the tx record.
	tvl, _ := ms.GetVaultTVL(ctx, vault.ID)
	if !tvl.IsZero() {
		t.Errorf("tvl = %s, want 0 after rollback", tvl)
	}
	fresh, err := ms.RecordProcessedTx(ctx, "0xtx1")
	if err != nil || !fresh {
		t.Errorf("tx hash still recorded after rollback: fresh=%v err=%v", fresh, err)
	}
}

func TestMemoryStoreLatestPricePerShare(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	vault := ms.SeedVault(&model.Vault{Chain: "ethereum", Address: "0x42", Active: true})

	if _, ok, err := ms.LatestPricePerShare(ctx, vault.ID); err != nil || ok {
		t.Fatalf("empty history: ok=%v err=%v, want miss", ok, err)
	}

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	ms.SeedPricePerShare(model.PricePerSharePoint{VaultID: vault.ID, Price: decimal.RequireFromString("1.02"), Timestamp: base.AddDate(0, 0, 2)})
	ms.SeedPricePerShare(model.PricePerSharePoint{VaultID: vault.ID, Price: decimal.RequireFromString("1.01"), Timestamp: base})

	price, ok, err := ms.LatestPricePerShare(ctx, vault.ID)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !price.Equal(decimal.RequireFromString("1.02")) {
		t.Errorf("price = %s, want 1.02 (newest point, not insertion order)", price)
	}
}

func TestMemoryStoreActivePositionFilter(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	closed := &model.Position{
		ID: "pos-closed", VaultID: 1, UserAddress: "0xuser",
		Status: model.StatusClosed,
	}
	if err := ms.CreatePosition(ctx, closed); err != nil {
		t.Fatalf("create: %v", err)
	}

	pos, err := ms.GetActivePosition(ctx, 1, "0xuser")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pos != nil {
		t.Error("closed position returned as active")
	}
}
