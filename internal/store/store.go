// Package store defines the persistence interface for the portfolio engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vaultlab/portfolio-engine/internal/model"
)

// Store is the persistence interface over the four reconciled tables:
// vaults, user_portfolio, processed_transactions, and pps_history.
//
// InTransaction scopes one event's writes — the idempotency record and the
// position/TVL mutations — to a single commit or rollback. There is no
// shared session: every call carries its context and its own store handle.
type Store interface {
	// --- Vaults ---

	// ListActiveVaults returns all vaults flagged active; the registry is
	// seeded from this at startup.
	ListActiveVaults(ctx context.Context) ([]model.Vault, error)

	// AdjustVaultTVL applies a signed delta to a vault's running TVL.
	// TVL is only ever moved by deltas, never overwritten wholesale.
	AdjustVaultTVL(ctx context.Context, vaultID int64, delta decimal.Decimal) error

	// GetVaultTVL reads the current running TVL.
	GetVaultTVL(ctx context.Context, vaultID int64) (decimal.Decimal, error)

	// --- Positions ---

	// GetActivePosition returns the single ACTIVE position for a
	// (vault, user) pair, or (nil, nil) when none exists — an absent
	// position is a normal state, not an error.
	GetActivePosition(ctx context.Context, vaultID int64, userAddress string) (*model.Position, error)

	// CreatePosition inserts a new position row.
	CreatePosition(ctx context.Context, p *model.Position) error

	// UpdatePosition persists all mutable fields of an existing position.
	UpdatePosition(ctx context.Context, p *model.Position) error

	// --- Idempotency ledger ---

	// RecordProcessedTx inserts the transaction hash if unseen and reports
	// whether it was fresh. AlreadyProcessed (false) is not an error.
	RecordProcessedTx(ctx context.Context, txHash string) (bool, error)

	// --- Reference prices ---

	// LatestPricePerShare returns the most recent pps_history point for a
	// vault; the bool is false when the series is empty.
	LatestPricePerShare(ctx context.Context, vaultID int64) (decimal.Decimal, bool, error)

	// --- Transactions ---

	// InTransaction runs fn against a transactional view of the store.
	// An error from fn rolls back every write made through that view.
	InTransaction(ctx context.Context, fn func(Store) error) error
}
