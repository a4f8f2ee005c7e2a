// Package reconcile applies decoded vault events to user positions and
// vault TVL. One event, one transaction: the idempotency record and every
// position/TVL write commit or roll back together.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vaultlab/portfolio-engine/internal/metrics"
	"github.com/vaultlab/portfolio-engine/internal/model"
	"github.com/vaultlab/portfolio-engine/internal/store"
	"github.com/vaultlab/portfolio-engine/internal/topics"
)

// ChainReader is the on-chain read collaborator used during withdrawal
// completion: live share balance and price per share for a (vault, user).
// Errors are treated as transient — the event transaction rolls back and
// the hash stays unrecorded so a redelivery can retry.
type ChainReader interface {
	VaultBalance(ctx context.Context, vault *model.Vault, userAddress string) (shares, pricePerShare decimal.Decimal, err error)
}

// Engine is the portfolio reconciliation state machine. Callers feed it one
// event at a time per chain; strictly sequential processing is what makes
// the entry-price recurrence correct without row locking.
type Engine struct {
	store  store.Store
	reader ChainReader

	// Clock stamps trade start/end and withdrawal initiation times.
	// Overridable in tests.
	Clock func() time.Time
}

// NewEngine creates a reconciliation engine over the given store and
// on-chain reader.
func NewEngine(st store.Store, reader ChainReader) *Engine {
	return &Engine{
		store:  st,
		reader: reader,
		Clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Apply reconciles one decoded event. The transaction hash gates
// application: a hash seen before is skipped with an info log and no state
// change. Precondition misses (withdraw events without an ACTIVE position)
// are warned, skipped, and still recorded — reprocessing them could never
// succeed, since only a Deposit creates positions.
func (e *Engine) Apply(ctx context.Context, vault *model.Vault, kind topics.EventKind, ev *model.DecodedEvent, txHash string) error {
	return e.store.InTransaction(ctx, func(tx store.Store) error {
		fresh, err := tx.RecordProcessedTx(ctx, txHash)
		if err != nil {
			return fmt.Errorf("record tx %s: %w", txHash, err)
		}
		if !fresh {
			slog.Info("transaction already processed, skipping",
				"chain", vault.Chain, "vault", vault.ID, "tx", txHash)
			metrics.EventsSkipped.WithLabelValues(vault.Chain, "already_processed").Inc()
			return nil
		}

		switch kind {
		case topics.Deposit:
			err = e.applyDeposit(ctx, tx, vault, ev)
		case topics.InitiateWithdraw:
			err = e.applyInitiateWithdraw(ctx, tx, vault, ev)
		case topics.Withdrawn:
			err = e.applyWithdrawn(ctx, tx, vault, ev)
		default:
			err = fmt.Errorf("unhandled event kind %v", kind)
		}
		if err != nil {
			return err
		}

		metrics.EventsApplied.WithLabelValues(vault.Chain, kind.String()).Inc()
		e.refreshTVLGauge(ctx, tx, vault)
		return nil
	})
}

// applyDeposit creates the position on first deposit or folds the new
// deposit into the existing one, re-weighting the entry price by shares.
func (e *Engine) applyDeposit(ctx context.Context, tx store.Store, vault *model.Vault, ev *model.DecodedEvent) error {
	pos, err := tx.GetActivePosition(ctx, vault.ID, ev.FromAddress)
	if err != nil {
		return err
	}

	price, ok, err := tx.LatestPricePerShare(ctx, vault.ID)
	if err != nil {
		return err
	}
	if !ok {
		price = decimal.NewFromInt(1)
	}

	if pos == nil {
		pos = &model.Position{
			ID:                uuid.New().String(),
			VaultID:           vault.ID,
			UserAddress:       ev.FromAddress,
			TotalBalance:      ev.Amount,
			InitDeposit:       ev.Amount,
			TotalShares:       ev.Shares,
			EntryPrice:        price,
			PendingWithdrawal: decimal.Zero,
			Status:            model.StatusActive,
			TradeStartDate:    e.Clock(),
		}
		if err := tx.CreatePosition(ctx, pos); err != nil {
			return fmt.Errorf("create position: %w", err)
		}
		slog.Info("position opened",
			"chain", vault.Chain, "vault", vault.ID, "user", ev.FromAddress,
			"amount", ev.Amount.String(), "entry_price", price.String())
	} else {
		// newEntry = (oldShares·oldEntry + newShares·price) / (oldShares + newShares)
		combined := pos.TotalShares.Add(ev.Shares)
		if combined.IsPositive() {
			weighted := pos.TotalShares.Mul(pos.EntryPrice).Add(ev.Shares.Mul(price))
			pos.EntryPrice = weighted.Div(combined)
		}
		pos.TotalBalance = pos.TotalBalance.Add(ev.Amount)
		pos.InitDeposit = pos.InitDeposit.Add(ev.Amount)
		pos.TotalShares = combined
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return fmt.Errorf("update position: %w", err)
		}
		slog.Info("deposit added to position",
			"chain", vault.Chain, "vault", vault.ID, "user", ev.FromAddress,
			"amount", ev.Amount.String(), "entry_price", pos.EntryPrice.String())
	}

	return tx.AdjustVaultTVL(ctx, vault.ID, ev.Amount)
}

// applyInitiateWithdraw earmarks shares for withdrawal. Funds stay locked,
// so TVL is untouched. initDeposit is floored at zero.
func (e *Engine) applyInitiateWithdraw(ctx context.Context, tx store.Store, vault *model.Vault, ev *model.DecodedEvent) error {
	pos, err := tx.GetActivePosition(ctx, vault.ID, ev.FromAddress)
	if err != nil {
		return err
	}
	if pos == nil {
		slog.Warn("initiate-withdraw without active position, skipping",
			"chain", vault.Chain, "vault", vault.ID, "user", ev.FromAddress)
		metrics.EventsSkipped.WithLabelValues(vault.Chain, "no_position").Inc()
		return nil
	}

	pos.PendingWithdrawal = pos.PendingWithdrawal.Add(ev.Shares)
	pos.InitDeposit = pos.InitDeposit.Sub(ev.Amount)
	if pos.InitDeposit.IsNegative() {
		pos.InitDeposit = decimal.Zero
	}
	now := e.Clock()
	pos.InitiatedWithdrawalAt = &now

	if err := tx.UpdatePosition(ctx, pos); err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	slog.Info("withdrawal initiated",
		"chain", vault.Chain, "vault", vault.ID, "user", ev.FromAddress,
		"shares", ev.Shares.String(), "pending", pos.PendingWithdrawal.String())
	return nil
}

// applyWithdrawn settles a completed withdrawal. The balance is recomputed
// from the live on-chain share balance and price per share — the event
// payload does not reflect fees deducted during settlement.
func (e *Engine) applyWithdrawn(ctx context.Context, tx store.Store, vault *model.Vault, ev *model.DecodedEvent) error {
	pos, err := tx.GetActivePosition(ctx, vault.ID, ev.FromAddress)
	if err != nil {
		return err
	}
	if pos == nil {
		slog.Warn("withdrawn without active position, skipping",
			"chain", vault.Chain, "vault", vault.ID, "user", ev.FromAddress)
		metrics.EventsSkipped.WithLabelValues(vault.Chain, "no_position").Inc()
		return nil
	}

	shares, pps, err := e.reader.VaultBalance(ctx, vault, ev.FromAddress)
	if err != nil {
		return fmt.Errorf("live balance read: %w", err)
	}

	pos.TotalBalance = shares.Mul(pps)
	pos.TotalShares = shares
	pos.PendingWithdrawal = decimal.Zero
	pos.InitiatedWithdrawalAt = nil

	if !pos.TotalBalance.IsPositive() {
		pos.TotalBalance = decimal.Zero
		pos.Status = model.StatusClosed
		now := e.Clock()
		pos.TradeEndDate = &now
	}

	if err := tx.UpdatePosition(ctx, pos); err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if err := tx.AdjustVaultTVL(ctx, vault.ID, ev.Amount.Neg()); err != nil {
		return err
	}
	slog.Info("withdrawal settled",
		"chain", vault.Chain, "vault", vault.ID, "user", ev.FromAddress,
		"value", ev.Amount.String(), "balance", pos.TotalBalance.String(),
		"status", pos.Status)
	return nil
}

// refreshTVLGauge mirrors the running TVL to the prometheus gauge;
// observability only, failures are ignored.
func (e *Engine) refreshTVLGauge(ctx context.Context, tx store.Store, vault *model.Vault) {
	tvl, err := tx.GetVaultTVL(ctx, vault.ID)
	if err != nil {
		return
	}
	f, _ := tvl.Float64()
	metrics.VaultTVL.WithLabelValues(vault.Chain, fmt.Sprint(vault.ID)).Set(f)
}
