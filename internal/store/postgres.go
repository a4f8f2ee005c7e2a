package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vaultlab/portfolio-engine/internal/model"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same store methods run inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	db   querier
	pool *pgxpool.Pool // nil when this store is a transactional view
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool, pool: pool}
}

func (s *PostgresStore) ListActiveVaults(ctx context.Context) ([]model.Vault, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, chain, address, alias_addresses, strategy,
		        unit_decimals, share_decimals, active, tvl::TEXT
		 FROM vaults WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vaults []model.Vault
	for rows.Next() {
		var v model.Vault
		var tvl string
		if err := rows.Scan(&v.ID, &v.Chain, &v.Address, &v.AliasAddresses, &v.Strategy,
			&v.UnitDecimals, &v.ShareDecimals, &v.Active, &tvl); err != nil {
			return nil, err
		}
		v.TVL, _ = decimal.NewFromString(tvl)
		vaults = append(vaults, v)
	}
	return vaults, rows.Err()
}

func (s *PostgresStore) AdjustVaultTVL(ctx context.Context, vaultID int64, delta decimal.Decimal) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE vaults SET tvl = tvl + $2::NUMERIC WHERE id = $1`,
		vaultID, delta.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("adjust tvl: vault %d not found", vaultID)
	}
	return nil
}

func (s *PostgresStore) GetVaultTVL(ctx context.Context, vaultID int64) (decimal.Decimal, error) {
	var tvl string
	err := s.db.QueryRow(ctx,
		`SELECT tvl::TEXT FROM vaults WHERE id = $1`, vaultID).Scan(&tvl)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get tvl for vault %d: %w", vaultID, err)
	}
	d, _ := decimal.NewFromString(tvl)
	return d, nil
}

func (s *PostgresStore) GetActivePosition(ctx context.Context, vaultID int64, userAddress string) (*model.Position, error) {
	var p model.Position
	var totalBalance, initDeposit, totalShares, entryPrice, pendingWithdrawal string

	err := s.db.QueryRow(ctx,
		`SELECT id, vault_id, user_address,
		        total_balance::TEXT, init_deposit::TEXT, total_shares::TEXT,
		        entry_price::TEXT, pending_withdrawal::TEXT,
		        status, trade_start_date, trade_end_date, initiated_withdrawal_at
		 FROM user_portfolio
		 WHERE vault_id = $1 AND user_address = $2 AND status = $3`,
		vaultID, userAddress, model.StatusActive).
		Scan(&p.ID, &p.VaultID, &p.UserAddress,
			&totalBalance, &initDeposit, &totalShares,
			&entryPrice, &pendingWithdrawal,
			&p.Status, &p.TradeStartDate, &p.TradeEndDate, &p.InitiatedWithdrawalAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active position vault=%d user=%s: %w", vaultID, userAddress, err)
	}

	p.TotalBalance, _ = decimal.NewFromString(totalBalance)
	p.InitDeposit, _ = decimal.NewFromString(initDeposit)
	p.TotalShares, _ = decimal.NewFromString(totalShares)
	p.EntryPrice, _ = decimal.NewFromString(entryPrice)
	p.PendingWithdrawal, _ = decimal.NewFromString(pendingWithdrawal)

	return &p, nil
}

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO user_portfolio
		   (id, vault_id, user_address, total_balance, init_deposit, total_shares,
		    entry_price, pending_withdrawal, status, trade_start_date,
		    trade_end_date, initiated_withdrawal_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC,
		         $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12)`,
		p.ID, p.VaultID, p.UserAddress,
		p.TotalBalance.String(), p.InitDeposit.String(), p.TotalShares.String(),
		p.EntryPrice.String(), p.PendingWithdrawal.String(),
		p.Status, p.TradeStartDate, p.TradeEndDate, p.InitiatedWithdrawalAt,
	)
	return err
}

func (s *PostgresStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE user_portfolio
		 SET total_balance = $2::NUMERIC, init_deposit = $3::NUMERIC,
		     total_shares = $4::NUMERIC, entry_price = $5::NUMERIC,
		     pending_withdrawal = $6::NUMERIC, status = $7,
		     trade_end_date = $8, initiated_withdrawal_at = $9
		 WHERE id = $1`,
		p.ID,
		p.TotalBalance.String(), p.InitDeposit.String(),
		p.TotalShares.String(), p.EntryPrice.String(),
		p.PendingWithdrawal.String(), p.Status,
		p.TradeEndDate, p.InitiatedWithdrawalAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update position: %s not found", p.ID)
	}
	return nil
}

func (s *PostgresStore) RecordProcessedTx(ctx context.Context, txHash string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO processed_transactions (tx_hash, processed_at)
		 VALUES ($1, now())
		 ON CONFLICT (tx_hash) DO NOTHING`, txHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) LatestPricePerShare(ctx context.Context, vaultID int64) (decimal.Decimal, bool, error) {
	var price string
	err := s.db.QueryRow(ctx,
		`SELECT price::TEXT FROM pps_history
		 WHERE vault_id = $1 ORDER BY timestamp DESC LIMIT 1`, vaultID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	d, _ := decimal.NewFromString(price)
	return d, true, nil
}

// InTransaction begins a database transaction and runs fn against a store
// view bound to it. Calling it on a view that is already transactional
// just runs fn — the event pipeline holds exactly one transaction per event.
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresStore{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
