// Package model defines the core domain types shared across the portfolio
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Strategy identifies a vault contract family. Each family defines its own
// event payload layout and unit scaling.
type Strategy string

const (
	StrategyStablecoin   Strategy = "stablecoin"
	StrategyDeltaNeutral Strategy = "delta_neutral"
	StrategySolv         Strategy = "solv"
	StrategyPendle       Strategy = "pendle"
	StrategyRethink      Strategy = "rethink"
)

// Position status values. A CLOSED position is terminal; a new deposit for
// the same (vault, user) creates a fresh ACTIVE row.
const (
	StatusActive = "ACTIVE"
	StatusClosed = "CLOSED"
)

// Vault is one logical yield vault on one chain. A vault may have been
// redeployed; AliasAddresses lists historical contract addresses that must
// resolve to this same vault so all of them contribute to one TVL.
type Vault struct {
	ID             int64           `json:"id" db:"id"`
	Chain          string          `json:"chain" db:"chain"`
	Address        string          `json:"address" db:"address"` // lowercased hex
	AliasAddresses []string        `json:"alias_addresses" db:"alias_addresses"`
	Strategy       Strategy        `json:"strategy" db:"strategy"`
	UnitDecimals   int32           `json:"unit_decimals" db:"unit_decimals"`   // currency unit scaling
	ShareDecimals  int32           `json:"share_decimals" db:"share_decimals"` // share token scaling
	Active         bool            `json:"active" db:"active"`
	TVL            decimal.Decimal `json:"tvl" db:"tvl"`
}

// Position is one user's stake in one vault (a user_portfolio row).
// At most one ACTIVE position exists per (vault, user address) pair.
type Position struct {
	ID                    string          `json:"id" db:"id"`
	VaultID               int64           `json:"vault_id" db:"vault_id"`
	UserAddress           string          `json:"user_address" db:"user_address"` // lowercased hex
	TotalBalance          decimal.Decimal `json:"total_balance" db:"total_balance"`
	InitDeposit           decimal.Decimal `json:"init_deposit" db:"init_deposit"`
	TotalShares           decimal.Decimal `json:"total_shares" db:"total_shares"`
	EntryPrice            decimal.Decimal `json:"entry_price" db:"entry_price"`
	PendingWithdrawal     decimal.Decimal `json:"pending_withdrawal" db:"pending_withdrawal"`
	Status                string          `json:"status" db:"status"`
	TradeStartDate        time.Time       `json:"trade_start_date" db:"trade_start_date"`
	TradeEndDate          *time.Time      `json:"trade_end_date,omitempty" db:"trade_end_date"`
	InitiatedWithdrawalAt *time.Time      `json:"initiated_withdrawal_at,omitempty" db:"initiated_withdrawal_at"`
}

// ProcessedTransaction is an idempotency record. Created exactly once per
// transaction hash before its effects are applied; never mutated or deleted.
type ProcessedTransaction struct {
	TxHash      string    `json:"tx_hash" db:"tx_hash"`
	ProcessedAt time.Time `json:"processed_at" db:"processed_at"`
}

// PricePerSharePoint is one entry of the append-only pps_history series.
// The reconciliation engine only ever reads the latest point per vault.
type PricePerSharePoint struct {
	VaultID   int64           `json:"vault_id" db:"vault_id"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// DecodedEvent is the typed result of decoding one raw log against a vault
// family layout. Amount and Shares are scaled to human units; Counterparty
// carries family-specific extra words (e.g. the Pendle ETH leg).
type DecodedEvent struct {
	Amount       decimal.Decimal
	Shares       decimal.Decimal
	Counterparty map[string]decimal.Decimal
	FromAddress  string // lowercased hex
}
