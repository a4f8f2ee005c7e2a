package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/vaultlab/portfolio-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: the latest price-per-share consulted on
// every deposit, and the active vault list read at startup. Writes go to
// the primary; transactional views bypass the cache entirely.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LatestPricePerShare(ctx context.Context, vaultID int64) (decimal.Decimal, bool, error) {
	if raw, err := s.rdb.Get(ctx, ppsKey(vaultID)).Result(); err == nil {
		if d, perr := decimal.NewFromString(raw); perr == nil {
			return d, true, nil
		}
	}

	price, ok, err := s.primary.LatestPricePerShare(ctx, vaultID)
	if err != nil || !ok {
		return price, ok, err
	}
	s.rdb.Set(ctx, ppsKey(vaultID), price.String(), s.ttl)
	return price, true, nil
}

func (s *CachedStore) ListActiveVaults(ctx context.Context) ([]model.Vault, error) {
	if data, err := s.rdb.Get(ctx, vaultsKey()).Bytes(); err == nil {
		var vaults []model.Vault
		if json.Unmarshal(data, &vaults) == nil {
			return vaults, nil
		}
	}

	vaults, err := s.primary.ListActiveVaults(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(vaults); err == nil {
		s.rdb.Set(ctx, vaultsKey(), data, s.ttl)
	}
	return vaults, nil
}

// --- Passthrough (reconciliation writes and reads stay on the primary) ---

func (s *CachedStore) AdjustVaultTVL(ctx context.Context, vaultID int64, delta decimal.Decimal) error {
	return s.primary.AdjustVaultTVL(ctx, vaultID, delta)
}

func (s *CachedStore) GetVaultTVL(ctx context.Context, vaultID int64) (decimal.Decimal, error) {
	return s.primary.GetVaultTVL(ctx, vaultID)
}

func (s *CachedStore) GetActivePosition(ctx context.Context, vaultID int64, userAddress string) (*model.Position, error) {
	return s.primary.GetActivePosition(ctx, vaultID, userAddress)
}

func (s *CachedStore) CreatePosition(ctx context.Context, p *model.Position) error {
	return s.primary.CreatePosition(ctx, p)
}

func (s *CachedStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	return s.primary.UpdatePosition(ctx, p)
}

func (s *CachedStore) RecordProcessedTx(ctx context.Context, txHash string) (bool, error) {
	return s.primary.RecordProcessedTx(ctx, txHash)
}

// InTransaction delegates to the primary; fn receives the primary's
// transactional view so every read inside the transaction is uncached.
func (s *CachedStore) InTransaction(ctx context.Context, fn func(Store) error) error {
	return s.primary.InTransaction(ctx, fn)
}

func ppsKey(vaultID int64) string { return fmt.Sprintf("pps:latest:%d", vaultID) }
func vaultsKey() string           { return "vaults:active" }
