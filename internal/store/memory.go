package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vaultlab/portfolio-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	vaults      map[int64]*model.Vault
	positions   map[string]*model.Position
	processed   map[string]struct{}
	ppsByVault  map[int64][]model.PricePerSharePoint
	nextVaultID int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vaults:     make(map[int64]*model.Vault),
		positions:  make(map[string]*model.Position),
		processed:  make(map[string]struct{}),
		ppsByVault: make(map[int64][]model.PricePerSharePoint),
	}
}

// SeedVault registers a vault, assigning an ID when unset. Test fixture path.
func (s *MemoryStore) SeedVault(v *model.Vault) *model.Vault {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == 0 {
		s.nextVaultID++
		v.ID = s.nextVaultID
	}
	cp := *v
	s.vaults[v.ID] = &cp
	return v
}

// SeedPricePerShare appends a pps_history point. Test fixture path.
func (s *MemoryStore) SeedPricePerShare(p model.PricePerSharePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ppsByVault[p.VaultID] = append(s.ppsByVault[p.VaultID], p)
}

func (s *MemoryStore) ListActiveVaults(_ context.Context) ([]model.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var vaults []model.Vault
	for _, v := range s.vaults {
		if v.Active {
			vaults = append(vaults, *v)
		}
	}
	return vaults, nil
}

func (s *MemoryStore) AdjustVaultTVL(_ context.Context, vaultID int64, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vaults[vaultID]
	if !ok {
		return fmt.Errorf("adjust tvl: vault %d not found", vaultID)
	}
	v.TVL = v.TVL.Add(delta)
	return nil
}

func (s *MemoryStore) GetVaultTVL(_ context.Context, vaultID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vaults[vaultID]
	if !ok {
		return decimal.Zero, fmt.Errorf("get tvl: vault %d not found", vaultID)
	}
	return v.TVL, nil
}

func (s *MemoryStore) GetActivePosition(_ context.Context, vaultID int64, userAddress string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.positions {
		if p.VaultID == vaultID && p.UserAddress == userAddress && p.Status == model.StatusActive {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.positions[p.ID]; dup {
		return fmt.Errorf("position %s already exists", p.ID)
	}
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; !ok {
		return fmt.Errorf("update position: %s not found", p.ID)
	}
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) RecordProcessedTx(_ context.Context, txHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.processed[txHash]; seen {
		return false, nil
	}
	s.processed[txHash] = struct{}{}
	return true, nil
}

func (s *MemoryStore) LatestPricePerShare(_ context.Context, vaultID int64) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.ppsByVault[vaultID]
	if len(points) == 0 {
		return decimal.Zero, false, nil
	}
	latest := points[0]
	for _, p := range points[1:] {
		if p.Timestamp.After(latest.Timestamp) {
			latest = p
		}
	}
	return latest.Price, true, nil
}

// InTransaction snapshots the store, runs fn, and restores the snapshot if
// fn fails — mirroring the all-or-nothing commit of the Postgres store.
func (s *MemoryStore) InTransaction(_ context.Context, fn func(Store) error) error {
	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	vaults    map[int64]*model.Vault
	positions map[string]*model.Position
	processed map[string]struct{}
}

func (s *MemoryStore) snapshot() memSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := memSnapshot{
		vaults:    make(map[int64]*model.Vault, len(s.vaults)),
		positions: make(map[string]*model.Position, len(s.positions)),
		processed: make(map[string]struct{}, len(s.processed)),
	}
	for id, v := range s.vaults {
		cp := *v
		snap.vaults[id] = &cp
	}
	for id, p := range s.positions {
		cp := *p
		snap.positions[id] = &cp
	}
	for h := range s.processed {
		snap.processed[h] = struct{}{}
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaults = snap.vaults
	s.positions = snap.positions
	s.processed = snap.processed
}
