// Package registry resolves contract addresses to vault metadata.
//
// A logical vault can have been redeployed several times; every historical
// alias address must resolve to the same vault so that all deployments
// contribute to one TVL and one set of position records.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vaultlab/portfolio-engine/internal/model"
)

// Registry is the address→vault index for all chains. Built once from the
// vaults table at startup; reads are concurrent-safe.
type Registry struct {
	mu     sync.RWMutex
	byAddr map[string]*model.Vault // "<chain>/<lowercased address>"
}

// FromVaults indexes the given vaults by current address and every alias.
// Inactive vaults are skipped entirely: their addresses are neither
// subscribed nor resolvable.
func FromVaults(vaults []model.Vault) (*Registry, error) {
	r := &Registry{byAddr: make(map[string]*model.Vault)}
	for i := range vaults {
		v := &vaults[i]
		if !v.Active {
			continue
		}
		addrs := append([]string{v.Address}, v.AliasAddresses...)
		for _, a := range addrs {
			if !common.IsHexAddress(a) {
				return nil, fmt.Errorf("registry: vault %d has invalid address %q", v.ID, a)
			}
			key := addrKey(v.Chain, a)
			if prev, dup := r.byAddr[key]; dup && prev.ID != v.ID {
				return nil, fmt.Errorf("registry: address %s on %s claimed by vaults %d and %d",
					a, v.Chain, prev.ID, v.ID)
			}
			r.byAddr[key] = v
		}
	}
	return r, nil
}

// Resolve looks up the vault owning an address on a chain. The false
// return is the NotFound miss: callers drop the event with an error log,
// it cannot be reconciled without vault metadata.
func (r *Registry) Resolve(chain, address string) (*model.Vault, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byAddr[addrKey(chain, address)]
	return v, ok
}

// AddressesFor returns every subscribable address (current + aliases) on
// one chain, deduplicated and sorted for deterministic subscriptions.
func (r *Registry) AddressesFor(chain string) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []common.Address
	for key := range r.byAddr {
		c, addr, ok := splitKey(key)
		if !ok || c != chain {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, common.HexToAddress(addr))
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].Hex(), out[j].Hex()) < 0
	})
	return out
}

// Chains lists every chain with at least one active vault.
func (r *Registry) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for key := range r.byAddr {
		c, _, ok := splitKey(key)
		if !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func addrKey(chain, address string) string {
	return chain + "/" + strings.ToLower(address)
}

func splitKey(key string) (chain, address string, ok bool) {
	i := strings.IndexByte(key, '/')
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}
