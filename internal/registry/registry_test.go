package registry_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vaultlab/portfolio-engine/internal/model"
	"github.com/vaultlab/portfolio-engine/internal/registry"
)

const (
	currentAddr = "0x9d39a5de30e57443bff2a8307a4256c8797a3497"
	legacyAddr  = "0x29e38769f23701a2e4a8ef0492e19da4604be62c"
	otherAddr   = "0x136471a34f6ef19fe571effc1ca711fdb8e49f2b"
)

func testVaults() []model.Vault {
	return []model.Vault{
		{
			ID:             1,
			Chain:          "ethereum",
			Address:        currentAddr,
			AliasAddresses: []string{legacyAddr},
			Strategy:       model.StrategyStablecoin,
			UnitDecimals:   6,
			ShareDecimals:  6,
			Active:         true,
			TVL:            decimal.Zero,
		},
		{
			ID:            2,
			Chain:         "arbitrum",
			Address:       otherAddr,
			Strategy:      model.StrategySolv,
			UnitDecimals:  8,
			ShareDecimals: 18,
			Active:        true,
		},
		{
			ID:       3,
			Chain:    "ethereum",
			Address:  "0x0000000000000000000000000000000000000042",
			Strategy: model.StrategyPendle,
			Active:   false, // retired: must not resolve
		},
	}
}

func TestAliasResolvesToSameVault(t *testing.T) {
	reg, err := registry.FromVaults(testVaults())
	if err != nil {
		t.Fatalf("FromVaults: %v", err)
	}

	current, ok := reg.Resolve("ethereum", currentAddr)
	if !ok {
		t.Fatal("current address did not resolve")
	}
	legacy, ok := reg.Resolve("ethereum", legacyAddr)
	if !ok {
		t.Fatal("legacy alias did not resolve")
	}
	if current.ID != legacy.ID {
		t.Errorf("alias resolved to vault %d, current to %d", legacy.ID, current.ID)
	}
}

func TestResolveIsCaseInsensitive(t *testing.T) {
	reg, err := registry.FromVaults(testVaults())
	if err != nil {
		t.Fatalf("FromVaults: %v", err)
	}

	v, ok := reg.Resolve("ethereum", "0x9D39A5DE30E57443BFF2A8307A4256C8797A3497")
	if !ok || v.ID != 1 {
		t.Errorf("checksummed address lookup failed: ok=%v", ok)
	}
}

func TestResolveMisses(t *testing.T) {
	reg, err := registry.FromVaults(testVaults())
	if err != nil {
		t.Fatalf("FromVaults: %v", err)
	}

	if _, ok := reg.Resolve("ethereum", otherAddr); ok {
		t.Error("address registered on arbitrum resolved on ethereum")
	}
	if _, ok := reg.Resolve("ethereum", "0x0000000000000000000000000000000000000042"); ok {
		t.Error("inactive vault must not resolve")
	}
}

func TestDuplicateAddressRejected(t *testing.T) {
	vaults := testVaults()
	vaults[1].Chain = "ethereum"
	vaults[1].Address = currentAddr

	if _, err := registry.FromVaults(vaults); err == nil {
		t.Error("expected error for address claimed by two vaults")
	}
}

func TestAddressesForIncludesAliases(t *testing.T) {
	reg, err := registry.FromVaults(testVaults())
	if err != nil {
		t.Fatalf("FromVaults: %v", err)
	}

	addrs := reg.AddressesFor("ethereum")
	if len(addrs) != 2 {
		t.Fatalf("got %d addresses, want 2 (current + alias)", len(addrs))
	}
}

func TestChains(t *testing.T) {
	reg, err := registry.FromVaults(testVaults())
	if err != nil {
		t.Fatalf("FromVaults: %v", err)
	}

	chains := reg.Chains()
	if len(chains) != 2 || chains[0] != "arbitrum" || chains[1] != "ethereum" {
		t.Errorf("chains = %v, want [arbitrum ethereum]", chains)
	}
}
