// Package topics maps 32-byte event signature hashes to the abstract event
// kinds the reconciliation engine understands. Several per-family signature
// versions collapse onto one kind; anything else is not ours to handle.
package topics

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EventKind is the closed set of portfolio-relevant event kinds. The zero
// value is invalid so a missed Classify check cannot masquerade as a kind.
type EventKind int

const (
	Deposit EventKind = iota + 1
	InitiateWithdraw
	Withdrawn
)

func (k EventKind) String() string {
	switch k {
	case Deposit:
		return "Deposit"
	case InitiateWithdraw:
		return "InitiateWithdraw"
	case Withdrawn:
		return "Withdrawn"
	default:
		return "Unknown"
	}
}

// Known signature hashes. Multiple topics map to the same abstract kind:
// the legacy two-word Deposit and the multi-asset variants all reconcile
// identically once decoded with the owning vault's layout.
var (
	TopicDeposit           = sig("Deposit(address,uint256,uint256)")
	TopicDepositMultiAsset = sig("Deposit(address,uint256,uint256,uint256)")
	TopicDepositWithEth    = sig("Deposit(address,uint256,uint256,uint256,uint256)")

	TopicInitiateWithdraw           = sig("InitiateWithdraw(address,uint256,uint256)")
	TopicInitiateWithdrawMultiAsset = sig("InitiateWithdraw(address,uint256,uint256,uint256)")
	TopicInitiateWithdrawWithEth    = sig("InitiateWithdraw(address,uint256,uint256,uint256,uint256)")

	TopicWithdrawn         = sig("Withdrawn(address,uint256,uint256)")
	TopicCompleteWithdraw  = sig("CompleteWithdraw(address,uint256,uint256,uint256)")
	TopicWithdrawnMultiLeg = sig("Withdrawn(address,uint256,uint256,uint256)")
)

var table = map[common.Hash]EventKind{
	TopicDeposit:           Deposit,
	TopicDepositMultiAsset: Deposit,
	TopicDepositWithEth:    Deposit,

	TopicInitiateWithdraw:           InitiateWithdraw,
	TopicInitiateWithdrawMultiAsset: InitiateWithdraw,
	TopicInitiateWithdrawWithEth:    InitiateWithdraw,

	TopicWithdrawn:         Withdrawn,
	TopicCompleteWithdraw:  Withdrawn,
	TopicWithdrawnMultiLeg: Withdrawn,
}

func sig(s string) common.Hash {
	return crypto.Keccak256Hash([]byte(s))
}

// Classify resolves topic0 to an abstract event kind. A false return means
// the log is not portfolio-relevant; callers skip it silently.
func Classify(topic0 common.Hash) (EventKind, bool) {
	kind, ok := table[topic0]
	return kind, ok
}

// Register adds a signature hash to the dispatch table, so new vault
// contract versions can be supported without touching any decoder.
func Register(topic0 common.Hash, kind EventKind) {
	table[topic0] = kind
}
