// Package decode turns raw log payloads into typed events.
//
// Each vault strategy family fixes a layout of 32-byte words over the
// ABI-encoded non-indexed data. Layouts are declarative (name, scale)
// pairs, so adding a family is additive — no byte-offset arithmetic at
// call sites. Scaling uses explicit decimals; the legacy digit-count
// heuristic for delta-neutral amounts is deliberately not carried over,
// those vaults scale by their registry decimals instead.
package decode

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/vaultlab/portfolio-engine/internal/model"
	"github.com/vaultlab/portfolio-engine/internal/topics"
)

const wordSize = 32

var (
	ErrWordCount        = errors.New("decode: unexpected payload word count")
	ErrMissingFromTopic = errors.New("decode: missing indexed from-address topic")
	ErrUnknownStrategy  = errors.New("decode: no layout for strategy")
)

// vaultDecimals marks a field scaled by the owning vault's unit decimals
// rather than a family-wide constant.
const vaultDecimals int32 = -1

type field struct {
	name     string
	decimals int32
}

// Canonical field names. The first two feed Amount/Shares on the decoded
// event; everything else lands in Counterparty.
const (
	fieldAmount = "amount"
	fieldShares = "shares"
)

var (
	stablecoinLayout = []field{
		{fieldAmount, 6},
		{fieldShares, 6},
	}
	deltaNeutralLayout = []field{
		{fieldAmount, vaultDecimals},
		{fieldShares, vaultDecimals},
	}
	solvLayout = []field{
		{fieldAmount, 8},
		{fieldShares, 18},
	}
	rethinkLayout = []field{
		{fieldAmount, 18},
		{fieldShares, 18},
	}
	// Pendle deposits and withdrawal initiations carry an ETH leg plus
	// running vault totals; the complete-withdraw variant omits the ETH
	// amount word.
	pendleLayout = []field{
		{fieldAmount, 6},
		{fieldShares, 18},
		{"ethAmount", 18},
		{"totalAmount", 6},
		{"totalShares", 18},
	}
	pendleCompleteLayout = []field{
		{fieldAmount, 6},
		{fieldShares, 18},
		{"totalAmount", 6},
		{"totalShares", 18},
	}
)

// layoutFor picks the word layout for one (strategy, kind) pair.
func layoutFor(strategy model.Strategy, kind topics.EventKind) ([]field, error) {
	switch strategy {
	case model.StrategyStablecoin:
		return stablecoinLayout, nil
	case model.StrategyDeltaNeutral:
		return deltaNeutralLayout, nil
	case model.StrategySolv:
		return solvLayout, nil
	case model.StrategyRethink:
		return rethinkLayout, nil
	case model.StrategyPendle:
		if kind == topics.Withdrawn {
			return pendleCompleteLayout, nil
		}
		return pendleLayout, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategy)
	}
}

// wordReader walks the data payload one 32-byte word at a time.
type wordReader struct {
	data []byte
	pos  int
}

func (r *wordReader) next() (*big.Int, error) {
	if r.pos+wordSize > len(r.data) {
		return nil, fmt.Errorf("%w: want word at offset %d, have %d bytes", ErrWordCount, r.pos, len(r.data))
	}
	w := new(big.Int).SetBytes(r.data[r.pos : r.pos+wordSize])
	r.pos += wordSize
	return w, nil
}

func (r *wordReader) remaining() int { return len(r.data) - r.pos }

// Event decodes one raw log for the given vault into a typed event.
// The from address is recovered from the first indexed topic (low 20
// bytes); amounts are scaled per the family layout.
func Event(vault *model.Vault, kind topics.EventKind, logTopics []common.Hash, data []byte) (*model.DecodedEvent, error) {
	layout, err := layoutFor(vault.Strategy, kind)
	if err != nil {
		return nil, err
	}
	if len(logTopics) < 2 {
		return nil, ErrMissingFromTopic
	}
	if len(data) != len(layout)*wordSize {
		return nil, fmt.Errorf("%w: %s/%s wants %d words, got %d bytes",
			ErrWordCount, vault.Strategy, kind, len(layout), len(data))
	}

	ev := &model.DecodedEvent{
		FromAddress: AddressFromTopic(logTopics[1]),
	}

	r := &wordReader{data: data}
	for _, f := range layout {
		raw, err := r.next()
		if err != nil {
			return nil, err
		}
		dec := f.decimals
		if dec == vaultDecimals {
			dec = vault.UnitDecimals
		}
		value := decimal.NewFromBigInt(raw, -dec)

		switch f.name {
		case fieldAmount:
			ev.Amount = value
		case fieldShares:
			ev.Shares = value
		default:
			if ev.Counterparty == nil {
				ev.Counterparty = make(map[string]decimal.Decimal)
			}
			ev.Counterparty[f.name] = value
		}
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrWordCount, r.remaining())
	}
	return ev, nil
}

// AddressFromTopic extracts the address packed into an indexed topic.
func AddressFromTopic(topic common.Hash) string {
	return strings.ToLower(common.BytesToAddress(topic.Bytes()[12:]).Hex())
}
