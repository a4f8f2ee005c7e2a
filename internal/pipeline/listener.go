// Package pipeline composes the per-chain message loop:
// classify → resolve → decode → apply.
//
// The loop is fail-soft at every stage except the final commit: a
// malformed or unrelated message never terminates the listener. Messages
// from one chain are processed strictly sequentially.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/vaultlab/portfolio-engine/internal/chain"
	"github.com/vaultlab/portfolio-engine/internal/decode"
	"github.com/vaultlab/portfolio-engine/internal/metrics"
	"github.com/vaultlab/portfolio-engine/internal/registry"
	"github.com/vaultlab/portfolio-engine/internal/reconcile"
	"github.com/vaultlab/portfolio-engine/internal/topics"
)

// Listener consumes one chain's raw log stream and drives reconciliation.
type Listener struct {
	chain    string
	registry *registry.Registry
	engine   *reconcile.Engine
}

// NewListener creates a listener for one chain.
func NewListener(chainName string, reg *registry.Registry, engine *reconcile.Engine) *Listener {
	return &Listener{
		chain:    chainName,
		registry: reg,
		engine:   engine,
	}
}

// Run processes the log stream until it closes or ctx is cancelled.
func (l *Listener) Run(ctx context.Context, logs <-chan chain.RawLog) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-logs:
			if !ok {
				return
			}
			l.Process(ctx, raw)
		}
	}
}

// Process runs one message through the pipeline stages.
func (l *Listener) Process(ctx context.Context, raw chain.RawLog) {
	start := time.Now()
	defer func() {
		metrics.ProcessingLatency.WithLabelValues(l.chain).Observe(time.Since(start).Seconds())
	}()

	if len(raw.Topics) == 0 {
		return
	}

	// Unknown topics are routine — vaults emit plenty of events that do
	// not touch portfolio accounting.
	kind, ok := topics.Classify(raw.Topics[0])
	if !ok {
		metrics.EventsSkipped.WithLabelValues(l.chain, "unknown_topic").Inc()
		return
	}

	address := strings.ToLower(raw.Address.Hex())
	vault, ok := l.registry.Resolve(raw.Chain, address)
	if !ok {
		slog.Error("no vault for contract address, dropping event",
			"chain", raw.Chain, "address", address, "tx", raw.TxHash)
		metrics.EventsSkipped.WithLabelValues(l.chain, "vault_not_found").Inc()
		return
	}

	ev, err := decode.Event(vault, kind, raw.Topics, raw.Data)
	if err != nil {
		slog.Error("event decode failed, dropping event",
			"chain", raw.Chain, "vault", vault.ID, "kind", kind.String(),
			"tx", raw.TxHash, "err", err)
		metrics.EventsSkipped.WithLabelValues(l.chain, "decode_error").Inc()
		return
	}

	if err := l.engine.Apply(ctx, vault, kind, ev, raw.TxHash); err != nil {
		// Rolled back atomically; the event is lost unless the node
		// redelivers it after a reconnect.
		slog.Error("event transaction failed",
			"chain", raw.Chain, "vault", vault.ID, "kind", kind.String(),
			"tx", raw.TxHash, "err", err)
		metrics.CommitFailures.WithLabelValues(l.chain).Inc()
	}
}
