// Package chain owns the on-chain transport: the persistent log
// subscription feeding the pipeline, and the synchronous read client used
// during withdrawal completion.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"

	"github.com/vaultlab/portfolio-engine/internal/metrics"
)

// RawLog is one log notification as delivered by the node, in emission order.
type RawLog struct {
	Chain       string
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	TxHash      string
	BlockNumber uint64
}

// JSON-RPC framing for eth_subscribe over a websocket.

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type subscribeAck struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int       `json:"id"`
	Result  string    `json:"result"`
	Error   *rpcError `json:"error,omitempty"`
}

type logNotification struct {
	Method string `json:"method"`
	Params struct {
		Subscription string `json:"subscription"`
		Result       struct {
			Address         string   `json:"address"`
			Topics          []string `json:"topics"`
			Data            string   `json:"data"`
			BlockNumber     string   `json:"blockNumber"`
			TransactionHash string   `json:"transactionHash"`
			Removed         bool     `json:"removed"`
		} `json:"result"`
	} `json:"params"`
}

const pingInterval = 25 * time.Second

// Subscriber maintains one persistent websocket connection to a chain node
// and one logs subscription filtered by the chain's active vault addresses
// (address-only filter — topic classification happens downstream). On any
// closure it waits a fixed redial interval and reconnects; messages missed
// during the outage are not replayed.
type Subscriber struct {
	chain     string
	wsURL     string
	addresses []common.Address
	redial    time.Duration
	out       chan RawLog
	dialer    *websocket.Dialer
}

// NewSubscriber creates a subscriber for one chain. The address set is
// fixed for the life of the process; vault changes require a restart.
func NewSubscriber(chain, wsURL string, addresses []common.Address, redial time.Duration) *Subscriber {
	return &Subscriber{
		chain:     chain,
		wsURL:     wsURL,
		addresses: addresses,
		redial:    redial,
		out:       make(chan RawLog),
		dialer:    websocket.DefaultDialer,
	}
}

// Logs is the strictly ordered stream of raw log messages. Closed when Run
// returns.
func (s *Subscriber) Logs() <-chan RawLog {
	return s.out
}

// Run connects, subscribes, and pumps messages until ctx is cancelled.
// Transport failures are never fatal: every closure leads back through the
// redial sleep and a fresh subscription.
func (s *Subscriber) Run(ctx context.Context) {
	defer close(s.out)

	for {
		if err := s.session(ctx); err != nil {
			slog.Warn("subscription session ended", "chain", s.chain, "err", err)
			metrics.Reconnects.WithLabelValues(s.chain).Inc()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.redial):
		}
	}
}

// session runs one connection lifetime: dial, subscribe, pump until error.
func (s *Subscriber) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	// Unblock blocking reads when the process shuts down.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-sessionDone:
		}
	}()

	addrs := make([]string, len(s.addresses))
	for i, a := range s.addresses {
		addrs[i] = strings.ToLower(a.Hex())
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params:  []any{"logs", map[string]any{"address": addrs}},
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe write: %w", err)
	}

	_, ackRaw, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("subscribe ack read: %w", err)
	}
	var ack subscribeAck
	if err := json.Unmarshal(ackRaw, &ack); err != nil || ack.Result == "" {
		if ack.Error != nil {
			return fmt.Errorf("subscribe rejected: %d %s", ack.Error.Code, ack.Error.Message)
		}
		return fmt.Errorf("unexpected subscribe ack: %s", ackRaw)
	}
	slog.Info("log subscription established",
		"chain", s.chain, "subscription", ack.Result, "addresses", len(addrs))

	go s.pingLoop(conn, sessionDone)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var note logNotification
		if err := json.Unmarshal(raw, &note); err != nil || note.Method != "eth_subscription" {
			continue // acks, pongs, unrelated frames
		}
		if note.Params.Result.Removed {
			// Reorged log; the periodic batch resync owns reorg repair.
			continue
		}

		log, err := toRawLog(s.chain, note)
		if err != nil {
			slog.Error("malformed log notification", "chain", s.chain, "err", err)
			continue
		}

		select {
		case s.out <- log:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Subscriber) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func toRawLog(chain string, note logNotification) (RawLog, error) {
	res := note.Params.Result

	data := []byte{}
	if payload := strings.TrimSpace(res.Data); payload != "" && payload != "0x" {
		decoded, err := hexutil.Decode(payload)
		if err != nil {
			return RawLog{}, fmt.Errorf("decode data: %w", err)
		}
		data = decoded
	}

	topics := make([]common.Hash, len(res.Topics))
	for i, t := range res.Topics {
		topics[i] = common.HexToHash(t)
	}

	var blockNumber uint64
	if res.BlockNumber != "" {
		bn, err := hexutil.DecodeUint64(res.BlockNumber)
		if err != nil {
			return RawLog{}, fmt.Errorf("decode block number %q: %w", res.BlockNumber, err)
		}
		blockNumber = bn
	}

	return RawLog{
		Chain:       chain,
		Address:     common.HexToAddress(res.Address),
		Topics:      topics,
		Data:        data,
		TxHash:      strings.ToLower(res.TransactionHash),
		BlockNumber: blockNumber,
	}, nil
}
