package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/vaultlab/portfolio-engine/internal/model"
)

// Method selectors for the two vault views consulted during withdrawal
// completion.
var (
	balanceOfSelector     = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	pricePerShareSelector = crypto.Keccak256([]byte("pricePerShare()"))[:4]
)

// Reader performs synchronous on-chain reads. Withdrawal completion
// recomputes the user's balance from the live share balance and price per
// share rather than the event payload, because settlement fees are not
// reflected in the event.
type Reader struct {
	clients map[string]*ethclient.Client
}

// NewReader dials one RPC client per configured chain.
func NewReader(ctx context.Context, rpcURLs map[string]string) (*Reader, error) {
	clients := make(map[string]*ethclient.Client, len(rpcURLs))
	for chain, url := range rpcURLs {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("dial %s rpc: %w", chain, err)
		}
		clients[chain] = client
	}
	return &Reader{clients: clients}, nil
}

// Close releases all RPC connections.
func (r *Reader) Close() {
	for _, c := range r.clients {
		c.Close()
	}
}

// VaultBalance fetches the user's live share balance and the vault's
// current price per share. Errors are transient RPC failures; the caller
// rolls back the event transaction so a redelivery can retry.
func (r *Reader) VaultBalance(ctx context.Context, vault *model.Vault, userAddress string) (shares, pricePerShare decimal.Decimal, err error) {
	client, ok := r.clients[vault.Chain]
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("no rpc client for chain %s", vault.Chain)
	}

	contract := common.HexToAddress(vault.Address)
	user := common.HexToAddress(userAddress)

	calldata := make([]byte, 0, 36)
	calldata = append(calldata, balanceOfSelector...)
	calldata = append(calldata, common.LeftPadBytes(user.Bytes(), 32)...)

	rawShares, err := r.call(ctx, client, contract, calldata)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("balanceOf %s on %s: %w", userAddress, vault.Address, err)
	}

	rawPPS, err := r.call(ctx, client, contract, pricePerShareSelector)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("pricePerShare on %s: %w", vault.Address, err)
	}

	shares = decimal.NewFromBigInt(rawShares, -vault.ShareDecimals)
	pricePerShare = decimal.NewFromBigInt(rawPPS, -vault.ShareDecimals)
	return shares, pricePerShare, nil
}

func (r *Reader) call(ctx context.Context, client *ethclient.Client, to common.Address, data []byte) (*big.Int, error) {
	resp, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(resp) < 32 {
		return nil, fmt.Errorf("unexpected response size %d", len(resp))
	}
	return new(big.Int).SetBytes(resp[:32]), nil
}
