package onchain

// redeem.go: direct on-chain redemption of resolved positions.
//
// When a proxy wallet holds the tokens, the redeem call is wrapped in the
// proxy factory's proxy(calls) and sent from the signing EOA, which pays gas
// in POL. Without a proxy the EOA calls the target contract itself.

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

const (
	// Gas limit fallback when estimation fails
	redeemGasLimit = uint64(300_000)

	// Gas price cache lifetime
	gasPriceUpdateInterval = 5 * time.Minute

	defaultReceiptTimeout = 60 * time.Second
	defaultPollInterval   = 3 * time.Second
)

// ChainClient is the subset of ethclient.Client used to send transactions.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ProxyRedeemer implements ports.Redeemer by sending its own transactions.
type ProxyRedeemer struct {
	client   ChainClient
	key      *ecdsa.PrivateKey
	address  common.Address
	useProxy bool

	receiptTimeout time.Duration
	pollInterval   time.Duration

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// NewProxyRedeemer creates a redeemer. useProxy selects the proxy-factory
// wrapping, which is required when positions live in a proxy wallet.
func NewProxyRedeemer(client ChainClient, key *ecdsa.PrivateKey, useProxy bool) *ProxyRedeemer {
	return &ProxyRedeemer{
		client:         client,
		key:            key,
		address:        crypto.PubkeyToAddress(key.PublicKey),
		useProxy:       useProxy,
		receiptTimeout: defaultReceiptTimeout,
		pollInterval:   defaultPollInterval,
	}
}

// Name identifies the path in settlement outcomes.
func (r *ProxyRedeemer) Name() domain.SettlementPath {
	return domain.PathProxy
}

// Redeem sends the redemption and waits for a successful receipt.
func (r *ProxyRedeemer) Redeem(ctx context.Context, call domain.RedeemCall) (string, error) {
	target, data, err := redeemCalldata(call)
	if err != nil {
		return "", fmt.Errorf("onchain.Redeem: %w", err)
	}
	to := target
	if r.useProxy {
		data, err = proxyCalldata(target, data)
		if err != nil {
			return "", fmt.Errorf("onchain.Redeem: %w", err)
		}
		to = common.HexToAddress(proxyWalletFactory)
	}

	nonce, err := r.client.PendingNonceAt(ctx, r.address)
	if err != nil {
		return "", fmt.Errorf("onchain.Redeem: nonce: %w", err)
	}

	gasPrice := r.gasPrice(ctx)

	gasEstimate, err := r.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     r.address,
		To:       &to,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		gasEstimate = redeemGasLimit
		slog.Warn("onchain: gas estimate failed, using default", "err", err, "limit", redeemGasLimit)
	}
	// 20% buffer
	gasEstimate = gasEstimate * 12 / 10

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasEstimate, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(polygonChainID)), r.key)
	if err != nil {
		return "", fmt.Errorf("onchain.Redeem: sign tx: %w", err)
	}

	if err := r.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("onchain.Redeem: send tx: %w", err)
	}

	txHash := signedTx.Hash().Hex()
	slog.Info("onchain: redeem sent",
		"condition", domain.TruncateStr(call.ConditionID, 12),
		"neg_risk", call.NegRisk,
		"proxy", r.useProxy,
		"tx", txHash,
	)

	receiptCtx, cancel := context.WithTimeout(ctx, r.receiptTimeout)
	defer cancel()

	receipt, err := r.waitForReceipt(receiptCtx, signedTx.Hash())
	if err != nil {
		return txHash, fmt.Errorf("onchain.Redeem: unconfirmed %s: %w", txHash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return txHash, fmt.Errorf("onchain.Redeem: tx reverted: %s", txHash)
	}

	slog.Info("onchain: redeem confirmed",
		"condition", domain.TruncateStr(call.ConditionID, 12),
		"tx", txHash,
		"gas_used", receipt.GasUsed,
	)
	return txHash, nil
}

// gasPrice returns the current gas price, cached to avoid excessive RPC calls.
func (r *ProxyRedeemer) gasPrice(ctx context.Context) *big.Int {
	r.mu.RLock()
	cached := r.cachedGasWei
	updatedAt := r.gasUpdatedAt
	r.mu.RUnlock()

	if cached != nil && time.Since(updatedAt) < gasPriceUpdateInterval {
		return cached
	}

	price, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached
		}
		return big.NewInt(30_000_000_000) // 30 gwei fallback
	}

	// 10% buffer for faster inclusion (copy to avoid mutating the RPC's value)
	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	r.mu.Lock()
	r.cachedGasWei = buffered
	r.gasUpdatedAt = time.Now()
	r.mu.Unlock()

	return buffered
}

// waitForReceipt polls for a transaction receipt until confirmed or timeout.
func (r *ProxyRedeemer) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := r.client.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not yet mined
			}
			return receipt, nil
		}
	}
}
