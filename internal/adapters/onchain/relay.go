package onchain

// relay.go: gas-sponsored redemption through the Polymarket relayer.
//
// The relayer executes proxy-factory calls on behalf of the proxy wallet and
// pays the gas. The EOA only signs an "rlx:" digest over the call.

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

const (
	defaultRelayBase = "https://relayer-v2.polymarket.com"
	relayHubAddress  = "0xD216153c06E857cD7f72665E0aF1d7D82172F494"

	relayPayloadPath = "/relay-payload"
	relaySubmitPath  = "/submit"
	relayTxPath      = "/transaction"

	relayTxType          = "PROXY"
	defaultRelayGasLimit = uint64(10_000_000)
	defaultRelayTimeout  = 90 * time.Second
	defaultRelayPoll     = 2 * time.Second
)

// Relayer transaction states.
const (
	stateMined     = "STATE_MINED"
	stateConfirmed = "STATE_CONFIRMED"
	stateFailed    = "STATE_FAILED"
	stateInvalid   = "STATE_INVALID"
)

// RelayConfig configures the relayer client.
type RelayConfig struct {
	BaseURL string
	// Builder API credentials for the relayer.
	APIKey       string
	Secret       string
	Passphrase   string
	GasLimit     uint64
	Timeout      time.Duration
	PollInterval time.Duration
}

type relayPayloadResponse struct {
	Address string `json:"address"`
	Nonce   string `json:"nonce"`
}

type relaySignatureParams struct {
	GasPrice   string `json:"gasPrice"`
	GasLimit   string `json:"gasLimit"`
	RelayerFee string `json:"relayerFee"`
	RelayHub   string `json:"relayHub"`
	Relay      string `json:"relay"`
}

type relaySubmitRequest struct {
	From            string               `json:"from"`
	To              string               `json:"to"`
	ProxyWallet     string               `json:"proxyWallet"`
	Data            string               `json:"data"`
	Nonce           string               `json:"nonce"`
	Signature       string               `json:"signature"`
	SignatureParams relaySignatureParams `json:"signatureParams"`
	Type            string               `json:"type"`
	Metadata        string               `json:"metadata,omitempty"`
}

type relayTransaction struct {
	TransactionID   string `json:"transactionID"`
	TransactionHash string `json:"transactionHash"`
	State           string `json:"state"`
}

// RelayClient implements ports.Redeemer through the gas-sponsored relayer.
type RelayClient struct {
	http        *http.Client
	cfg         RelayConfig
	key         *ecdsa.PrivateKey
	address     common.Address
	proxyWallet common.Address
	now         func() time.Time
}

// NewRelayClient creates a relayer client for the proxy wallet owned by key.
func NewRelayClient(cfg RelayConfig, key *ecdsa.PrivateKey, proxyWallet string) (*RelayClient, error) {
	if !common.IsHexAddress(proxyWallet) {
		return nil, fmt.Errorf("relay: invalid proxy wallet %q", proxyWallet)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultRelayBase
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = defaultRelayGasLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRelayTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultRelayPoll
	}
	return &RelayClient{
		http:        &http.Client{Timeout: 10 * time.Second},
		cfg:         cfg,
		key:         key,
		address:     crypto.PubkeyToAddress(key.PublicKey),
		proxyWallet: common.HexToAddress(proxyWallet),
		now:         time.Now,
	}, nil
}

// Name identifies the path in settlement outcomes.
func (rc *RelayClient) Name() domain.SettlementPath {
	return domain.PathRelay
}

// Redeem submits the redemption to the relayer and waits until it is mined.
func (rc *RelayClient) Redeem(ctx context.Context, call domain.RedeemCall) (string, error) {
	target, inner, err := redeemCalldata(call)
	if err != nil {
		return "", fmt.Errorf("relay.Redeem: %w", err)
	}
	data, err := proxyCalldata(target, inner)
	if err != nil {
		return "", fmt.Errorf("relay.Redeem: %w", err)
	}

	payload, err := rc.relayPayload(ctx)
	if err != nil {
		return "", fmt.Errorf("relay.Redeem: payload: %w", err)
	}

	req, err := rc.buildRequest(payload, data)
	if err != nil {
		return "", fmt.Errorf("relay.Redeem: %w", err)
	}

	var submitted relayTransaction
	if err := rc.do(ctx, http.MethodPost, relaySubmitPath, req, &submitted); err != nil {
		return "", fmt.Errorf("relay.Redeem: submit: %w", err)
	}
	slog.Info("relay: redeem submitted",
		"condition", domain.TruncateStr(call.ConditionID, 12),
		"id", submitted.TransactionID,
		"state", submitted.State,
	)

	tx, err := rc.waitMined(ctx, submitted.TransactionID)
	if err != nil {
		return submitted.TransactionHash, fmt.Errorf("relay.Redeem: %w", err)
	}
	slog.Info("relay: redeem mined",
		"condition", domain.TruncateStr(call.ConditionID, 12),
		"tx", tx.TransactionHash,
	)
	return tx.TransactionHash, nil
}

func (rc *RelayClient) relayPayload(ctx context.Context) (relayPayloadResponse, error) {
	q := url.Values{}
	q.Set("address", rc.address.Hex())
	q.Set("type", relayTxType)

	var out relayPayloadResponse
	if err := rc.do(ctx, http.MethodGet, relayPayloadPath+"?"+q.Encode(), nil, &out); err != nil {
		return out, err
	}
	if !common.IsHexAddress(out.Address) {
		return out, fmt.Errorf("invalid relay address %q", out.Address)
	}
	return out, nil
}

// buildRequest signs the relay digest for data sent to the proxy factory.
func (rc *RelayClient) buildRequest(p relayPayloadResponse, data []byte) (relaySubmitRequest, error) {
	nonce, ok := new(big.Int).SetString(p.Nonce, 10)
	if !ok {
		return relaySubmitRequest{}, fmt.Errorf("invalid relay nonce %q", p.Nonce)
	}
	gasLimit := new(big.Int).SetUint64(rc.cfg.GasLimit)
	zero := big.NewInt(0)
	factory := common.HexToAddress(proxyWalletFactory)
	relay := common.HexToAddress(p.Address)

	digest := relayDigest(rc.address, factory, data, zero, zero, gasLimit, nonce, common.HexToAddress(relayHubAddress), relay)
	sig, err := crypto.Sign(accounts.TextHash(digest.Bytes()), rc.key)
	if err != nil {
		return relaySubmitRequest{}, fmt.Errorf("sign relay digest: %w", err)
	}
	sig[64] += 27

	return relaySubmitRequest{
		From:        rc.address.Hex(),
		To:          factory.Hex(),
		ProxyWallet: rc.proxyWallet.Hex(),
		Data:        hexutil.Encode(data),
		Nonce:       nonce.String(),
		Signature:   hexutil.Encode(sig),
		SignatureParams: relaySignatureParams{
			GasPrice:   "0",
			GasLimit:   gasLimit.String(),
			RelayerFee: "0",
			RelayHub:   relayHubAddress,
			Relay:      relay.Hex(),
		},
		Type:     relayTxType,
		Metadata: "redeem",
	}, nil
}

// relayDigest is keccak256("rlx:" ‖ from ‖ to ‖ data ‖ fee ‖ gasPrice ‖ gasLimit ‖ nonce ‖ hub ‖ relay).
func relayDigest(from, to common.Address, data []byte, fee, gasPrice, gasLimit, nonce *big.Int, hub, relay common.Address) common.Hash {
	var buf []byte
	buf = append(buf, []byte("rlx:")...)
	buf = append(buf, from.Bytes()...)
	buf = append(buf, to.Bytes()...)
	buf = append(buf, data...)
	buf = append(buf, common.LeftPadBytes(fee.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(gasPrice.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(gasLimit.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(nonce.Bytes(), 32)...)
	buf = append(buf, hub.Bytes()...)
	buf = append(buf, relay.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

func (rc *RelayClient) waitMined(ctx context.Context, id string) (relayTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, rc.cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(rc.cfg.PollInterval)
	defer ticker.Stop()

	path := relayTxPath + "?id=" + url.QueryEscape(id)
	for {
		select {
		case <-ctx.Done():
			return relayTransaction{}, fmt.Errorf("wait %s: %w", id, ctx.Err())
		case <-ticker.C:
			var txs []relayTransaction
			if err := rc.do(ctx, http.MethodGet, path, nil, &txs); err != nil {
				slog.Debug("relay: poll failed", "id", id, "err", err)
				continue
			}
			if len(txs) == 0 {
				continue
			}
			switch tx := txs[0]; tx.State {
			case stateMined, stateConfirmed:
				return tx, nil
			case stateFailed, stateInvalid:
				return tx, fmt.Errorf("relayer transaction %s %s", id, tx.State)
			}
		}
	}
}

// do sends a relayer request with builder auth headers.
func (rc *RelayClient) do(ctx context.Context, method, path string, body, out any) error {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rc.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if rc.cfg.APIKey != "" {
		pathOnly := path
		if i := strings.IndexByte(path, '?'); i >= 0 {
			pathOnly = path[:i]
		}
		headers, err := rc.builderHeaders(method, pathOnly, string(raw))
		if err != nil {
			return err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := rc.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (rc *RelayClient) builderHeaders(method, path, body string) (map[string]string, error) {
	ts := strconv.FormatInt(rc.now().Unix(), 10)
	secret, err := base64.URLEncoding.DecodeString(rc.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("relay: decode secret: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + strings.ToUpper(method) + path + body))
	return map[string]string{
		"POLY_BUILDER_API_KEY":    rc.cfg.APIKey,
		"POLY_BUILDER_PASSPHRASE": rc.cfg.Passphrase,
		"POLY_BUILDER_SIGNATURE":  base64.URLEncoding.EncodeToString(mac.Sum(nil)),
		"POLY_BUILDER_TIMESTAMP":  ts,
	}, nil
}
