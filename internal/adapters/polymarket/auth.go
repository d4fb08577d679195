package polymarket

// auth.go: Polymarket CLOB authenticated client.
//
// Implements two-level authentication:
//   L1: EIP-712 signature with wallet private key → derive API credentials
//   L2: HMAC-SHA256 signing of every authenticated request

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
)

const (
	polygonChainID = int64(137)

	// CLOB EIP-712 auth domain
	clobDomainName    = "ClobAuthDomain"
	clobDomainVersion = "1"
	// Message signed for deriving API keys
	clobAuthMessage = "This message attests that I control the given wallet"

	// Taker address: zero address = public order
	zeroAddress = "0x0000000000000000000000000000000000000000"

	deriveKeyPath = "/auth/derive-api-key"
)

// Signature types understood by the exchange contracts.
const (
	SigEOA        = 0
	SigPolyProxy  = 1
	SigGnosisSafe = 2
)

// AuthConfig configures the trading identity.
type AuthConfig struct {
	PrivateKey string // hex, with or without 0x
	// Funder is the proxy wallet that holds the funds. Empty = the EOA itself.
	Funder        string
	SignatureType int // only used with Funder; 0 defaults to POLY_PROXY
	// Pre-provisioned L2 credentials. When empty they are derived via L1.
	APIKey        string
	APISecret     string
	APIPassphrase string
}

// apiCredentials holds the CLOB API credentials derived from a wallet.
type apiCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// AuthClient wraps the base Client with L1/L2 auth and order signing.
// It satisfies ports.Exchange.
type AuthClient struct {
	*Client
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	maker        common.Address
	sigType      int
	orderBuilder builder.ExchangeOrderBuilder
	now          func() time.Time

	mu    sync.Mutex
	creds *apiCredentials
}

// NewAuthClient creates an authenticated trading client on top of client.
func NewAuthClient(client *Client, cfg AuthConfig) (*AuthClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("auth: invalid private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	ac := &AuthClient{
		Client:       client,
		privateKey:   key,
		address:      addr,
		maker:        addr,
		sigType:      SigEOA,
		orderBuilder: builder.NewExchangeOrderBuilderImpl(big.NewInt(polygonChainID), nil),
		now:          time.Now,
	}

	if cfg.Funder != "" {
		if !common.IsHexAddress(cfg.Funder) {
			return nil, fmt.Errorf("auth: invalid funder address %q", cfg.Funder)
		}
		ac.maker = common.HexToAddress(cfg.Funder)
		ac.sigType = cfg.SignatureType
		if ac.sigType == SigEOA {
			ac.sigType = SigPolyProxy
		}
	}

	if cfg.APIKey != "" && cfg.APISecret != "" {
		ac.creds = &apiCredentials{APIKey: cfg.APIKey, Secret: cfg.APISecret, Passphrase: cfg.APIPassphrase}
	}
	return ac, nil
}

// Address returns the signing (EOA) address.
func (ac *AuthClient) Address() string {
	return ac.address.Hex()
}

// Funder returns the address that holds positions: the proxy wallet when
// configured, otherwise the EOA.
func (ac *AuthClient) Funder() string {
	return ac.maker.Hex()
}

// PrivateKey exposes the signing key to the settlement adapters.
func (ac *AuthClient) PrivateKey() *ecdsa.PrivateKey {
	return ac.privateKey
}

// EnsureCreds derives API credentials via L1 auth if none are cached.
func (ac *AuthClient) EnsureCreds(ctx context.Context) error {
	_, err := ac.ensureCreds(ctx)
	return err
}

func (ac *AuthClient) ensureCreds(ctx context.Context) (*apiCredentials, error) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.creds != nil {
		return ac.creds, nil
	}

	ts := strconv.FormatInt(ac.now().Unix(), 10)
	sig, err := ac.signClobAuth(ts, "0")
	if err != nil {
		return nil, fmt.Errorf("auth: sign l1: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ac.clobBase+deriveKeyPath, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: derive-api-key request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", ac.address.Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", ts)
	req.Header.Set("POLY_NONCE", "0")

	resp, err := ac.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: derive-api-key: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: derive-api-key status %d: %s", resp.StatusCode, body)
	}

	var creds apiCredentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return nil, fmt.Errorf("auth: parse creds: %w", err)
	}
	ac.creds = &creds
	return ac.creds, nil
}

// EIP-712 type hashes (computed once).
var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)",
	))
	clobAuthTypeHash = crypto.Keccak256Hash([]byte(
		"ClobAuth(address address,string timestamp,uint256 nonce,string message)",
	))
)

// clobAuthDomainSeparator computes the EIP-712 domain separator for ClobAuthDomain.
func clobAuthDomainSeparator() common.Hash {
	var buf []byte
	buf = append(buf, eip712DomainTypeHash.Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainName)).Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainVersion)).Bytes()...)
	buf = append(buf, common.LeftPadBytes(big.NewInt(polygonChainID).Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// signClobAuth signs the ClobAuth EIP-712 typed data for L1 auth.
func (ac *AuthClient) signClobAuth(timestamp, nonce string) (string, error) {
	nonceInt, ok := new(big.Int).SetString(nonce, 10)
	if !ok {
		return "", fmt.Errorf("invalid nonce: %s", nonce)
	}

	var structBuf []byte
	structBuf = append(structBuf, clobAuthTypeHash.Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(ac.address.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(timestamp)).Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(nonceInt.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(clobAuthMessage)).Bytes()...)
	structHash := crypto.Keccak256Hash(structBuf)

	var rawBuf []byte
	rawBuf = append(rawBuf, 0x19, 0x01)
	rawBuf = append(rawBuf, clobAuthDomainSeparator().Bytes()...)
	rawBuf = append(rawBuf, structHash.Bytes()...)
	msgHash := crypto.Keccak256Hash(rawBuf)

	sig, err := crypto.Sign(msgHash.Bytes(), ac.privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + fmt.Sprintf("%x", sig), nil
}

// l2Headers returns the authenticated headers for an L2 API call.
// The HMAC covers timestamp + METHOD + path + body.
func (ac *AuthClient) l2Headers(creds *apiCredentials, method, path, body string) (map[string]string, error) {
	if creds == nil {
		return nil, fmt.Errorf("auth: credentials not derived yet")
	}

	ts := strconv.FormatInt(ac.now().Unix(), 10)
	msg := ts + strings.ToUpper(method) + path + body

	secretBytes, err := base64.URLEncoding.DecodeString(creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("auth: decode secret: %w", err)
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(msg))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"POLY_ADDRESS":    ac.address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    creds.APIKey,
		"POLY_PASSPHRASE": creds.Passphrase,
	}, nil
}
