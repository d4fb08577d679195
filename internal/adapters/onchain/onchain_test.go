package onchain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

const testCondition = "0x1111111111111111111111111111111111111111111111111111111111111111"

func TestHexToBytes32(t *testing.T) {
	b, err := hexToBytes32(testCondition)
	require.NoError(t, err)
	assert.Equal(t, byte(0x11), b[31])

	_, err = hexToBytes32("0xabc")
	assert.Error(t, err)
}

func TestRedeemCalldata_Standard(t *testing.T) {
	to, data, err := redeemCalldata(domain.RedeemCall{ConditionID: testCondition})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(ctfAddress), to)

	method := ctfABI.Methods["redeemPositions"]
	assert.Equal(t, method.ID, data[:4])

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(usdcEAddress), args[0].(common.Address))
	assert.Equal(t, []*big.Int{big.NewInt(1), big.NewInt(2)}, args[3].([]*big.Int))
}

func TestRedeemCalldata_NegRisk(t *testing.T) {
	to, data, err := redeemCalldata(domain.RedeemCall{
		ConditionID: testCondition,
		NegRisk:     true,
		Amounts:     []float64{0, 12.5},
	})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(negRiskAdapter), to)

	method := negRiskABI.Methods["redeemPositions"]
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	amounts := args[1].([]*big.Int)
	require.Len(t, amounts, 2)
	assert.Equal(t, int64(0), amounts[0].Int64())
	assert.Equal(t, int64(12_500_000), amounts[1].Int64())
}

func TestProxyCalldata_WrapsTarget(t *testing.T) {
	inner := []byte{0xde, 0xad, 0xbe, 0xef}
	target := common.HexToAddress(ctfAddress)

	data, err := proxyCalldata(target, inner)
	require.NoError(t, err)

	method := proxyABI.Methods["proxy"]
	assert.Equal(t, method.ID, data[:4])
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)

	calls := *abi.ConvertType(args[0], new([]proxyCall)).(*[]proxyCall)
	require.Len(t, calls, 1)
	assert.Equal(t, proxyCallTypeCall, calls[0].TypeCode)
	assert.Equal(t, target, calls[0].To)
	assert.Equal(t, inner, calls[0].Data)
}

type fakeChain struct {
	mu       sync.Mutex
	sent     []*types.Transaction
	status   uint64
	sendErr  error
	gasCalls int
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 7, nil }

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gasCalls++
	return big.NewInt(100), nil
}

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 0, errors.New("estimation unavailable")
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeChain) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: f.status, GasUsed: 21000}, nil
}

func newTestRedeemer(t *testing.T, chain *fakeChain, useProxy bool) *ProxyRedeemer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	r := NewProxyRedeemer(chain, key, useProxy)
	r.pollInterval = time.Millisecond
	r.receiptTimeout = time.Second
	return r
}

func TestProxyRedeemer_SendsThroughFactory(t *testing.T) {
	chain := &fakeChain{status: types.ReceiptStatusSuccessful}
	r := newTestRedeemer(t, chain, true)

	hash, err := r.Redeem(context.Background(), domain.RedeemCall{ConditionID: testCondition})

	require.NoError(t, err)
	require.Len(t, chain.sent, 1)
	tx := chain.sent[0]
	assert.Equal(t, tx.Hash().Hex(), hash)
	assert.Equal(t, common.HexToAddress(proxyWalletFactory), *tx.To())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, redeemGasLimit*12/10, tx.Gas())
	assert.Equal(t, big.NewInt(110), tx.GasPrice())
	assert.Equal(t, domain.PathProxy, r.Name())
}

func TestProxyRedeemer_DirectWithoutProxy(t *testing.T) {
	chain := &fakeChain{status: types.ReceiptStatusSuccessful}
	r := newTestRedeemer(t, chain, false)

	_, err := r.Redeem(context.Background(), domain.RedeemCall{ConditionID: testCondition})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(ctfAddress), *chain.sent[0].To())
}

func TestProxyRedeemer_Reverted(t *testing.T) {
	chain := &fakeChain{status: types.ReceiptStatusFailed}
	r := newTestRedeemer(t, chain, true)

	hash, err := r.Redeem(context.Background(), domain.RedeemCall{ConditionID: testCondition})
	require.Error(t, err)
	assert.NotEmpty(t, hash)
	assert.Contains(t, err.Error(), "reverted")
}

func TestProxyRedeemer_GasPriceCached(t *testing.T) {
	chain := &fakeChain{status: types.ReceiptStatusSuccessful}
	r := newTestRedeemer(t, chain, true)

	r.gasPrice(context.Background())
	r.gasPrice(context.Background())
	assert.Equal(t, 1, chain.gasCalls)
}

func TestRelayClient_SubmitsAndWaitsForMined(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	proxyWallet := "0x2222222222222222222222222222222222222222"
	relayAddr := "0x3333333333333333333333333333333333333333"

	var submitted relaySubmitRequest
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case relayPayloadPath:
			assert.Equal(t, "PROXY", r.URL.Query().Get("type"))
			json.NewEncoder(w).Encode(relayPayloadResponse{Address: relayAddr, Nonce: "5"})
		case relaySubmitPath:
			assert.NotEmpty(t, r.Header.Get("POLY_BUILDER_SIGNATURE"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
			json.NewEncoder(w).Encode(relayTransaction{TransactionID: "tx-1", State: "STATE_NEW"})
		case relayTxPath:
			polls++
			state := "STATE_EXECUTED"
			if polls >= 2 {
				state = stateMined
			}
			json.NewEncoder(w).Encode([]relayTransaction{{TransactionID: "tx-1", TransactionHash: "0xfeed", State: state}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	rc, err := NewRelayClient(RelayConfig{
		BaseURL:      srv.URL,
		APIKey:       "builder",
		Secret:       "c2VjcmV0",
		Passphrase:   "pp",
		PollInterval: time.Millisecond,
		Timeout:      time.Second,
	}, key, proxyWallet)
	require.NoError(t, err)

	hash, err := rc.Redeem(context.Background(), domain.RedeemCall{ConditionID: testCondition})

	require.NoError(t, err)
	assert.Equal(t, "0xfeed", hash)
	assert.Equal(t, domain.PathRelay, rc.Name())
	assert.Equal(t, "5", submitted.Nonce)
	assert.Equal(t, common.HexToAddress(proxyWalletFactory).Hex(), submitted.To)
	assert.Equal(t, common.HexToAddress(proxyWallet).Hex(), submitted.ProxyWallet)

	// The signature must recover to the signing EOA.
	data, err := hexutil.Decode(submitted.Data)
	require.NoError(t, err)
	digest := relayDigest(
		crypto.PubkeyToAddress(key.PublicKey),
		common.HexToAddress(proxyWalletFactory),
		data, big.NewInt(0), big.NewInt(0), new(big.Int).SetUint64(defaultRelayGasLimit), big.NewInt(5),
		common.HexToAddress(relayHubAddress), common.HexToAddress(relayAddr),
	)
	sig, err := hexutil.Decode(submitted.Signature)
	require.NoError(t, err)
	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(digest.Bytes()), sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(*pub))
}

func TestRelayClient_FailedState(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case relayPayloadPath:
			json.NewEncoder(w).Encode(relayPayloadResponse{Address: "0x3333333333333333333333333333333333333333", Nonce: "1"})
		case relaySubmitPath:
			json.NewEncoder(w).Encode(relayTransaction{TransactionID: "tx-9"})
		default:
			json.NewEncoder(w).Encode([]relayTransaction{{TransactionID: "tx-9", State: stateFailed}})
		}
	}))
	defer srv.Close()

	rc, err := NewRelayClient(RelayConfig{BaseURL: srv.URL, PollInterval: time.Millisecond, Timeout: time.Second},
		key, "0x2222222222222222222222222222222222222222")
	require.NoError(t, err)

	_, err = rc.Redeem(context.Background(), domain.RedeemCall{ConditionID: testCondition})
	require.Error(t, err)
	assert.Contains(t, err.Error(), stateFailed)
}
