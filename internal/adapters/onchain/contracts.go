package onchain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

const (
	polygonChainID = int64(137)

	// USDC.e collateral on Polygon
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	// CTF contract: holds conditional tokens (ERC1155)
	ctfAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	// NegRisk adapter: redeems neg-risk positions by per-outcome amounts
	negRiskAdapter = "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296"

	// Proxy wallet factory: executes calls on behalf of the user's proxy wallet
	proxyWalletFactory = "0xaB45c5A4B0c941a2F231C04C3f49182e1A254052"

	// proxy call type: plain CALL
	proxyCallTypeCall = uint8(1)
)

// Contract ABIs
var (
	ctfABI     abi.ABI
	negRiskABI abi.ABI
	proxyABI   abi.ABI
)

func init() {
	var err error

	ctfABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "redeemPositions",
			"type": "function",
			"inputs": [
				{"name": "collateralToken", "type": "address"},
				{"name": "parentCollectionId", "type": "bytes32"},
				{"name": "conditionId", "type": "bytes32"},
				{"name": "indexSets", "type": "uint256[]"}
			],
			"outputs": []
		}
	]`))
	if err != nil {
		panic("ctf abi parse: " + err.Error())
	}

	negRiskABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "redeemPositions",
			"type": "function",
			"inputs": [
				{"name": "_conditionId", "type": "bytes32"},
				{"name": "_amounts", "type": "uint256[]"}
			],
			"outputs": []
		}
	]`))
	if err != nil {
		panic("negrisk abi parse: " + err.Error())
	}

	proxyABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "proxy",
			"type": "function",
			"stateMutability": "payable",
			"inputs": [
				{
					"name": "calls",
					"type": "tuple[]",
					"components": [
						{"name": "typeCode", "type": "uint8"},
						{"name": "to", "type": "address"},
						{"name": "value", "type": "uint256"},
						{"name": "data", "type": "bytes"}
					]
				}
			],
			"outputs": [{"name": "returnValues", "type": "bytes[]"}]
		}
	]`))
	if err != nil {
		panic("proxy abi parse: " + err.Error())
	}
}

// proxyCall mirrors the factory's call tuple.
type proxyCall struct {
	TypeCode uint8
	To       common.Address
	Value    *big.Int
	Data     []byte
}

// redeemCalldata returns the contract and calldata that redeem call.
// Standard markets redeem both index sets on the CTF; neg-risk markets go
// through the adapter with explicit per-outcome amounts.
func redeemCalldata(call domain.RedeemCall) (common.Address, []byte, error) {
	condBytes, err := hexToBytes32(call.ConditionID)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("invalid conditionID: %w", err)
	}

	if call.NegRisk {
		amounts := []*big.Int{big.NewInt(0), big.NewInt(0)}
		for i, a := range call.Amounts {
			if i >= len(amounts) {
				break
			}
			amounts[i] = toBaseUnits(a)
		}
		data, err := negRiskABI.Pack("redeemPositions", condBytes, amounts)
		if err != nil {
			return common.Address{}, nil, fmt.Errorf("pack negrisk redeem: %w", err)
		}
		return common.HexToAddress(negRiskAdapter), data, nil
	}

	indexSets := []*big.Int{big.NewInt(1), big.NewInt(2)}
	data, err := ctfABI.Pack("redeemPositions",
		common.HexToAddress(usdcEAddress),
		[32]byte{},
		condBytes,
		indexSets,
	)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("pack ctf redeem: %w", err)
	}
	return common.HexToAddress(ctfAddress), data, nil
}

// proxyCalldata wraps a call to target in the proxy factory's proxy(calls).
func proxyCalldata(target common.Address, data []byte) ([]byte, error) {
	calls := []proxyCall{{
		TypeCode: proxyCallTypeCall,
		To:       target,
		Value:    big.NewInt(0),
		Data:     data,
	}}
	out, err := proxyABI.Pack("proxy", calls)
	if err != nil {
		return nil, fmt.Errorf("pack proxy call: %w", err)
	}
	return out, nil
}

// toBaseUnits converts shares to 6-decimal token units.
func toBaseUnits(shares float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(shares), big.NewFloat(1e6))
	i, _ := f.Int(nil)
	return i
}

// hexToBytes32 converts a 0x-prefixed hex string to [32]byte.
func hexToBytes32(s string) ([32]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("expected 64 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	var arr [32]byte
	copy(arr[:], b)
	return arr, nil
}
