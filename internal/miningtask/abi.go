package miningtask

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Hogen32/intmax2-mining-cli/internal/assets"
)

var (
	initOnce sync.Once
	initErr  error

	liquidityABI abi.ABI
)

func initABI() error {
	initOnce.Do(func() {
		var err error
		liquidityABI, err = abi.JSON(strings.NewReader(liquidityABIJSON))
		if err != nil {
			initErr = fmt.Errorf("miningtask: parse liquidity ABI: %w", err)
		}
	})
	return initErr
}

// depositABI mirrors the contract's Deposit tuple.
type depositABI struct {
	RecipientSaltHash [32]byte
	TokenIndex        uint32
	Amount            *big.Int
}

func toDepositABI(d assets.Deposit) depositABI {
	amount := d.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	return depositABI{
		RecipientSaltHash: d.RecipientSaltHash,
		TokenIndex:        d.TokenIndex,
		Amount:            amount,
	}
}

// PackDepositCalldata packs depositNativeToken. The deposited amount
// rides as the transaction value.
func PackDepositCalldata(recipientSaltHash [32]byte) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	b, err := liquidityABI.Pack("depositNativeToken", recipientSaltHash)
	if err != nil {
		return nil, fmt.Errorf("miningtask: pack depositNativeToken: %w", err)
	}
	return b, nil
}

// PackCancelCalldata packs cancelDeposit for a rejected or still-pending
// deposit, identified by the nonce of the transaction that made it.
func PackCancelCalldata(depositNonce uint64, deposit assets.Deposit) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	b, err := liquidityABI.Pack("cancelDeposit", new(big.Int).SetUint64(depositNonce), toDepositABI(deposit))
	if err != nil {
		return nil, fmt.Errorf("miningtask: pack cancelDeposit: %w", err)
	}
	return b, nil
}

// PackWithdrawCalldata packs withdrawDeposit to the withdrawal address.
func PackWithdrawCalldata(deposit assets.Deposit, recipient common.Address) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	b, err := liquidityABI.Pack("withdrawDeposit", toDepositABI(deposit), recipient)
	if err != nil {
		return nil, fmt.Errorf("miningtask: pack withdrawDeposit: %w", err)
	}
	return b, nil
}

const liquidityABIJSON = `[
  {
    "type": "function",
    "name": "depositNativeToken",
    "stateMutability": "payable",
    "inputs": [
      {"name": "recipientSaltHash", "type": "bytes32"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "cancelDeposit",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "depositNonce", "type": "uint256"},
      {"name": "deposit", "type": "tuple", "components": [
        {"name": "recipientSaltHash", "type": "bytes32"},
        {"name": "tokenIndex", "type": "uint32"},
        {"name": "amount", "type": "uint256"}
      ]}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "withdrawDeposit",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "deposit", "type": "tuple", "components": [
        {"name": "recipientSaltHash", "type": "bytes32"},
        {"name": "tokenIndex", "type": "uint32"},
        {"name": "amount", "type": "uint256"}
      ]},
      {"name": "recipient", "type": "address"}
    ],
    "outputs": []
  }
]`
