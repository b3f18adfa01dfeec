// Package chain wraps the Ethereum JSON-RPC surface the miner needs:
// balance pre-flight checks, receipt polling, and draining a deposit
// address back to the withdrawal address.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Hogen32/intmax2-mining-cli/internal/assets"
)

var (
	ErrInvalidConfig       = errors.New("chain: invalid config")
	ErrInsufficientBalance = errors.New("chain: insufficient balance")
	ErrReceiptTimeout      = errors.New("chain: transaction receipt not found in time")
	ErrTxReverted          = errors.New("chain: transaction reverted")
	ErrNothingToDrain      = errors.New("chain: balance does not cover drain gas")
)

const transferGasLimit = 21_000

// Backend is the subset of ethclient.Client the miner uses.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Config struct {
	ChainID *big.Int

	// GasAllowance is reserved on top of the deposit budget so the key can
	// still pay for its own follow-up transactions.
	GasAllowance *big.Int

	// MinTipCap floors the suggested priority fee.
	MinTipCap *big.Int

	// GasLimitMultiplier pads estimated gas. Defaults to 1.2.
	GasLimitMultiplier float64

	// ReceiptAttempts x ReceiptInterval bounds how long a transaction is
	// polled for. Defaults: 20 attempts, 10s apart.
	ReceiptAttempts int
	ReceiptInterval time.Duration

	Log   *slog.Logger
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client layers the miner's chain operations over a Backend.
type Client struct {
	backend Backend
	cfg     Config
}

func NewClient(backend Backend, cfg Config) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id must be positive", ErrInvalidConfig)
	}
	if cfg.GasAllowance == nil || cfg.GasAllowance.Sign() < 0 {
		return nil, fmt.Errorf("%w: gas allowance must be non-negative", ErrInvalidConfig)
	}
	if cfg.MinTipCap == nil {
		cfg.MinTipCap = big.NewInt(0)
	}
	if cfg.GasLimitMultiplier <= 0 {
		cfg.GasLimitMultiplier = 1.2
	}
	if cfg.ReceiptAttempts <= 0 {
		cfg.ReceiptAttempts = 20
	}
	if cfg.ReceiptInterval <= 0 {
		cfg.ReceiptInterval = 10 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Client{backend: backend, cfg: cfg}, nil
}

// ValidateDepositAddressBalance checks that the address can fund every
// deposit it still owes plus the configured gas allowance. Deposits that
// are already pending count against the remainder.
func (c *Client) ValidateDepositAddressBalance(ctx context.Context, status assets.Status, address common.Address, unit *big.Int, times uint64) error {
	settledOrPending := uint64(len(status.SendersDeposits))
	var remaining uint64
	if settledOrPending < times {
		remaining = times - settledOrPending
	}
	need := new(big.Int).Mul(unit, new(big.Int).SetUint64(remaining))
	need.Add(need, c.cfg.GasAllowance)

	balance, err := c.backend.BalanceAt(ctx, address, nil)
	if err != nil {
		return fmt.Errorf("chain: balance of %s: %w", address.Hex(), err)
	}
	if balance.Cmp(need) < 0 {
		return fmt.Errorf("%w: %s has %s wei, needs %s wei for %d more deposits",
			ErrInsufficientBalance, address.Hex(), balance, need, remaining)
	}
	return nil
}

// WaitReceipt polls for a transaction receipt until it lands or the
// attempt budget is exhausted. A reverted receipt is an error.
func (c *Client) WaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	for attempt := 0; attempt < c.cfg.ReceiptAttempts; attempt++ {
		if attempt > 0 {
			if err := c.cfg.Sleep(ctx, c.cfg.ReceiptInterval); err != nil {
				return nil, err
			}
		}
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err != nil {
			c.cfg.Log.Debug("receipt not available yet", "tx", txHash.Hex(), "attempt", attempt+1)
			continue
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return receipt, fmt.Errorf("%w: %s", ErrTxReverted, txHash.Hex())
		}
		return receipt, nil
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrReceiptTimeout, txHash.Hex(), c.cfg.ReceiptAttempts)
}

// SuggestFees returns EIP-1559 caps from the latest base fee:
// tip = max(suggested, MinTipCap), feeCap = 2*baseFee + tip.
func (c *Client) SuggestFees(ctx context.Context) (tipCap, feeCap *big.Int, err error) {
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: suggest tip cap: %w", err)
	}
	if tip.Cmp(c.cfg.MinTipCap) < 0 {
		tip = new(big.Int).Set(c.cfg.MinTipCap)
	}
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: latest header: %w", err)
	}
	if header.BaseFee == nil {
		return nil, nil, errors.New("chain: latest header has no base fee")
	}
	fee := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	fee.Add(fee, tip)
	return tip, fee, nil
}

// PendingNonce returns the next nonce the address would use. Callers
// that derive per-transaction material from the nonce fetch it before
// sending.
func (c *Client) PendingNonce(ctx context.Context, address common.Address) (uint64, error) {
	nonce, err := c.backend.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("chain: pending nonce of %s: %w", address.Hex(), err)
	}
	return nonce, nil
}

// TxRequest is one contract call or transfer to be signed and sent.
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int

	// GasLimit overrides estimation when non-zero.
	GasLimit uint64
}

// SendTx signs and submits a transaction from the given key and waits
// for its receipt.
func (c *Client) SendTx(ctx context.Context, from *ecdsa.PrivateKey, req TxRequest) (*types.Receipt, error) {
	sender := crypto.PubkeyToAddress(from.PublicKey)
	if req.Value == nil {
		req.Value = big.NewInt(0)
	}

	tipCap, feeCap, err := c.SuggestFees(ctx)
	if err != nil {
		return nil, err
	}
	gasLimit := req.GasLimit
	if gasLimit == 0 {
		estimated, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  sender,
			To:    &req.To,
			Value: req.Value,
			Data:  req.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("chain: estimate gas: %w", err)
		}
		gasLimit = uint64(float64(estimated) * c.cfg.GasLimitMultiplier)
	}
	nonce, err := c.backend.PendingNonceAt(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("chain: pending nonce of %s: %w", sender.Hex(), err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &req.To,
		Value:     req.Value,
		Data:      req.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.cfg.ChainID), from)
	if err != nil {
		return nil, fmt.Errorf("chain: sign tx: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("chain: send tx: %w", err)
	}
	c.cfg.Log.Debug("transaction sent",
		"from", sender.Hex(),
		"to", req.To.Hex(),
		"nonce", nonce,
		"tx", signed.Hash().Hex(),
	)
	return c.WaitReceipt(ctx, signed.Hash())
}

// DrainBalance sends the address's whole balance, minus the worst-case
// gas cost of the transfer itself, to the recipient and waits for the
// receipt. Used when a key retires so no dust stays behind.
func (c *Client) DrainBalance(ctx context.Context, from *ecdsa.PrivateKey, to common.Address) (*types.Receipt, error) {
	sender := crypto.PubkeyToAddress(from.PublicKey)

	balance, err := c.backend.BalanceAt(ctx, sender, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: balance of %s: %w", sender.Hex(), err)
	}
	tipCap, feeCap, err := c.SuggestFees(ctx)
	if err != nil {
		return nil, err
	}

	gasCost := new(big.Int).Mul(feeCap, big.NewInt(transferGasLimit))
	value := new(big.Int).Sub(balance, gasCost)
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s holds %s wei, transfer costs up to %s wei",
			ErrNothingToDrain, sender.Hex(), balance, gasCost)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("chain: pending nonce of %s: %w", sender.Hex(), err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       transferGasLimit,
		To:        &to,
		Value:     value,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.cfg.ChainID), from)
	if err != nil {
		return nil, fmt.Errorf("chain: sign drain tx: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("chain: send drain tx: %w", err)
	}
	c.cfg.Log.Info("draining deposit address",
		"from", sender.Hex(),
		"to", to.Hex(),
		"value", value.String(),
		"tx", signed.Hash().Hex(),
	)
	return c.WaitReceipt(ctx, signed.Hash())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
