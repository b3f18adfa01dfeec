package miningtask

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Hogen32/intmax2-mining-cli/internal/assets"
	"github.com/Hogen32/intmax2-mining-cli/internal/chain"
	"github.com/Hogen32/intmax2-mining-cli/internal/minerkey"
)

// Contract drives the liquidity contract through a chain client. It
// implements both Depositor and Withdrawer.
type Contract struct {
	client  *chain.Client
	address common.Address
	log     *slog.Logger
}

func NewContract(client *chain.Client, address common.Address, log *slog.Logger) (*Contract, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: chain client is required", ErrInvalidConfig)
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero contract address", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Contract{client: client, address: address, log: log}, nil
}

// SubmitDeposit sends one deposit of the given amount. The recipient
// salt is derived from the transaction nonce, so the claim built later
// for this deposit reproduces the same commitment.
func (c *Contract) SubmitDeposit(ctx context.Context, key minerkey.Key, amount *big.Int) (assets.DepositEvent, error) {
	nonce, err := c.client.PendingNonce(ctx, key.DepositAddress)
	if err != nil {
		return assets.DepositEvent{}, err
	}
	salt := key.ClaimSalt(nonce)
	var saltHash [32]byte
	copy(saltHash[:], crypto.Keccak256(key.Pubkey(), salt[:]))

	data, err := PackDepositCalldata(saltHash)
	if err != nil {
		return assets.DepositEvent{}, err
	}
	receipt, err := c.client.SendTx(ctx, key.DepositPrivateKey, chain.TxRequest{
		To:    c.address,
		Data:  data,
		Value: amount,
	})
	if err != nil {
		return assets.DepositEvent{}, fmt.Errorf("miningtask: deposit tx: %w", err)
	}
	c.log.Debug("deposit transaction mined", "sender", key.DepositAddress.Hex(), "tx", receipt.TxHash.Hex())

	return assets.DepositEvent{
		Deposit: assets.Deposit{
			RecipientSaltHash: saltHash,
			TokenIndex:        0,
			Amount:            new(big.Int).Set(amount),
		},
		TxNonce: nonce,
	}, nil
}

func (c *Contract) CancelDeposit(ctx context.Context, key minerkey.Key, event assets.DepositEvent) error {
	data, err := PackCancelCalldata(event.TxNonce, event.Deposit)
	if err != nil {
		return err
	}
	receipt, err := c.client.SendTx(ctx, key.DepositPrivateKey, chain.TxRequest{To: c.address, Data: data})
	if err != nil {
		return fmt.Errorf("miningtask: cancel tx: %w", err)
	}
	c.log.Debug("cancel transaction mined", "sender", key.DepositAddress.Hex(), "tx", receipt.TxHash.Hex())
	return nil
}

func (c *Contract) Withdraw(ctx context.Context, key minerkey.Key, event assets.DepositEvent) error {
	data, err := PackWithdrawCalldata(event.Deposit, key.WithdrawalAddress)
	if err != nil {
		return err
	}
	receipt, err := c.client.SendTx(ctx, key.DepositPrivateKey, chain.TxRequest{To: c.address, Data: data})
	if err != nil {
		return fmt.Errorf("miningtask: withdraw tx: %w", err)
	}
	c.log.Debug("withdraw transaction mined", "sender", key.DepositAddress.Hex(), "tx", receipt.TxHash.Hex())
	return nil
}

var (
	_ Depositor  = (*Contract)(nil)
	_ Withdrawer = (*Contract)(nil)
)
