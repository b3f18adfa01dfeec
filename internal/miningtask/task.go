// Package miningtask performs the chain side effects the mining and exit
// loops decide on: submitting deposits, cancelling rejected ones, and
// withdrawing settled ones.
package miningtask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Hogen32/intmax2-mining-cli/internal/assets"
	"github.com/Hogen32/intmax2-mining-cli/internal/events"
	"github.com/Hogen32/intmax2-mining-cli/internal/minerkey"
)

var ErrInvalidConfig = errors.New("miningtask: invalid config")

// Depositor submits and cancels deposits on the liquidity contract.
type Depositor interface {
	SubmitDeposit(ctx context.Context, key minerkey.Key, amount *big.Int) (assets.DepositEvent, error)
	CancelDeposit(ctx context.Context, key minerkey.Key, event assets.DepositEvent) error
}

// Withdrawer moves a settled deposit out to the withdrawal address.
type Withdrawer interface {
	Withdraw(ctx context.Context, key minerkey.Key, event assets.DepositEvent) error
}

// Recorder persists the outcome of each side effect so the next sync
// sees it.
type Recorder interface {
	ObserveDeposit(ctx context.Context, sender common.Address, event assets.DepositEvent, stage events.Stage) error
	MarkWithdrawn(ctx context.Context, sender common.Address, txNonce uint64) error
	MarkCancelled(ctx context.Context, sender common.Address, txNonce uint64) error
}

type Config struct {
	Deposits    Depositor
	Withdrawals Withdrawer
	Recorder    Recorder

	Log *slog.Logger
}

type Task struct {
	cfg Config
}

func New(cfg Config) (*Task, error) {
	if cfg.Deposits == nil || cfg.Withdrawals == nil || cfg.Recorder == nil {
		return nil, fmt.Errorf("%w: deposits, withdrawals, and recorder are required", ErrInvalidConfig)
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Task{cfg: cfg}, nil
}

// Run settles one key's outstanding chain work. Rejected deposits are
// cancelled, settled deposits withdrawn, and in exit mode pending
// deposits are cancelled too. A new deposit is only made outside exit
// mode; the returned bool asks the loop for a mining cooldown after one.
func (t *Task) Run(ctx context.Context, key minerkey.Key, status assets.Status, newDeposit, isExit bool, unit *big.Int) (bool, error) {
	sender := key.DepositAddress

	for _, event := range status.EventsAt(status.RejectedIndices) {
		if err := t.cfg.Deposits.CancelDeposit(ctx, key, event); err != nil {
			return false, fmt.Errorf("miningtask: cancel rejected deposit nonce %d: %w", event.TxNonce, err)
		}
		if err := t.cfg.Recorder.MarkCancelled(ctx, sender, event.TxNonce); err != nil {
			return false, fmt.Errorf("miningtask: record cancel of nonce %d: %w", event.TxNonce, err)
		}
		t.cfg.Log.Info("rejected deposit cancelled", "sender", sender.Hex(), "tx_nonce", event.TxNonce)
	}

	if isExit {
		for _, event := range status.EventsAt(status.PendingIndices) {
			if err := t.cfg.Deposits.CancelDeposit(ctx, key, event); err != nil {
				return false, fmt.Errorf("miningtask: cancel pending deposit nonce %d: %w", event.TxNonce, err)
			}
			if err := t.cfg.Recorder.MarkCancelled(ctx, sender, event.TxNonce); err != nil {
				return false, fmt.Errorf("miningtask: record cancel of nonce %d: %w", event.TxNonce, err)
			}
			t.cfg.Log.Info("pending deposit cancelled on exit", "sender", sender.Hex(), "tx_nonce", event.TxNonce)
		}
	}

	for _, event := range status.EventsAt(status.NotWithdrawnIndices) {
		if err := t.cfg.Withdrawals.Withdraw(ctx, key, event); err != nil {
			return false, fmt.Errorf("miningtask: withdraw deposit nonce %d: %w", event.TxNonce, err)
		}
		if err := t.cfg.Recorder.MarkWithdrawn(ctx, sender, event.TxNonce); err != nil {
			return false, fmt.Errorf("miningtask: record withdrawal of nonce %d: %w", event.TxNonce, err)
		}
		t.cfg.Log.Info("deposit withdrawn", "sender", sender.Hex(), "tx_nonce", event.TxNonce)
	}

	if newDeposit && !isExit {
		event, err := t.cfg.Deposits.SubmitDeposit(ctx, key, unit)
		if err != nil {
			return false, fmt.Errorf("miningtask: submit deposit: %w", err)
		}
		if err := t.cfg.Recorder.ObserveDeposit(ctx, sender, event, events.StagePending); err != nil {
			return false, fmt.Errorf("miningtask: record deposit nonce %d: %w", event.TxNonce, err)
		}
		t.cfg.Log.Info("deposit submitted",
			"sender", sender.Hex(),
			"tx_nonce", event.TxNonce,
			"amount", unit.String(),
		)
		return true, nil
	}
	return false, nil
}
