package orchestrator

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/Hogen32/intmax2-mining-cli/internal/cooldown"
	"github.com/Hogen32/intmax2-mining-cli/internal/minerkey"
)

// keyPhase is the inner state of the per-key mining state machine.
type keyPhase uint8

const (
	phaseAwaitingDeposit keyPhase = iota
	phaseAwaitingSettlement
)

func (p keyPhase) String() string {
	switch p {
	case phaseAwaitingDeposit:
		return "awaiting-deposit"
	case phaseAwaitingSettlement:
		return "awaiting-settlement"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// keyState is the resumable per-key loop state: the current phase plus a
// retry counter reserved for a future backoff policy. Sync failures
// currently abort the run.
type keyState struct {
	phase   keyPhase
	retries int
}

type MiningConfig struct {
	// Unit is the fixed deposit amount per mining action, in wei.
	Unit *big.Int
	// Times is the maximum deposit count per key.
	Times uint64
	// MaxKeys bounds how many keys the loop processes before returning.
	// Zero means run until the context is cancelled.
	MaxKeys uint64
}

// MiningLoop drives the deposit-only mode: per derived key, deposit up to
// the quota, wait for settlement, then advance to the next key number.
type MiningLoop struct {
	cfg MiningConfig

	syncer   Syncer
	task     MiningTask
	balance  BalanceValidator
	cooldown *cooldown.Scheduler
	report   Reporter
	log      *slog.Logger
}

func NewMiningLoop(cfg MiningConfig, syncer Syncer, task MiningTask, balance BalanceValidator, cd *cooldown.Scheduler, report Reporter, log *slog.Logger) (*MiningLoop, error) {
	if syncer == nil || task == nil || balance == nil || cd == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.Unit == nil || cfg.Unit.Sign() <= 0 {
		return nil, fmt.Errorf("%w: Unit must be > 0", ErrInvalidConfig)
	}
	if cfg.Times == 0 {
		return nil, fmt.Errorf("%w: Times must be > 0", ErrInvalidConfig)
	}
	if report == nil {
		report = LogReporter{Log: log}
	}
	if log == nil {
		log = slog.Default()
	}
	return &MiningLoop{
		cfg:      cfg,
		syncer:   syncer,
		task:     task,
		balance:  balance,
		cooldown: cd,
		report:   report,
		log:      log,
	}, nil
}

// Run derives keys from the master withdrawal key starting at
// startKeyNumber and mines each to completion. Key advancement is strictly
// sequential; there is no natural termination unless MaxKeys is set.
func (l *MiningLoop) Run(ctx context.Context, master *ecdsa.PrivateKey, startKeyNumber uint64) error {
	keyNumber := startKeyNumber
	var processed uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		key, err := minerkey.Derive(master, keyNumber)
		if err != nil {
			return fmt.Errorf("orchestrator: derive key %d: %w", keyNumber, err)
		}
		next, err := l.runKey(ctx, key)
		if err != nil {
			return err
		}
		keyNumber = next
		processed++
		if l.cfg.MaxKeys > 0 && processed >= l.cfg.MaxKeys {
			return nil
		}
	}
}

// runKey mines one key until all deposits are made and settled, then
// returns the next key number.
func (l *MiningLoop) runKey(ctx context.Context, key minerkey.Key) (uint64, error) {
	l.report.Status(fmt.Sprintf("Mining loop for %s", key.DepositAddress.Hex()))

	status, err := l.syncer.SyncAndFetchAssets(ctx, key)
	if err != nil {
		return 0, wrapSync(key, err)
	}
	// Fatal to this key's run; no local recovery policy is layered yet.
	if err := l.balance.ValidateDepositAddressBalance(ctx, status, key.DepositAddress, l.cfg.Unit, l.cfg.Times); err != nil {
		return 0, fmt.Errorf("orchestrator: balance validation for %s: %w", key.DepositAddress.Hex(), err)
	}

	state := keyState{phase: phaseAwaitingDeposit}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		status, err := l.syncer.SyncAndFetchAssets(ctx, key)
		if err != nil {
			return 0, wrapSync(key, err)
		}
		if status.FullySettled(l.cfg.Times) {
			l.report.Status(fmt.Sprintf(
				"Max deposits %d reached for %s. Advancing to the next deposit address.",
				l.cfg.Times, key.DepositAddress.Hex(),
			))
			return key.Number + 1, nil
		}

		newDeposit := status.ShouldDeposit(l.cfg.Times)
		if newDeposit {
			state.phase = phaseAwaitingDeposit
		} else {
			state.phase = phaseAwaitingSettlement
		}
		l.log.Debug("mining iteration",
			"key_number", key.Number,
			"phase", state.phase.String(),
			"retries", state.retries,
			"new_deposit", newDeposit,
		)

		wantCooldown, err := l.task.Run(ctx, key, status, newDeposit, false, l.cfg.Unit)
		if err != nil {
			return 0, err
		}

		status, err = l.syncer.SyncAndFetchAssets(ctx, key)
		if err != nil {
			return 0, wrapSync(key, err)
		}
		l.report.Assets(key, status)

		if wantCooldown {
			if err := l.cooldown.Mining(ctx); err != nil {
				return 0, err
			}
		}
		if err := l.cooldown.Loop(ctx); err != nil {
			return 0, err
		}
	}
}
