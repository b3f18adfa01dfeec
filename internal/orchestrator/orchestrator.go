package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Hogen32/intmax2-mining-cli/internal/assets"
	"github.com/Hogen32/intmax2-mining-cli/internal/minerkey"
)

var (
	ErrInvalidConfig = errors.New("orchestrator: invalid config")
	// ErrSync wraps a failed assets resync with the key it was for.
	ErrSync = errors.New("orchestrator: assets sync failed")
)

// Syncer resynchronizes chain-observed state for a key and returns a fresh
// snapshot. Loops always resync before deciding; snapshots are never
// mutated, only replaced.
type Syncer interface {
	SyncAndFetchAssets(ctx context.Context, key minerkey.Key) (assets.Status, error)
}

// MiningTask performs the deposit/withdraw/cancel side effect for one
// iteration. The returned bool requests a randomized privacy cooldown,
// typically after a deposit submission.
type MiningTask interface {
	Run(ctx context.Context, key minerkey.Key, status assets.Status, newDeposit, isExit bool, unit *big.Int) (bool, error)
}

// ClaimTask builds claim witnesses for the snapshot's unclaimed deposits
// and forwards them to the proving collaborator.
type ClaimTask interface {
	Run(ctx context.Context, key minerkey.Key, status assets.Status) error
}

// BalanceValidator pre-flight checks that the deposit address can fund the
// planned deposits.
type BalanceValidator interface {
	ValidateDepositAddressBalance(ctx context.Context, status assets.Status, address common.Address, unit *big.Int, times uint64) error
}

// Reporter is the presentation sink. Calls are fire-and-forget; no return
// value is consumed by the loops.
type Reporter interface {
	Status(msg string)
	Warn(msg string)
	Assets(key minerkey.Key, status assets.Status)
}

// LogReporter reports through a slog.Logger.
type LogReporter struct {
	Log *slog.Logger
}

func (r LogReporter) logger() *slog.Logger {
	if r.Log == nil {
		return slog.Default()
	}
	return r.Log
}

func (r LogReporter) Status(msg string) {
	r.logger().Info(msg)
}

func (r LogReporter) Warn(msg string) {
	r.logger().Warn(msg)
}

func (r LogReporter) Assets(key minerkey.Key, status assets.Status) {
	r.logger().Info("assets status",
		"deposit_address", key.DepositAddress.Hex(),
		"key_number", key.Number,
		"deposits", len(status.SendersDeposits),
		"pending", len(status.PendingIndices),
		"rejected", len(status.RejectedIndices),
		"not_withdrawn", len(status.NotWithdrawnIndices),
		"not_claimed", len(status.NotClaimedIndices),
	)
}

func wrapSync(key minerkey.Key, err error) error {
	return fmt.Errorf("%w: fetching assets status for %s: %w", ErrSync, key.DepositAddress.Hex(), err)
}
