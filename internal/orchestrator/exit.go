package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/Hogen32/intmax2-mining-cli/internal/cooldown"
	"github.com/Hogen32/intmax2-mining-cli/internal/minerkey"
)

// ExitLoop drains each key in order: withdraw settled deposits and cancel
// pending or rejected ones until nothing is left. A sync failure is fatal
// to the whole run, not just the key.
type ExitLoop struct {
	syncer   Syncer
	task     MiningTask
	cooldown *cooldown.Scheduler
	report   Reporter
	log      *slog.Logger
}

func NewExitLoop(syncer Syncer, task MiningTask, cd *cooldown.Scheduler, report Reporter, log *slog.Logger) (*ExitLoop, error) {
	if syncer == nil || task == nil || cd == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if report == nil {
		report = LogReporter{Log: log}
	}
	if log == nil {
		log = slog.Default()
	}
	return &ExitLoop{syncer: syncer, task: task, cooldown: cd, report: report, log: log}, nil
}

func (l *ExitLoop) Run(ctx context.Context, keys []minerkey.Key) error {
	for _, key := range keys {
		l.report.Status(fmt.Sprintf("Exit loop for %s", key.DepositAddress.Hex()))
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			status, err := l.syncer.SyncAndFetchAssets(ctx, key)
			if err != nil {
				return wrapSync(key, err)
			}
			if status.FullyWithdrawn() {
				l.report.Status(fmt.Sprintf("All deposits are withdrawn for %s.", key.DepositAddress.Hex()))
				break
			}
			if _, err := l.task.Run(ctx, key, status, false, true, big.NewInt(0)); err != nil {
				return err
			}
			if err := l.cooldown.Loop(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}
