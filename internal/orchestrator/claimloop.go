package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Hogen32/intmax2-mining-cli/internal/cooldown"
	"github.com/Hogen32/intmax2-mining-cli/internal/minerkey"
)

// ClaimLoop drains each key's outstanding reward claims in order. A sync
// failure is fatal to the whole run.
type ClaimLoop struct {
	syncer   Syncer
	task     ClaimTask
	cooldown *cooldown.Scheduler
	report   Reporter
	log      *slog.Logger
}

func NewClaimLoop(syncer Syncer, task ClaimTask, cd *cooldown.Scheduler, report Reporter, log *slog.Logger) (*ClaimLoop, error) {
	if syncer == nil || task == nil || cd == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if report == nil {
		report = LogReporter{Log: log}
	}
	if log == nil {
		log = slog.Default()
	}
	return &ClaimLoop{syncer: syncer, task: task, cooldown: cd, report: report, log: log}, nil
}

func (l *ClaimLoop) Run(ctx context.Context, keys []minerkey.Key) error {
	for _, key := range keys {
		l.report.Status(fmt.Sprintf("Claim loop for %s", key.DepositAddress.Hex()))
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			status, err := l.syncer.SyncAndFetchAssets(ctx, key)
			if err != nil {
				return wrapSync(key, err)
			}
			if status.FullyClaimed() {
				l.report.Status(fmt.Sprintf("All eligible rewards are claimed for %s.", key.DepositAddress.Hex()))
				break
			}
			if err := l.task.Run(ctx, key, status); err != nil {
				return err
			}
			if err := l.cooldown.Loop(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}
