// Package claimtask turns one key's unclaimed deposits into a witness
// batch and hands it to the proving system.
package claimtask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Hogen32/intmax2-mining-cli/internal/assets"
	"github.com/Hogen32/intmax2-mining-cli/internal/claim"
	"github.com/Hogen32/intmax2-mining-cli/internal/minerkey"
	"github.com/Hogen32/intmax2-mining-cli/internal/proverclient"
)

var ErrInvalidConfig = errors.New("claimtask: invalid config")

// TermSelector picks the eligibility window a deposit claims against.
type TermSelector interface {
	TermFor(depositIndex uint32) (claim.Term, bool)
}

// Recorder persists claim progress after a batch is submitted.
type Recorder interface {
	MarkClaimed(ctx context.Context, sender common.Address, txNonce uint64) error
}

type Config struct {
	Trees    claim.Trees
	Terms    TermSelector
	Recorder Recorder
	Prover   proverclient.Client

	Now func() time.Time
	Log *slog.Logger
}

// Task builds witness batches for the claim loop. One Run handles at
// most claim.MaxClaims events; the loop re-syncs and calls again until
// the key has nothing left to claim.
type Task struct {
	cfg Config
}

func New(cfg Config) (*Task, error) {
	if cfg.Trees == nil || cfg.Terms == nil || cfg.Recorder == nil || cfg.Prover == nil {
		return nil, fmt.Errorf("%w: trees, terms, recorder, and prover are required", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Task{cfg: cfg}, nil
}

func (t *Task) Run(ctx context.Context, key minerkey.Key, status assets.Status) error {
	pending := status.EventsAt(status.NotClaimedIndices)
	if len(pending) == 0 {
		return nil
	}

	// All events of a batch must prove against the same window, so the
	// batch is cut at the first term change as well as at the size bound.
	term, ok := t.cfg.Terms.TermFor(pending[0].DepositIndex)
	if !ok {
		return fmt.Errorf("claimtask: deposit %d of %s is in no eligibility window",
			pending[0].DepositIndex, key.DepositAddress.Hex())
	}
	batch := pending[:0:0]
	for _, event := range pending {
		if len(batch) == claim.MaxClaims {
			break
		}
		eventTerm, ok := t.cfg.Terms.TermFor(event.DepositIndex)
		if !ok || eventTerm != term {
			break
		}
		batch = append(batch, event)
	}

	witnesses, err := claim.BuildWitnesses(t.cfg.Trees, term, key, batch, t.cfg.Log)
	if err != nil {
		return fmt.Errorf("claimtask: build witnesses for %s: %w", key.DepositAddress.Hex(), err)
	}
	err = t.cfg.Prover.SubmitWitnesses(ctx, proverclient.Batch{
		Sender:    key.DepositAddress,
		KeyNumber: key.Number,
		Term:      term,
		Witnesses: witnesses,
		CreatedAt: t.cfg.Now(),
	})
	if err != nil {
		return fmt.Errorf("claimtask: submit batch for %s: %w", key.DepositAddress.Hex(), err)
	}

	for _, event := range batch {
		if err := t.cfg.Recorder.MarkClaimed(ctx, key.DepositAddress, event.TxNonce); err != nil {
			return fmt.Errorf("claimtask: record claim of nonce %d: %w", event.TxNonce, err)
		}
	}
	t.cfg.Log.Info("claim batch processed",
		"sender", key.DepositAddress.Hex(),
		"term", term.String(),
		"claimed", len(batch),
		"remaining", len(pending)-len(batch),
	)
	return nil
}
