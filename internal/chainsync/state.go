package chainsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Hogen32/intmax2-mining-cli/internal/assets"
	"github.com/Hogen32/intmax2-mining-cli/internal/claim"
	"github.com/Hogen32/intmax2-mining-cli/internal/events"
	"github.com/Hogen32/intmax2-mining-cli/internal/merkle"
	"github.com/Hogen32/intmax2-mining-cli/internal/minerkey"
)

var ErrInvalidConfig = errors.New("chainsync: invalid config")

// State tracks the chain-observed mining state: the deposit-event store
// plus the three Merkle trees claims are proven against. Loops read it
// through fresh snapshots; they never mutate it.
type State struct {
	store events.Store

	depositTree *merkle.DepositHashTree
	shortTerm   *merkle.EligibleTree
	longTerm    *merkle.EligibleTree

	log *slog.Logger
}

func New(store events.Store, log *slog.Logger) (*State, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.Default()
	}
	return &State{
		store:       store,
		depositTree: merkle.NewDepositHashTree(),
		shortTerm:   merkle.NewEligibleTree(),
		longTerm:    merkle.NewEligibleTree(),
		log:         log,
	}, nil
}

func (s *State) DepositTree() *merkle.DepositHashTree {
	return s.depositTree
}

func (s *State) EligibleTree(term claim.Term) *merkle.EligibleTree {
	if term == claim.TermShort {
		return s.shortTerm
	}
	return s.longTerm
}

// ObserveDeposit records a deposit seen on-chain before analysis, as
// pending or rejected.
func (s *State) ObserveDeposit(ctx context.Context, sender common.Address, event assets.DepositEvent, stage events.Stage) error {
	return s.store.Upsert(ctx, events.Record{Sender: sender, Event: event, Stage: stage})
}

// AcceptDeposit appends an analyzed deposit to the deposit tree and marks
// the record accepted. Returns the assigned deposit index.
func (s *State) AcceptDeposit(ctx context.Context, sender common.Address, event assets.DepositEvent) (uint32, error) {
	index, err := s.depositTree.Append(event.Deposit.Hash())
	if err != nil {
		return 0, fmt.Errorf("chainsync: append deposit: %w", err)
	}
	event.DepositIndex = index
	if err := s.store.Upsert(ctx, events.Record{Sender: sender, Event: event, Stage: events.StageAccepted}); err != nil {
		return 0, err
	}
	s.log.Debug("deposit accepted", "sender", sender.Hex(), "deposit_index", index)
	return index, nil
}

// MarkWithdrawn records that a deposit has been withdrawn.
func (s *State) MarkWithdrawn(ctx context.Context, sender common.Address, txNonce uint64) error {
	return s.store.SetStage(ctx, sender, txNonce, events.StageWithdrawn)
}

// MarkCancelled records that a rejected deposit's funds were reclaimed.
func (s *State) MarkCancelled(ctx context.Context, sender common.Address, txNonce uint64) error {
	return s.store.SetStage(ctx, sender, txNonce, events.StageCancelled)
}

// MarkClaimed records that a deposit's reward claim was submitted.
func (s *State) MarkClaimed(ctx context.Context, sender common.Address, txNonce uint64) error {
	return s.store.SetClaimed(ctx, sender, txNonce)
}

// MarkEligible adds a deposit index to the given eligibility window.
func (s *State) MarkEligible(term claim.Term, depositIndex uint32, amount *big.Int) error {
	tree := s.EligibleTree(term)
	if _, err := tree.Append(merkle.EligibleLeaf{DepositIndex: depositIndex, Amount: amount}); err != nil {
		return fmt.Errorf("chainsync: mark eligible: %w", err)
	}
	return nil
}

// SyncAndFetchAssets rebuilds the key's assets snapshot from the store and
// trees. Every call returns a fresh Status; the previous snapshot is
// discarded, never patched.
func (s *State) SyncAndFetchAssets(ctx context.Context, key minerkey.Key) (assets.Status, error) {
	records, err := s.store.ListBySender(ctx, key.DepositAddress)
	if err != nil {
		return assets.Status{}, fmt.Errorf("chainsync: list deposits for %s: %w", key.DepositAddress.Hex(), err)
	}

	var status assets.Status
	for i, rec := range records {
		pos := uint32(i)
		status.SendersDeposits = append(status.SendersDeposits, rec.Event)
		switch rec.Stage {
		case events.StagePending:
			status.PendingIndices = append(status.PendingIndices, pos)
		case events.StageRejected:
			status.RejectedIndices = append(status.RejectedIndices, pos)
		case events.StageAccepted:
			status.NotWithdrawnIndices = append(status.NotWithdrawnIndices, pos)
		}
		if s.claimable(rec) {
			status.NotClaimedIndices = append(status.NotClaimedIndices, pos)
		}
	}
	return status, nil
}

// claimable reports whether the record has an unclaimed reward in either
// eligibility window.
func (s *State) claimable(rec events.Record) bool {
	if rec.Claimed {
		return false
	}
	if rec.Stage != events.StageAccepted && rec.Stage != events.StageWithdrawn {
		return false
	}
	if _, ok := s.shortTerm.LeafIndex(rec.Event.DepositIndex); ok {
		return true
	}
	_, ok := s.longTerm.LeafIndex(rec.Event.DepositIndex)
	return ok
}

// TermFor picks the eligibility window a deposit claims against:
// short-term when present there, long-term otherwise.
func (s *State) TermFor(depositIndex uint32) (claim.Term, bool) {
	if _, ok := s.shortTerm.LeafIndex(depositIndex); ok {
		return claim.TermShort, true
	}
	if _, ok := s.longTerm.LeafIndex(depositIndex); ok {
		return claim.TermLong, true
	}
	return 0, false
}
