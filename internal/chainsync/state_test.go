package chainsync

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/Hogen32/intmax2-mining-cli/internal/assets"
	"github.com/Hogen32/intmax2-mining-cli/internal/claim"
	"github.com/Hogen32/intmax2-mining-cli/internal/events"
	"github.com/Hogen32/intmax2-mining-cli/internal/minerkey"
)

const testMasterHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testKey(t *testing.T) minerkey.Key {
	t.Helper()
	master, err := minerkey.ParseMasterKeyHex(testMasterHex)
	if err != nil {
		t.Fatalf("ParseMasterKeyHex: %v", err)
	}
	key, err := minerkey.Derive(master, 0)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	return key
}

func testEvent(txNonce uint64) assets.DepositEvent {
	return assets.DepositEvent{
		Deposit: assets.Deposit{
			RecipientSaltHash: [32]byte{byte(txNonce + 1)},
			Amount:            big.NewInt(100),
		},
		TxNonce: txNonce,
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestState_LifecycleSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	state, err := New(events.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key := testKey(t)

	// One pending, one rejected, one accepted deposit.
	if err := state.ObserveDeposit(ctx, key.DepositAddress, testEvent(1), events.StagePending); err != nil {
		t.Fatalf("ObserveDeposit: %v", err)
	}
	if err := state.ObserveDeposit(ctx, key.DepositAddress, testEvent(2), events.StageRejected); err != nil {
		t.Fatalf("ObserveDeposit: %v", err)
	}
	idx, err := state.AcceptDeposit(ctx, key.DepositAddress, testEvent(3))
	if err != nil {
		t.Fatalf("AcceptDeposit: %v", err)
	}

	status, err := state.SyncAndFetchAssets(ctx, key)
	if err != nil {
		t.Fatalf("SyncAndFetchAssets: %v", err)
	}
	if len(status.SendersDeposits) != 3 {
		t.Fatalf("deposits = %d, want 3", len(status.SendersDeposits))
	}
	if len(status.PendingIndices) != 1 || status.PendingIndices[0] != 0 {
		t.Fatalf("pending = %v", status.PendingIndices)
	}
	if len(status.RejectedIndices) != 1 || status.RejectedIndices[0] != 1 {
		t.Fatalf("rejected = %v", status.RejectedIndices)
	}
	if len(status.NotWithdrawnIndices) != 1 || status.NotWithdrawnIndices[0] != 2 {
		t.Fatalf("not withdrawn = %v", status.NotWithdrawnIndices)
	}
	// Not eligible anywhere yet, so nothing to claim.
	if len(status.NotClaimedIndices) != 0 {
		t.Fatalf("not claimed = %v", status.NotClaimedIndices)
	}

	// Eligibility makes the accepted deposit claimable.
	if err := state.MarkEligible(claim.TermShort, idx, big.NewInt(10)); err != nil {
		t.Fatalf("MarkEligible: %v", err)
	}
	status, err = state.SyncAndFetchAssets(ctx, key)
	if err != nil {
		t.Fatalf("SyncAndFetchAssets: %v", err)
	}
	if len(status.NotClaimedIndices) != 1 || status.NotClaimedIndices[0] != 2 {
		t.Fatalf("not claimed = %v", status.NotClaimedIndices)
	}

	// Withdrawal clears the not-withdrawn set but keeps the claim open.
	if err := state.MarkWithdrawn(ctx, key.DepositAddress, 3); err != nil {
		t.Fatalf("MarkWithdrawn: %v", err)
	}
	status, err = state.SyncAndFetchAssets(ctx, key)
	if err != nil {
		t.Fatalf("SyncAndFetchAssets: %v", err)
	}
	if len(status.NotWithdrawnIndices) != 0 {
		t.Fatalf("not withdrawn = %v", status.NotWithdrawnIndices)
	}
	if len(status.NotClaimedIndices) != 1 {
		t.Fatalf("not claimed = %v", status.NotClaimedIndices)
	}

	// Claiming drains the last set.
	if err := state.MarkClaimed(ctx, key.DepositAddress, 3); err != nil {
		t.Fatalf("MarkClaimed: %v", err)
	}
	status, err = state.SyncAndFetchAssets(ctx, key)
	if err != nil {
		t.Fatalf("SyncAndFetchAssets: %v", err)
	}
	if !status.FullyClaimed() {
		t.Fatalf("expected fully claimed, got %v", status.NotClaimedIndices)
	}
}

func TestState_AcceptDepositAssignsTreeIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	state, err := New(events.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key := testKey(t)

	ev := testEvent(1)
	idx, err := state.AcceptDeposit(ctx, key.DepositAddress, ev)
	if err != nil {
		t.Fatalf("AcceptDeposit: %v", err)
	}
	gotIdx, ok := state.DepositTree().Index(ev.Deposit.Hash())
	if !ok || gotIdx != idx {
		t.Fatalf("deposit hash not indexed: (%d, %v), want %d", gotIdx, ok, idx)
	}

	status, err := state.SyncAndFetchAssets(ctx, key)
	if err != nil {
		t.Fatalf("SyncAndFetchAssets: %v", err)
	}
	if status.SendersDeposits[0].DepositIndex != idx {
		t.Fatalf("snapshot deposit index = %d, want %d", status.SendersDeposits[0].DepositIndex, idx)
	}
}

func TestState_TermFor(t *testing.T) {
	t.Parallel()

	state, err := New(events.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := state.MarkEligible(claim.TermShort, 1, big.NewInt(5)); err != nil {
		t.Fatalf("MarkEligible: %v", err)
	}
	if err := state.MarkEligible(claim.TermLong, 2, big.NewInt(5)); err != nil {
		t.Fatalf("MarkEligible: %v", err)
	}

	if term, ok := state.TermFor(1); !ok || term != claim.TermShort {
		t.Fatalf("TermFor(1) = (%v, %v)", term, ok)
	}
	if term, ok := state.TermFor(2); !ok || term != claim.TermLong {
		t.Fatalf("TermFor(2) = (%v, %v)", term, ok)
	}
	if _, ok := state.TermFor(3); ok {
		t.Fatalf("TermFor(3) must report not eligible")
	}
}

func TestState_ImplementsClaimTrees(t *testing.T) {
	t.Parallel()

	state, err := New(events.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var _ claim.Trees = state
	if state.EligibleTree(claim.TermShort) == state.EligibleTree(claim.TermLong) {
		t.Fatalf("term windows must be distinct trees")
	}
}
