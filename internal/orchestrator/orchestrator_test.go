package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Hogen32/intmax2-mining-cli/internal/assets"
	"github.com/Hogen32/intmax2-mining-cli/internal/cooldown"
	"github.com/Hogen32/intmax2-mining-cli/internal/minerkey"
)

const testMasterHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type stubSyncer struct {
	statuses []assets.Status
	err      error
	errAt    int

	calls int
}

func (s *stubSyncer) SyncAndFetchAssets(_ context.Context, _ minerkey.Key) (assets.Status, error) {
	call := s.calls
	s.calls++
	if s.err != nil && call >= s.errAt {
		return assets.Status{}, s.err
	}
	if len(s.statuses) == 0 {
		return assets.Status{}, nil
	}
	if call >= len(s.statuses) {
		return s.statuses[len(s.statuses)-1], nil
	}
	return s.statuses[call], nil
}

type taskCall struct {
	keyNumber  uint64
	newDeposit bool
	isExit     bool
}

type stubMiningTask struct {
	calls    []taskCall
	cooldown bool
	err      error
}

func (t *stubMiningTask) Run(_ context.Context, key minerkey.Key, _ assets.Status, newDeposit, isExit bool, _ *big.Int) (bool, error) {
	t.calls = append(t.calls, taskCall{keyNumber: key.Number, newDeposit: newDeposit, isExit: isExit})
	return t.cooldown, t.err
}

type stubClaimTask struct {
	calls int
	err   error
}

func (t *stubClaimTask) Run(_ context.Context, _ minerkey.Key, _ assets.Status) error {
	t.calls++
	return t.err
}

type stubBalance struct {
	calls int
	err   error
}

func (b *stubBalance) ValidateDepositAddressBalance(_ context.Context, _ assets.Status, _ common.Address, _ *big.Int, _ uint64) error {
	b.calls++
	return b.err
}

func instantScheduler(t *testing.T, slept *int) *cooldown.Scheduler {
	t.Helper()
	cd, err := cooldown.New(cooldown.Config{
		Loop:      time.Second,
		MiningMax: time.Minute,
		Sleep: func(context.Context, time.Duration) error {
			if slept != nil {
				*slept++
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("cooldown.New: %v", err)
	}
	return cd
}

func testKeys(t *testing.T, count uint64) []minerkey.Key {
	t.Helper()
	master, err := minerkey.ParseMasterKeyHex(testMasterHex)
	if err != nil {
		t.Fatalf("ParseMasterKeyHex: %v", err)
	}
	keys, err := minerkey.DeriveRange(master, 0, count)
	if err != nil {
		t.Fatalf("DeriveRange: %v", err)
	}
	return keys
}

func settledStatus(times int) assets.Status {
	evs := make([]assets.DepositEvent, times)
	for i := range evs {
		evs[i] = assets.DepositEvent{TxNonce: uint64(i), DepositIndex: uint32(i)}
	}
	return assets.Status{SendersDeposits: evs}
}

func TestMiningLoop_AdvancesSettledKeyWithoutDeposit(t *testing.T) {
	t.Parallel()

	master, err := minerkey.ParseMasterKeyHex(testMasterHex)
	if err != nil {
		t.Fatalf("ParseMasterKeyHex: %v", err)
	}
	syncer := &stubSyncer{statuses: []assets.Status{settledStatus(1)}}
	task := &stubMiningTask{}
	balance := &stubBalance{}

	loop, err := NewMiningLoop(
		MiningConfig{Unit: big.NewInt(1), Times: 1, MaxKeys: 1},
		syncer, task, balance, instantScheduler(t, nil), nil, nil,
	)
	if err != nil {
		t.Fatalf("NewMiningLoop: %v", err)
	}
	if err := loop.Run(context.Background(), master, 7); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(task.calls) != 0 {
		t.Fatalf("settled key must not invoke the mining task, got %d calls", len(task.calls))
	}
	if balance.calls != 1 {
		t.Fatalf("balance validated %d times, want 1", balance.calls)
	}
}

func TestMiningLoop_DepositsThenAdvances(t *testing.T) {
	t.Parallel()

	master, err := minerkey.ParseMasterKeyHex(testMasterHex)
	if err != nil {
		t.Fatalf("ParseMasterKeyHex: %v", err)
	}
	// Sync sequence for one key: pre-balance, decide (empty -> deposit),
	// post-task report, decide (settled -> advance).
	syncer := &stubSyncer{statuses: []assets.Status{
		{},
		{},
		settledStatus(1),
		settledStatus(1),
	}}
	task := &stubMiningTask{cooldown: true}
	var slept int

	loop, err := NewMiningLoop(
		MiningConfig{Unit: big.NewInt(1), Times: 1, MaxKeys: 1},
		syncer, task, &stubBalance{}, instantScheduler(t, &slept), nil, nil,
	)
	if err != nil {
		t.Fatalf("NewMiningLoop: %v", err)
	}
	if err := loop.Run(context.Background(), master, 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(task.calls) != 1 {
		t.Fatalf("task calls = %d, want 1", len(task.calls))
	}
	if !task.calls[0].newDeposit || task.calls[0].isExit {
		t.Fatalf("unexpected task call: %+v", task.calls[0])
	}
	// Privacy jitter plus fixed loop cooldown.
	if slept != 2 {
		t.Fatalf("sleeps = %d, want 2", slept)
	}
}

func TestMiningLoop_ProcessesKeysSequentially(t *testing.T) {
	t.Parallel()

	master, err := minerkey.ParseMasterKeyHex(testMasterHex)
	if err != nil {
		t.Fatalf("ParseMasterKeyHex: %v", err)
	}
	syncer := &stubSyncer{statuses: []assets.Status{settledStatus(1)}}
	task := &stubMiningTask{}

	loop, err := NewMiningLoop(
		MiningConfig{Unit: big.NewInt(1), Times: 1, MaxKeys: 3},
		syncer, task, &stubBalance{}, instantScheduler(t, nil), nil, nil,
	)
	if err != nil {
		t.Fatalf("NewMiningLoop: %v", err)
	}
	if err := loop.Run(context.Background(), master, 10); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Each settled key takes exactly two syncs (pre-balance + decide).
	if syncer.calls != 6 {
		t.Fatalf("sync calls = %d, want 6", syncer.calls)
	}
}

func TestMiningLoop_SyncErrorIsFatal(t *testing.T) {
	t.Parallel()

	master, err := minerkey.ParseMasterKeyHex(testMasterHex)
	if err != nil {
		t.Fatalf("ParseMasterKeyHex: %v", err)
	}
	cause := errors.New("rpc unreachable")
	syncer := &stubSyncer{err: cause}

	loop, err := NewMiningLoop(
		MiningConfig{Unit: big.NewInt(1), Times: 1},
		syncer, &stubMiningTask{}, &stubBalance{}, instantScheduler(t, nil), nil, nil,
	)
	if err != nil {
		t.Fatalf("NewMiningLoop: %v", err)
	}
	runErr := loop.Run(context.Background(), master, 0)
	if !errors.Is(runErr, ErrSync) || !errors.Is(runErr, cause) {
		t.Fatalf("expected wrapped sync error, got %v", runErr)
	}
	keys := testKeys(t, 1)
	if !strings.Contains(runErr.Error(), keys[0].DepositAddress.Hex()) {
		t.Fatalf("sync error must name the key: %v", runErr)
	}
}

func TestMiningLoop_BalanceFailureIsFatal(t *testing.T) {
	t.Parallel()

	master, err := minerkey.ParseMasterKeyHex(testMasterHex)
	if err != nil {
		t.Fatalf("ParseMasterKeyHex: %v", err)
	}
	cause := errors.New("insufficient balance")
	task := &stubMiningTask{}

	loop, err := NewMiningLoop(
		MiningConfig{Unit: big.NewInt(1), Times: 1},
		&stubSyncer{}, task, &stubBalance{err: cause}, instantScheduler(t, nil), nil, nil,
	)
	if err != nil {
		t.Fatalf("NewMiningLoop: %v", err)
	}
	if runErr := loop.Run(context.Background(), master, 0); !errors.Is(runErr, cause) {
		t.Fatalf("expected balance error, got %v", runErr)
	}
	if len(task.calls) != 0 {
		t.Fatalf("failed balance check must not invoke the task")
	}
}

func TestMiningLoop_ConfigValidation(t *testing.T) {
	t.Parallel()

	cd := instantScheduler(t, nil)
	if _, err := NewMiningLoop(MiningConfig{Unit: big.NewInt(1), Times: 1}, nil, &stubMiningTask{}, &stubBalance{}, cd, nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for nil syncer, got %v", err)
	}
	if _, err := NewMiningLoop(MiningConfig{Unit: big.NewInt(0), Times: 1}, &stubSyncer{}, &stubMiningTask{}, &stubBalance{}, cd, nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for zero unit, got %v", err)
	}
	if _, err := NewMiningLoop(MiningConfig{Unit: big.NewInt(1)}, &stubSyncer{}, &stubMiningTask{}, &stubBalance{}, cd, nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for zero times, got %v", err)
	}
}

func TestExitLoop_TerminatesWhenDrained(t *testing.T) {
	t.Parallel()

	task := &stubMiningTask{}
	loop, err := NewExitLoop(&stubSyncer{}, task, instantScheduler(t, nil), nil, nil)
	if err != nil {
		t.Fatalf("NewExitLoop: %v", err)
	}
	if err := loop.Run(context.Background(), testKeys(t, 2)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(task.calls) != 0 {
		t.Fatalf("drained keys must not invoke the task, got %d calls", len(task.calls))
	}
}

func TestExitLoop_DrainsThenStops(t *testing.T) {
	t.Parallel()

	syncer := &stubSyncer{statuses: []assets.Status{
		{NotWithdrawnIndices: []uint32{0}},
		{},
	}}
	task := &stubMiningTask{}
	loop, err := NewExitLoop(syncer, task, instantScheduler(t, nil), nil, nil)
	if err != nil {
		t.Fatalf("NewExitLoop: %v", err)
	}
	if err := loop.Run(context.Background(), testKeys(t, 1)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(task.calls) != 1 {
		t.Fatalf("task calls = %d, want 1", len(task.calls))
	}
	if !task.calls[0].isExit || task.calls[0].newDeposit {
		t.Fatalf("exit task must run with isExit=true, newDeposit=false: %+v", task.calls[0])
	}
}

func TestExitLoop_SyncErrorAbortsWholeRun(t *testing.T) {
	t.Parallel()

	cause := errors.New("rpc unreachable")
	// First key drains fine, second key's sync fails.
	syncer := &stubSyncer{statuses: []assets.Status{{}}, err: cause, errAt: 1}
	loop, err := NewExitLoop(syncer, &stubMiningTask{}, instantScheduler(t, nil), nil, nil)
	if err != nil {
		t.Fatalf("NewExitLoop: %v", err)
	}
	runErr := loop.Run(context.Background(), testKeys(t, 2))
	if !errors.Is(runErr, ErrSync) {
		t.Fatalf("expected ErrSync, got %v", runErr)
	}
}

func TestClaimLoop_TerminatesWhenClaimed(t *testing.T) {
	t.Parallel()

	task := &stubClaimTask{}
	loop, err := NewClaimLoop(&stubSyncer{}, task, instantScheduler(t, nil), nil, nil)
	if err != nil {
		t.Fatalf("NewClaimLoop: %v", err)
	}
	if err := loop.Run(context.Background(), testKeys(t, 2)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.calls != 0 {
		t.Fatalf("claimed keys must not invoke the task, got %d calls", task.calls)
	}
}

func TestClaimLoop_DrainsThenStops(t *testing.T) {
	t.Parallel()

	syncer := &stubSyncer{statuses: []assets.Status{
		{NotClaimedIndices: []uint32{0, 1}},
		{},
	}}
	task := &stubClaimTask{}
	loop, err := NewClaimLoop(syncer, task, instantScheduler(t, nil), nil, nil)
	if err != nil {
		t.Fatalf("NewClaimLoop: %v", err)
	}
	if err := loop.Run(context.Background(), testKeys(t, 1)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.calls != 1 {
		t.Fatalf("task calls = %d, want 1", task.calls)
	}
}

func TestClaimLoop_TaskErrorAborts(t *testing.T) {
	t.Parallel()

	cause := errors.New("prover unavailable")
	syncer := &stubSyncer{statuses: []assets.Status{{NotClaimedIndices: []uint32{0}}}}
	loop, err := NewClaimLoop(syncer, &stubClaimTask{err: cause}, instantScheduler(t, nil), nil, nil)
	if err != nil {
		t.Fatalf("NewClaimLoop: %v", err)
	}
	if runErr := loop.Run(context.Background(), testKeys(t, 1)); !errors.Is(runErr, cause) {
		t.Fatalf("expected task error, got %v", runErr)
	}
}

func TestLoops_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	master, err := minerkey.ParseMasterKeyHex(testMasterHex)
	if err != nil {
		t.Fatalf("ParseMasterKeyHex: %v", err)
	}
	ml, err := NewMiningLoop(MiningConfig{Unit: big.NewInt(1), Times: 1}, &stubSyncer{}, &stubMiningTask{}, &stubBalance{}, instantScheduler(t, nil), nil, nil)
	if err != nil {
		t.Fatalf("NewMiningLoop: %v", err)
	}
	if err := ml.Run(ctx, master, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("mining loop: expected context.Canceled, got %v", err)
	}

	keys := testKeys(t, 1)
	el, err := NewExitLoop(&stubSyncer{statuses: []assets.Status{{PendingIndices: []uint32{0}}}}, &stubMiningTask{}, instantScheduler(t, nil), nil, nil)
	if err != nil {
		t.Fatalf("NewExitLoop: %v", err)
	}
	if err := el.Run(ctx, keys); !errors.Is(err, context.Canceled) {
		t.Fatalf("exit loop: expected context.Canceled, got %v", err)
	}
}
