package miningtask

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Hogen32/intmax2-mining-cli/internal/assets"
	"github.com/Hogen32/intmax2-mining-cli/internal/events"
	"github.com/Hogen32/intmax2-mining-cli/internal/minerkey"
)

type stubDepositor struct {
	submitted []*big.Int
	cancelled []uint64
	nextNonce uint64

	submitErr error
	cancelErr error
}

func (d *stubDepositor) SubmitDeposit(_ context.Context, _ minerkey.Key, amount *big.Int) (assets.DepositEvent, error) {
	if d.submitErr != nil {
		return assets.DepositEvent{}, d.submitErr
	}
	d.submitted = append(d.submitted, amount)
	nonce := d.nextNonce
	d.nextNonce++
	return assets.DepositEvent{
		Deposit: assets.Deposit{RecipientSaltHash: [32]byte{0x01}, Amount: amount},
		TxNonce: nonce,
	}, nil
}

func (d *stubDepositor) CancelDeposit(_ context.Context, _ minerkey.Key, event assets.DepositEvent) error {
	if d.cancelErr != nil {
		return d.cancelErr
	}
	d.cancelled = append(d.cancelled, event.TxNonce)
	return nil
}

type stubWithdrawer struct {
	withdrawn []uint64
	err       error
}

func (w *stubWithdrawer) Withdraw(_ context.Context, _ minerkey.Key, event assets.DepositEvent) error {
	if w.err != nil {
		return w.err
	}
	w.withdrawn = append(w.withdrawn, event.TxNonce)
	return nil
}

type recorded struct {
	nonce uint64
	stage events.Stage
}

type stubRecorder struct {
	observed  []recorded
	withdrawn []uint64
	cancelled []uint64
}

func (r *stubRecorder) ObserveDeposit(_ context.Context, _ common.Address, event assets.DepositEvent, stage events.Stage) error {
	r.observed = append(r.observed, recorded{nonce: event.TxNonce, stage: stage})
	return nil
}

func (r *stubRecorder) MarkWithdrawn(_ context.Context, _ common.Address, txNonce uint64) error {
	r.withdrawn = append(r.withdrawn, txNonce)
	return nil
}

func (r *stubRecorder) MarkCancelled(_ context.Context, _ common.Address, txNonce uint64) error {
	r.cancelled = append(r.cancelled, txNonce)
	return nil
}

func testKey(t *testing.T) minerkey.Key {
	t.Helper()
	master, err := minerkey.ParseMasterKeyHex("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("ParseMasterKeyHex: %v", err)
	}
	key, err := minerkey.Derive(master, 0)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	return key
}

// statusWith builds a snapshot with one event per listed nonce, staged
// by the index-set arguments.
func statusWith(pending, rejected, notWithdrawn []uint64) assets.Status {
	var s assets.Status
	add := func(nonces []uint64, indices *[]uint32) {
		for _, nonce := range nonces {
			*indices = append(*indices, uint32(len(s.SendersDeposits)))
			s.SendersDeposits = append(s.SendersDeposits, assets.DepositEvent{
				Deposit: assets.Deposit{Amount: big.NewInt(100)},
				TxNonce: nonce,
			})
		}
	}
	add(pending, &s.PendingIndices)
	add(rejected, &s.RejectedIndices)
	add(notWithdrawn, &s.NotWithdrawnIndices)
	return s
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestRun_NewDepositRequestsCooldown(t *testing.T) {
	t.Parallel()

	deposits := &stubDepositor{nextNonce: 3}
	recorder := &stubRecorder{}
	task, err := New(Config{Deposits: deposits, Withdrawals: &stubWithdrawer{}, Recorder: recorder})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cooldown, err := task.Run(context.Background(), testKey(t), assets.Status{}, true, false, big.NewInt(500))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !cooldown {
		t.Fatal("new deposit must request a mining cooldown")
	}
	if len(deposits.submitted) != 1 || deposits.submitted[0].Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("submitted = %v", deposits.submitted)
	}
	if len(recorder.observed) != 1 || recorder.observed[0].stage != events.StagePending || recorder.observed[0].nonce != 3 {
		t.Fatalf("observed = %+v", recorder.observed)
	}
}

func TestRun_CancelsRejectedAndWithdraws(t *testing.T) {
	t.Parallel()

	deposits := &stubDepositor{}
	withdrawals := &stubWithdrawer{}
	recorder := &stubRecorder{}
	task, err := New(Config{Deposits: deposits, Withdrawals: withdrawals, Recorder: recorder})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	status := statusWith(nil, []uint64{7}, []uint64{2, 5})
	cooldown, err := task.Run(context.Background(), testKey(t), status, false, false, big.NewInt(100))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cooldown {
		t.Fatal("no deposit made, no cooldown expected")
	}
	if len(deposits.cancelled) != 1 || deposits.cancelled[0] != 7 {
		t.Fatalf("cancelled = %v", deposits.cancelled)
	}
	if len(withdrawals.withdrawn) != 2 {
		t.Fatalf("withdrawn = %v", withdrawals.withdrawn)
	}
	if len(recorder.cancelled) != 1 || len(recorder.withdrawn) != 2 {
		t.Fatalf("recorder: %+v", recorder)
	}
}

func TestRun_ExitCancelsPendingAndSkipsDeposit(t *testing.T) {
	t.Parallel()

	deposits := &stubDepositor{}
	recorder := &stubRecorder{}
	task, err := New(Config{Deposits: deposits, Withdrawals: &stubWithdrawer{}, Recorder: recorder})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	status := statusWith([]uint64{1, 4}, nil, nil)
	// newDeposit=true must be ignored in exit mode.
	cooldown, err := task.Run(context.Background(), testKey(t), status, true, true, big.NewInt(100))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cooldown {
		t.Fatal("exit mode must not request a mining cooldown")
	}
	if len(deposits.submitted) != 0 {
		t.Fatalf("exit mode submitted deposits: %v", deposits.submitted)
	}
	if len(deposits.cancelled) != 2 {
		t.Fatalf("cancelled = %v, want both pending deposits", deposits.cancelled)
	}
	if len(recorder.cancelled) != 2 {
		t.Fatalf("recorder cancelled = %v", recorder.cancelled)
	}
}

func TestRun_PendingNotCancelledOutsideExit(t *testing.T) {
	t.Parallel()

	deposits := &stubDepositor{}
	task, err := New(Config{Deposits: deposits, Withdrawals: &stubWithdrawer{}, Recorder: &stubRecorder{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	status := statusWith([]uint64{1}, nil, nil)
	if _, err := task.Run(context.Background(), testKey(t), status, false, false, big.NewInt(100)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(deposits.cancelled) != 0 {
		t.Fatalf("pending deposit cancelled outside exit mode: %v", deposits.cancelled)
	}
}

func TestRun_SideEffectErrorsPropagate(t *testing.T) {
	t.Parallel()

	boom := errors.New("rpc down")
	task, err := New(Config{
		Deposits:    &stubDepositor{cancelErr: boom},
		Withdrawals: &stubWithdrawer{},
		Recorder:    &stubRecorder{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	status := statusWith(nil, []uint64{9}, nil)
	if _, err := task.Run(context.Background(), testKey(t), status, false, false, big.NewInt(100)); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped rpc error", err)
	}
}
