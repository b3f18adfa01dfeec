package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Hogen32/intmax2-mining-cli/internal/assets"
)

var (
	ErrNotFound      = errors.New("events: record not found")
	ErrInvalidRecord = errors.New("events: invalid record")
)

// Stage is the chain lifecycle stage of one deposit.
type Stage uint8

const (
	StageUnknown Stage = iota
	// StagePending is submitted but not yet analyzed on-chain.
	StagePending
	// StageRejected was refused by the analyzer; the funds can be cancelled.
	StageRejected
	// StageAccepted is included in the deposit tree and can be withdrawn.
	StageAccepted
	// StageWithdrawn has left the protocol; only its reward claim remains.
	StageWithdrawn
	// StageCancelled was rejected and its funds reclaimed; terminal.
	StageCancelled
)

func (s Stage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageRejected:
		return "rejected"
	case StageAccepted:
		return "accepted"
	case StageWithdrawn:
		return "withdrawn"
	case StageCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Record is one deposit of a sender as tracked by the sync layer. Records
// are keyed by (sender, tx nonce); the deposit index is only meaningful
// once the stage reaches accepted.
type Record struct {
	Sender  common.Address
	Event   assets.DepositEvent
	Stage   Stage
	Claimed bool
}

func (r Record) validate() error {
	if r.Sender == (common.Address{}) {
		return fmt.Errorf("%w: zero sender", ErrInvalidRecord)
	}
	if r.Stage == StageUnknown {
		return fmt.Errorf("%w: unknown stage", ErrInvalidRecord)
	}
	return nil
}

// Store persists deposit records across syncs. Implementations must order
// ListBySender by tx nonce ascending.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	ListBySender(ctx context.Context, sender common.Address) ([]Record, error)
	SetStage(ctx context.Context, sender common.Address, txNonce uint64, stage Stage) error
	SetClaimed(ctx context.Context, sender common.Address, txNonce uint64) error
}
