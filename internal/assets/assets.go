package assets

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Hogen32/intmax2-mining-cli/internal/merkle"
)

// Deposit is the chain-observed deposit payload, the preimage of a deposit
// tree leaf.
type Deposit struct {
	RecipientSaltHash [32]byte
	TokenIndex        uint32
	Amount            *big.Int
}

// Hash is the deposit tree leaf hash of the deposit.
func (d Deposit) Hash() merkle.Hash {
	var token [4]byte
	binary.BigEndian.PutUint32(token[:], d.TokenIndex)
	var amount [32]byte
	if d.Amount != nil {
		d.Amount.FillBytes(amount[:])
	}
	var out merkle.Hash
	copy(out[:], crypto.Keccak256(d.RecipientSaltHash[:], token[:], amount[:]))
	return out
}

// DepositEvent is one observed deposit of a key: the deposit payload, the
// transaction nonce it was sent with, and its index in the deposit tree.
// Produced by the sync collaborator; read-only to the loops.
type DepositEvent struct {
	Deposit      Deposit
	TxNonce      uint64
	DepositIndex uint32
}

// Status is a point-in-time snapshot of one key's deposits partitioned by
// lifecycle stage. Index sets are positions into SendersDeposits. A Status
// is rebuilt fresh on every sync and never mutated in place.
type Status struct {
	SendersDeposits []DepositEvent

	PendingIndices      []uint32
	RejectedIndices     []uint32
	NotWithdrawnIndices []uint32
	NotClaimedIndices   []uint32
}

// FullySettled reports whether all planned deposits were made and every
// one of them is settled: nothing pending, rejected, or awaiting
// withdrawal. The mining loop advances to the next key when this holds.
func (s Status) FullySettled(miningTimes uint64) bool {
	return uint64(len(s.SendersDeposits)) >= miningTimes &&
		len(s.PendingIndices) == 0 &&
		len(s.RejectedIndices) == 0 &&
		len(s.NotWithdrawnIndices) == 0
}

// ShouldDeposit reports whether a new deposit should be submitted: under
// the per-key quota and nothing already in flight.
func (s Status) ShouldDeposit(miningTimes uint64) bool {
	return uint64(len(s.SendersDeposits)) < miningTimes && len(s.PendingIndices) == 0
}

// FullyWithdrawn reports whether the exit loop is done with this key.
func (s Status) FullyWithdrawn() bool {
	return len(s.PendingIndices) == 0 &&
		len(s.RejectedIndices) == 0 &&
		len(s.NotWithdrawnIndices) == 0
}

// FullyClaimed reports whether the claim loop is done with this key.
func (s Status) FullyClaimed() bool {
	return len(s.NotClaimedIndices) == 0
}

// EventsAt resolves snapshot positions to deposit events. Unknown
// positions are skipped.
func (s Status) EventsAt(positions []uint32) []DepositEvent {
	out := make([]DepositEvent, 0, len(positions))
	for _, pos := range positions {
		if int(pos) < len(s.SendersDeposits) {
			out = append(out, s.SendersDeposits[pos])
		}
	}
	return out
}
