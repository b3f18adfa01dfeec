package claim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Hogen32/intmax2-mining-cli/internal/assets"
	"github.com/Hogen32/intmax2-mining-cli/internal/merkle"
)

// MaxClaims is the largest witness batch the proving system accepts.
const MaxClaims = 10

var (
	ErrNoEvents        = errors.New("claim: no event to generate witness")
	ErrTooManyEvents   = errors.New("claim: too many events to generate witness")
	ErrDepositNotFound = errors.New("claim: deposit hash not found in deposit tree")
	ErrNotEligible     = errors.New("claim: deposit not found in eligibility tree")
)

// Term selects the eligibility window a claim batch is proven against.
type Term uint8

const (
	TermShort Term = iota + 1
	TermLong
)

func (t Term) String() string {
	switch t {
	case TermShort:
		return "short-term"
	case TermLong:
		return "long-term"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Trees exposes the Merkle trees a witness batch is built against.
type Trees interface {
	DepositTree() *merkle.DepositHashTree
	EligibleTree(Term) *merkle.EligibleTree
}

// Witness is the proof-input bundle for one deposit's eligibility claim.
// Successive witnesses of a batch are hash-chained: PrevClaimHash of the
// first witness is the zero hash, and every later witness carries the
// NewClaimHash of its predecessor. The proving system rejects batches that
// break this chain.
type Witness struct {
	DepositTreeRoot    merkle.Hash
	DepositIndex       uint32
	DepositMerkleProof merkle.Proof
	Deposit            assets.Deposit

	EligibleTreeRoot    merkle.Hash
	EligibleIndex       uint32
	EligibleMerkleProof merkle.Proof
	EligibleLeaf        merkle.EligibleLeaf

	Pubkey    []byte
	Salt      [32]byte
	Recipient common.Address

	PrevClaimHash merkle.Hash
	NewClaimHash  merkle.Hash
}

// KeyContext is the derived identity a batch is built for.
type KeyContext interface {
	Pubkey() []byte
	ClaimSalt(txNonce uint64) [32]byte
	Recipient() common.Address
}

// BuildWitnesses transforms a batch of deposit events for one key into the
// ordered, hash-chained witness sequence for the selected eligibility
// window. Preconditions are checked before any tree access; a lookup miss
// means the snapshot is inconsistent with the trees and is not retried.
func BuildWitnesses(trees Trees, term Term, key KeyContext, events []assets.DepositEvent, log *slog.Logger) ([]Witness, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	if len(events) > MaxClaims {
		return nil, fmt.Errorf("%w: max %d events, got %d", ErrTooManyEvents, MaxClaims, len(events))
	}

	depositTree := trees.DepositTree()
	eligibleTree := trees.EligibleTree(term)
	depositTreeRoot := depositTree.Root()
	eligibleTreeRoot := eligibleTree.Root()

	// Claimant identity is invariant across the batch.
	pubkey := key.Pubkey()
	recipient := key.Recipient()

	log.Debug("building claim witnesses",
		"term", term.String(),
		"events", len(events),
		"recipient", recipient.Hex(),
	)

	witnesses := make([]Witness, 0, len(events))
	var prevClaimHash merkle.Hash
	for _, event := range events {
		depositIndex, ok := depositTree.Index(event.Deposit.Hash())
		if !ok {
			return nil, fmt.Errorf("%w: tx nonce %d", ErrDepositNotFound, event.TxNonce)
		}
		depositProof, err := depositTree.Prove(depositIndex)
		if err != nil {
			return nil, fmt.Errorf("claim: prove deposit %d: %w", depositIndex, err)
		}

		eligibleIndex, ok := eligibleTree.LeafIndex(depositIndex)
		if !ok {
			return nil, fmt.Errorf("%w: deposit index %d, term %s", ErrNotEligible, depositIndex, term)
		}
		eligibleProof, err := eligibleTree.Prove(eligibleIndex)
		if err != nil {
			return nil, fmt.Errorf("claim: prove eligibility %d: %w", eligibleIndex, err)
		}
		eligibleLeaf, err := eligibleTree.Leaf(eligibleIndex)
		if err != nil {
			return nil, fmt.Errorf("claim: eligibility leaf %d: %w", eligibleIndex, err)
		}

		w := Witness{
			DepositTreeRoot:     depositTreeRoot,
			DepositIndex:        depositIndex,
			DepositMerkleProof:  depositProof,
			Deposit:             event.Deposit,
			EligibleTreeRoot:    eligibleTreeRoot,
			EligibleIndex:       eligibleIndex,
			EligibleMerkleProof: eligibleProof,
			EligibleLeaf:        eligibleLeaf,
			Pubkey:              pubkey,
			Salt:                key.ClaimSalt(event.TxNonce),
			Recipient:           recipient,
			PrevClaimHash:       prevClaimHash,
		}
		w.NewClaimHash = w.claimHash()
		prevClaimHash = w.NewClaimHash
		witnesses = append(witnesses, w)
	}
	return witnesses, nil
}

// claimHash binds the witness to its predecessor and to the roots it was
// proven against.
func (w Witness) claimHash() merkle.Hash {
	var depositIdx, eligibleIdx [4]byte
	binary.BigEndian.PutUint32(depositIdx[:], w.DepositIndex)
	binary.BigEndian.PutUint32(eligibleIdx[:], w.EligibleIndex)
	leafHash := w.EligibleLeaf.Hash()

	var out merkle.Hash
	copy(out[:], crypto.Keccak256(
		w.PrevClaimHash[:],
		w.DepositTreeRoot[:],
		depositIdx[:],
		w.EligibleTreeRoot[:],
		eligibleIdx[:],
		leafHash[:],
		w.Pubkey,
		w.Salt[:],
		w.Recipient.Bytes(),
	))
	return out
}
