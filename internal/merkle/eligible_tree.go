package merkle

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// EligibleLeaf maps a deposit index to its reward amount in the eligibility
// window the tree represents.
type EligibleLeaf struct {
	DepositIndex uint32
	Amount       *big.Int
}

func (l EligibleLeaf) Hash() Hash {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], l.DepositIndex)
	var amount [32]byte
	if l.Amount != nil {
		l.Amount.FillBytes(amount[:])
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(idx[:])
	h.Write(amount[:])
	var out Hash
	h.Sum(out[:0])
	return out
}

// EligibleTree is the secondary index from deposit index to eligibility
// leaf. Short-term and long-term windows are separate instances.
type EligibleTree struct {
	tree      *Tree
	leaves    []EligibleLeaf
	byDeposit map[uint32]uint32
}

func NewEligibleTree() *EligibleTree {
	return &EligibleTree{
		tree:      NewTree(TreeHeight),
		byDeposit: make(map[uint32]uint32),
	}
}

// Append inserts an eligibility leaf and returns its leaf index.
func (e *EligibleTree) Append(leaf EligibleLeaf) (uint32, error) {
	if _, ok := e.byDeposit[leaf.DepositIndex]; ok {
		return 0, fmt.Errorf("%w: deposit index %d", ErrDuplicateLeaf, leaf.DepositIndex)
	}
	idx, err := e.tree.Push(leaf.Hash())
	if err != nil {
		return 0, err
	}
	e.leaves = append(e.leaves, leaf)
	e.byDeposit[leaf.DepositIndex] = idx
	return idx, nil
}

func (e *EligibleTree) Len() int {
	return e.tree.Len()
}

func (e *EligibleTree) Root() Hash {
	return e.tree.Root()
}

// LeafIndex looks up the leaf position for a deposit index. The second
// return is false when the deposit is not eligible in this window.
func (e *EligibleTree) LeafIndex(depositIndex uint32) (uint32, bool) {
	idx, ok := e.byDeposit[depositIndex]
	return idx, ok
}

func (e *EligibleTree) Leaf(index uint32) (EligibleLeaf, error) {
	if int(index) >= len(e.leaves) {
		return EligibleLeaf{}, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, len(e.leaves))
	}
	return e.leaves[index], nil
}

func (e *EligibleTree) Prove(index uint32) (Proof, error) {
	return e.tree.Prove(index)
}
