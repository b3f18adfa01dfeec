package merkle

import (
	"errors"
	"fmt"
)

var ErrDuplicateLeaf = errors.New("merkle: duplicate deposit hash")

// DepositHashTree is the append-only deposit tree, indexed by deposit hash.
type DepositHashTree struct {
	tree  *Tree
	index map[Hash]uint32
}

func NewDepositHashTree() *DepositHashTree {
	return &DepositHashTree{
		tree:  NewTree(TreeHeight),
		index: make(map[Hash]uint32),
	}
}

// Append inserts a deposit hash and returns its deposit index.
func (d *DepositHashTree) Append(hash Hash) (uint32, error) {
	if _, ok := d.index[hash]; ok {
		return 0, fmt.Errorf("%w: %x", ErrDuplicateLeaf, hash)
	}
	idx, err := d.tree.Push(hash)
	if err != nil {
		return 0, err
	}
	d.index[hash] = idx
	return idx, nil
}

func (d *DepositHashTree) Len() int {
	return d.tree.Len()
}

func (d *DepositHashTree) Root() Hash {
	return d.tree.Root()
}

// Index looks up the deposit index of a deposit hash.
func (d *DepositHashTree) Index(hash Hash) (uint32, bool) {
	idx, ok := d.index[hash]
	return idx, ok
}

func (d *DepositHashTree) Prove(index uint32) (Proof, error) {
	return d.tree.Prove(index)
}
