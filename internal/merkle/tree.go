package merkle

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// TreeHeight is the fixed depth of the protocol's indexed Merkle trees.
const TreeHeight = 32

var (
	ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")
	ErrTreeFull        = errors.New("merkle: tree is full")
)

type Hash [32]byte

// Proof is an inclusion proof: the sibling hash at every level, leaf first.
type Proof struct {
	Siblings []Hash
}

// Tree is an append-only Merkle tree of fixed height. Missing leaves are
// zero-valued; zero-subtree hashes are precomputed per level.
type Tree struct {
	height int
	leaves []Hash
	zeros  []Hash
}

func NewTree(height int) *Tree {
	if height <= 0 || height > TreeHeight {
		height = TreeHeight
	}
	zeros := make([]Hash, height+1)
	for h := 0; h < height; h++ {
		zeros[h+1] = hashPair(zeros[h], zeros[h])
	}
	return &Tree{height: height, zeros: zeros}
}

func (t *Tree) Len() int {
	return len(t.leaves)
}

// Push appends a leaf and returns its index.
func (t *Tree) Push(leaf Hash) (uint32, error) {
	if uint64(len(t.leaves)) >= 1<<uint(t.height) {
		return 0, ErrTreeFull
	}
	t.leaves = append(t.leaves, leaf)
	return uint32(len(t.leaves) - 1), nil
}

func (t *Tree) Leaf(index uint32) (Hash, error) {
	if int(index) >= len(t.leaves) {
		return Hash{}, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, len(t.leaves))
	}
	return t.leaves[index], nil
}

func (t *Tree) Root() Hash {
	nodes := append([]Hash(nil), t.leaves...)
	for h := 0; h < t.height; h++ {
		next := make([]Hash, (len(nodes)+1)/2)
		for i := range next {
			left := nodes[2*i]
			right := t.zeros[h]
			if 2*i+1 < len(nodes) {
				right = nodes[2*i+1]
			}
			next[i] = hashPair(left, right)
		}
		nodes = next
	}
	if len(nodes) == 0 {
		return t.zeros[t.height]
	}
	return nodes[0]
}

// Prove builds the inclusion proof for the leaf at index against the
// current root.
func (t *Tree) Prove(index uint32) (Proof, error) {
	if int(index) >= len(t.leaves) {
		return Proof{}, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, len(t.leaves))
	}
	siblings := make([]Hash, 0, t.height)
	nodes := append([]Hash(nil), t.leaves...)
	pos := int(index)
	for h := 0; h < t.height; h++ {
		sib := pos ^ 1
		if sib < len(nodes) {
			siblings = append(siblings, nodes[sib])
		} else {
			siblings = append(siblings, t.zeros[h])
		}
		next := make([]Hash, (len(nodes)+1)/2)
		for i := range next {
			left := nodes[2*i]
			right := t.zeros[h]
			if 2*i+1 < len(nodes) {
				right = nodes[2*i+1]
			}
			next[i] = hashPair(left, right)
		}
		nodes = next
		pos >>= 1
	}
	return Proof{Siblings: siblings}, nil
}

// Verify checks an inclusion proof against a root.
func Verify(root Hash, leaf Hash, index uint32, proof Proof) bool {
	node := leaf
	pos := index
	for _, sib := range proof.Siblings {
		if pos&1 == 0 {
			node = hashPair(node, sib)
		} else {
			node = hashPair(sib, node)
		}
		pos >>= 1
	}
	return node == root
}

func hashPair(left, right Hash) Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	h.Sum(out[:0])
	return out
}
