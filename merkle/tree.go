package merkle

import (
	"errors"
	"sync"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

var (
	ErrLeafNotInTree  = errors.New("leaf is not part of the tree")
	ErrDuplicatedLeaf = errors.New("leaf already added")
)

// Tree accumulates the leaves of a checkpoint batch on the relayer side.
// Because the pairwise combination always hashes the running value on the
// left, a root only proves the leaf it was folded from; RootFor builds the
// checkpoint for one target leaf, chaining the rest of the batch as its
// sibling path. The relayer publishes one checkpoint per unlock it submits.
// Safe for concurrent use.
type Tree struct {
	mu     sync.RWMutex
	leaves []ethCommon.Hash
	index  map[ethCommon.Hash]int
}

func NewTree() *Tree {
	return &Tree{
		index: make(map[ethCommon.Hash]int),
	}
}

// AddLeaf appends a leaf to the batch.
func (t *Tree) AddLeaf(leaf ethCommon.Hash) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.index[leaf]; ok {
		return ErrDuplicatedLeaf
	}
	t.index[leaf] = len(t.leaves)
	t.leaves = append(t.leaves, leaf)
	return nil
}

// RemoveLeaf drops a settled leaf so it no longer lengthens future proofs.
func (t *Tree) RemoveLeaf(leaf ethCommon.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[leaf]
	if !ok {
		return
	}
	t.leaves = append(t.leaves[:i], t.leaves[i+1:]...)
	delete(t.index, leaf)
	for j := i; j < len(t.leaves); j++ {
		t.index[t.leaves[j]] = j
	}
}

// Len returns the amount of pending leaves.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.leaves)
}

// RootFor returns the checkpoint root that proves the given leaf, together
// with the sibling path the unlocker must submit. The path chains the rest
// of the batch in insertion order, capped at MaxProofDepth siblings: a
// checkpoint only has to prove its own leaf, not commit to the whole
// backlog.
func (t *Tree) RootFor(leaf ethCommon.Hash) (ethCommon.Hash, []ethCommon.Hash, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.index[leaf]; !ok {
		return ethCommon.Hash{}, nil, ErrLeafNotInTree
	}
	proof := make([]ethCommon.Hash, 0, MaxProofDepth)
	for _, l := range t.leaves {
		if len(proof) == MaxProofDepth {
			break
		}
		if l != leaf {
			proof = append(proof, l)
		}
	}
	root := leaf
	for _, sibling := range proof {
		root = HashPair(root, sibling)
	}
	return root, proof, nil
}
