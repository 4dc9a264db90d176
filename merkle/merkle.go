package merkle

import (
	"github.com/bloomnetwork/bloombridge/common"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-iden3-crypto/keccak256"
	"golang.org/x/crypto/sha3"
)

// MaxProofDepth bounds the sibling path length accepted by Verify. Anything
// longer is rejected before any hashing happens.
const MaxProofDepth = 32

// HashPair combines two nodes into their parent. The combination is order
// sensitive and unsorted: the running value is always the left operand, so
// the proof order fully determines the tree shape.
func HashPair(left, right ethCommon.Hash) ethCommon.Hash {
	var hash ethCommon.Hash
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(left[:])
	hasher.Write(right[:])
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// Leaf derives the leaf committed for an unlock claim. It must be bit-for-bit
// reproducible between the locker and the relayer building the proofs.
func Leaf(user ethCommon.Address, amount uint64, transactionID ethCommon.Hash) ethCommon.Hash {
	var hash ethCommon.Hash
	copy(hash[:], keccak256.Hash(
		user[:],
		common.Uint64ToBytes(amount),
		transactionID[:],
	))
	return hash
}

// TransactionID derives the deterministic identifier of a lock operation.
func TransactionID(user ethCommon.Address, amount uint64, externalAddress string, lockedAt int64) ethCommon.Hash {
	var hash ethCommon.Hash
	copy(hash[:], keccak256.Hash(
		user[:],
		common.Uint64ToBytes(amount),
		[]byte(externalAddress),
		common.Int64ToBytes(lockedAt),
	))
	return hash
}

// Verify recomputes a root starting from leaf and folding in the ordered
// sibling path, and compares the result against expectedRoot.
func Verify(leaf ethCommon.Hash, proof []ethCommon.Hash, expectedRoot ethCommon.Hash) bool {
	if len(proof) > MaxProofDepth {
		return false
	}
	current := leaf
	for _, sibling := range proof {
		current = HashPair(current, sibling)
	}
	return current == expectedRoot
}
