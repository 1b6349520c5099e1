// Package merkle builds the deterministic binary Merkle tree committed for a
// group's membership set.
//
// Leaves are the sorted, deduplicated member addresses encoded by the group
// type's LeafEncoder. Each interior node is keccak256(left || right). When a
// level has an odd number of nodes the last one is promoted unchanged.
package merkle

import (
	"bytes"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"creddd/internal/group/models"
)

// Tree is an immutable Merkle tree over a group's members.
type Tree struct {
	members []common.Address
	levels  [][]common.Hash
}

// Build returns the tree for members, or (nil, false) when there are none.
// The input slice is not modified and its order does not matter.
func Build(groupID models.GroupID, groupType models.GroupType, members []common.Address) (*Tree, bool) {
	if len(members) == 0 {
		return nil, false
	}

	sorted := slices.Clone(members)
	slices.SortFunc(sorted, func(a, b common.Address) int {
		return bytes.Compare(a.Bytes(), b.Bytes())
	})
	sorted = slices.Compact(sorted)

	encode := LeafEncoderFor(groupType)
	leaves := make([]common.Hash, len(sorted))
	for i, addr := range sorted {
		leaves[i] = encode(groupID, addr)
	}

	levels := [][]common.Hash{leaves}
	for current := leaves; len(current) > 1; {
		next := make([]common.Hash, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 == len(current) {
				next = append(next, current[i])
				continue
			}
			next = append(next, hashPair(current[i], current[i+1]))
		}
		levels = append(levels, next)
		current = next
	}

	return &Tree{
		members: sorted,
		levels:  levels,
	}, true
}

func hashPair(left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash(left.Bytes(), right.Bytes())
}

// Root is the digest committing to every leaf.
func (t *Tree) Root() common.Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// LeafCount is the number of distinct members.
func (t *Tree) LeafCount() int {
	return len(t.members)
}

// Depth is the number of hashing levels above the leaves.
func (t *Tree) Depth() int {
	return len(t.levels) - 1
}

// Leaves returns the sorted member addresses in leaf order.
func (t *Tree) Leaves() []common.Address {
	return slices.Clone(t.members)
}

// LeafHash returns the encoded leaf at index i.
func (t *Tree) LeafHash(i int) common.Hash {
	return t.levels[0][i]
}
