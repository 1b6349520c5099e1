package merkle

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"creddd/internal/group/models"
)

// LeafEncoder turns a member address into a leaf hash. The encoding is part
// of the root's meaning: provers must use the same encoder.
type LeafEncoder func(groupID models.GroupID, addr common.Address) common.Hash

// AddressLeaf hashes the address alone. Token groups use it so that the same
// holder produces the same leaf across groups.
func AddressLeaf(_ models.GroupID, addr common.Address) common.Hash {
	return crypto.Keccak256Hash(addr.Bytes())
}

// ScopedLeaf binds the leaf to the group id, so a leaf from one allow-list
// cannot be replayed against another.
func ScopedLeaf(groupID models.GroupID, addr common.Address) common.Hash {
	return crypto.Keccak256Hash(groupID.Bytes(), addr.Bytes())
}

// LeafEncoderFor returns the leaf policy for a group type.
func LeafEncoderFor(t models.GroupType) LeafEncoder {
	switch t {
	case models.GroupTypeAllowlist:
		return ScopedLeaf
	default:
		return AddressLeaf
	}
}
