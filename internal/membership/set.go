package membership

import (
	"bytes"
	"slices"

	"github.com/ethereum/go-ethereum/common"
)

// Set is a deduplicated collection of member addresses.
type Set map[common.Address]struct{}

func NewSet(addrs ...common.Address) Set {
	s := make(Set, len(addrs))
	for _, a := range addrs {
		s[a] = struct{}{}
	}
	return s
}

func (s Set) Add(addr common.Address) {
	s[addr] = struct{}{}
}

func (s Set) Contains(addr common.Address) bool {
	_, ok := s[addr]
	return ok
}

func (s Set) Len() int {
	return len(s)
}

// Slice returns the members sorted bytewise.
func (s Set) Slice() []common.Address {
	out := make([]common.Address, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b common.Address) int {
		return bytes.Compare(a.Bytes(), b.Bytes())
	})
	return out
}
