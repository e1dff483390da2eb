// Package types defines the reputation-mining data structures and their
// fixed-width wire encodings.
package types

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

const (
	// KeyLength is the size of an encoded ReputationKey:
	// colony (20) | skill id (32) | user (20).
	KeyLength = common.AddressLength + 32 + common.AddressLength

	// ValueLength is the size of an encoded ReputationValue: score (32) | uid (32).
	ValueLength = 64

	// LeafLength is the size of an encoded justification-tree leaf:
	// root hash (32) | node count (32).
	LeafLength = 64

	// IndexLength is the size of an encoded logical update index.
	IndexLength = 32
)

// ReputationKey identifies one reputation entry. A zero User denotes the
// colony-wide entry for the skill.
type ReputationKey struct {
	Colony common.Address
	Skill  uint256.Int
	User   common.Address
}

// NewReputationKey builds a key from hex addresses, rejecting anything that
// is not a well-formed 20-byte address.
func NewReputationKey(colony string, skill *uint256.Int, user string) (ReputationKey, error) {
	if !common.IsHexAddress(colony) {
		return ReputationKey{}, errors.Wrapf(ErrInvalidAddress, "colony %q", colony)
	}
	if !common.IsHexAddress(user) {
		return ReputationKey{}, errors.Wrapf(ErrInvalidAddress, "user %q", user)
	}
	k := ReputationKey{
		Colony: common.HexToAddress(colony),
		User:   common.HexToAddress(user),
	}
	if skill != nil {
		k.Skill.Set(skill)
	}
	return k, nil
}

// IsColonyWide reports whether the key is the non-user-specific entry.
func (k ReputationKey) IsColonyWide() bool {
	return k.User == (common.Address{})
}

// Bytes returns the 72-byte canonical encoding of the key.
func (k ReputationKey) Bytes() []byte {
	enc := k.Array()
	return enc[:]
}

// Array returns the encoding as a fixed array, usable as a map key.
func (k ReputationKey) Array() [KeyLength]byte {
	var enc [KeyLength]byte
	copy(enc[:common.AddressLength], k.Colony[:])
	k.Skill.WriteToSlice(enc[common.AddressLength : common.AddressLength+32])
	copy(enc[common.AddressLength+32:], k.User[:])
	return enc
}

// Hex returns the 0x-prefixed lower-case hex form of the encoding.
func (k ReputationKey) Hex() string {
	return fmt.Sprintf("0x%x", k.Bytes())
}

// String implements fmt.Stringer.
func (k ReputationKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Colony.Hex(), k.Skill.Dec(), k.User.Hex())
}

// Equal reports byte-exact equality.
func (k ReputationKey) Equal(o ReputationKey) bool {
	return bytes.Equal(k.Bytes(), o.Bytes())
}

// ReputationValue is the (score, uid) pair stored under a ReputationKey.
type ReputationValue struct {
	Score uint256.Int
	UID   uint256.Int
}

// NewReputationValue copies score and uid into a value.
func NewReputationValue(score, uid *uint256.Int) ReputationValue {
	var v ReputationValue
	if score != nil {
		v.Score.Set(score)
	}
	if uid != nil {
		v.UID.Set(uid)
	}
	return v
}

// Bytes returns the 64-byte encoding of the value.
func (v ReputationValue) Bytes() []byte {
	return EncodeValue(&v.Score, &v.UID)
}
