package types

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidAddress is returned when an address argument is not a
	// well-formed 20-byte hex address.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidEncoding is returned when a byte string has the wrong width
	// for the encoding being decoded.
	ErrInvalidEncoding = errors.New("invalid encoding")
)

// EncodeKey validates both addresses and returns the 72-byte key encoding.
func EncodeKey(colony string, skill *uint256.Int, user string) ([]byte, error) {
	k, err := NewReputationKey(colony, skill, user)
	if err != nil {
		return nil, err
	}
	return k.Bytes(), nil
}

// DecodeKey splits a 72-byte key into its colony, skill and user parts.
func DecodeKey(b []byte) (ReputationKey, error) {
	if len(b) != KeyLength {
		return ReputationKey{}, errors.Wrapf(ErrInvalidEncoding, "key length %d", len(b))
	}
	var k ReputationKey
	copy(k.Colony[:], b[:common.AddressLength])
	k.Skill.SetBytes32(b[common.AddressLength : common.AddressLength+32])
	copy(k.User[:], b[common.AddressLength+32:])
	return k, nil
}

// EncodeValue returns score (32 bytes, big-endian) followed by uid.
func EncodeValue(score, uid *uint256.Int) []byte {
	out := make([]byte, ValueLength)
	if score != nil {
		score.WriteToSlice(out[:32])
	}
	if uid != nil {
		uid.WriteToSlice(out[32:])
	}
	return out
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(b []byte) (ReputationValue, error) {
	if len(b) != ValueLength {
		return ReputationValue{}, errors.Wrapf(ErrInvalidEncoding, "value length %d", len(b))
	}
	var v ReputationValue
	v.Score.SetBytes32(b[:32])
	v.UID.SetBytes32(b[32:])
	return v, nil
}

// EncodeJustificationLeaf returns the justification-tree leaf for an interim
// state: root hash followed by the node count as a 32-byte integer.
func EncodeJustificationLeaf(root common.Hash, nNodes uint64) []byte {
	out := make([]byte, LeafLength)
	copy(out[:32], root[:])
	binary.BigEndian.PutUint64(out[LeafLength-8:], nNodes)
	return out
}

// DecodeJustificationLeaf is the inverse of EncodeJustificationLeaf. Node
// counts that do not fit in 64 bits are rejected.
func DecodeJustificationLeaf(b []byte) (common.Hash, uint64, error) {
	if len(b) != LeafLength {
		return common.Hash{}, 0, errors.Wrapf(ErrInvalidEncoding, "leaf length %d", len(b))
	}
	n, err := decodeUint64Word(b[32:])
	if err != nil {
		return common.Hash{}, 0, err
	}
	return common.BytesToHash(b[:32]), n, nil
}

// EncodeIndex returns i as a 32-byte big-endian, zero-padded word. This is
// the key under which justification entries are stored.
func EncodeIndex(i uint64) []byte {
	out := make([]byte, IndexLength)
	binary.BigEndian.PutUint64(out[IndexLength-8:], i)
	return out
}

// DecodeIndex is the inverse of EncodeIndex.
func DecodeIndex(b []byte) (uint64, error) {
	if len(b) != IndexLength {
		return 0, errors.Wrapf(ErrInvalidEncoding, "index length %d", len(b))
	}
	return decodeUint64Word(b)
}

func decodeUint64Word(w []byte) (uint64, error) {
	for _, c := range w[:len(w)-8] {
		if c != 0 {
			return 0, errors.Wrap(ErrInvalidEncoding, "word overflows uint64")
		}
	}
	return binary.BigEndian.Uint64(w[len(w)-8:]), nil
}
