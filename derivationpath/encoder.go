package derivationpath

import (
	"encoding/binary"
	"errors"
	"strconv"
	"strings"
)

var ErrInvalidPathLength = errors.New("encoded path length must be a multiple of 4")

// Encode formats a path. Hardened indices are printed with a trailing '.
func Encode(start StartingPoint, path []uint32) string {
	var sb strings.Builder

	switch start {
	case StartingPointMaster:
		sb.WriteString(tokenMaster)
	case StartingPointParent:
		sb.WriteString(tokenParent)
	default:
		if len(path) == 0 {
			return tokenCurrent
		}
	}

	for i, index := range path {
		if i > 0 || sb.Len() > 0 {
			sb.WriteString(tokenSeparator)
		}

		if index >= hardenedStart {
			sb.WriteString(strconv.FormatUint(uint64(index-hardenedStart), 10))
			sb.WriteByte(tokenHardened)
		} else {
			sb.WriteString(strconv.FormatUint(uint64(index), 10))
		}
	}

	return sb.String()
}

// EncodeFromBytes formats an absolute path received from the card as big endian uint32s.
func EncodeFromBytes(data []byte) (string, error) {
	path, err := FromBytes(data)
	if err != nil {
		return "", err
	}

	return Encode(StartingPointMaster, path), nil
}

// ToBytes serializes a path as big endian uint32s, the format used in commands.
func ToBytes(path []uint32) []byte {
	data := make([]byte, 4*len(path))
	for i, index := range path {
		binary.BigEndian.PutUint32(data[4*i:], index)
	}

	return data
}

func FromBytes(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, ErrInvalidPathLength
	}

	path := make([]uint32, len(data)/4)
	for i := range path {
		path[i] = binary.BigEndian.Uint32(data[4*i:])
	}

	return path, nil
}
