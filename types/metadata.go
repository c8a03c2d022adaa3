package types

import (
	"bytes"
	"errors"
	"io"
	"slices"

	"github.com/status-im/keycard-proto/apdu"
)

const (
	metadataVersion   = 1
	maxCardNameLength = 20
	nameLengthMask    = 0x1f
)

var (
	ErrInvalidMetadataVersion = errors.New("invalid metadata version")
	ErrCardNameTooLong        = errors.New("name longer than 20 chars")
	ErrMetadataTruncated      = errors.New("metadata truncated")
)

// Metadata is the public data stored on the card: a card name and the set of
// wallet path indices in use. On the card, paths are stored as runs of
// consecutive indices, each encoded as a start and a count of following indices.
type Metadata struct {
	name  string
	paths []uint32
}

func EmptyMetadata() *Metadata {
	return &Metadata{}
}

func NewMetadata(name string, paths []uint32) (*Metadata, error) {
	m := EmptyMetadata()
	if err := m.SetName(name); err != nil {
		return nil, err
	}

	for _, p := range paths {
		m.AddPath(p)
	}

	return m, nil
}

func ParseMetadata(data []byte) (*Metadata, error) {
	buf := bytes.NewBuffer(data)
	header, err := buf.ReadByte()
	if err != nil {
		return nil, ErrMetadataTruncated
	}

	if header>>5 != metadataVersion {
		return nil, ErrInvalidMetadataVersion
	}

	nameLen := int(header & nameLengthMask)
	if buf.Len() < nameLen {
		return nil, ErrMetadataTruncated
	}

	m := &Metadata{name: string(buf.Next(nameLen))}

	for {
		start, err := apdu.ParseLength(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		count, err := apdu.ParseLength(buf)
		if err != nil {
			return nil, ErrMetadataTruncated
		}

		for i := uint64(start); i <= uint64(start)+uint64(count); i++ {
			m.AddPath(uint32(i))
		}
	}

	return m, nil
}

func (m *Metadata) Name() string {
	return m.name
}

func (m *Metadata) SetName(name string) error {
	if len(name) > maxCardNameLength {
		return ErrCardNameTooLong
	}

	m.name = name

	return nil
}

// Paths returns the path indices in ascending order.
func (m *Metadata) Paths() []uint32 {
	return slices.Clone(m.paths)
}

func (m *Metadata) AddPath(path uint32) {
	i, found := slices.BinarySearch(m.paths, path)
	if !found {
		m.paths = slices.Insert(m.paths, i, path)
	}
}

func (m *Metadata) RemovePath(path uint32) {
	if i, found := slices.BinarySearch(m.paths, path); found {
		m.paths = slices.Delete(m.paths, i, i+1)
	}
}

func (m *Metadata) Serialize() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(metadataVersion<<5 | byte(len(m.name)))
	buf.WriteString(m.name)

	for i := 0; i < len(m.paths); {
		start := m.paths[i]
		j := i + 1
		for j < len(m.paths) && m.paths[j] == m.paths[j-1]+1 {
			j++
		}

		apdu.WriteLength(buf, start)
		apdu.WriteLength(buf, uint32(j-i-1))
		i = j
	}

	return buf.Bytes()
}
