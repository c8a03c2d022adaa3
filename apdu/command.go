package apdu

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// MaxShortLc is the biggest data length encodable with a 1 byte Lc.
	MaxShortLc = 255
	// MaxShortLe is the biggest Ne encodable with a 1 byte Le (0x00 means 256).
	MaxShortLe = 256
	// MaxExtendedLc is the biggest data length encodable with a 2 bytes Lc.
	MaxExtendedLc = 65535
	// MaxExtendedLe is the biggest Ne encodable with a 2 bytes Le (0x0000 means 65536).
	MaxExtendedLe = 65536

	extendedMarker = 0x00
)

// Command struct represent the data sent as an APDU command with CLA, Ins, P1, P2, Lc, Data, and Le.
type Command struct {
	Cla        uint8
	Ins        uint8
	P1         uint8
	P2         uint8
	Data       []byte
	ne         int
	requiresLe bool
}

// NewCommand returns a new apdu Command.
func NewCommand(cla, ins, p1, p2 uint8, data []byte) *Command {
	return &Command{
		Cla:        cla,
		Ins:        ins,
		P1:         p1,
		P2:         p2,
		Data:       data,
		requiresLe: false,
	}
}

// SetLe sets a short Le value and makes sure the Le value is sent in the apdu Command.
// An le of 0 means 256 bytes expected.
func (c *Command) SetLe(le uint8) {
	c.requiresLe = true
	c.ne = int(le)
	if le == 0 {
		c.ne = MaxShortLe
	}
}

// SetNe sets the number of expected response bytes. Values above 256 force the extended encoding.
func (c *Command) SetNe(ne int) error {
	if ne < 1 || ne > MaxExtendedLe {
		return fmt.Errorf("%w: ne %d out of range", ErrInvalidLengthEncoding, ne)
	}

	c.requiresLe = true
	c.ne = ne

	return nil
}

// Le returns if Le is set and its short form value.
func (c *Command) Le() (bool, uint8) {
	return c.requiresLe, uint8(c.ne)
}

// Ne returns if Le is set and the number of expected bytes.
func (c *Command) Ne() (bool, int) {
	return c.requiresLe, c.ne
}

// IsExtended returns true if the command needs the extended length encoding.
func (c *Command) IsExtended() bool {
	return len(c.Data) > MaxShortLc || (c.requiresLe && c.ne > MaxShortLe)
}

// Clone returns a deep copy of the command.
func (c *Command) Clone() *Command {
	nc := *c
	if c.Data != nil {
		nc.Data = append([]byte{}, c.Data...)
	}

	return &nc
}

// Serialize serializes the command into a raw bytes sequence.
func (c *Command) Serialize() ([]byte, error) {
	if len(c.Data) > MaxExtendedLc {
		return nil, fmt.Errorf("%w: data length %d", ErrInvalidLengthEncoding, len(c.Data))
	}

	if c.requiresLe && (c.ne < 1 || c.ne > MaxExtendedLe) {
		return nil, fmt.Errorf("%w: ne %d", ErrInvalidLengthEncoding, c.ne)
	}

	buf := new(bytes.Buffer)
	buf.Write([]byte{c.Cla, c.Ins, c.P1, c.P2})

	extended := c.IsExtended()

	if len(c.Data) > 0 {
		if extended {
			buf.WriteByte(extendedMarker)
			binary.Write(buf, binary.BigEndian, uint16(len(c.Data)))
		} else {
			buf.WriteByte(uint8(len(c.Data)))
		}

		buf.Write(c.Data)
	}

	if c.requiresLe {
		if extended {
			if len(c.Data) == 0 {
				buf.WriteByte(extendedMarker)
			}
			// 65536 wraps to 0x0000
			binary.Write(buf, binary.BigEndian, uint16(c.ne))
		} else {
			// 256 wraps to 0x00
			buf.WriteByte(uint8(c.ne))
		}
	}

	return buf.Bytes(), nil
}

// String returns a short description of the command header.
func (c *Command) String() string {
	return fmt.Sprintf("CLA %02X INS %02X P1 %02X P2 %02X Lc %d Le %d", c.Cla, c.Ins, c.P1, c.P2, len(c.Data), c.ne)
}

// ParseCommand parses a raw command and returns a Command.
func ParseCommand(raw []byte) (*Command, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: command must be at least 4 bytes, got %d", ErrMalformedFrame, len(raw))
	}

	c := NewCommand(raw[0], raw[1], raw[2], raw[3], nil)
	body := raw[4:]

	switch {
	case len(body) == 0:
		// header only
		return c, nil

	case len(body) == 1:
		c.SetLe(body[0])
		return c, nil

	case body[0] != extendedMarker:
		lc := int(body[0])
		switch len(body) {
		case 1 + lc:
			c.Data = append([]byte{}, body[1:]...)
		case 2 + lc:
			c.Data = append([]byte{}, body[1:1+lc]...)
			c.SetLe(body[1+lc])
		default:
			return nil, fmt.Errorf("%w: lc %d with %d body bytes", ErrInvalidLengthEncoding, lc, len(body))
		}

		return c, nil
	}

	// extended form
	if len(body) < 3 {
		return nil, fmt.Errorf("%w: truncated extended length", ErrInvalidLengthEncoding)
	}

	n := int(binary.BigEndian.Uint16(body[1:3]))

	if len(body) == 3 {
		c.requiresLe = true
		c.ne = extendedNe(n)
		return c, nil
	}

	if n == 0 {
		return nil, fmt.Errorf("%w: extended lc cannot be 0", ErrInvalidLengthEncoding)
	}

	switch len(body) {
	case 3 + n:
		c.Data = append([]byte{}, body[3:]...)
	case 5 + n:
		c.Data = append([]byte{}, body[3:3+n]...)
		c.requiresLe = true
		c.ne = extendedNe(int(binary.BigEndian.Uint16(body[3+n:])))
	default:
		return nil, fmt.Errorf("%w: extended lc %d with %d body bytes", ErrInvalidLengthEncoding, n, len(body))
	}

	return c, nil
}

func extendedNe(n int) int {
	if n == 0 {
		return MaxExtendedLe
	}

	return n
}
