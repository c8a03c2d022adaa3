package apdu

import (
	"fmt"
)

// ErrBadResponse defines an error containing the returned Sw code and a description message.
// It's the error returned when a card answers with a status other than success.
type ErrBadResponse struct {
	Sw      uint16
	message string
}

// NewErrBadResponse returns a ErrBadResponse with the specified sw and message values.
func NewErrBadResponse(sw uint16, message string) *ErrBadResponse {
	return &ErrBadResponse{
		Sw:      sw,
		message: message,
	}
}

// NewCardError returns the ErrBadResponse describing a status word returned by the card.
func NewCardError(sw uint16) *ErrBadResponse {
	return NewErrBadResponse(sw, swMeaning(sw))
}

// Error implements the error interface.
func (e *ErrBadResponse) Error() string {
	return fmt.Sprintf("bad response %x: %s", e.Sw, e.message)
}

// Response represents a struct containing the smartcard response fields.
type Response struct {
	Data []byte
	Sw1  uint8
	Sw2  uint8
	Sw   uint16
}

// NewResponse returns a Response with the given data and status word.
func NewResponse(data []byte, sw uint16) *Response {
	return &Response{
		Data: data,
		Sw1:  uint8(sw >> 8),
		Sw2:  uint8(sw),
		Sw:   sw,
	}
}

// ParseResponse parses a raw response and return a Response.
func ParseResponse(data []byte) (*Response, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: response must be at least 2 bytes, got %d", ErrMalformedFrame, len(data))
	}

	idx := len(data) - 2
	payload := make([]byte, idx)
	copy(payload, data[:idx])

	r := &Response{
		Data: payload,
		Sw1:  data[idx],
		Sw2:  data[idx+1],
	}
	r.Sw = (uint16(r.Sw1) << 8) | uint16(r.Sw2)

	return r, nil
}

// Serialize returns the raw bytes of the response, payload followed by the status word.
func (r *Response) Serialize() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)

	return append(out, r.Sw1, r.Sw2)
}

// IsOK returns true if the response Sw code is 0x9000.
func (r *Response) IsOK() bool {
	return r.Sw == SwOK
}

// MoreDataAvailable returns true and the number of remaining bytes if the card answered 61XX.
func (r *Response) MoreDataAvailable() (bool, int) {
	if r.Sw1 != Sw1ResponseDataIncomplete {
		return false, 0
	}

	return true, shortLength(r.Sw2)
}

// WrongLength returns true and the exact length to use if the card answered 6CXX.
func (r *Response) WrongLength() (bool, int) {
	if r.Sw1 != Sw1WrongLength {
		return false, 0
	}

	return true, shortLength(r.Sw2)
}

// String returns a short description of the response.
func (r *Response) String() string {
	return fmt.Sprintf("data (%d bytes) sw %04X", len(r.Data), r.Sw)
}

func shortLength(b uint8) int {
	if b == 0 {
		return MaxShortLe
	}

	return int(b)
}
