package io

import (
	"fmt"
	"sync"

	"github.com/ebfe/scard"
	"github.com/status-im/keycard-proto/hexutils"
)

// PCSCTransport is a Transport backed by a PC/SC reader.
type PCSCTransport struct {
	mu     sync.Mutex
	ctx    *scard.Context
	card   *scard.Card
	reader string
}

// ListReaders returns the names of the readers known to the PC/SC service.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, NewTransportError("establish context", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, NewTransportError("list readers", err)
	}

	return readers, nil
}

// NewPCSCTransport connects to the card inserted in the reader at readerIndex.
func NewPCSCTransport(readerIndex int) (*PCSCTransport, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, NewTransportError("establish context", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		ctx.Release()
		return nil, NewTransportError("list readers", fmt.Errorf("no readers found: %v", err))
	}

	if readerIndex < 0 || readerIndex >= len(readers) {
		ctx.Release()
		return nil, NewTransportError("list readers", fmt.Errorf("reader index out of range (0..%d)", len(readers)-1))
	}

	reader := readers[readerIndex]
	logger.Debug("connecting to card", "reader", reader)
	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, NewTransportError("connect", err)
	}

	t := &PCSCTransport{
		ctx:    ctx,
		card:   card,
		reader: reader,
	}

	if status, err := card.Status(); err == nil {
		switch status.ActiveProtocol {
		case scard.ProtocolT0:
			logger.Debug("card protocol", "T", "0")
		case scard.ProtocolT1:
			logger.Debug("card protocol", "T", "1")
		default:
			logger.Debug("card protocol", "T", "unknown")
		}
	}

	return t, nil
}

// Reader returns the name of the connected reader.
func (t *PCSCTransport) Reader() string {
	return t.reader
}

// Transmit sends a raw command and returns the raw response.
func (t *PCSCTransport) Transmit(cmd []byte) ([]byte, error) {
	t.mu.Lock()
	card := t.card
	t.mu.Unlock()

	if card == nil {
		return nil, NewTransportError("transmit", ErrNotConnected)
	}

	logger.Trace("pcsc transmit", "hex", hexutils.BytesToHexWithSpaces(cmd))
	resp, err := card.Transmit(cmd)
	if err != nil {
		return nil, NewTransportError("transmit", err)
	}

	return resp, nil
}

// IsConnected returns true if a card is still present and powered.
func (t *PCSCTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.card == nil {
		return false
	}

	_, err := t.card.Status()

	return err == nil
}

// Reset resets the card, dropping any applet state including secure channels.
func (t *PCSCTransport) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.card == nil {
		return NewTransportError("reset", ErrNotConnected)
	}

	if err := t.card.Reconnect(scard.ShareShared, scard.ProtocolAny, scard.ResetCard); err != nil {
		return NewTransportError("reset", err)
	}

	return nil
}

// Close disconnects the card and releases the PC/SC context.
// An exchange in flight fails with a TransportError.
func (t *PCSCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	if t.card != nil {
		if e := t.card.Disconnect(scard.ResetCard); e != nil {
			err = NewTransportError("disconnect", e)
		}
		t.card = nil
	}

	if t.ctx != nil {
		if e := t.ctx.Release(); e != nil && err == nil {
			err = NewTransportError("release", e)
		}
		t.ctx = nil
	}

	return err
}
