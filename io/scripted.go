package io

import (
	"errors"
	"sync"
)

// ErrScriptExhausted is returned by ScriptedTransport when no more responses are queued.
var ErrScriptExhausted = errors.New("no scripted response left")

// ScriptedTransport is an in-memory Transport replaying queued responses.
// It records every transmitted command. It's meant for tests and simulations.
type ScriptedTransport struct {
	mu        sync.Mutex
	responses [][]byte
	errs      []error
	sent      [][]byte
	resets    int
	connected bool
	ResetErr  error
}

// NewScriptedTransport returns a connected ScriptedTransport that will answer with responses in order.
func NewScriptedTransport(responses ...[]byte) *ScriptedTransport {
	t := &ScriptedTransport{connected: true}
	for _, r := range responses {
		t.Push(r)
	}

	return t
}

// Push queues a response.
func (t *ScriptedTransport) Push(resp []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.responses = append(t.responses, resp)
	t.errs = append(t.errs, nil)
}

// PushError queues a link failure.
func (t *ScriptedTransport) PushError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.responses = append(t.responses, nil)
	t.errs = append(t.errs, err)
}

// Transmit implements Transmitter.
func (t *ScriptedTransport) Transmit(cmd []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil, NewTransportError("transmit", ErrNotConnected)
	}

	t.sent = append(t.sent, append([]byte{}, cmd...))

	if len(t.responses) == 0 {
		return nil, NewTransportError("transmit", ErrScriptExhausted)
	}

	resp, err := t.responses[0], t.errs[0]
	t.responses, t.errs = t.responses[1:], t.errs[1:]

	if err != nil {
		return nil, NewTransportError("transmit", err)
	}

	return resp, nil
}

// IsConnected implements Transport.
func (t *ScriptedTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connected
}

// Reset implements Transport.
func (t *ScriptedTransport) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resets++
	if t.ResetErr != nil {
		return NewTransportError("reset", t.ResetErr)
	}

	t.connected = true

	return nil
}

// Disconnect simulates a card removal.
func (t *ScriptedTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connected = false
}

// Sent returns the commands transmitted so far.
func (t *ScriptedTransport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([][]byte{}, t.sent...)
}

// Resets returns how many times Reset was called.
func (t *ScriptedTransport) Resets() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.resets
}
