// Package executor runs commands through a processor pipeline on a single transport.
package executor

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/status-im/keycard-proto/apdu"
	"github.com/status-im/keycard-proto/io"
	"github.com/status-im/keycard-proto/processor"
)

var logger = log.New("package", "keycard-proto/executor")

// Executor owns the link to one card. Calls are serialized, one exchange is
// in flight at a time.
type Executor struct {
	mu        sync.Mutex
	transport io.Transport
	pipeline  *processor.Pipeline
}

// New returns an Executor sending commands through the given processors, outermost first.
func New(t io.Transport, processors ...processor.Processor) *Executor {
	return &Executor{
		transport: t,
		pipeline:  processor.NewPipeline(processors...),
	}
}

// NewWithChannels returns an Executor running the given secure channels on top
// of response chaining and frame logging.
func NewWithChannels(t io.Transport, channels ...processor.Processor) *Executor {
	processors := append([]processor.Processor{}, channels...)
	processors = append(processors, processor.NewChainingProcessor(), processor.NewLoggingProcessor())

	return New(t, processors...)
}

// Execute sends cmd and returns the decoded response.
// Errors are *io.TransportError, *processor.ProcessorError or, when the card
// answers with a status other than 9000, *apdu.ErrBadResponse returned along with the response.
func (e *Executor) Execute(cmd *apdu.Command) (*apdu.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	raw, err := cmd.Serialize()
	if err != nil {
		return nil, err
	}

	rawResp, err := e.pipeline.Transmit(raw, e.transport)
	if err != nil {
		return nil, err
	}

	resp, err := apdu.ParseResponse(rawResp)
	if err != nil {
		return nil, err
	}

	if !resp.IsOK() {
		logger.Debug("card error", "cmd", cmd.String(), "sw", apdu.DescribeSw(resp.Sw))
		return resp, apdu.NewCardError(resp.Sw)
	}

	return resp, nil
}

// SecurityLevel returns the protection currently applied to commands.
func (e *Executor) SecurityLevel() processor.SecurityLevel {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.pipeline.SecurityLevel()
}

// Reset resets the transport and brings every processor back to its initial state.
// Processors are reset even if the transport reset fails.
func (e *Executor) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.transport.Reset()
	e.pipeline.Reset()

	if err != nil {
		logger.Debug("transport reset failed", "error", err)
		return io.NewTransportError("reset", err)
	}

	return nil
}

// Transport returns the underlying transport.
func (e *Executor) Transport() io.Transport {
	return e.transport
}
