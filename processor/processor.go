package processor

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/status-im/keycard-proto/io"
)

var logger = log.New("package", "keycard-proto/processor")

// Transmitter is the next hop of a pipeline stage: another stage or the transport itself.
type Transmitter interface {
	Transmit([]byte) ([]byte, error)
}

// Processor transforms an outgoing command and the matching incoming response.
// It may perform more than one exchange through next.
type Processor interface {
	Process(cmd []byte, next Transmitter) ([]byte, error)
	IsActive() bool
	SecurityLevel() SecurityLevel
}

// Resetter is implemented by processors holding per-session state.
type Resetter interface {
	Reset()
}

// Pipeline is an ordered list of processors. Commands flow through them in
// order, responses flow back in reverse order.
type Pipeline struct {
	processors []Processor
}

// NewPipeline returns a pipeline running the given processors, outermost first.
func NewPipeline(processors ...Processor) *Pipeline {
	return &Pipeline{
		processors: append([]Processor{}, processors...),
	}
}

// Processors returns the processors of the pipeline, outermost first.
func (p *Pipeline) Processors() []Processor {
	return append([]Processor{}, p.processors...)
}

// Transmit sends cmd through every active processor and then to t.
func (p *Pipeline) Transmit(cmd []byte, t io.Transmitter) ([]byte, error) {
	var next Transmitter = &link{t: t}
	for i := len(p.processors) - 1; i >= 0; i-- {
		next = &stage{processor: p.processors[i], next: next}
	}

	return next.Transmit(cmd)
}

// SecurityLevel is the union of the levels of the active processors.
func (p *Pipeline) SecurityLevel() SecurityLevel {
	level := SecurityLevelNone
	for _, proc := range p.processors {
		if proc.IsActive() {
			level |= proc.SecurityLevel()
		}
	}

	return level
}

// Reset resets every processor implementing Resetter.
func (p *Pipeline) Reset() {
	for _, proc := range p.processors {
		if r, ok := proc.(Resetter); ok {
			logger.Debug("resetting processor", "processor", Name(proc))
			r.Reset()
		}
	}
}

// link is the last hop. Every error it returns is a *io.TransportError.
type link struct {
	t io.Transmitter
}

func (l *link) Transmit(cmd []byte) ([]byte, error) {
	resp, err := l.t.Transmit(cmd)
	if err != nil {
		return nil, io.NewTransportError("transmit", err)
	}

	return resp, nil
}

type stage struct {
	processor Processor
	next      Transmitter
}

func (s *stage) Transmit(cmd []byte) ([]byte, error) {
	if !s.processor.IsActive() {
		return s.next.Transmit(cmd)
	}

	resp, err := s.processor.Process(cmd, s.next)
	if err != nil {
		return nil, wrapError(s.processor, err)
	}

	return resp, nil
}

// ProcessorError is returned when a processor rejects or fails an exchange.
type ProcessorError struct {
	Processor string
	Err       error
}

// Error implements the error interface.
func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor %s: %v", e.Processor, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProcessorError) Unwrap() error {
	return e.Err
}

func wrapError(p Processor, err error) error {
	var (
		te *io.TransportError
		pe *ProcessorError
	)

	if errors.As(err, &te) || errors.As(err, &pe) {
		return err
	}

	return &ProcessorError{Processor: Name(p), Err: err}
}

// Name returns a printable name for p.
func Name(p Processor) string {
	if s, ok := p.(fmt.Stringer); ok {
		return s.String()
	}

	return fmt.Sprintf("%T", p)
}
