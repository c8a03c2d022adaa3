package processor

import (
	"errors"

	"github.com/status-im/keycard-proto/apdu"
)

const (
	DefaultMaxChains = 10

	claGetResponse = 0x00
	insGetResponse = 0xC0
)

var ErrChainLimitExceeded = errors.New("response chaining limit exceeded")

// ChainingProcessor resolves 61XX responses by issuing GET RESPONSE until a
// terminal status word is received. 6CXX is returned as is.
type ChainingProcessor struct {
	MaxChains int
}

// NewChainingProcessor returns a ChainingProcessor with the default chain limit.
func NewChainingProcessor() *ChainingProcessor {
	return &ChainingProcessor{MaxChains: DefaultMaxChains}
}

func (c *ChainingProcessor) String() string {
	return "chaining"
}

func (c *ChainingProcessor) IsActive() bool {
	return true
}

func (c *ChainingProcessor) SecurityLevel() SecurityLevel {
	return SecurityLevelNone
}

func (c *ChainingProcessor) Process(cmd []byte, next Transmitter) ([]byte, error) {
	raw, err := next.Transmit(cmd)
	if err != nil {
		return nil, err
	}

	resp, err := apdu.ParseResponse(raw)
	if err != nil {
		return nil, err
	}

	more, remaining := resp.MoreDataAvailable()
	if !more {
		return raw, nil
	}

	max := c.MaxChains
	if max <= 0 {
		max = DefaultMaxChains
	}

	data := append([]byte{}, resp.Data...)
	for chains := 0; more; chains++ {
		if chains >= max {
			return nil, ErrChainLimitExceeded
		}

		getResponse := apdu.NewCommand(claGetResponse, insGetResponse, 0, 0, nil)
		getResponse.SetLe(uint8(remaining))

		rawCmd, err := getResponse.Serialize()
		if err != nil {
			return nil, err
		}

		logger.Debug("get response", "remaining", remaining)
		raw, err = next.Transmit(rawCmd)
		if err != nil {
			return nil, err
		}

		resp, err = apdu.ParseResponse(raw)
		if err != nil {
			return nil, err
		}

		data = append(data, resp.Data...)
		more, remaining = resp.MoreDataAvailable()
	}

	return apdu.NewResponse(data, resp.Sw).Serialize(), nil
}
