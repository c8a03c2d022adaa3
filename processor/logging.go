package processor

import (
	"github.com/status-im/keycard-proto/hexutils"
)

// LoggingProcessor logs every frame crossing it at debug level.
type LoggingProcessor struct{}

func NewLoggingProcessor() *LoggingProcessor {
	return &LoggingProcessor{}
}

func (l *LoggingProcessor) String() string {
	return "logging"
}

func (l *LoggingProcessor) IsActive() bool {
	return true
}

func (l *LoggingProcessor) SecurityLevel() SecurityLevel {
	return SecurityLevelNone
}

func (l *LoggingProcessor) Process(cmd []byte, next Transmitter) ([]byte, error) {
	logger.Debug("apdu command", "hex", hexutils.BytesToHexWithSpaces(cmd))
	resp, err := next.Transmit(cmd)
	if err != nil {
		logger.Debug("apdu failed", "error", err)
		return nil, err
	}

	logger.Debug("apdu response", "hex", hexutils.BytesToHexWithSpaces(resp))

	return resp, nil
}

// IdentityProcessor forwards frames unchanged.
type IdentityProcessor struct{}

func (IdentityProcessor) String() string {
	return "identity"
}

func (IdentityProcessor) IsActive() bool {
	return true
}

func (IdentityProcessor) SecurityLevel() SecurityLevel {
	return SecurityLevelNone
}

func (IdentityProcessor) Process(cmd []byte, next Transmitter) ([]byte, error) {
	return next.Transmit(cmd)
}
