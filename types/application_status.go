package types

import (
	"bytes"

	"github.com/status-im/keycard-proto/apdu"
	"github.com/status-im/keycard-proto/derivationpath"
)

var tagKeyInitialized = apdu.Tag{0x01}

type ApplicationStatus struct {
	PinRetryCount  int
	PUKRetryCount  int
	KeyInitialized bool
	Path           string
}

// ParseApplicationStatus parses both GET STATUS responses: the application
// status template and the raw key path of the current key.
func ParseApplicationStatus(data []byte) (*ApplicationStatus, error) {
	tpl, err := apdu.FindTag(data, TagApplicationStatusTemplate)
	if err != nil {
		return parseKeyPathStatus(data)
	}

	appStatus := &ApplicationStatus{}

	if pinRetryCount, err := apdu.FindTag(tpl, tagOther); err == nil && len(pinRetryCount) == 1 {
		appStatus.PinRetryCount = int(pinRetryCount[0])
	}

	if pukRetryCount, err := apdu.FindTagN(tpl, 1, tagOther); err == nil && len(pukRetryCount) == 1 {
		appStatus.PUKRetryCount = int(pukRetryCount[0])
	}

	if keyInitialized, err := apdu.FindTag(tpl, tagKeyInitialized); err == nil {
		if bytes.Equal(keyInitialized, []byte{0xFF}) {
			appStatus.KeyInitialized = true
		}
	}

	return appStatus, nil
}

func parseKeyPathStatus(data []byte) (*ApplicationStatus, error) {
	path, err := derivationpath.EncodeFromBytes(data)
	if err != nil {
		return nil, err
	}

	return &ApplicationStatus{Path: path}, nil
}
