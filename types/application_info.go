package types

import (
	"errors"

	"github.com/status-im/keycard-proto/apdu"
)

var ErrWrongApplicationInfoTemplate = errors.New("wrong application info template")

var (
	TagSelectResponsePreInitialized = apdu.Tag{0x80}
	TagApplicationStatusTemplate    = apdu.Tag{0xA3}
	TagApplicationInfoTemplate      = apdu.Tag{0xA4}

	tagInstanceUID  = apdu.Tag{0x8F}
	tagPublicKey    = apdu.Tag{0x80}
	tagOther        = apdu.Tag{0x02}
	tagKeyUID       = apdu.Tag{0x8E}
	tagCapabilities = apdu.Tag{0x8D}
)

// Capability flags advertised in the SELECT response.
const (
	CapabilitySecureChannel         = uint8(0x01)
	CapabilityKeyManagement         = uint8(0x02)
	CapabilityCredentialsManagement = uint8(0x04)
	CapabilityNDEF                  = uint8(0x08)

	capabilitiesAll = CapabilitySecureChannel | CapabilityKeyManagement | CapabilityCredentialsManagement | CapabilityNDEF
)

type ApplicationInfo struct {
	Installed      bool
	Initialized    bool
	InstanceUID    []byte
	PublicKey      []byte
	Version        []byte
	AvailableSlots []byte
	// KeyUID is the sha256 of of the master public key on the card.
	// It's empty if the card doesn't contain any key.
	KeyUID       []byte
	Capabilities uint8
}

func (i *ApplicationInfo) HasCapability(c uint8) bool {
	return i.Capabilities&c == c
}

func (i *ApplicationInfo) HasSecureChannelCapability() bool {
	return i.HasCapability(CapabilitySecureChannel)
}

func (i *ApplicationInfo) HasKey() bool {
	return len(i.KeyUID) > 0
}

func ParseApplicationInfo(data []byte) (*ApplicationInfo, error) {
	info := &ApplicationInfo{Installed: true}
	if len(data) == 0 {
		return info, ErrWrongApplicationInfoTemplate
	}

	if data[0] == TagSelectResponsePreInitialized[0] {
		pubKey, err := apdu.FindTag(data, TagSelectResponsePreInitialized)
		if err != nil {
			return info, err
		}

		info.PublicKey = pubKey
		info.Capabilities = capabilitiesAll

		return info, nil
	}

	if data[0] != TagApplicationInfoTemplate[0] {
		return info, ErrWrongApplicationInfoTemplate
	}

	info.Initialized = true

	instanceUID, err := apdu.FindTag(data, TagApplicationInfoTemplate, tagInstanceUID)
	if err != nil {
		return info, err
	}

	pubKey, err := apdu.FindTag(data, TagApplicationInfoTemplate, tagPublicKey)
	if err != nil {
		return info, err
	}

	appVersion, err := apdu.FindTag(data, TagApplicationInfoTemplate, tagOther)
	if err != nil {
		return info, err
	}

	availableSlots, err := apdu.FindTagN(data, 1, TagApplicationInfoTemplate, tagOther)
	if err != nil {
		return info, err
	}

	keyUID, err := apdu.FindTag(data, TagApplicationInfoTemplate, tagKeyUID)
	if err != nil {
		return info, err
	}

	// cards older than 3.0 don't send capabilities and support everything
	info.Capabilities = capabilitiesAll
	if capabilities, err := apdu.FindTag(data, TagApplicationInfoTemplate, tagCapabilities); err == nil && len(capabilities) == 1 {
		info.Capabilities = capabilities[0]
	}

	info.InstanceUID = instanceUID
	info.PublicKey = pubKey
	info.Version = appVersion
	info.AvailableSlots = availableSlots
	info.KeyUID = keyUID

	return info, nil
}
