package globalplatform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/moov-io/bertlv"
)

// Life cycle states of applications and load files.
const (
	LifeCycleLoaded       = 0x01
	LifeCycleInstalled    = 0x03
	LifeCycleSelectable   = 0x07
	LifeCyclePersonalized = 0x0F
	LifeCycleLocked       = 0x83
)

var errMissingAID = errors.New("registry entry without AID")

// RegistryEntry is one entry of the card registry as returned by GET STATUS.
type RegistryEntry struct {
	AID        []byte
	LifeCycle  byte
	Privileges []byte
	Version    []byte
	Modules    [][]byte
}

func (e *RegistryEntry) String() string {
	return fmt.Sprintf("%X (life cycle %02X)", e.AID, e.LifeCycle)
}

// ParseRegistryEntries parses the E3 templates of a GET STATUS response.
func ParseRegistryEntries(data []byte) ([]*RegistryEntry, error) {
	if len(data) == 0 {
		return nil, nil
	}

	tlvs, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding registry entries: %w", err)
	}

	entries := make([]*RegistryEntry, 0, len(tlvs))
	for _, t := range tlvs {
		if !strings.EqualFold(t.Tag, "E3") {
			continue
		}

		entry := &RegistryEntry{}
		for _, field := range t.TLVs {
			switch strings.ToUpper(field.Tag) {
			case "4F":
				entry.AID = field.Value
			case "9F70":
				if len(field.Value) > 0 {
					entry.LifeCycle = field.Value[0]
				}
			case "C5":
				entry.Privileges = field.Value
			case "CE":
				entry.Version = field.Value
			case "84":
				entry.Modules = append(entry.Modules, field.Value)
			}
		}

		if entry.AID == nil {
			return nil, errMissingAID
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
