package globalplatform

import (
	"github.com/status-im/keycard-proto/hexutils"
	"github.com/status-im/keycard-proto/securechannel"
)

// DefaultKey is the static key of development cards, used for both ENC and MAC.
var DefaultKey = hexutils.HexToBytes("404142434445464748494a4b4c4d4e4f")

// SCP02Keys holds an ENC and a MAC 2-key 3DES key.
type SCP02Keys struct {
	enc []byte
	mac []byte
}

func NewSCP02Keys(enc, mac []byte) *SCP02Keys {
	return &SCP02Keys{
		enc: append([]byte{}, enc...),
		mac: append([]byte{}, mac...),
	}
}

func (k *SCP02Keys) Enc() []byte {
	return k.enc
}

func (k *SCP02Keys) Mac() []byte {
	return k.mac
}

func (k *SCP02Keys) zero() {
	securechannel.Zero(k.enc, k.mac)
}
