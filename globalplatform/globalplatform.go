// Package globalplatform implements the SCP02 card management secure channel
// and the GlobalPlatform commands used to install the Keycard applets.
package globalplatform

import "github.com/ethereum/go-ethereum/log"

var logger = log.New("package", "keycard-proto/globalplatform")
