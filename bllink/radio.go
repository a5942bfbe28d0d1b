package bllink

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is the 5 byte radio address of the bootloader link.
type Address [5]byte

var DefaultAddress = Address{0xe7, 0xe7, 0xe7, 0xe7, 0xe7}

// BootloaderChannel is the radio channel both bootloaders listen on.
const BootloaderChannel uint8 = 0

func (a Address) String() string {
	return strings.ToUpper(hex.EncodeToString(a[:]))
}

// ParseAddress parses 10 hex digits, optionally prefixed with 0x.
func ParseAddress(s string) (a Address, err error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid radio address %q: %v", s, err)
	}
	if len(raw) != len(a) {
		return a, fmt.Errorf("invalid radio address %q: need %d bytes, got %d", s, len(a), len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// Ack is what the radio reports about a single transmitted packet.
type Ack struct {
	Received bool
	Retry    int
}

// Radio fires a single packet and synchronously returns whether it was
// acknowledged together with the payload which came back on the same exchange.
type Radio interface {
	SendPacket(channel uint8, address Address, payload []byte) (Ack, []byte, error)
}
