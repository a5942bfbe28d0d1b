package bootloader

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedPacket     = errors.New("malformed packet")
	ErrPayloadTooLarge     = errors.New("data too large for buffer load")
	ErrStalePacket         = errors.New("stale packet detected")
	ErrInvalidVbatResponse = errors.New("invalid VBAT response length")
	ErrCommitPending       = errors.New("a flash commit is still pending on this target")
)

func malformed(name string, want, got int) error {
	return fmt.Errorf("%w: %s needs at least %d bytes, got %d", ErrMalformedPacket, name, want, got)
}

// StalePacketError is returned when a reply passed the link level match but
// belongs to another request.
type StalePacketError struct {
	WantPage, WantAddress uint16
	GotPage, GotAddress   uint16
}

func (e *StalePacketError) Error() string {
	return fmt.Sprintf("response mismatch: requested page=%d, addr=%d but got page=%d, addr=%d (stale packet detected)",
		e.WantPage, e.WantAddress, e.GotPage, e.GotAddress)
}

func (e *StalePacketError) Is(target error) bool { return target == ErrStalePacket }
