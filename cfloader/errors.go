package cfloader

import (
	"errors"
	"fmt"

	"github.com/mame82/cfload/bootloader"
)

var (
	ErrUnknownPlatform   = errors.New("unknown platform")
	ErrUnknownTarget     = errors.New("unknown bootloader target")
	ErrInvalidGeometry   = errors.New("invalid flash geometry")
	ErrUnalignedAddress  = errors.New("start address is not page aligned")
	ErrAddressOutOfRange = errors.New("start address outside of firmware flash")
	ErrFlashCommitFailed = errors.New("flash commit failed")
	ErrCommitTimeout     = errors.New("flash commit did not complete in time")
	ErrEmptyRead         = errors.New("flash read returned no data")
	ErrVerifyFailed      = errors.New("flash content does not match image")
)

// FlashCommitError carries the error code the bootloader reported for a
// flash commit.
type FlashCommitError struct {
	Target    bootloader.Target
	FlashPage uint16
	Code      bootloader.FlashError
}

func (e *FlashCommitError) Error() string {
	return fmt.Sprintf("%s: flash commit at page %d failed: %s (%d)", e.Target, e.FlashPage, e.Code, byte(e.Code))
}

func (e *FlashCommitError) Is(target error) bool { return target == ErrFlashCommitFailed }

// VerifyError reports the first byte which differs between the image and
// the flash content read back.
type VerifyError struct {
	Target      bootloader.Target
	Offset      int
	ExpectedCRC uint16
	ActualCRC   uint16
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("%s: verify failed at image offset %#x (image CRC %#04x, flash CRC %#04x)",
		e.Target, e.Offset, e.ExpectedCRC, e.ActualCRC)
}

func (e *VerifyError) Is(target error) bool { return target == ErrVerifyFailed }
