package firmware

import (
	"errors"
	"fmt"
	"io/ioutil"

	"github.com/sigurn/crc16"
)

var (
	ErrEmptyImage    = errors.New("firmware image is empty")
	ErrImageTooLarge = errors.New("firmware image does not fit the target flash")
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Checksum is the CRC-16/CCITT-FALSE of b.
func Checksum(b []byte) uint16 {
	return crc16.Checksum(b, crcTable)
}

// Image is a raw binary firmware, flashed as is from the first firmware page
// of a target.
type Image struct {
	Name string
	Data []byte
	CRC  uint16
}

func FromBytes(name string, data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	return &Image{Name: name, Data: data, CRC: Checksum(data)}, nil
}

// Load reads a raw .bin firmware file.
func Load(path string) (*Image, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading firmware file: %w", err)
	}
	return FromBytes(path, data)
}

func (f *Image) Size() int { return len(f.Data) }

// Fits checks the image against flashSize bytes of available flash.
func (f *Image) Fits(flashSize uint32) error {
	if uint64(len(f.Data)) > uint64(flashSize) {
		return fmt.Errorf("%w: %d bytes, %d available", ErrImageTooLarge, len(f.Data), flashSize)
	}
	return nil
}

func (f *Image) String() string {
	return fmt.Sprintf("%s: size %#x (%d) bytes CRC %#04x", f.Name, len(f.Data), len(f.Data), f.CRC)
}
