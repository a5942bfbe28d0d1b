package bootloader

import (
	"encoding/binary"
	"fmt"
)

// All decoders take the response with the [0xff, target] header stripped, so
// that byte 0 is the command echo.

const (
	infoPacketLen   = 22
	readPacketLen   = 5
	flashStatusLen  = 3
	cpuIDLen        = 12
	vbatResponseLen = 6
)

// InfoPacket describes the flash geometry of one target:
//
//	[0x10, pageSize, nBuffPage, nFlashPage, flashStart, cpuId, version]
//
// pageSize, nBuffPage, nFlashPage and flashStart are 16 bit, cpuId is a
// legacy 12 byte field and is ignored, version is one byte.
type InfoPacket struct {
	pageSize   uint16
	nBuffPage  uint16
	nFlashPage uint16
	flashStart uint16
	cpuID      [cpuIDLen]byte
	version    byte
}

func DecodeInfo(b []byte) (InfoPacket, error) {
	if len(b) < infoPacketLen {
		return InfoPacket{}, malformed("info packet", infoPacketLen, len(b))
	}
	p := InfoPacket{
		pageSize:   binary.LittleEndian.Uint16(b[1:3]),
		nBuffPage:  binary.LittleEndian.Uint16(b[3:5]),
		nFlashPage: binary.LittleEndian.Uint16(b[5:7]),
		flashStart: binary.LittleEndian.Uint16(b[7:9]),
		version:    b[21],
	}
	copy(p.cpuID[:], b[9:21])
	return p, nil
}

func (p InfoPacket) PageSize() uint16 { return p.pageSize }
func (p InfoPacket) NBuffPage() uint16 { return p.nBuffPage }
func (p InfoPacket) NFlashPage() uint16 { return p.nFlashPage }
func (p InfoPacket) FlashStart() uint16 { return p.flashStart }
func (p InfoPacket) CPUID() [12]byte { return p.cpuID }
func (p InfoPacket) Version() byte { return p.version }

// StartAddress is the byte address of the first firmware page.
func (p InfoPacket) StartAddress() uint32 {
	return uint32(p.flashStart) * uint32(p.pageSize)
}

// FlashSize is the number of bytes available for firmware.
func (p InfoPacket) FlashSize() uint32 {
	if p.nFlashPage < p.flashStart {
		return 0
	}
	return uint32(p.nFlashPage-p.flashStart) * uint32(p.pageSize)
}

func (p InfoPacket) String() string {
	return fmt.Sprintf("InfoPacket { page_size: %d, n_buff_page: %d, n_flash_page: %d, flash_start: %d, cpu_id: % 02x, version: %d }",
		p.pageSize, p.nBuffPage, p.nFlashPage, p.flashStart, p.cpuID, p.version)
}

// BufferReadPacket holds RAM buffer content starting at Address of Page.
type BufferReadPacket struct {
	Page    uint16
	Address uint16
	Data    []byte
}

// FlashReadPacket holds flash content starting at Address of Page.
type FlashReadPacket struct {
	Page    uint16
	Address uint16
	Data    []byte
}

func decodeRead(name string, b []byte) (page, address uint16, data []byte, err error) {
	if len(b) < readPacketLen {
		return 0, 0, nil, malformed(name, readPacketLen, len(b))
	}
	page = binary.LittleEndian.Uint16(b[1:3])
	address = binary.LittleEndian.Uint16(b[3:5])
	data = append([]byte{}, b[5:]...)
	return page, address, data, nil
}

func DecodeBufferRead(b []byte) (BufferReadPacket, error) {
	page, address, data, err := decodeRead("buffer read packet", b)
	if err != nil {
		return BufferReadPacket{}, err
	}
	return BufferReadPacket{Page: page, Address: address, Data: data}, nil
}

func DecodeFlashRead(b []byte) (FlashReadPacket, error) {
	page, address, data, err := decodeRead("flash read packet", b)
	if err != nil {
		return FlashReadPacket{}, err
	}
	return FlashReadPacket{Page: page, Address: address, Data: data}, nil
}

// FlashError is the error code reported by the bootloader for a flash commit.
type FlashError byte

const (
	FlashNoError            FlashError = 0
	FlashAddressOutOfBounds FlashError = 1
	FlashEraseFailed        FlashError = 2
	FlashProgrammingFailed  FlashError = 3
)

// flashErrorFromWire maps unknown codes to FlashNoError.
func flashErrorFromWire(b byte) FlashError {
	switch e := FlashError(b); e {
	case FlashAddressOutOfBounds, FlashEraseFailed, FlashProgrammingFailed:
		return e
	}
	return FlashNoError
}

func (e FlashError) String() string {
	switch e {
	case FlashNoError:
		return "No error"
	case FlashAddressOutOfBounds:
		return "Addresses are outside of authorized boundaries"
	case FlashEraseFailed:
		return "Flash erase failed"
	case FlashProgrammingFailed:
		return "Flash programming failed"
	}
	return fmt.Sprintf("Unknown flash error %02x", byte(e))
}

// FlashWriteResponse is the state of the flash commit started by write_flash.
type FlashWriteResponse struct {
	Done  bool
	Error FlashError
}

// FlashStatusResponse has the same layout as the write_flash reply.
type FlashStatusResponse = FlashWriteResponse

func DecodeFlashStatus(b []byte) (FlashStatusResponse, error) {
	if len(b) < flashStatusLen {
		return FlashStatusResponse{}, malformed("flash status", flashStatusLen, len(b))
	}
	return FlashStatusResponse{
		Done:  b[1] != 0,
		Error: flashErrorFromWire(b[2]),
	}, nil
}

// Success reports a finished commit without error.
func (r FlashWriteResponse) Success() bool {
	return r.Done && r.Error == FlashNoError
}

func (r FlashWriteResponse) String() string {
	return fmt.Sprintf("FlashWriteResponse { done: %v, error: %s }", r.Done, r.Error)
}

// SectorGroup is one entry of the flash mapping: Count consecutive sectors
// of Size pages each.
type SectorGroup struct {
	Count byte
	Size  byte
}

// Mapping describes the sector layout of a target with non uniform erase
// sectors (the STM32). Targets with uniform pages return an empty mapping.
type Mapping []SectorGroup

func DecodeMapping(b []byte) (Mapping, error) {
	if len(b) < 1 {
		return nil, malformed("mapping", 1, len(b))
	}
	pairs := b[1:]
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("%w: mapping has odd length %d", ErrMalformedPacket, len(pairs))
	}
	m := make(Mapping, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		m = append(m, SectorGroup{Count: pairs[i], Size: pairs[i+1]})
	}
	return m, nil
}

// SectorStarts expands the mapping to the first page of every sector.
func (m Mapping) SectorStarts() []int {
	var starts []int
	page := 0
	for _, g := range m {
		for i := 0; i < int(g.Count); i++ {
			starts = append(starts, page)
			page += int(g.Size)
		}
	}
	return starts
}
