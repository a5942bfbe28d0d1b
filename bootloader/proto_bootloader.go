package bootloader

import (
	"encoding/binary"
	"fmt"
)

/*
Bootloader request frame:
	guint8		0xff;
	guint8		target;
	guint8		cmd;
	guint8 		payload[];   // little endian fields

The response starts with the same three bytes, followed by the command
specific payload.
*/

// FrameHeader is the first byte of every bootloader frame.
const FrameHeader byte = 0xff

// MaxLoadBufferData is the largest chunk fitting a load buffer frame.
const MaxLoadBufferData = 25

type Command byte

const (
	CmdGetInfo     Command = 0x10
	CmdSetAddress  Command = 0x11
	CmdGetMapping  Command = 0x12
	CmdLoadBuffer  Command = 0x14
	CmdReadBuffer  Command = 0x15
	CmdWriteFlash  Command = 0x18
	CmdFlashStatus Command = 0x19
	CmdReadFlash   Command = 0x1c
	CmdResetInit   Command = 0xff
	CmdReset       Command = 0xf0
	CmdAllOff      Command = 0x01
	CmdSysOff      Command = 0x02
	CmdSysOn       Command = 0x03
	CmdGetVBat     Command = 0x04
)

func (c Command) String() string {
	switch c {
	case CmdGetInfo:
		return "GET_INFO"
	case CmdSetAddress:
		return "SET_ADDRESS"
	case CmdGetMapping:
		return "GET_MAPPING"
	case CmdLoadBuffer:
		return "LOAD_BUFFER"
	case CmdReadBuffer:
		return "READ_BUFFER"
	case CmdWriteFlash:
		return "WRITE_FLASH"
	case CmdFlashStatus:
		return "FLASH_STATUS"
	case CmdReadFlash:
		return "READ_FLASH"
	case CmdResetInit:
		return "RESET_INIT"
	case CmdReset:
		return "RESET"
	case CmdAllOff:
		return "ALL_OFF"
	case CmdSysOff:
		return "SYS_OFF"
	case CmdSysOn:
		return "SYS_ON"
	case CmdGetVBat:
		return "GET_VBAT"
	}
	return fmt.Sprintf("Unknown bootloader command %02x", byte(c))
}

// Target selects one of the two bootloaders of the platform.
type Target byte

const (
	TargetSTM32 Target = 0xff // application processor
	TargetNRF51 Target = 0xfe // radio co-processor
)

func (t Target) String() string {
	switch t {
	case TargetSTM32:
		return "STM32F405"
	case TargetNRF51:
		return "nRF51822"
	}
	return fmt.Sprintf("Unknown target %02x", byte(t))
}

// EncodeCommand builds the request frame [0xff, target, command, payload...].
func EncodeCommand(target Target, cmd Command, payload ...byte) []byte {
	frame := make([]byte, 0, 3+len(payload))
	frame = append(frame, FrameHeader, byte(target), byte(cmd))
	return append(frame, payload...)
}

// le16 encodes the 16 bit fields of a command payload.
func le16(values ...uint16) []byte {
	b := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return b
}
