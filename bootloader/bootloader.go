// Package bootloader talks to one Crazyflie 2.x bootloader. The platform has
// two of them, one in the STM32F405 and one in the nRF51822, both reachable
// over the same radio link.
package bootloader

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// ShortTimeout is used for commands the bootloader answers right away.
	ShortTimeout = 10 * time.Millisecond
	// FlashTimeout is used for write_flash, a commit can take up to one
	// second on the device.
	FlashTimeout = 2 * time.Second
)

// writeFlashMatchLength only covers [0xff, target, cmd]: the reply does not
// repeat the page arguments of the request.
const writeFlashMatchLength = 3

// Transport is the request/response link shared by the bootloaders.
type Transport interface {
	Request(ctx context.Context, data []byte, timeout time.Duration) ([]byte, error)
	RequestMatch(ctx context.Context, data []byte, matchLength int, timeout time.Duration) ([]byte, error)
	Send(ctx context.Context, data []byte) error
}

// Bootloader maps the bootloader commands of one target onto link exchanges.
// Calls must not overlap: the link has no way to tell two in-flight commands
// of the same kind apart.
type Bootloader struct {
	target Target
	link   Transport

	// set between write_flash and the first reply reporting the commit done
	commitPending bool
}

func New(link Transport, target Target) *Bootloader {
	return &Bootloader{target: target, link: link}
}

func NewSTM32(link Transport) *Bootloader { return New(link, TargetSTM32) }

func NewNRF51(link Transport) *Bootloader { return New(link, TargetNRF51) }

func (b *Bootloader) Target() Target { return b.target }

// CommitPending reports whether a flash commit was started and its completion
// has not been observed yet.
func (b *Bootloader) CommitPending() bool { return b.commitPending }

func (b *Bootloader) request(ctx context.Context, cmd Command, payload ...byte) ([]byte, error) {
	rsp, err := b.link.Request(ctx, EncodeCommand(b.target, cmd, payload...), ShortTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", b.target, cmd, err)
	}
	return rsp, nil
}

func (b *Bootloader) send(ctx context.Context, cmd Command, payload ...byte) error {
	if err := b.link.Send(ctx, EncodeCommand(b.target, cmd, payload...)); err != nil {
		return fmt.Errorf("%s %s: %w", b.target, cmd, err)
	}
	return nil
}

// body strips the [0xff, target] header, leaving the command echo at index 0.
func body(rsp []byte) []byte {
	if len(rsp) < 2 {
		return nil
	}
	return rsp[2:]
}

func (b *Bootloader) GetInfo(ctx context.Context) (InfoPacket, error) {
	rsp, err := b.request(ctx, CmdGetInfo)
	if err != nil {
		return InfoPacket{}, err
	}
	info, err := DecodeInfo(body(rsp))
	if err != nil {
		return InfoPacket{}, fmt.Errorf("%s %s: %w", b.target, CmdGetInfo, err)
	}
	log.WithField("target", b.target).Debugf("bootloader: %s", info)
	return info, nil
}

func (b *Bootloader) SetAddress(ctx context.Context, address [5]byte) error {
	return b.send(ctx, CmdSetAddress, address[:]...)
}

func (b *Bootloader) GetMapping(ctx context.Context) (Mapping, error) {
	rsp, err := b.request(ctx, CmdGetMapping)
	if err != nil {
		return nil, err
	}
	m, err := DecodeMapping(body(rsp))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", b.target, CmdGetMapping, err)
	}
	return m, nil
}

// LoadBuffer writes up to MaxLoadBufferData bytes into the RAM buffer at
// address of buffer page. Delivery is covered by the link ack only.
func (b *Bootloader) LoadBuffer(ctx context.Context, page, address uint16, data []byte) error {
	if len(data) > MaxLoadBufferData {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(data), MaxLoadBufferData)
	}
	payload := append(le16(page, address), data...)
	return b.send(ctx, CmdLoadBuffer, payload...)
}

func (b *Bootloader) ReadBuffer(ctx context.Context, page, address uint16) (BufferReadPacket, error) {
	rsp, err := b.request(ctx, CmdReadBuffer, le16(page, address)...)
	if err != nil {
		return BufferReadPacket{}, err
	}
	p, err := DecodeBufferRead(body(rsp))
	if err != nil {
		return BufferReadPacket{}, fmt.Errorf("%s %s: %w", b.target, CmdReadBuffer, err)
	}
	return p, nil
}

// WriteFlash commits nPages RAM buffer pages, starting at bufferPage, to flash
// starting at flashPage. Only one commit may be in flight per target: a call
// made before the previous commit was seen done fails with ErrCommitPending.
//
// TODO: when the write_flash ack is lost, query flash_status before sending
// write_flash again, a commit takes real time and wears the flash.
func (b *Bootloader) WriteFlash(ctx context.Context, bufferPage, flashPage, nPages uint16) (FlashWriteResponse, error) {
	if b.commitPending {
		return FlashWriteResponse{}, fmt.Errorf("%s %s: %w", b.target, CmdWriteFlash, ErrCommitPending)
	}

	cmd := EncodeCommand(b.target, CmdWriteFlash, le16(bufferPage, flashPage, nPages)...)
	b.commitPending = true
	rsp, err := b.link.RequestMatch(ctx, cmd, writeFlashMatchLength, FlashTimeout)
	if err != nil {
		return FlashWriteResponse{}, fmt.Errorf("%s %s: %w", b.target, CmdWriteFlash, err)
	}
	status, err := DecodeFlashStatus(body(rsp))
	if err != nil {
		return FlashWriteResponse{}, fmt.Errorf("%s %s: %w", b.target, CmdWriteFlash, err)
	}
	if status.Done {
		b.commitPending = false
	}
	return status, nil
}

func (b *Bootloader) FlashStatus(ctx context.Context) (FlashStatusResponse, error) {
	return b.FlashStatusTimeout(ctx, ShortTimeout)
}

// FlashStatusTimeout is FlashStatus with a custom per attempt timeout. The
// target may stay silent while it erases, polls during a commit use
// FlashTimeout.
func (b *Bootloader) FlashStatusTimeout(ctx context.Context, timeout time.Duration) (FlashStatusResponse, error) {
	rsp, err := b.link.Request(ctx, EncodeCommand(b.target, CmdFlashStatus), timeout)
	if err != nil {
		return FlashStatusResponse{}, fmt.Errorf("%s %s: %w", b.target, CmdFlashStatus, err)
	}
	status, err := DecodeFlashStatus(body(rsp))
	if err != nil {
		return FlashStatusResponse{}, fmt.Errorf("%s %s: %w", b.target, CmdFlashStatus, err)
	}
	if status.Done {
		b.commitPending = false
	}
	return status, nil
}

// ReadFlash reads flash content starting at address of page. The decoded
// page and address are checked against the request on top of the link match.
func (b *Bootloader) ReadFlash(ctx context.Context, page, address uint16) (FlashReadPacket, error) {
	rsp, err := b.request(ctx, CmdReadFlash, le16(page, address)...)
	if err != nil {
		return FlashReadPacket{}, err
	}
	p, err := DecodeFlashRead(body(rsp))
	if err != nil {
		return FlashReadPacket{}, fmt.Errorf("%s %s: %w", b.target, CmdReadFlash, err)
	}
	if p.Page != page || p.Address != address {
		return FlashReadPacket{}, &StalePacketError{
			WantPage:    page,
			WantAddress: address,
			GotPage:     p.Page,
			GotAddress:  p.Address,
		}
	}
	return p, nil
}

// nRF51 power management commands, sent to TargetNRF51.

func (b *Bootloader) ResetInit(ctx context.Context) error {
	return b.send(ctx, CmdResetInit)
}

func (b *Bootloader) Reset(ctx context.Context) error {
	return b.send(ctx, CmdReset)
}

// ResetToFirmware resets the platform and boots the firmware instead of
// staying in the bootloader. ResetInit has to be sent first.
func (b *Bootloader) ResetToFirmware(ctx context.Context) error {
	return b.send(ctx, CmdReset, 0x01)
}

func (b *Bootloader) AllOff(ctx context.Context) error {
	return b.send(ctx, CmdAllOff)
}

func (b *Bootloader) SysOff(ctx context.Context) error {
	return b.send(ctx, CmdSysOff)
}

func (b *Bootloader) SysOn(ctx context.Context) error {
	return b.send(ctx, CmdSysOn)
}

// GetVBat returns the battery voltage, a little endian float32 at offset 2 of
// the reply. Offset 2 is the command echo, the bootloader packs the value
// from there.
func (b *Bootloader) GetVBat(ctx context.Context) (float32, error) {
	rsp, err := b.request(ctx, CmdGetVBat)
	if err != nil {
		return 0, err
	}
	if len(rsp) < vbatResponseLen {
		return 0, fmt.Errorf("%s %s: %w: got %d bytes", b.target, CmdGetVBat, ErrInvalidVbatResponse, len(rsp))
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(rsp[2:6])), nil
}
