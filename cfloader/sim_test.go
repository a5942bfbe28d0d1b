package cfloader

import (
	"encoding/binary"
	"time"

	"github.com/mame82/cfload/bllink"
	"github.com/mame82/cfload/bootloader"
)

// simTarget is the flash and RAM buffer of one simulated bootloader.
type simTarget struct {
	pageSize   int
	nBuffPage  int
	nFlashPage int
	flashStart int

	buffer []byte
	flash  []byte
}

func newSimTarget(pageSize, nBuffPage, nFlashPage, flashStart int) *simTarget {
	t := &simTarget{
		pageSize:   pageSize,
		nBuffPage:  nBuffPage,
		nFlashPage: nFlashPage,
		flashStart: flashStart,
		buffer:     make([]byte, pageSize*nBuffPage),
		flash:      make([]byte, pageSize*nFlashPage),
	}
	for i := range t.flash {
		t.flash[i] = 0xff
	}
	return t
}

type simWrite struct {
	target     byte
	bufferPage int
	flashPage  int
	nPages     int
}

// simDevice answers like the two Crazyflie bootloaders behind a radio: a
// request is acked right away, its response is handed out once, on the next
// poll frame.
type simDevice struct {
	targets map[byte]*simTarget
	pending []byte

	packets   int
	dropEvery int // drop every n-th packet before the device sees it

	commitError   bootloader.FlashError
	commitStalled bool
	// flash_status is not acked for this long after a write_flash
	statusSilence time.Duration
	committedAt   time.Time

	commands [][]byte
	loads    map[byte]int
	writes   []simWrite
}

func newSimDevice() *simDevice {
	return &simDevice{
		targets: map[byte]*simTarget{
			byte(bootloader.TargetSTM32): newSimTarget(128, 4, 100, 10),
			byte(bootloader.TargetNRF51): newSimTarget(64, 1, 32, 4),
		},
		loads: map[byte]int{},
	}
}

func (d *simDevice) SendPacket(channel uint8, address bllink.Address, payload []byte) (bllink.Ack, []byte, error) {
	d.packets++
	if d.dropEvery > 0 && d.packets%d.dropEvery == 0 {
		return bllink.Ack{}, nil, nil
	}
	ack := bllink.Ack{Received: true}

	if len(payload) == 1 && payload[0] == 0xff {
		rsp := d.pending
		d.pending = nil
		return ack, rsp, nil
	}
	if len(payload) < 3 || payload[0] != 0xff {
		return ack, nil, nil
	}
	t, ok := d.targets[payload[1]]
	if !ok {
		return ack, nil, nil
	}
	if bootloader.Command(payload[2]) == bootloader.CmdFlashStatus && time.Since(d.committedAt) < d.statusSilence {
		return bllink.Ack{}, nil, nil
	}
	d.commands = append(d.commands, append([]byte(nil), payload...))
	d.pending = d.handle(payload[1], t, payload)
	return ack, nil, nil
}

func (d *simDevice) handle(target byte, t *simTarget, p []byte) []byte {
	header := []byte{0xff, target, p[2]}
	arg := func(i int) int { return int(binary.LittleEndian.Uint16(p[3+2*i:])) }

	switch bootloader.Command(p[2]) {
	case bootloader.CmdGetInfo:
		rsp := header
		for _, v := range []int{t.pageSize, t.nBuffPage, t.nFlashPage, t.flashStart} {
			rsp = append(rsp, byte(v), byte(v>>8))
		}
		rsp = append(rsp, make([]byte, 12)...)
		return append(rsp, 0x01)
	case bootloader.CmdLoadBuffer:
		d.loads[target]++
		copy(t.buffer[arg(0)*t.pageSize+arg(1):], p[7:])
		return nil
	case bootloader.CmdWriteFlash:
		w := simWrite{target: target, bufferPage: arg(0), flashPage: arg(1), nPages: arg(2)}
		d.writes = append(d.writes, w)
		d.committedAt = time.Now()
		copy(t.flash[w.flashPage*t.pageSize:(w.flashPage+w.nPages)*t.pageSize],
			t.buffer[w.bufferPage*t.pageSize:(w.bufferPage+w.nPages)*t.pageSize])
		return append(header, 0x00, 0x00)
	case bootloader.CmdFlashStatus:
		if d.commitStalled {
			return append(header, 0x00, 0x00)
		}
		return append(header, 0x01, byte(d.commitError))
	case bootloader.CmdReadFlash:
		off := arg(0)*t.pageSize + arg(1)
		end := off + bootloader.MaxLoadBufferData
		if end > len(t.flash) {
			end = len(t.flash)
		}
		rsp := append(header, p[3:7]...)
		return append(rsp, t.flash[off:end]...)
	}
	return nil
}
