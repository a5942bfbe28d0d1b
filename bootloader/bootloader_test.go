package bootloader

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

type call struct {
	kind        string // request, match or send
	data        []byte
	matchLength int
	timeout     time.Duration
}

// fakeTransport returns canned replies as if they passed the link match.
type fakeTransport struct {
	calls   []call
	replies [][]byte
	err     error
}

func (f *fakeTransport) next() ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) == 0 {
		return nil, errors.New("no reply scripted")
	}
	rsp := f.replies[0]
	f.replies = f.replies[1:]
	return rsp, nil
}

func (f *fakeTransport) Request(ctx context.Context, data []byte, timeout time.Duration) ([]byte, error) {
	f.calls = append(f.calls, call{kind: "request", data: data, timeout: timeout})
	return f.next()
}

func (f *fakeTransport) RequestMatch(ctx context.Context, data []byte, matchLength int, timeout time.Duration) ([]byte, error) {
	f.calls = append(f.calls, call{kind: "match", data: data, matchLength: matchLength, timeout: timeout})
	return f.next()
}

func (f *fakeTransport) Send(ctx context.Context, data []byte) error {
	f.calls = append(f.calls, call{kind: "send", data: data})
	return f.err
}

func TestGetInfo(t *testing.T) {
	link := &fakeTransport{replies: [][]byte{
		{0xff, 0xfe, 0x10, 0x00, 0x04, 0x01, 0x00, 0xe8, 0x00, 0x58, 0x00,
			0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01},
	}}
	bl := NewNRF51(link)

	info, err := bl.GetInfo(context.Background())
	if err != nil {
		t.Fatalf("GetInfo() unexpected error: %v", err)
	}
	if info.PageSize() != 1024 || info.NBuffPage() != 1 || info.NFlashPage() != 232 || info.FlashStart() != 88 {
		t.Fatalf("GetInfo() = %s", info)
	}

	c := link.calls[0]
	if c.kind != "request" || !bytes.Equal(c.data, []byte{0xff, 0xfe, 0x10}) || c.timeout != ShortTimeout {
		t.Fatalf("GetInfo() issued %+v", c)
	}
}

func TestGetInfoMalformed(t *testing.T) {
	link := &fakeTransport{replies: [][]byte{{0xff, 0xff, 0x10, 0x00, 0x04}}}

	_, err := NewSTM32(link).GetInfo(context.Background())
	if !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("GetInfo() error = %v, want ErrMalformedPacket", err)
	}
}

func TestCommandsUseTheirMatchStrategy(t *testing.T) {
	ctx := context.Background()
	status := []byte{0xff, 0xff, 0x18, 0x01, 0x00}

	testCases := []struct {
		name  string
		reply []byte
		run   func(b *Bootloader) error
		want  call
	}{
		{
			name: "set address",
			run:  func(b *Bootloader) error { return b.SetAddress(ctx, [5]byte{1, 2, 3, 4, 5}) },
			want: call{kind: "send", data: []byte{0xff, 0xff, 0x11, 1, 2, 3, 4, 5}},
		},
		{
			name:  "get mapping",
			reply: []byte{0xff, 0xff, 0x12, 4, 16},
			run:   func(b *Bootloader) error { _, err := b.GetMapping(ctx); return err },
			want:  call{kind: "request", data: []byte{0xff, 0xff, 0x12}, timeout: ShortTimeout},
		},
		{
			name: "load buffer",
			run:  func(b *Bootloader) error { return b.LoadBuffer(ctx, 2, 100, []byte{0xaa, 0xbb}) },
			want: call{kind: "send", data: []byte{0xff, 0xff, 0x14, 0x02, 0x00, 0x64, 0x00, 0xaa, 0xbb}},
		},
		{
			name:  "read buffer",
			reply: []byte{0xff, 0xff, 0x15, 0x01, 0x00, 0x19, 0x00, 0x42},
			run:   func(b *Bootloader) error { _, err := b.ReadBuffer(ctx, 1, 25); return err },
			want:  call{kind: "request", data: []byte{0xff, 0xff, 0x15, 0x01, 0x00, 0x19, 0x00}, timeout: ShortTimeout},
		},
		{
			name:  "write flash",
			reply: status,
			run:   func(b *Bootloader) error { _, err := b.WriteFlash(ctx, 0, 10, 4); return err },
			want: call{kind: "match", data: []byte{0xff, 0xff, 0x18, 0x00, 0x00, 0x0a, 0x00, 0x04, 0x00},
				matchLength: 3, timeout: FlashTimeout},
		},
		{
			name:  "flash status",
			reply: []byte{0xff, 0xff, 0x19, 0x01, 0x00},
			run:   func(b *Bootloader) error { _, err := b.FlashStatus(ctx); return err },
			want:  call{kind: "request", data: []byte{0xff, 0xff, 0x19}, timeout: ShortTimeout},
		},
		{
			name:  "flash status during commit",
			reply: []byte{0xff, 0xff, 0x19, 0x01, 0x00},
			run:   func(b *Bootloader) error { _, err := b.FlashStatusTimeout(ctx, FlashTimeout); return err },
			want:  call{kind: "request", data: []byte{0xff, 0xff, 0x19}, timeout: FlashTimeout},
		},
		{
			name:  "read flash",
			reply: []byte{0xff, 0xff, 0x1c, 0x01, 0x00, 0x19, 0x00, 0x42},
			run:   func(b *Bootloader) error { _, err := b.ReadFlash(ctx, 1, 25); return err },
			want:  call{kind: "request", data: []byte{0xff, 0xff, 0x1c, 0x01, 0x00, 0x19, 0x00}, timeout: ShortTimeout},
		},
		{
			name:  "get vbat",
			reply: []byte{0xff, 0xff, 0x04, 0x00, 0x00, 0x00},
			run:   func(b *Bootloader) error { _, err := b.GetVBat(ctx); return err },
			want:  call{kind: "request", data: []byte{0xff, 0xff, 0x04}, timeout: ShortTimeout},
		},
		{
			name: "reset init",
			run:  func(b *Bootloader) error { return b.ResetInit(ctx) },
			want: call{kind: "send", data: []byte{0xff, 0xff, 0xff}},
		},
		{
			name: "reset",
			run:  func(b *Bootloader) error { return b.Reset(ctx) },
			want: call{kind: "send", data: []byte{0xff, 0xff, 0xf0}},
		},
		{
			name: "reset to firmware",
			run:  func(b *Bootloader) error { return b.ResetToFirmware(ctx) },
			want: call{kind: "send", data: []byte{0xff, 0xff, 0xf0, 0x01}},
		},
		{
			name: "all off",
			run:  func(b *Bootloader) error { return b.AllOff(ctx) },
			want: call{kind: "send", data: []byte{0xff, 0xff, 0x01}},
		},
		{
			name: "sys off",
			run:  func(b *Bootloader) error { return b.SysOff(ctx) },
			want: call{kind: "send", data: []byte{0xff, 0xff, 0x02}},
		},
		{
			name: "sys on",
			run:  func(b *Bootloader) error { return b.SysOn(ctx) },
			want: call{kind: "send", data: []byte{0xff, 0xff, 0x03}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			link := &fakeTransport{}
			if tc.reply != nil {
				link.replies = [][]byte{tc.reply}
			}
			if err := tc.run(NewSTM32(link)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(link.calls) != 1 {
				t.Fatalf("issued %d calls, want 1", len(link.calls))
			}
			got := link.calls[0]
			if got.kind != tc.want.kind || !bytes.Equal(got.data, tc.want.data) ||
				got.matchLength != tc.want.matchLength || got.timeout != tc.want.timeout {
				t.Fatalf("issued %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestLoadBufferPayloadTooLarge(t *testing.T) {
	link := &fakeTransport{}
	bl := NewSTM32(link)

	if err := bl.LoadBuffer(context.Background(), 0, 0, make([]byte, MaxLoadBufferData)); err != nil {
		t.Fatalf("LoadBuffer() with %d bytes: unexpected error %v", MaxLoadBufferData, err)
	}
	err := bl.LoadBuffer(context.Background(), 0, 0, make([]byte, MaxLoadBufferData+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("LoadBuffer() error = %v, want ErrPayloadTooLarge", err)
	}
	if len(link.calls) != 1 {
		t.Fatalf("issued %d calls, the oversized chunk must not be sent", len(link.calls))
	}
}

func TestReadFlashDetectsStalePacket(t *testing.T) {
	link := &fakeTransport{replies: [][]byte{
		{0xff, 0xff, 0x1c, 0x02, 0x00, 0x0a, 0x00, 0x01, 0x02, 0x03},
	}}

	_, err := NewSTM32(link).ReadFlash(context.Background(), 3, 10)
	if !errors.Is(err, ErrStalePacket) {
		t.Fatalf("ReadFlash() error = %v, want ErrStalePacket", err)
	}
	var stale *StalePacketError
	if !errors.As(err, &stale) || stale.GotPage != 2 || stale.WantPage != 3 {
		t.Fatalf("ReadFlash() error = %#v", err)
	}
}

func TestReadFlash(t *testing.T) {
	link := &fakeTransport{replies: [][]byte{
		{0xff, 0xff, 0x1c, 0x03, 0x00, 0x0a, 0x00, 0x01, 0x02, 0x03},
	}}

	p, err := NewSTM32(link).ReadFlash(context.Background(), 3, 10)
	if err != nil {
		t.Fatalf("ReadFlash() unexpected error: %v", err)
	}
	if !bytes.Equal(p.Data, []byte{1, 2, 3}) {
		t.Fatalf("ReadFlash() data = % 02x", p.Data)
	}
}

func TestWriteFlashRefusesOverlappingCommits(t *testing.T) {
	ctx := context.Background()
	link := &fakeTransport{replies: [][]byte{
		{0xff, 0xff, 0x18, 0x00, 0x00}, // accepted, still running
		{0xff, 0xff, 0x19, 0x00, 0x00},
		{0xff, 0xff, 0x19, 0x01, 0x00},
		{0xff, 0xff, 0x18, 0x01, 0x00},
	}}
	bl := NewSTM32(link)

	if _, err := bl.WriteFlash(ctx, 0, 10, 1); err != nil {
		t.Fatalf("WriteFlash() unexpected error: %v", err)
	}
	if _, err := bl.WriteFlash(ctx, 0, 11, 1); !errors.Is(err, ErrCommitPending) {
		t.Fatalf("second WriteFlash() error = %v, want ErrCommitPending", err)
	}
	for bl.CommitPending() {
		if _, err := bl.FlashStatus(ctx); err != nil {
			t.Fatalf("FlashStatus() unexpected error: %v", err)
		}
	}
	status, err := bl.WriteFlash(ctx, 0, 11, 1)
	if err != nil || !status.Success() {
		t.Fatalf("WriteFlash() after completion = %s, %v", status, err)
	}
	if len(link.calls) != 4 {
		t.Fatalf("issued %d calls, want 4", len(link.calls))
	}
}

func TestWriteFlashFailureKeepsCommitPending(t *testing.T) {
	link := &fakeTransport{err: errors.New("retries exhausted")}
	bl := NewSTM32(link)

	if _, err := bl.WriteFlash(context.Background(), 0, 10, 1); err == nil {
		t.Fatal("WriteFlash() expected error")
	}
	if !bl.CommitPending() {
		t.Fatal("a failed write_flash must leave the commit pending until flash_status is seen done")
	}
}

func TestGetVBat(t *testing.T) {
	// the float starts at offset 2 of the reply, its first byte is the
	// command echo
	rsp := []byte{0xff, 0xfe, 0x04, 0xcd, 0xcc, 0x6c, 0x40}
	want := math.Float32frombits(binary.LittleEndian.Uint32(rsp[2:6]))
	link := &fakeTransport{replies: [][]byte{rsp, {0xff, 0xfe, 0x04, 0x00}}}
	bl := NewNRF51(link)

	v, err := bl.GetVBat(context.Background())
	if err != nil {
		t.Fatalf("GetVBat() unexpected error: %v", err)
	}
	if v != want {
		t.Fatalf("GetVBat() = %v, want %v", v, want)
	}
	if !bytes.Equal(link.calls[0].data, []byte{0xff, 0xfe, 0x04}) {
		t.Fatalf("GetVBat() sent % x", link.calls[0].data)
	}

	if _, err := bl.GetVBat(context.Background()); !errors.Is(err, ErrInvalidVbatResponse) {
		t.Fatalf("GetVBat() short reply error = %v, want ErrInvalidVbatResponse", err)
	}
}

func TestTransportErrorsAreWrapped(t *testing.T) {
	cause := errors.New("link down")
	link := &fakeTransport{err: cause}

	_, err := NewNRF51(link).FlashStatus(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("FlashStatus() error = %v, want wrapped %v", err, cause)
	}
}
