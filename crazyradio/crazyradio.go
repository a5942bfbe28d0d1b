// Package crazyradio drives a Crazyradio PA USB dongle in PRX/PTX packet mode,
// one acknowledged packet at a time.
package crazyradio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/mame82/cfload/bllink"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNoDongle = errors.New("no Crazyradio dongle found")
	ErrClosed   = errors.New("crazyradio is closed")
)

const (
	VID gousb.ID = 0x1915
	PID gousb.ID = 0x7777
)

// vendor requests
const (
	reqSetRadioChannel uint8 = 0x01
	reqSetRadioAddress uint8 = 0x02
	reqSetDataRate     uint8 = 0x03
	reqSetRadioPower   uint8 = 0x04
	reqSetRadioARD     uint8 = 0x05
	reqSetRadioARC     uint8 = 0x06
	reqAckEnable       uint8 = 0x10

	requestTypeVendorOut uint8 = 0x40
)

type DataRate uint16

const (
	DataRate250K DataRate = 0
	DataRate1M   DataRate = 1
	DataRate2M   DataRate = 2
)

type Power uint16

const (
	PowerM18DBM Power = 0
	PowerM12DBM Power = 1
	PowerM6DBM  Power = 2
	Power0DBM   Power = 3
)

const (
	epOut = 0x01
	epIn  = 0x81

	// status byte + up to 32 bytes of ack payload, the dongle sends up to 64
	readBufferSize = 64
	defaultARC     = 3
	defaultTimeout = time.Second
)

// transport is the part of the USB device the radio needs.
type transport interface {
	control(request uint8, value uint16, data []byte) error
	write(ctx context.Context, data []byte) error
	read(ctx context.Context, buf []byte) (int, error)
	close()
}

type Option func(*Radio)

func WithDataRate(rate DataRate) Option { return func(r *Radio) { r.dataRate = rate } }

func WithPower(power Power) Option { return func(r *Radio) { r.power = power } }

// WithARC sets the number of automatic retransmits done by the dongle for a
// single packet.
func WithARC(arc uint16) Option { return func(r *Radio) { r.arc = arc } }

func WithTimeout(timeout time.Duration) Option { return func(r *Radio) { r.timeout = timeout } }

// Radio implements bllink.Radio. Channel and address are only sent to the
// dongle when they change.
type Radio struct {
	mu sync.Mutex
	tr transport

	dataRate DataRate
	power    Power
	arc      uint16
	timeout  time.Duration

	channelSet bool
	channel    uint8
	addressSet bool
	address    bllink.Address

	closed bool
}

var _ bllink.Radio = (*Radio)(nil)

func newRadio(tr transport, opts ...Option) (*Radio, error) {
	r := &Radio{
		tr:       tr,
		dataRate: DataRate2M,
		power:    Power0DBM,
		arc:      defaultARC,
		timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	setup := []struct {
		name    string
		request uint8
		value   uint16
	}{
		{"data rate", reqSetDataRate, uint16(r.dataRate)},
		{"power", reqSetRadioPower, uint16(r.power)},
		{"retransmit count", reqSetRadioARC, r.arc},
		// auto retransmit delay, 0x80|n waits for n bytes of ack payload
		{"retransmit delay", reqSetRadioARD, 0x80 | 32},
		{"ack", reqAckEnable, 1},
	}
	for _, s := range setup {
		if err := tr.control(s.request, s.value, nil); err != nil {
			return nil, fmt.Errorf("can not set Crazyradio %s: %w", s.name, err)
		}
	}
	return r, nil
}

// SendPacket transmits payload on channel to address and returns the ack
// state together with the ack payload.
func (r *Radio) SendPacket(channel uint8, address bllink.Address, payload []byte) (bllink.Ack, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return bllink.Ack{}, nil, ErrClosed
	}
	if !r.channelSet || r.channel != channel {
		if err := r.tr.control(reqSetRadioChannel, uint16(channel), nil); err != nil {
			return bllink.Ack{}, nil, fmt.Errorf("can not set Crazyradio channel %d: %w", channel, err)
		}
		r.channel, r.channelSet = channel, true
	}
	if !r.addressSet || r.address != address {
		if err := r.tr.control(reqSetRadioAddress, 0, address[:]); err != nil {
			return bllink.Ack{}, nil, fmt.Errorf("can not set Crazyradio address %s: %w", address, err)
		}
		r.address, r.addressSet = address, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.tr.write(ctx, payload); err != nil {
		return bllink.Ack{}, nil, fmt.Errorf("Crazyradio write failed: %w", err)
	}
	buf := make([]byte, readBufferSize)
	n, err := r.tr.read(ctx, buf)
	if err != nil {
		return bllink.Ack{}, nil, fmt.Errorf("Crazyradio read failed: %w", err)
	}
	if n == 0 {
		return bllink.Ack{}, nil, nil
	}

	ack := bllink.Ack{
		Received: buf[0]&0x01 != 0,
		Retry:    int(buf[0] >> 4),
	}
	if !ack.Received {
		return ack, nil, nil
	}
	return ack, append([]byte(nil), buf[1:n]...), nil
}

func (r *Radio) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.tr.close()
}

// usbTransport is a Crazyradio opened through libusb.
type usbTransport struct {
	usbCtx *gousb.Context
	dev    *gousb.Device
	config *gousb.Config
	iface  *gousb.Interface
	out    *gousb.OutEndpoint
	in     *gousb.InEndpoint
}

// Open claims the first Crazyradio found on the USB bus.
func Open(opts ...Option) (*Radio, error) {
	tr := &usbTransport{usbCtx: gousb.NewContext()}

	var err error
	tr.dev, err = tr.usbCtx.OpenDeviceWithVIDPID(VID, PID)
	if err != nil || tr.dev == nil {
		tr.close()
		if err == nil {
			err = ErrNoDongle
		}
		return nil, fmt.Errorf("can not open Crazyradio: %w", err)
	}
	log.WithField("version", tr.dev.Desc.Device.String()).Info("found Crazyradio")

	tr.dev.SetAutoDetach(true)
	if tr.config, err = tr.dev.Config(1); err != nil {
		tr.close()
		return nil, fmt.Errorf("couldn't retrieve config 1 of Crazyradio: %w", err)
	}
	if tr.iface, err = tr.config.Interface(0, 0); err != nil {
		tr.close()
		return nil, fmt.Errorf("couldn't claim Crazyradio interface: %w", err)
	}
	if tr.out, err = tr.iface.OutEndpoint(epOut); err != nil {
		tr.close()
		return nil, fmt.Errorf("couldn't access Crazyradio OUT endpoint: %w", err)
	}
	if tr.in, err = tr.iface.InEndpoint(epIn & 0x0f); err != nil {
		tr.close()
		return nil, fmt.Errorf("couldn't access Crazyradio IN endpoint: %w", err)
	}
	log.Debugf("Crazyradio endpoints: %s, %s", tr.out, tr.in)

	r, err := newRadio(tr, opts...)
	if err != nil {
		tr.close()
		return nil, err
	}
	return r, nil
}

func (u *usbTransport) control(request uint8, value uint16, data []byte) error {
	_, err := u.dev.Control(requestTypeVendorOut, request, value, 0, data)
	return err
}

func (u *usbTransport) write(ctx context.Context, data []byte) error {
	_, err := u.out.WriteContext(ctx, data)
	return err
}

func (u *usbTransport) read(ctx context.Context, buf []byte) (int, error) {
	return u.in.ReadContext(ctx, buf)
}

func (u *usbTransport) close() {
	if u.iface != nil {
		u.iface.Close()
	}
	if u.config != nil {
		u.config.Close()
	}
	if u.dev != nil {
		u.dev.SetAutoDetach(false)
		u.dev.Close()
	}
	if u.usbCtx != nil {
		u.usbCtx.Close()
	}
}
