// Package bllink implements the Crazyflie bootloader link: a half-duplex
// request/response transport on top of a radio which only reports whether a
// single packet was acknowledged.
//
// The link has no sequence numbers. A response is recognised by matching its
// first bytes against the request, so the caller has to pick a match that
// cannot be satisfied by the reply to any other command still in flight.
package bllink

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// MaxRetries is the number of attempts made for every exchange.
	MaxRetries = 10
	// SendTimeout bounds one attempt of a fire-and-forget send.
	SendTimeout = time.Second
	// RetryDelay is the pause between two consecutive packets of one attempt.
	RetryDelay = time.Millisecond
)

var pollFrame = []byte{0xff}

type clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Link serialises all exchanges with the bootloaders over one radio.
// It is safe to share a Link between several bootloader targets.
type Link struct {
	mu      sync.Mutex
	radio   Radio
	channel uint8
	address Address
	retries int
	delay   time.Duration
	clock   clock
}

type Option func(*Link)

func WithAddress(address Address) Option {
	return func(l *Link) { l.address = address }
}

func WithChannel(channel uint8) Option {
	return func(l *Link) { l.channel = channel }
}

// WithRetries overrides the number of attempts per exchange. Values below 1
// are ignored.
func WithRetries(retries int) Option {
	return func(l *Link) {
		if retries > 0 {
			l.retries = retries
		}
	}
}

func New(radio Radio, opts ...Option) *Link {
	if radio == nil {
		panic("bllink: radio cannot be nil")
	}
	l := &Link{
		radio:   radio,
		channel: BootloaderChannel,
		address: DefaultAddress,
		retries: MaxRetries,
		delay:   RetryDelay,
		clock:   realClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Link) Address() Address { return l.address }

func (l *Link) Channel() uint8 { return l.channel }

// Request sends data and waits for a response starting with all of data.
// The returned response includes the echoed request header.
func (l *Link) Request(ctx context.Context, data []byte, timeout time.Duration) ([]byte, error) {
	return l.Exchange(ctx, data, FullPrefix(), timeout)
}

// RequestMatch sends data and waits for a response whose first matchLength
// bytes equal the first matchLength bytes of data.
func (l *Link) RequestMatch(ctx context.Context, data []byte, matchLength int, timeout time.Duration) ([]byte, error) {
	return l.Exchange(ctx, data, PartialPrefix(matchLength), timeout)
}

// Exchange runs up to the retry ceiling of attempts, each one bounded by
// timeout, and returns the first response satisfying m.
func (l *Link) Exchange(ctx context.Context, data []byte, m Match, timeout time.Duration) ([]byte, error) {
	if err := m.validate(data); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.retry(ctx, data, func() ([]byte, error) {
		return l.tryRequest(ctx, data, m, timeout)
	})
}

// Send transmits data until it is acknowledged. No response is expected.
func (l *Link) Send(ctx context.Context, data []byte) error {
	return l.SendWithTimeout(ctx, data, SendTimeout)
}

func (l *Link) SendWithTimeout(ctx context.Context, data []byte, timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.retry(ctx, data, func() ([]byte, error) {
		_, err := l.waitAck(ctx, data, l.clock.Now(), timeout)
		return nil, err
	})
	return err
}

func (l *Link) retry(ctx context.Context, data []byte, try func() ([]byte, error)) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= l.retries; attempt++ {
		rsp, err := try()
		if err == nil {
			return rsp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		log.WithFields(log.Fields{
			"request": fmt.Sprintf("% 02x", data),
			"attempt": attempt,
		}).Debugf("bllink: attempt failed: %v", err)
	}

	log.WithFields(log.Fields{
		"request":  fmt.Sprintf("% 02x", data),
		"attempts": l.retries,
	}).Warnf("bllink: giving up: %v", lastErr)
	return nil, &RetriesExhaustedError{Attempts: l.retries, Err: lastErr}
}

// tryRequest is a single attempt: send the request until it is acknowledged,
// then poll with an empty frame until the response matches. The target is
// still processing the request while we poll, so it is never sent twice.
func (l *Link) tryRequest(ctx context.Context, data []byte, m Match, timeout time.Duration) ([]byte, error) {
	start := l.clock.Now()

	answer, err := l.waitAck(ctx, data, start, timeout)
	if err != nil {
		return nil, err
	}

	for !m.matches(data, answer) && l.clock.Now().Sub(start) < timeout {
		ack, rsp, err := l.radio.SendPacket(l.channel, l.address, pollFrame)
		if err != nil {
			return nil, fmt.Errorf("radio error during polling: %w", err)
		}
		if ack.Received {
			answer = rsp
		}
		if m.matches(data, answer) {
			break
		}
		if err := l.clock.Sleep(ctx, l.delay); err != nil {
			return nil, err
		}
	}

	if !m.matches(data, answer) {
		expected := m.prefix(data)
		actual := answer
		if len(actual) > len(expected) {
			actual = actual[:len(expected)]
		}
		return nil, &ResponseTimeoutError{
			Timeout:  timeout,
			Expected: append([]byte(nil), expected...),
			Actual:   append([]byte(nil), actual...),
		}
	}

	return answer, nil
}

// waitAck transmits data until the radio reports an ack and returns the
// payload which came back with it.
func (l *Link) waitAck(ctx context.Context, data []byte, start time.Time, timeout time.Duration) ([]byte, error) {
	for l.clock.Now().Sub(start) < timeout {
		ack, rsp, err := l.radio.SendPacket(l.channel, l.address, data)
		if err != nil {
			return nil, fmt.Errorf("radio error during send: %w", err)
		}
		if ack.Received {
			return rsp, nil
		}
		if err := l.clock.Sleep(ctx, l.delay); err != nil {
			return nil, err
		}
	}
	return nil, &NoAckError{Timeout: timeout}
}
