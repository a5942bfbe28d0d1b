// Package cfloader flashes firmware images onto the two bootloaders of a
// Crazyflie 2.x: the STM32F405 application processor and the nRF51822 radio
// co-processor.
package cfloader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mame82/cfload/bootloader"
	log "github.com/sirupsen/logrus"
)

// DefaultCommitTimeout bounds the flash_status polling after a write_flash.
const DefaultCommitTimeout = 10 * time.Second

// ProgressFunc is called with the number of bytes done so far and the total.
// It runs on the flashing goroutine and must return quickly.
type ProgressFunc func(done, total int)

type Option func(*CFLoader)

func WithCommitTimeout(timeout time.Duration) Option {
	return func(c *CFLoader) {
		if timeout > 0 {
			c.commitTimeout = timeout
		}
	}
}

// CFLoader is a session with both bootloaders. The flash geometry of each
// target is read once when the session is created.
type CFLoader struct {
	stm32     *bootloader.Bootloader
	nrf51     *bootloader.Bootloader
	stm32Info bootloader.InfoPacket
	nrf51Info bootloader.InfoPacket

	commitTimeout time.Duration
}

// New connects to both bootloaders over link and fetches their info.
func New(ctx context.Context, link bootloader.Transport, opts ...Option) (*CFLoader, error) {
	c := &CFLoader{
		stm32:         bootloader.NewSTM32(link),
		nrf51:         bootloader.NewNRF51(link),
		commitTimeout: DefaultCommitTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	var err error
	if c.stm32Info, err = c.stm32.GetInfo(ctx); err != nil {
		return nil, fmt.Errorf("can not connect to STM32 bootloader: %w", err)
	}
	if c.nrf51Info, err = c.nrf51.GetInfo(ctx); err != nil {
		return nil, fmt.Errorf("can not connect to nRF51 bootloader: %w", err)
	}

	log.WithFields(log.Fields{
		"stm32_version": c.stm32Info.Version(),
		"nrf51_version": c.nrf51Info.Version(),
	}).Info("connected to Crazyflie bootloaders")
	return c, nil
}

func (c *CFLoader) STM32Info() bootloader.InfoPacket { return c.stm32Info }

func (c *CFLoader) NRF51Info() bootloader.InfoPacket { return c.nrf51Info }

func (c *CFLoader) Info(target bootloader.Target) (bootloader.InfoPacket, error) {
	_, info, err := c.target(target)
	return info, err
}

// Bootloader gives direct access to the bootloader of target.
func (c *CFLoader) Bootloader(target bootloader.Target) (*bootloader.Bootloader, error) {
	bl, _, err := c.target(target)
	return bl, err
}

func (c *CFLoader) target(target bootloader.Target) (*bootloader.Bootloader, bootloader.InfoPacket, error) {
	switch target {
	case bootloader.TargetSTM32:
		return c.stm32, c.stm32Info, nil
	case bootloader.TargetNRF51:
		return c.nrf51, c.nrf51Info, nil
	}
	return nil, bootloader.InfoPacket{}, fmt.Errorf("%w: %02x", ErrUnknownTarget, byte(target))
}

// ParsePlatform maps the platform names of the command line to a target.
func ParsePlatform(name string) (bootloader.Target, error) {
	switch strings.ToLower(name) {
	case "stm32":
		return bootloader.TargetSTM32, nil
	case "nrf51":
		return bootloader.TargetNRF51, nil
	}
	return 0, fmt.Errorf("%w '%s', use 'stm32' or 'nrf51'", ErrUnknownPlatform, name)
}

// ResetToFirmware leaves the bootloaders and boots the flashed firmware. The
// reset is handled by the nRF51, which powers the STM32.
func (c *CFLoader) ResetToFirmware(ctx context.Context) error {
	if err := c.nrf51.ResetInit(ctx); err != nil {
		return err
	}
	return c.nrf51.ResetToFirmware(ctx)
}
