package cfloader

import (
	"context"
	"fmt"

	"github.com/mame82/cfload/bootloader"
	"github.com/mame82/cfload/firmware"
	log "github.com/sirupsen/logrus"
)

// ReadFlash reads length bytes of flash of target, starting at startAddress.
// Reads are split at page boundaries.
func (c *CFLoader) ReadFlash(ctx context.Context, target bootloader.Target, startAddress uint32, length int, progress ProgressFunc) ([]byte, error) {
	bl, info, err := c.target(target)
	if err != nil {
		return nil, err
	}
	g, err := geometryOf(info)
	if err != nil {
		return nil, err
	}
	end := uint64(startAddress) + uint64(length)
	if length < 0 || end > uint64(g.nFlashPage)*uint64(g.pageSize) {
		return nil, fmt.Errorf("%w: %d bytes from %#x", ErrAddressOutOfRange, length, startAddress)
	}

	out := make([]byte, 0, length)
	for len(out) < length {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		address := int(startAddress) + len(out)
		page := address / g.pageSize
		offset := address % g.pageSize
		p, err := bl.ReadFlash(ctx, uint16(page), uint16(offset))
		if err != nil {
			return nil, err
		}
		if len(p.Data) == 0 {
			return nil, fmt.Errorf("%s: %w at page %d address %d", target, ErrEmptyRead, page, offset)
		}

		n := len(p.Data)
		if left := g.pageSize - offset; n > left {
			n = left
		}
		if left := length - len(out); n > left {
			n = left
		}
		out = append(out, p.Data[:n]...)
		if progress != nil {
			progress(len(out), length)
		}
	}
	return out, nil
}

// Verify reads back len(image) bytes at startAddress and compares them with
// image.
func (c *CFLoader) Verify(ctx context.Context, target bootloader.Target, startAddress uint32, image []byte, progress ProgressFunc) error {
	data, err := c.ReadFlash(ctx, target, startAddress, len(image), progress)
	if err != nil {
		return err
	}

	want, got := firmware.Checksum(image), firmware.Checksum(data)
	for i := range image {
		if image[i] != data[i] {
			return &VerifyError{Target: target, Offset: i, ExpectedCRC: want, ActualCRC: got}
		}
	}
	log.WithField("target", target).Infof("verified %d bytes, CRC %#04x", len(image), got)
	return nil
}

// VerifyImage verifies img at the first firmware page of target.
func (c *CFLoader) VerifyImage(ctx context.Context, target bootloader.Target, img *firmware.Image, progress ProgressFunc) error {
	info, err := c.Info(target)
	if err != nil {
		return err
	}
	return c.Verify(ctx, target, info.StartAddress(), img.Data, progress)
}
