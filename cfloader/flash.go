package cfloader

import (
	"context"
	"fmt"
	"time"

	"github.com/mame82/cfload/bootloader"
	"github.com/mame82/cfload/firmware"
	log "github.com/sirupsen/logrus"
)

// geometry is the part of the info packet the flash and read paths work on.
type geometry struct {
	pageSize   int
	nBuffPage  int
	nFlashPage int
	flashStart int
}

func geometryOf(info bootloader.InfoPacket) (geometry, error) {
	g := geometry{
		pageSize:   int(info.PageSize()),
		nBuffPage:  int(info.NBuffPage()),
		nFlashPage: int(info.NFlashPage()),
		flashStart: int(info.FlashStart()),
	}
	if g.pageSize == 0 || g.nBuffPage == 0 || g.nFlashPage <= g.flashStart {
		return geometry{}, fmt.Errorf("%w: %s", ErrInvalidGeometry, info)
	}
	return g, nil
}

// groupSize is the number of bytes committed by one write_flash.
func (g geometry) groupSize() int { return g.nBuffPage * g.pageSize }

// checkImage validates an image placed at startAddress against the target
// flash, before anything is sent. It returns the first flash page.
func (g geometry) checkImage(startAddress uint32, size int) (int, error) {
	if size == 0 {
		return 0, firmware.ErrEmptyImage
	}
	if startAddress%uint32(g.pageSize) != 0 {
		return 0, fmt.Errorf("%w: %#x, page size %d", ErrUnalignedAddress, startAddress, g.pageSize)
	}
	startPage := int(startAddress / uint32(g.pageSize))
	if startPage < g.flashStart || startPage >= g.nFlashPage {
		return 0, fmt.Errorf("%w: page %d, firmware pages %d to %d",
			ErrAddressOutOfRange, startPage, g.flashStart, g.nFlashPage-1)
	}
	available := (g.nFlashPage - startPage) * g.pageSize
	if size > available {
		return 0, fmt.Errorf("%w: %d bytes, %d available from %#x",
			firmware.ErrImageTooLarge, size, available, startAddress)
	}
	return startPage, nil
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// Flash writes image to the flash of target, starting at startAddress.
//
// The image is cut into groups of n_buff_page pages. Every group is streamed
// into the RAM buffer in chunks of at most 25 bytes, then committed with one
// write_flash, and flash_status is polled until the commit is done. Chunks
// never cross a group boundary, so an image spanning several groups takes up
// to one load_buffer more per group boundary than ceil(len(image)/25).
// progress is called after every commit.
func (c *CFLoader) Flash(ctx context.Context, target bootloader.Target, startAddress uint32, image []byte, progress ProgressFunc) error {
	bl, info, err := c.target(target)
	if err != nil {
		return err
	}
	g, err := geometryOf(info)
	if err != nil {
		return err
	}
	flashPage, err := g.checkImage(startAddress, len(image))
	if err != nil {
		return err
	}

	logger := log.WithField("target", target)
	logger.Infof("flashing %d bytes at %#x (page %d)", len(image), startAddress, flashPage)

	total := len(image)
	for written := 0; written < total; {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := written + g.groupSize()
		if end > total {
			end = total
		}
		group := image[written:end]
		if err := c.loadGroup(ctx, bl, g, group); err != nil {
			return err
		}

		nPages := ceilDiv(len(group), g.pageSize)
		if err := c.commit(ctx, bl, uint16(flashPage), uint16(nPages)); err != nil {
			return err
		}
		logger.Debugf("committed %d pages at page %d", nPages, flashPage)

		flashPage += nPages
		written = end
		if progress != nil {
			progress(written, total)
		}
	}

	logger.Infof("flashed %d bytes", total)
	return nil
}

func (c *CFLoader) FlashSTM32(ctx context.Context, startAddress uint32, image []byte, progress ProgressFunc) error {
	return c.Flash(ctx, bootloader.TargetSTM32, startAddress, image, progress)
}

func (c *CFLoader) FlashNRF51(ctx context.Context, startAddress uint32, image []byte, progress ProgressFunc) error {
	return c.Flash(ctx, bootloader.TargetNRF51, startAddress, image, progress)
}

// FlashImage writes img to the first firmware page of target.
func (c *CFLoader) FlashImage(ctx context.Context, target bootloader.Target, img *firmware.Image, progress ProgressFunc) error {
	info, err := c.Info(target)
	if err != nil {
		return err
	}
	return c.Flash(ctx, target, info.StartAddress(), img.Data, progress)
}

// loadGroup streams group into the RAM buffer, starting at buffer page 0.
// The buffer is contiguous, so a chunk may run over a page boundary.
func (c *CFLoader) loadGroup(ctx context.Context, bl *bootloader.Bootloader, g geometry, group []byte) error {
	for off := 0; off < len(group); off += bootloader.MaxLoadBufferData {
		end := off + bootloader.MaxLoadBufferData
		if end > len(group) {
			end = len(group)
		}
		page := uint16(off / g.pageSize)
		address := uint16(off % g.pageSize)
		if err := bl.LoadBuffer(ctx, page, address, group[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// commit copies nPages buffer pages to flash and waits for the bootloader to
// report the commit done.
func (c *CFLoader) commit(ctx context.Context, bl *bootloader.Bootloader, flashPage, nPages uint16) error {
	status, err := bl.WriteFlash(ctx, 0, flashPage, nPages)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.commitTimeout)
	for !status.Done {
		if time.Now().After(deadline) {
			return fmt.Errorf("%s: %w after %s (page %d)", bl.Target(), ErrCommitTimeout, c.commitTimeout, flashPage)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if status, err = bl.FlashStatusTimeout(ctx, bootloader.FlashTimeout); err != nil {
			return err
		}
	}

	if status.Error != bootloader.FlashNoError {
		return &FlashCommitError{Target: bl.Target(), FlashPage: flashPage, Code: status.Error}
	}
	return nil
}
