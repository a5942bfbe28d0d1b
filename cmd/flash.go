// Copyright © 2019 Marcus Mengs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"errors"
	"fmt"

	"github.com/mame82/cfload/cfloader"
	"github.com/mame82/cfload/firmware"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	tmpFirmwarePath = ""
	tmpPlatform     = ""
	tmpVerify       = false
	tmpReset        = false
)

func FlashFirmwareFromFile(cmd *cobra.Command, fwFile string, platform string) error {
	target, err := cfloader.ParsePlatform(platform)
	if err != nil {
		return err
	}

	fw, err := firmware.Load(fwFile)
	if err != nil {
		return err
	}
	fmt.Printf("Opened firmware blob %s\n", fw)

	verify := cfg.Verify
	if cmd.Flags().Changed("verify") {
		verify = tmpVerify
	}
	reset := cfg.ResetAfterFlash
	if cmd.Flags().Changed("reset") {
		reset = tmpReset
	}

	ctx, stop := interruptContext()
	defer stop()

	loader, closeRadio, err := openLoader(ctx)
	if err != nil {
		return err
	}
	defer closeRadio()

	info, err := loader.Info(target)
	if err != nil {
		return err
	}
	if err := fw.Fits(info.FlashSize()); err != nil {
		return err
	}

	bar := newProgressBar(fw.Size(), fmt.Sprintf("Flashing %s", target))
	if err := loader.FlashImage(ctx, target, fw, progressFunc(bar)); err != nil {
		return fmt.Errorf("flashing %s failed: %w", target, err)
	}
	bar.Finish()

	if verify {
		bar = newProgressBar(fw.Size(), fmt.Sprintf("Verifying %s", target))
		err := loader.VerifyImage(ctx, target, fw, progressFunc(bar))
		if err != nil {
			var verifyErr *cfloader.VerifyError
			if errors.As(err, &verifyErr) {
				fmt.Println()
				fmt.Printf("WARNING: flash content differs from %s at offset %#x\n", fw.Name, verifyErr.Offset)
			}
			return err
		}
		bar.Finish()
	}

	if reset {
		// the bootloaders are gone once the reset went through, a lost ack
		// is expected here
		if err := loader.ResetToFirmware(ctx); err != nil {
			log.Warnf("reset to firmware: %v", err)
		} else {
			fmt.Println("Crazyflie reset to firmware")
		}
	}

	return nil
}

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Flash a raw binary firmware to the STM32 or nRF51 of a Crazyflie",
	Long: `Flash a raw binary firmware (.bin) to one of the two bootloaders.

The image is written to the first firmware page of the chosen platform,
the bootloader pages in front of it are left untouched.`,
	Example: "  cfload flash --file cf2.bin --platform stm32 --verify --reset",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(tmpFirmwarePath) == 0 {
			cmd.Usage()
			return errors.New("no firmware file given for flashing")
		}
		return FlashFirmwareFromFile(cmd, tmpFirmwarePath, tmpPlatform)
	},
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().StringVarP(&tmpFirmwarePath, "file", "f", "", "path to firmware file in raw binary format")
	flashCmd.Flags().StringVarP(&tmpPlatform, "platform", "p", "stm32", "target platform: stm32 or nrf51")
	flashCmd.Flags().BoolVar(&tmpVerify, "verify", false, "read back and compare the flash after writing")
	flashCmd.Flags().BoolVar(&tmpReset, "reset", false, "boot the firmware once flashing is done")
}
