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
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"github.com/mame82/cfload/cfloader"
	"github.com/mame82/cfload/firmware"
	"github.com/spf13/cobra"
)

var (
	tmpDumpPlatform = ""
	tmpDumpOut      = ""
	tmpDumpLength   = 0
	tmpDumpHex      = false
)

// printHexDump prints data as lines of 32 bytes, prefixed with the address.
func printHexDump(w io.Writer, start uint32, data []byte) {
	linebreakCount := 32
	for off := 0; off < len(data); off += linebreakCount {
		end := off + linebreakCount
		if end > len(data) {
			end = len(data)
		}
		fmt.Fprintf(w, "%#08x: %x\n", start+uint32(off), data[off:end])
	}
}

// dumpLength clamps the requested length to the firmware flash, 0 or less
// means all of it.
func dumpLength(requested int, flashSize uint32) int {
	if requested <= 0 || uint64(requested) > uint64(flashSize) {
		return int(flashSize)
	}
	return requested
}

func DumpFirmware(platform string, outFile string, length int) error {
	target, err := cfloader.ParsePlatform(platform)
	if err != nil {
		return err
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
	length = dumpLength(length, info.FlashSize())

	bar := newProgressBar(length, fmt.Sprintf("Reading %s", target))
	data, err := loader.ReadFlash(ctx, target, info.StartAddress(), length, progressFunc(bar))
	if err != nil {
		return fmt.Errorf("reading %s flash failed: %w", target, err)
	}
	bar.Finish()

	if tmpDumpHex {
		printHexDump(os.Stdout, info.StartAddress(), data)
	}

	if outFile == "" {
		outFile = fmt.Sprintf("%s_dump_%04x.bin", platform, firmware.Checksum(data))
	}
	if err := ioutil.WriteFile(outFile, data, 0644); err != nil {
		return err
	}
	fmt.Printf("dumped %d bytes (CRC %#04x) to file '%s'\n", len(data), firmware.Checksum(data), outFile)
	return nil
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Read back the firmware flash of the STM32 or nRF51",
	RunE: func(cmd *cobra.Command, args []string) error {
		return DumpFirmware(tmpDumpPlatform, tmpDumpOut, tmpDumpLength)
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringVarP(&tmpDumpPlatform, "platform", "p", "stm32", "target platform: stm32 or nrf51")
	dumpCmd.Flags().StringVarP(&tmpDumpOut, "out", "o", "", "output file (default <platform>_dump_<crc>.bin)")
	dumpCmd.Flags().IntVarP(&tmpDumpLength, "length", "l", 0, "number of bytes to read (default whole firmware flash)")
	dumpCmd.Flags().BoolVar(&tmpDumpHex, "hex", false, "also print a hex dump")
}
