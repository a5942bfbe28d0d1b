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
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/mame82/cfload/bootloader"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var tmpOutputFormat = "table"

var titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

// targetInfo is the printable form of a bootloader info packet.
type targetInfo struct {
	Target       string `yaml:"target"`
	Version      byte   `yaml:"version"`
	PageSize     uint16 `yaml:"page_size"`
	BufferPages  uint16 `yaml:"buffer_pages"`
	FlashPages   uint16 `yaml:"flash_pages"`
	FlashStart   uint16 `yaml:"flash_start"`
	StartAddress string `yaml:"start_address"`
	FlashSize    uint32 `yaml:"flash_size"`
}

func newTargetInfo(target bootloader.Target, info bootloader.InfoPacket) targetInfo {
	return targetInfo{
		Target:       target.String(),
		Version:      info.Version(),
		PageSize:     info.PageSize(),
		BufferPages:  info.NBuffPage(),
		FlashPages:   info.NFlashPage(),
		FlashStart:   info.FlashStart(),
		StartAddress: fmt.Sprintf("%#08x", info.StartAddress()),
		FlashSize:    info.FlashSize(),
	}
}

func printInfo(w io.Writer, format string, infos []targetInfo) error {
	switch strings.ToLower(format) {
	case "yaml":
		out, err := yaml.Marshal(infos)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	case "table":
		for _, i := range infos {
			fmt.Fprintln(w, titleStyle.Render(i.Target))
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "  Bootloader version\t%d\n", i.Version)
			fmt.Fprintf(tw, "  Page size\t%d\n", i.PageSize)
			fmt.Fprintf(tw, "  Buffer pages\t%d\n", i.BufferPages)
			fmt.Fprintf(tw, "  Flash pages\t%d\n", i.FlashPages)
			fmt.Fprintf(tw, "  Firmware start\tpage %d (%s)\n", i.FlashStart, i.StartAddress)
			fmt.Fprintf(tw, "  Firmware space\t%d bytes\n", i.FlashSize)
			tw.Flush()
		}
		return nil
	}
	return fmt.Errorf("unknown output format '%s', use 'table' or 'yaml'", format)
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the flash geometry reported by both bootloaders",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := interruptContext()
		defer stop()

		loader, closeRadio, err := openLoader(ctx)
		if err != nil {
			return err
		}
		defer closeRadio()

		return printInfo(os.Stdout, tmpOutputFormat, []targetInfo{
			newTargetInfo(bootloader.TargetSTM32, loader.STM32Info()),
			newTargetInfo(bootloader.TargetNRF51, loader.NRF51Info()),
		})
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().StringVarP(&tmpOutputFormat, "output", "o", "table", "output format: table or yaml")
}
