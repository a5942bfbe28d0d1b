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
	"context"
	"fmt"

	"github.com/mame82/cfload/bootloader"
	"github.com/spf13/cobra"
)

// power actions, all handled by the nRF51 bootloader
var powerActions = map[string]func(ctx context.Context, nrf *bootloader.Bootloader) error{
	"reset": func(ctx context.Context, nrf *bootloader.Bootloader) error {
		if err := nrf.ResetInit(ctx); err != nil {
			return err
		}
		return nrf.ResetToFirmware(ctx)
	},
	"bootloader": func(ctx context.Context, nrf *bootloader.Bootloader) error {
		if err := nrf.ResetInit(ctx); err != nil {
			return err
		}
		return nrf.Reset(ctx)
	},
	"sysoff": func(ctx context.Context, nrf *bootloader.Bootloader) error { return nrf.SysOff(ctx) },
	"syson":  func(ctx context.Context, nrf *bootloader.Bootloader) error { return nrf.SysOn(ctx) },
	"alloff": func(ctx context.Context, nrf *bootloader.Bootloader) error { return nrf.AllOff(ctx) },
}

var powerCmd = &cobra.Command{
	Use:       "power reset|bootloader|sysoff|syson|alloff",
	Short:     "Reset or power down the Crazyflie through the nRF51 bootloader",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"reset", "bootloader", "sysoff", "syson", "alloff"},
	RunE: func(cmd *cobra.Command, args []string) error {
		action := powerActions[args[0]]

		ctx, stop := interruptContext()
		defer stop()

		loader, closeRadio, err := openLoader(ctx)
		if err != nil {
			return err
		}
		defer closeRadio()

		nrf, err := loader.Bootloader(bootloader.TargetNRF51)
		if err != nil {
			return err
		}
		if err := action(ctx, nrf); err != nil {
			return fmt.Errorf("power %s: %w", args[0], err)
		}
		fmt.Printf("power %s sent\n", args[0])
		return nil
	},
}

var vbatCmd = &cobra.Command{
	Use:   "vbat",
	Short: "Print the battery voltage measured by the nRF51",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := interruptContext()
		defer stop()

		loader, closeRadio, err := openLoader(ctx)
		if err != nil {
			return err
		}
		defer closeRadio()

		nrf, err := loader.Bootloader(bootloader.TargetNRF51)
		if err != nil {
			return err
		}
		v, err := nrf.GetVBat(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("VBat: %.2f V\n", v)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(powerCmd)
	rootCmd.AddCommand(vbatCmd)
}
