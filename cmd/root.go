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
	"os"

	"github.com/mame82/cfload/bllink"
	"github.com/mame82/cfload/cfloader"
	"github.com/mame82/cfload/config"
	"github.com/mame82/cfload/crazyradio"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	radioAddress string
	verbose      bool

	cfg = config.Default()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cfload",
	Short: "Flash firmware to the STM32 and nRF51 bootloaders of a Crazyflie 2.x",
	Long: `cfload talks to the Crazyflie 2.x bootloaders through a Crazyradio PA.

The Crazyflie has to be started in bootloader mode: with the platform
switched off, hold the power button for about three seconds until the
blue LEDs blink.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVarP(&radioAddress, "address", "a", "", "bootloader radio address as 10 hex digits (default E7E7E7E7E7)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log radio traffic and retries")
}

// initConfig reads in the config file and applies the global flags on top.
func initConfig(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg = loaded

	if radioAddress != "" {
		cfg.Address = radioAddress
	}
	log.SetLevel(cfg.Level())
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
	log.Debugf("using config %s: %+v", path, *cfg)
	return nil
}

// openLoader opens the Crazyradio and connects to both bootloaders. The
// returned function closes the radio.
func openLoader(ctx context.Context) (*cfloader.CFLoader, func(), error) {
	address, err := cfg.RadioAddress()
	if err != nil {
		return nil, nil, err
	}

	radio, err := crazyradio.Open()
	if err != nil {
		return nil, nil, err
	}

	link := bllink.New(radio, bllink.WithAddress(address))
	loader, err := cfloader.New(ctx, link, cfloader.WithCommitTimeout(cfg.CommitTimeout))
	if err != nil {
		radio.Close()
		return nil, nil, fmt.Errorf("%w (is the Crazyflie in bootloader mode?)", err)
	}
	return loader, radio.Close, nil
}
