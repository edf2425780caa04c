package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd runs the kernel console when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "modkernel",
	Short: "Module micro-kernel with a console, event bus and task scheduler",
	Long: `modkernel hosts modules packaged as archives in a module directory.

Each archive carries a manifest naming the module, its author, version,
entry symbol and optional dependency. Modules are loaded dependency first,
run through three lifecycle stages and then wired into the console,
the event bus, the task scheduler and the service registry.

Quick start:
  modkernel run                   # Boot and open the console
  modkernel modules               # List modules in the module directory
  modkernel exclude <module>      # Skip a module on the next start
  modkernel validate              # Validate configuration`,
	SilenceUsage: true,
	RunE:         runKernel,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "modkernel.yaml", "config file path")
}
