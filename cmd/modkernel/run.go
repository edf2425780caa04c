package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/modkernel/bootstrap"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot the kernel and open the console",
	Long: `Boot the kernel and open the interactive console.

Start-up:
  - Load configuration from modkernel.yaml (or --config), falling back to
    MODKERNEL_* environment variables
  - Open the module configuration store
  - Discover, link and load every module, firing the three lifecycle stages
  - Start the admin API when admin.enabled is set
  - Read console commands until 'stop', end of input, SIGINT or SIGTERM

Environment variables:
  MODKERNEL_MODULES_DIR   - Module directory (default: modules)
  MODKERNEL_STORE_DRIVER  - properties or sqlite
  MODKERNEL_LOG_LEVEL     - debug, info, warn, error
  MODKERNEL_ADMIN_ENABLED - Serve the admin API

Examples:
  modkernel run
  modkernel run --config /etc/modkernel/modkernel.yaml
  MODKERNEL_MODULES_DIR=./plugins modkernel run`,
	RunE: runKernel,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runKernel(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.NewWithConfig(bootstrap.Config{
		ConfigPath: cfgFile,
		Input:      cmd.InOrStdin(),
		Output:     cmd.OutOrStdout(),
		Version:    version,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx)
}
