package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/modkernel/config"
	"github.com/spf13/cobra"
)

var errInvalidConfig = errors.New("configuration invalid")

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Validate the configuration file and print the effective settings.

Defaults and MODKERNEL_* environment overrides are applied, so the
output matches what 'modkernel run' would use.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidConfig, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration valid")
	fmt.Fprintf(out, "  Prompt:     %s\n", cfg.Kernel.Prompt)
	fmt.Fprintf(out, "  Modules:    %s (%s)\n", cfg.Modules.Dir, strings.Join(cfg.Modules.Extensions, ", "))
	fmt.Fprintf(out, "  Store:      %s at %s\n", cfg.Store.Driver, cfg.Store.DSN)
	fmt.Fprintf(out, "  Tasks:      workers=%d grace=%s\n", cfg.Tasks.Workers, cfg.Tasks.Grace)
	fmt.Fprintf(out, "  Log level:  %s\n", cfg.Logging.Level)
	if cfg.Admin.Enabled {
		fmt.Fprintf(out, "  Admin API:  %s\n", cfg.Admin.Addr)
	} else {
		fmt.Fprintln(out, "  Admin API:  disabled")
	}
	return nil
}
