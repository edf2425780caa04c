package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/artpar/modkernel/bootstrap"
	"github.com/artpar/modkernel/core/modules"
	"github.com/spf13/cobra"
)

var modulesCmd = &cobra.Command{
	Use:     "modules",
	Aliases: []string{"mods"},
	Short:   "List modules in the module directory",
	Long: `List every archive in the module directory with its manifest and
exclusion flag. Modules are discovered and linked but not instantiated.`,
	RunE: runModules,
}

var excludeCmd = &cobra.Command{
	Use:   "exclude <module>",
	Short: "Exclude a module from the next start",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setExcluded(cmd, args[0], true)
	},
}

var includeCmd = &cobra.Command{
	Use:   "include <module>",
	Short: "Include a previously excluded module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setExcluded(cmd, args[0], false)
	},
}

func init() {
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(excludeCmd)
	rootCmd.AddCommand(includeCmd)
}

// offlineApp creates an app whose console is never started.
func offlineApp(cmd *cobra.Command) (*bootstrap.App, error) {
	return bootstrap.NewWithConfig(bootstrap.Config{
		ConfigPath: cfgFile,
		Input:      strings.NewReader(""),
		Output:     io.Discard,
		LogOutput:  cmd.ErrOrStderr(),
		Version:    version,
	})
}

func runModules(cmd *cobra.Command, args []string) error {
	app, err := offlineApp(cmd)
	if err != nil {
		return err
	}
	defer app.Shutdown(context.Background())

	list, surveyErr := app.Survey()
	out := cmd.OutOrStdout()

	if len(list) == 0 {
		fmt.Fprintf(out, "No modules in %s\n", app.Kernel.Modules.Dir())
		return surveyErr
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tAUTHOR\tDEPENDS\tSTATE\tEXCLUDED")
	for _, m := range list {
		depends := m.Depends
		if depends == "" {
			depends = "-"
		}
		v, _ := app.Store.Get(m.ExclusionKey())
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n", m.Name, m.Version, m.Author, depends, m.State, v == "true")
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, m := range list {
		if m.Error != "" {
			fmt.Fprintf(out, "\n%s: %s\n", m.Name, m.Error)
		}
	}
	return surveyErr
}

func setExcluded(cmd *cobra.Command, name string, excluded bool) error {
	app, err := offlineApp(cmd)
	if err != nil {
		return err
	}
	defer app.Shutdown(context.Background())

	// Discovery problems with other archives do not block this change.
	_, _ = app.Survey()

	info, ok := app.Kernel.Modules.Module(name)
	if !ok {
		return fmt.Errorf("%w: %s", modules.ErrModuleNotFound, name)
	}
	if err := app.Kernel.Modules.SetExcluded(info.Manifest, excluded); err != nil {
		return err
	}

	verb := "included"
	if excluded {
		verb = "excluded"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Module %s %s (%s).\n", info.Name, verb, info.ExclusionKey())
	return nil
}
