package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/headlamp-k8s/headlamp-sub003/cmd/apply"
	"github.com/headlamp-k8s/headlamp-sub003/cmd/configuration"
	"github.com/headlamp-k8s/headlamp-sub003/cmd/install"
	plugcmd "github.com/headlamp-k8s/headlamp-sub003/cmd/internal/cmd"
	"github.com/headlamp-k8s/headlamp-sub003/cmd/list"
	"github.com/headlamp-k8s/headlamp-sub003/cmd/setup/hooks"
	"github.com/headlamp-k8s/headlamp-sub003/cmd/uninstall"
	"github.com/headlamp-k8s/headlamp-sub003/cmd/update"
	"github.com/headlamp-k8s/headlamp-sub003/cmd/version"
	"github.com/headlamp-k8s/headlamp-sub003/internal/flags/log"
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once.
func Execute() {
	err := New().Execute()
	if err != nil {
		os.Exit(1)
	}
}

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugctl [sub-command]",
		Short: "Install and manage Headlamp plugins",
		Long: `plugctl installs, updates, lists and removes Headlamp plugins published in
a plugin registry, either one at a time or from a declarative configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE:  hooks.PreRunE,
		PersistentPostRunE: hooks.PostRunE,
		DisableAutoGenTag:  true,
		SilenceUsage:       true,
	}

	configuration.RegisterConfigFlag(cmd)

	cmd.PersistentFlags().String(plugcmd.PluginDirectoryFlag, "", `directory plugins are installed to.
Defaults to the plugins folder of the Headlamp data directory, or of the Headlamp config directory if there is no data directory.`)
	cmd.PersistentFlags().String(plugcmd.HostVersionFlag, "", `Headlamp version that plugin compatibility is checked against. Without it no compatibility check is done.`)
	cmd.PersistentFlags().String(plugcmd.TempFolderFlag, "", `Specify a custom temporary folder path for archive extraction.`)
	cmd.PersistentFlags().String(plugcmd.MetricsFileFlag, "", `write plugin operation metrics in the Prometheus text format to this file.`)
	log.RegisterLoggingFlags(cmd.PersistentFlags())
	cmd.AddCommand(install.New())
	cmd.AddCommand(update.New())
	cmd.AddCommand(uninstall.New())
	cmd.AddCommand(list.New())
	cmd.AddCommand(apply.New())
	cmd.AddCommand(version.New())
	return cmd
}
