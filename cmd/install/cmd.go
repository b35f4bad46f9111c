package install

import (
	"fmt"

	"github.com/spf13/cobra"

	plugcmd "github.com/headlamp-k8s/headlamp-sub003/cmd/internal/cmd"
	plugctx "github.com/headlamp-k8s/headlamp-sub003/internal/context"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <source>",
		Short: "Install a plugin from the registry",
		Args:  cobra.ExactArgs(1),
		Long: `Install a plugin from its registry package URL into the plugin directory.

The plugin metadata is resolved from the registry, the plugin is checked against the
host version, the archive is downloaded, verified against the published checksum and
extracted. The plugin folder is only replaced once all of these steps succeeded.`,
		Example: `  plugctl install https://artifacthub.io/packages/headlamp/headlamp-plugins/headlamp_flux
  plugctl install https://artifacthub.io/packages/headlamp/headlamp-plugins/headlamp_flux --version 0.2.0`,
		RunE:              InstallPlugin,
		DisableAutoGenTag: true,
	}
	cmd.Flags().String(plugcmd.VersionFlag, "", "exact plugin version to install instead of the latest one")
	return cmd
}

func InstallPlugin(cmd *cobra.Command, args []string) error {
	m := plugctx.FromContext(cmd.Context()).PluginManager()
	if m == nil {
		return fmt.Errorf("could not retrieve plugin manager from context")
	}
	version, err := cmd.Flags().GetString(plugcmd.VersionFlag)
	if err != nil {
		return fmt.Errorf("getting version flag failed: %w", err)
	}

	res, err := m.Install(cmd.Context(), args[0], version)
	if err != nil {
		return fmt.Errorf("installing plugin failed: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "installed %s %s to %s\n", res.Name, res.Version, res.Folder)
	return err
}
