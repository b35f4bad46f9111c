package uninstall

import (
	"fmt"

	"github.com/spf13/cobra"

	plugctx "github.com/headlamp-k8s/headlamp-sub003/internal/context"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall <name>",
		Aliases: []string{"remove", "rm"},
		Short:   "Remove an installed plugin",
		Args:    cobra.ExactArgs(1),
		Long: `Remove an installed plugin from the plugin directory.

Only folders that were installed by plugctl are removed. Folders without the
managed marker are never touched.`,
		Example:           `  plugctl uninstall headlamp_flux`,
		RunE:              UninstallPlugin,
		DisableAutoGenTag: true,
	}
}

func UninstallPlugin(cmd *cobra.Command, args []string) error {
	m := plugctx.FromContext(cmd.Context()).PluginManager()
	if m == nil {
		return fmt.Errorf("could not retrieve plugin manager from context")
	}
	if err := m.Uninstall(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("uninstalling plugin failed: %w", err)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "uninstalled %s\n", args[0])
	return err
}
