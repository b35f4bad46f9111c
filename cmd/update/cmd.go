package update

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	plugctx "github.com/headlamp-k8s/headlamp-sub003/internal/context"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/manager"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "update <name>",
		Short: "Update an installed plugin to the latest version",
		Args:  cobra.ExactArgs(1),
		Long: `Update an installed plugin to the latest version published in the registry
the plugin was installed from. A plugin that is already up to date is left untouched.`,
		Example:           `  plugctl update headlamp_flux`,
		RunE:              UpdatePlugin,
		DisableAutoGenTag: true,
	}
}

func UpdatePlugin(cmd *cobra.Command, args []string) error {
	m := plugctx.FromContext(cmd.Context()).PluginManager()
	if m == nil {
		return fmt.Errorf("could not retrieve plugin manager from context")
	}

	res, err := m.Update(cmd.Context(), args[0])
	switch {
	case errors.Is(err, manager.ErrNoUpdateAvailable):
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s is up to date\n", args[0])
		return err
	case err != nil:
		return fmt.Errorf("updating plugin failed: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "updated %s to %s\n", res.Name, res.Version)
	return err
}
