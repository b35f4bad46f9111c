package list

import (
	"fmt"

	"github.com/spf13/cobra"

	plugcmd "github.com/headlamp-k8s/headlamp-sub003/cmd/internal/cmd"
	plugctx "github.com/headlamp-k8s/headlamp-sub003/internal/context"
	"github.com/headlamp-k8s/headlamp-sub003/internal/flags/enum"
	"github.com/headlamp-k8s/headlamp-sub003/internal/render"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the installed plugins",
		Args:    cobra.NoArgs,
		Long: `List the plugins installed by plugctl in the plugin directory.
Folders that were not installed by plugctl are not listed.`,
		Example: `  plugctl list
  plugctl list --output json`,
		RunE:              ListPlugins,
		DisableAutoGenTag: true,
	}
	enum.VarP(cmd.Flags(), plugcmd.OutputFlag, "o", render.Outputs, "output format of the plugin list")
	return cmd
}

func ListPlugins(cmd *cobra.Command, _ []string) error {
	m := plugctx.FromContext(cmd.Context()).PluginManager()
	if m == nil {
		return fmt.Errorf("could not retrieve plugin manager from context")
	}
	output, err := enum.Get(cmd.Flags(), plugcmd.OutputFlag)
	if err != nil {
		return fmt.Errorf("getting output flag failed: %w", err)
	}

	plugins, err := m.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing plugins failed: %w", err)
	}
	return render.Installed(cmd.OutOrStdout(), output, plugins)
}
