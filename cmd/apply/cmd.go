package apply

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	plugcmd "github.com/headlamp-k8s/headlamp-sub003/cmd/internal/cmd"
	"github.com/headlamp-k8s/headlamp-sub003/cmd/setup/hooks"
	plugctx "github.com/headlamp-k8s/headlamp-sub003/internal/context"
	"github.com/headlamp-k8s/headlamp-sub003/internal/flags/enum"
	"github.com/headlamp-k8s/headlamp-sub003/internal/render"
)

// ErrPluginsFailed is returned when at least one plugin of the configuration
// could not be installed.
var ErrPluginsFailed = errors.New("plugins failed to install")

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "apply <config-file>",
		Aliases: []string{"install-from-config"},
		Short:   "Install all plugins declared in a configuration file",
		Args:    cobra.ExactArgs(1),
		Long: `Install, update or keep all plugins declared in a YAML or JSON configuration file.

The file is validated completely before anything is downloaded:

  plugins:
    - name: flux
      source: https://artifacthub.io/packages/headlamp/headlamp-plugins/headlamp_flux
      version: 0.2.0
      config:
        refreshInterval: 30
    - name: flux-extras
      source: https://artifacthub.io/packages/headlamp/my-repo/flux_extras
      dependencies: [flux]
  installOptions:
    parallel: true
    maxConcurrent: 3

Plugins are installed after their dependencies. Plugins whose dependencies failed
or are not declared are skipped. Installed plugins are updated when a newer version
is available. The command fails if any plugin failed to install.`,
		Example: `  plugctl apply plugins.yaml
  plugctl apply plugins.yaml --output json`,
		RunE:              ApplyConfig,
		DisableAutoGenTag: true,
	}
	enum.VarP(cmd.Flags(), plugcmd.OutputFlag, "o", render.Outputs, "output format of the installation report")
	return cmd
}

func ApplyConfig(cmd *cobra.Command, args []string) error {
	o := plugctx.FromContext(cmd.Context()).Orchestrator()
	if o == nil {
		return fmt.Errorf("could not retrieve orchestrator from context")
	}
	output, err := enum.Get(cmd.Flags(), plugcmd.OutputFlag)
	if err != nil {
		return fmt.Errorf("getting output flag failed: %w", err)
	}

	report, applyErr := o.InstallFromConfig(cmd.Context(), args[0])
	if report == nil {
		return fmt.Errorf("applying plugin configuration failed: %w", applyErr)
	}
	if err := render.Report(cmd.OutOrStdout(), output, report); err != nil {
		return err
	}
	if applyErr != nil {
		return errors.Join(fmt.Errorf("applying plugin configuration was interrupted: %w", applyErr), hooks.PostRunE(cmd, args))
	}
	if report.Failed > 0 {
		// post run hooks are skipped on failure, the metrics are still of interest
		return errors.Join(fmt.Errorf("%d %w", report.Failed, ErrPluginsFailed), hooks.PostRunE(cmd, args))
	}
	return nil
}
