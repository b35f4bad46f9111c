package configuration

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	v1 "github.com/headlamp-k8s/headlamp-sub003/configuration/v1"
)

// plugctl configuration file and directory constants
const (
	ConfigDirectoryName   = "plugctl"
	ConfigFileName        = ConfigDirectoryName + "/config.yaml"
	DotConfigFileName     = ".plugctl.yaml"
	ConfigEnvironmentKey  = "PLUGCTL_CONFIG"
	ConfigCommandArgument = "config"
)

func RegisterConfigFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().String(ConfigCommandArgument, "", `supply configuration by a given configuration file.
By default (without specifying custom locations with this flag), the file will be read from the well known locations:
1. The path specified in the PLUGCTL_CONFIG environment variable
2. The XDG_CONFIG_HOME directory (if set), or the default XDG home ($HOME/.config), or the user's home directory
- $XDG_CONFIG_HOME/plugctl/config.yaml
- $XDG_CONFIG_HOME/.plugctl.yaml
- $HOME/.config/plugctl/config.yaml
- $HOME/.config/.plugctl.yaml
- $HOME/plugctl/config.yaml
- $HOME/.plugctl.yaml
3. The current working directory:
- $PWD/plugctl/config.yaml
- $PWD/.plugctl.yaml
Values from earlier locations take precedence over later ones.
Using the option, this configuration file be used instead of the lookup above.`)
}

// GetConfigForCommand returns the configuration given with the config flag
// or, if the flag is not set, the merged configuration of all well known locations.
func GetConfigForCommand(cmd *cobra.Command) (*v1.Config, error) {
	path, _ := cmd.Flags().GetString(ConfigCommandArgument)
	if path != "" {
		return GetConfigFromPath(path)
	}
	return GetConfig(), nil
}

// GetConfig loads every discovered configuration file and merges them.
// Files that cannot be loaded are skipped. Without any file an empty configuration is returned.
func GetConfig(additional ...string) *v1.Config {
	paths := append(GetConfigPaths(), additional...)
	cfgs := make([]*v1.Config, 0, len(paths))
	for _, path := range paths {
		cfg, err := GetConfigFromPath(path)
		if err != nil {
			slog.Error("plugctl config path was skipped due to an error loading it",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		slog.Debug("plugctl config was loaded successfully", slog.String("path", path))
		cfgs = append(cfgs, cfg)
	}
	return v1.Merge(cfgs...)
}

// GetConfigFromPath reads and decodes the configuration file at path.
func GetConfigFromPath(path string) (_ *v1.Config, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return v1.Decode(data)
}

// GetConfigPaths returns the existing configuration files in order of precedence.
func GetConfigPaths() []string {
	var paths []string
	if path := getFromEnvironment(); path != "" {
		paths = append(paths, path)
	}
	if path := getFromXDGOrHomeDir(); path != "" {
		paths = append(paths, path)
	}
	if path := getFromWorkingDir(); path != "" {
		paths = append(paths, path)
	}
	return paths
}

func getFromEnvironment() string {
	if env := os.Getenv(ConfigEnvironmentKey); env != "" {
		if _, err := os.Stat(env); err == nil {
			return env
		}
	}
	return ""
}

// getFromXDGOrHomeDir checks XDG_CONFIG_HOME first if set, followed by the
// default XDG home (~/.config) and finally the user's home directory.
func getFromXDGOrHomeDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if path := checkConfigPaths(xdg); path != "" {
			return path
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if path := checkConfigPaths(filepath.Join(home, ".config")); path != "" {
			return path
		}
		if path := checkConfigPaths(home); path != "" {
			return path
		}
	}
	return ""
}

func getFromWorkingDir() string {
	if wd, err := os.Getwd(); err == nil {
		return checkConfigPaths(wd)
	}
	return ""
}

func checkConfigPaths(base string) string {
	for _, name := range []string{ConfigFileName, DotConfigFileName} {
		path := filepath.Join(base, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
