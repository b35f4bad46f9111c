// Package paths resolves the per-OS default directories of the host
// application.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultApp is the host application the plugins are installed for.
const DefaultApp = "Headlamp"

// AppDirs are the data and config directories of an application.
type AppDirs struct {
	Data   string
	Config string
}

// Platform describes the environment directories are derived from.
// The zero value is not usable, use Host.
type Platform struct {
	GOOS   string
	Home   string
	Getenv func(string) string
}

// Host returns the Platform of the running process.
func Host() (Platform, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Platform{}, fmt.Errorf("failed to determine home directory: %w", err)
	}
	return Platform{GOOS: runtime.GOOS, Home: home, Getenv: os.Getenv}, nil
}

func (p Platform) env(key, fallback string) string {
	if v := p.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Dirs returns the data and config directories of app.
func (p Platform) Dirs(app string) AppDirs {
	switch p.GOOS {
	case "darwin":
		library := filepath.Join(p.Home, "Library")
		return AppDirs{
			Data:   filepath.Join(library, "Application Support", app),
			Config: filepath.Join(library, "Preferences", app),
		}
	case "windows":
		appData := p.env("APPDATA", filepath.Join(p.Home, "AppData", "Roaming"))
		localAppData := p.env("LOCALAPPDATA", filepath.Join(p.Home, "AppData", "Local"))
		return AppDirs{
			Data:   filepath.Join(localAppData, app, "Data"),
			Config: filepath.Join(appData, app, "Config"),
		}
	default:
		return AppDirs{
			Data:   filepath.Join(p.env("XDG_DATA_HOME", filepath.Join(p.Home, ".local", "share")), app),
			Config: filepath.Join(p.env("XDG_CONFIG_HOME", filepath.Join(p.Home, ".config")), app),
		}
	}
}

// PluginsDir returns the plugin directory of app: the data directory if it
// exists, the config directory otherwise.
func (p Platform) PluginsDir(app string) string {
	dirs := p.Dirs(app)
	base := dirs.Config
	if fi, err := os.Stat(dirs.Data); err == nil && fi.IsDir() {
		base = dirs.Data
	}
	return filepath.Join(base, "plugins")
}

// DefaultPluginsDir returns the plugin directory of app on this host.
func DefaultPluginsDir(app string) (string, error) {
	p, err := Host()
	if err != nil {
		return "", err
	}
	return p.PluginsDir(app), nil
}
