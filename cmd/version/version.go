package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/headlamp-k8s/headlamp-sub003/internal/flags/enum"
)

const (
	FlagFormat          = "format"
	FlagFormatShortHand = "f"
	FlagFormatText      = "text"
	FlagFormatJSON      = "json"
)

// BuildVersion is an external variable that can be set at build time to override the version.
// It is set to "n/a" by default, indicating that no version has been specified.
// The variable can be adjusted at build time with
//
//	-ldflags "-X github.com/headlamp-k8s/headlamp-sub003/cmd/version.BuildVersion=1.2.3"
var BuildVersion = "n/a"

// Info is the build information of plugctl.
type Info struct {
	Version    string `json:"version"`
	Major      uint64 `json:"major"`
	Minor      uint64 `json:"minor"`
	Patch      uint64 `json:"patch"`
	PreRelease string `json:"prerelease,omitempty"`
	Meta       string `json:"meta,omitempty"`
	GoVersion  string `json:"goVersion"`
	Platform   string `json:"platform"`
}

// GetInfo returns the build information. A version that is not a semantic
// version is kept as it is without the split components.
func GetInfo(version string) Info {
	info := Info{
		Version:   version,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if v, err := semver.NewVersion(version); err == nil {
		info.Version = v.String()
		info.Major, info.Minor, info.Patch = v.Major(), v.Minor(), v.Patch()
		info.PreRelease = v.Prerelease()
		info.Meta = v.Metadata()
	}
	return info
}

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Retrieve the build version of plugctl",
		Long: `The version command retrieves the build version of plugctl.

The build info by default is drawn from the go module build information, which is set at build time.
When officially built, it is overwritten with the released version.`,
		Example: fmt.Sprintf(`plugctl version --format %s`, FlagFormatJSON),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := enum.Get(cmd.Flags(), FlagFormat)
			if err != nil {
				return err
			}
			version := BuildVersion
			if version == "n/a" {
				if bi, ok := debug.ReadBuildInfo(); ok {
					version = bi.Main.Version
				}
			}
			info := GetInfo(version)
			switch format {
			case FlagFormatJSON:
				return json.NewEncoder(cmd.OutOrStdout()).Encode(info)
			default:
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "plugctl %s %s %s\n", info.Version, info.GoVersion, info.Platform)
				return err
			}
		},
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
	enum.VarP(cmd.Flags(), FlagFormat, FlagFormatShortHand, []string{FlagFormatText, FlagFormatJSON}, "format of the version information")
	return cmd
}
