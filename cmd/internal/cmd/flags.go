package cmd

const (
	// PluginDirectoryFlag Flag to specify the directory plugins are installed to. Defaults to the plugin directory of the host application.
	PluginDirectoryFlag = "plugin-directory"
	// HostVersionFlag Flag to specify the host application version that plugin compatibility ranges are checked against.
	HostVersionFlag = "host-version"
	// TempFolderFlag Flag to specify a custom temporary folder path that archives are extracted to before they are placed.
	TempFolderFlag = "temp-folder"
	// MetricsFileFlag Flag to specify a file that the plugin operation metrics are written to in the Prometheus text format.
	MetricsFileFlag = "metrics-file"
	// OutputFlag Flag to specify the output format of listings and reports.
	OutputFlag = "output"
	// VersionFlag Flag to specify the exact plugin version to install.
	VersionFlag = "version"
)
