package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dot-do/gateway/version"
)

// versionCmd prints the gateway version from the binary's embedded module
// data, with --deps for the full dependency list.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version and build information",
	Run:   runVersion,
}

func init() {
	versionCmd.Flags().Bool("deps", false, "list module dependencies")
	RootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) {
	build := version.GetBuildInfo()
	fmt.Fprintf(cmd.OutOrStdout(), "gateway %s (%s)\n", version.GetGatewayVersion(), build.GoVersion)

	deps, _ := cmd.Flags().GetBool("deps")
	if !deps {
		return
	}
	for _, dep := range build.Dependencies {
		if dep.Replace != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s %s => %s\n", dep.Path, dep.Version, dep.Replace)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", dep.Path, dep.Version)
	}
}
