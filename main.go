// Command gateway serves a declarative model schema over browsable URLs,
// RPC, MCP and REST.
package main

import (
	"os"

	"github.com/dot-do/gateway/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
