// Command gatewayctl invokes AI providers through the gateway, serves the
// gateway over HTTP and manages encrypted provider credentials.
package main

import (
	"fmt"
	"os"

	"github.com/xalo2100/alfatechflow-sub001/cmd/gatewayctl/commands"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if err := commands.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
