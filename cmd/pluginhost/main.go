// Command pluginhost runs the plugin host from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/shaban/pluginhost/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
