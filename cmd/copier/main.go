// Command copier mirrors a base Zerodha account's positions onto target
// accounts.
package main

import (
	"context"
	"fmt"
	"os"

	"zerodha-copier/internal/cli"
	"zerodha-copier/internal/logging"
)

func main() {
	root := cli.NewRootCmd(logging.NewLoggerWithConfig(logging.LogConfig{Level: "info", Console: true}))
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
