// Command riskengine is the options risk engine CLI.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"options-risk-engine/internal/cli"
	"options-risk-engine/internal/logging"
)

func main() {
	logger := logging.NewLogger()

	rootCmd := cli.NewRootCmd(logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}
