// Command cdedbctl bundles offline operator tools: verifying published
// ballot results, recounting vote lists and minting dev session tokens.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "cdedbctl",
	Short:         "Operator tools for the CdE database",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(verifyResultCmd)
	rootCmd.AddCommand(tallyCmd)
	rootCmd.AddCommand(mintSessionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
