// Command reqcore-demo exercises reqcore.RequestCore end to end against a
// local test server: get/post/batch/serial operations, with a "serve"
// subcommand that starts the target server standalone for manual poking.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reqcore-demo",
	Short: "Exercise reqcore.RequestCore against a local test server",
}

var baseURL string
var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "base URL of a running server; starts an in-process one when empty")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML file overlaying GlobalConfig defaults (baseURL, timeout, retry, headers)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(serialCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
