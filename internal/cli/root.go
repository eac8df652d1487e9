package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	gatewayAddr string
	userID      string
)

var rootCmd = &cobra.Command{
	Use:   "seopilot",
	Short: "A CLI client to interact with the SEO dashboard gateway",
	Long:  `A command-line interface for triggering content pipelines, watching task progress and inspecting the live activity feed.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Whoops. There was an error while executing your CLI: %s", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&gatewayAddr, "gateway", "localhost:8080", "gateway host:port")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "demo-user", "user ID sent to the gateway")
}
