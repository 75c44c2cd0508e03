// devroom - collaborative AI project workspace
//
// Chat with your team and an AI assistant in shared project rooms,
// preview generated projects in a sandbox, and export them to GitHub.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "devroom",
	Short: "devroom - collaborative AI project workspace",
	Long: `devroom hosts shared project rooms where teams chat with an AI
assistant, preview generated code in a sandbox, and export it to GitHub.

  devroom serve                     Start the server
  devroom projects                  List projects
  devroom create "landing page"     Create a project`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("DEVROOM_SERVER", "http://localhost:7080"), "devroom server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
