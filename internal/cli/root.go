package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nodesift/internal/app"
)

var (
	appInstance *app.App
	version     = "dev"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "nodesift",
	Short: "nodesift - datacenter/residential proxy node classifier",
	Long: `nodesift - datacenter/residential proxy node classifier

  Loads proxy nodes from subscriptions or files, classifies each one as
  datacenter or residential, and emits a filtered Clash configuration.

  Quick start:
    nodesift run --subscription "https://..."
    nodesift run -c config.yaml --precise
    nodesift history

  Two detection modes:
    • fast    - classify the entry IP the hostname resolves to (default)
    • precise - boot a shared mihomo instance and classify the real egress IP`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		var err error
		appInstance, err = app.New(configPath)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appInstance != nil {
			return appInstance.Close()
		}
		return nil
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nodesift %s\n", version)
	},
}
