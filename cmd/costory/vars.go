package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/costory/costory/internal/config"
	"github.com/costory/costory/internal/logging"
)

// Shared CLI flags (used across multiple command files)
var (
	cfgFile string
	verbose bool
	jsonOut bool
)

// ServerConfig holds the loaded server configuration (set by main)
var ServerConfig *config.Config

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd(c *config.Config) *cobra.Command {
	ServerConfig = c

	rootCmd := &cobra.Command{
		Use:   "costory",
		Short: "CoStory - AI request arbitration for collaborative writing",
		Long: `CoStory routes story-writing AI requests to the cheapest capable model,
enforces monthly word quotas and bills credits per generation.

Just type 'costory' to start the API server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				loaded, err := config.LoadFile(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				*ServerConfig = loaded
			}
			level := ServerConfig.Log.Level
			if verbose {
				level = "debug"
			}
			logging.Setup(level, ServerConfig.IsJSONLogs())
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: embedded etc/costory.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print command output as JSON")

	// Add commands
	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(ModelsCmd())
	rootCmd.AddCommand(UsageCmd())
	rootCmd.AddCommand(CreditsCmd())
	rootCmd.AddCommand(SubscriptionCmd())
	rootCmd.AddCommand(TokenCmd())
	rootCmd.AddCommand(MigrateCmd())

	return rootCmd
}
