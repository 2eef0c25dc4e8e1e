// Command supportmesh runs the customer support handoff server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"supportmesh/internal/infra/config"
)

// Build metadata, set via ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "supportmesh",
		Short:         "Customer support runtime with AI specialists and human handoff",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is fine; real environment variables still apply.
			if err := godotenv.Load(opts.envFile); err != nil && cmd.Flags().Changed("env-file") {
				return fmt.Errorf("load env file: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath(), "path to config.yaml")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(
		newServeCmd(opts),
		newCheckCmd(opts),
		newEncryptCmd(),
		newVersionCmd(),
	)
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv(config.EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "supportmesh %s (commit %s, built %s)\n", version, commit, buildDate)
		},
	}
}
