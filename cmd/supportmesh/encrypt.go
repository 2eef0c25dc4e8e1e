package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"supportmesh/internal/infra/config"
)

// newEncryptCmd prints an "enc:" value for config.yaml. The passphrase is
// the one the server reads from SUPPORTMESH_CONFIG_KEY at startup.
func newEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Encrypt a secret for use in config.yaml",
		Long: "Encrypts value (or the first line of stdin) with " + config.EnvPrefix + "CONFIG_KEY.\n" +
			"Paste the output as e.g. llm.providers[].api_key or operator_auth.tokens[].token.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv(config.EnvPrefix + "CONFIG_KEY")
			if passphrase == "" {
				return errors.New(config.EnvPrefix + "CONFIG_KEY is not set")
			}

			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read value: %w", err)
				}
				value = strings.TrimRight(line, "\r\n")
			}
			if value == "" {
				return errors.New("empty value")
			}

			enc, err := config.EncryptValue(value, passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enc:%s\n", enc)
			return nil
		},
	}
}
