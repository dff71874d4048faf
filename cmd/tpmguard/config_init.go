package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultConfigTemplate = `# tpmguard configuration
# Values may reference environment variables as ${VAR}.

server:
  # Admin API and metrics listen address.
  listen: "127.0.0.1:8788"
  enable_http2: false

logging:
  level: info     # debug, info, warn, error
  format: json    # json, console or text
  output: stdout  # stdout, stderr or a file path
  pretty: false

metrics:
  enabled: true
  path: /metrics

limiter:
  # Upper bound on a single wait for a refill, in milliseconds. 0 waits as long as needed.
  max_wait_ms: 0

  # Rows replace the built-in quota for the same provider and direction, or add
  # new providers. Built-in ceilings, in tokens per minute:
  #   anthropic input 40000, anthropic output 8000
  #   google input 60000, google output 12000
  quotas:
    - provider: anthropic
      direction: input
      tpm: 40000
      tokens_per_request: 10000
    - provider: anthropic
      direction: output
      tpm: 8000
      tokens_per_request: 2000
`

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default config file",
	Long:  `Generate a default tpmguard configuration file at ~/.config/tpmguard/config.yaml`,
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().StringP("output", "o", "", "output path (default: ~/.config/tpmguard/config.yaml)")
	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")
}

// runConfigInit writes the default config to --output or ~/.config/tpmguard/config.yaml.
// An existing file is only replaced with --force.
func runConfigInit(cmd *cobra.Command, _ []string) error {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return fmt.Errorf("failed to get force flag: %w", err)
	}

	if output == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		output = defaultConfigPath(home)
	}

	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", output)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(output, []byte(defaultConfigTemplate), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Config file created at %s\n", output)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Edit the quota rows to match your provider limits")
	fmt.Fprintln(out, "  2. Validate with: tpmguard config validate")
	fmt.Fprintln(out, "  3. Start the admin server: tpmguard serve")
	fmt.Fprintln(out, "  4. Try a burst: tpmguard simulate --callers 20 --tokens 4000")

	return nil
}
