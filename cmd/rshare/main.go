package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rshare/rshare/config"
	"github.com/rshare/rshare/internal/logger"
)

var (
	configDir string
	cfg       *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "rshare",
	Short: "rshare - peer-to-peer encrypted file transfer through a relay",
	Long: `rshare sends and receives files directly between two trusted peers.
A relay server only ever sees encrypted bytes: the encryption key is
derived from a fresh X25519 exchange between sender and receiver, never
known to the relay.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(config.LoaderOptions{ConfigDir: configDir, EnvFile: ".env"})
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		cfg = loaded

		level := logger.InfoLevel
		if cfg.Logging.Level == "debug" {
			level = logger.DebugLevel
		}
		l := logger.NewLogger(os.Stdout, level)
		l.SetPrettyPrint(cfg.Logging.Pretty)
		logger.SetDefaultLogger(l)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "Directory containing environment config files")

	// Subcommands register themselves in their own files:
	// - send.go: sendCmd
	// - recv.go: recvCmd
	// - keygen.go: keygenCmd
	// - contacts.go: contactsCmd and its children
	// - health.go: healthCmd
}
