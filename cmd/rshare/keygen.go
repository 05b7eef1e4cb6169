package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rshare/rshare/keystore"
)

var keygenForce bool

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate (or display) this host's identity key pair",
	RunE:  runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "Overwrite an existing identity")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	dir := cfg.KeyStore.Directory

	if keystore.Exists(dir) && !keygenForce {
		id, err := keystore.Load(dir)
		if err != nil {
			return err
		}
		fmt.Println("Identity already exists:")
		fmt.Printf("  Fingerprint: %s\n", id.Fingerprint())
		fmt.Println("Pass --force to generate a new one.")
		return nil
	}

	id, err := keystore.Generate()
	if err != nil {
		return err
	}
	if err := keystore.Save(dir, id); err != nil {
		return err
	}

	fmt.Println("Generated new identity:")
	fmt.Printf("  Fingerprint: %s\n", id.Fingerprint())
	fmt.Printf("  Stored in:   %s\n", dir)
	return nil
}
