package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/warrenguard/internal/config"
)

// seedKeyBytes matches internal/crypto/aead.NormalizeKey's HKDF input
// size expectations: any non-empty length works, but 32 bytes of raw
// entropy needs no stretching at all.
const seedKeyBytes = 32

var seedKeysCmd = &cobra.Command{
	Use:   "seed-keys [version-id]",
	Short: "Write a freshly generated key file for version-id into the key-material directory",
	Long: `seed-keys generates seedKeyBytes of random key material and writes it
to <key-material-dir>/<version-id>.key, the layout fskeystore.Resolve
reads from directly. Intended for bootstrapping local development and
tests, not for production key issuance.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeedKeys,
}

func init() {
	seedKeysCmd.Flags().String("key-material-dir", "", "Directory to write the key file into (overrides GATEWAYD_KEY_MATERIAL_DIR)")
}

func runSeedKeys(cmd *cobra.Command, args []string) error {
	versionID := args[0]

	settings, err := config.FromEnv()
	if err != nil {
		return err
	}
	applyFlagOverride(cmd, "key-material-dir", &settings.KeyMaterialDir)

	if err := os.MkdirAll(settings.KeyMaterialDir, 0700); err != nil {
		return fmt.Errorf("seed-keys: create key material directory: %w", err)
	}

	key := make([]byte, seedKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("seed-keys: generate key material: %w", err)
	}

	path := filepath.Join(settings.KeyMaterialDir, versionID+".key")
	if err := os.WriteFile(path, key, 0600); err != nil {
		return fmt.Errorf("seed-keys: write key file: %w", err)
	}

	fmt.Printf("wrote %d bytes to %s\n", len(key), path)
	return nil
}
