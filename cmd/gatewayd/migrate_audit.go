package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/warrenguard/internal/audit"
	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/config"
	"github.com/cuemby/warrenguard/internal/store/boltstore"
	"github.com/cuemby/warrenguard/pkg/log"
)

var migrateAuditCmd = &cobra.Command{
	Use:   "migrate-audit",
	Short: "Validate the audit chain in an existing data directory end to end",
	Long: `migrate-audit opens the metadata store at the configured data
directory and walks the entire audit chain, the same check
audit.Engine.Validate performs for the /api/v1/audit/chain/validate
endpoint. Run this against a restored or copied database before
trusting it, since a chain broken by an out-of-band write will not
surface any other way.`,
	RunE: runMigrateAudit,
}

func runMigrateAudit(cmd *cobra.Command, args []string) error {
	settings, err := config.FromEnv()
	if err != nil {
		return err
	}
	applyFlagOverride(cmd, "data-dir", &settings.DataDir)

	db, err := boltstore.Open(settings.DataDir)
	if err != nil {
		return fmt.Errorf("migrate-audit: open metadata store: %w", err)
	}
	defer db.Close()

	auditEng := audit.NewEngine(db, clockid.SystemClock{}, clockid.UUIDProvider{}, log.WithComponent("migrate-audit"))

	result, err := auditEng.Validate(context.Background())
	if err != nil {
		return fmt.Errorf("migrate-audit: validate chain: %w", err)
	}

	fmt.Printf("checked %d entries\n", result.CheckedEntries)
	if result.Valid {
		fmt.Println("audit chain valid")
		return nil
	}

	fmt.Printf("audit chain broken at chain_index=%d event_id=%s reason=%s\n",
		result.Failure.ChainIndex, result.Failure.EventID, result.Failure.Reason)
	return fmt.Errorf("migrate-audit: chain validation failed")
}

func init() {
	migrateAuditCmd.Flags().String("data-dir", "", "Directory containing the metadata database (overrides GATEWAYD_DATA_DIR)")
}
