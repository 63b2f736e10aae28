// Command gatewayd is the composition root for the backup gateway: it
// wires the core engines (internal/audit, internal/backup,
// internal/restore, internal/keymgmt, internal/incident,
// internal/monitoring, internal/policy) onto their bbolt-backed stores and
// exposes internal/httpapi's HTTP surface, following cmd/warren's
// cobra-root-plus-persistent-flags-plus-cobra.OnInitialize(initLogging)
// shape.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/warrenguard/internal/config"
	"github.com/cuemby/warrenguard/pkg/log"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gatewayd",
	Short: "gatewayd - secure backup and restore gateway for classified data",
	Long: `gatewayd accepts, encrypts, and stores backups of classified data,
authorizes and verifies their restoration, and maintains a tamper-evident
audit trail of every operation.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"gatewayd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateAuditCmd)
	rootCmd.AddCommand(seedKeysCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	// Flags win when explicitly set; otherwise fall back to
	// GATEWAYD_LOG_LEVEL/GATEWAYD_LOG_JSON so a deployment can configure
	// logging the same way it configures everything else in
	// internal/config, without having to pass CLI flags through whatever
	// process manager starts gatewayd.
	if settings, err := config.FromEnv(); err == nil {
		if !rootCmd.PersistentFlags().Changed("log-level") {
			logLevel = settings.LogLevel
		}
		if !rootCmd.PersistentFlags().Changed("log-json") {
			logJSON = settings.LogJSON
		}
	}

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
