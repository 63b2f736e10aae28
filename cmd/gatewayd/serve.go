package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/warrenguard/internal/audit"
	"github.com/cuemby/warrenguard/internal/backup"
	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/config"
	"github.com/cuemby/warrenguard/internal/httpapi"
	"github.com/cuemby/warrenguard/internal/incident"
	"github.com/cuemby/warrenguard/internal/keymaterial"
	"github.com/cuemby/warrenguard/internal/keymaterial/fskeystore"
	"github.com/cuemby/warrenguard/internal/keymgmt"
	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/monitoring"
	"github.com/cuemby/warrenguard/internal/objectstore/fsstore"
	"github.com/cuemby/warrenguard/internal/policy"
	"github.com/cuemby/warrenguard/internal/principal"
	"github.com/cuemby/warrenguard/internal/restore"
	"github.com/cuemby/warrenguard/internal/restoretoken"
	"github.com/cuemby/warrenguard/internal/store"
	"github.com/cuemby/warrenguard/internal/store/boltstore"
	"github.com/cuemby/warrenguard/internal/telemetry"
	"github.com/cuemby/warrenguard/pkg/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway's HTTP API and internal metrics endpoint",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen-addr", "", "Address the API listens on (overrides GATEWAYD_LISTEN_ADDR)")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9091", "Address the internal /metrics endpoint listens on")
	serveCmd.Flags().String("data-dir", "", "Directory for the metadata database and object store (overrides GATEWAYD_DATA_DIR)")
	serveCmd.Flags().Bool("classification-required", false, "Reject backup submissions that omit a classification instead of defaulting one")
	serveCmd.Flags().String("default-classification", string(model.ClassificationInternal), "Classification assumed when a submission omits one and classification-required is false")
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := config.FromEnv()
	if err != nil {
		return err
	}
	applyFlagOverride(cmd, "listen-addr", &settings.ListenAddr)
	applyFlagOverride(cmd, "data-dir", &settings.DataDir)

	logger := log.WithComponent("gatewayd")

	db, err := boltstore.Open(settings.DataDir)
	if err != nil {
		return fmt.Errorf("gatewayd: open metadata store: %w", err)
	}
	defer db.Close()

	objects, err := fsstore.New(settings.DataDir + "/objects")
	if err != nil {
		return fmt.Errorf("gatewayd: open object store: %w", err)
	}
	keyStore := fskeystore.New(settings.KeyMaterialDir, settings.ActiveKeyVersion)

	clock := clockid.SystemClock{}
	ids := clockid.UUIDProvider{}

	tables := policy.DefaultTables()
	if settings.PolicyFile != "" {
		tables, err = config.LoadPolicy(settings.PolicyFile)
		if err != nil {
			return fmt.Errorf("gatewayd: load policy overrides: %w", err)
		}
	}
	policyEng := policy.NewEngine(tables)

	rules := monitoring.DefaultRules()
	if settings.MonitoringRulesFile != "" {
		rules, err = config.LoadMonitoringRules(settings.MonitoringRulesFile)
		if err != nil {
			return fmt.Errorf("gatewayd: load monitoring rules: %w", err)
		}
	}

	auditEng := audit.NewEngine(db, clock, ids, log.Logger)
	incidentEng := incident.NewEngine(db, clock, model.IncidentLevelNormal)
	monitoringEng := monitoring.NewEngine(db, db, auditEng, clock, ids, rules)
	principalResolver := principal.NewResolver(db, clock)
	tokens := restoretoken.NewManager(clock)

	materialResolvable := keymaterial.Resolvability{Provider: keyStore}
	keyMgmtEng := keymgmt.NewEngine(db, db, materialResolvable, principalResolver, incidentEng, auditEng, clock)

	backupSettings := backup.Settings{
		ClassificationRequired: mustBool(cmd, "classification-required"),
	}
	if def := model.Classification(mustString(cmd, "default-classification")); def.Valid() {
		backupSettings.DefaultClassification = def
	} else {
		backupSettings.DefaultClassification = model.ClassificationInternal
	}
	backupEng := backup.NewEngine(backupSettings, db, policyEng, auditEng, nil, keyStore, objects, clock, ids)

	restoreEng := restore.NewEngine(db, principalResolver, policyEng, auditEng, incidentEng, keyStore, objects, tokens, settings.RestoreTokenTTL)
	restoreEng.SetMonitor(monitoringEng)

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:   logger,
		Clock:    clock,
		IDs:      ids,
		Auth:     principalResolver,
		Backup:   backupEng,
		Restore:  restoreEng,
		Tokens:   tokens,
		Audit:    auditEng,
		AuditLog: db,
		Incident: incidentEng,
		Alerts:   db,
		ApiKeys:  db,
		KeyVers:  db,
		KeyMgmt:  keyMgmtEng,
		Policies: db,
		Checkers: []store.Checker{db},
	})

	apiServer := &http.Server{Addr: settings.ListenAddr, Handler: router}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", telemetry.Handler())
	metricsServer := &http.Server{Addr: mustString(cmd, "metrics-addr"), Handler: metricsMux}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", settings.ListenAddr).Msg("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("addr", metricsServer.Addr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	return nil
}

func applyFlagOverride(cmd *cobra.Command, name string, target *string) {
	if !cmd.Flags().Changed(name) {
		return
	}
	v, _ := cmd.Flags().GetString(name)
	*target = v
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func mustBool(cmd *cobra.Command, name string) bool {
	v, _ := cmd.Flags().GetBool(name)
	return v
}
