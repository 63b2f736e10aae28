// Package config loads gatewayd's settings from environment variables
// with defaults, following the original system's app/core/config.py
// env-based Settings object, and the teacher's cmd/warren convention of
// populating a plain struct from cobra flags rather than a global
// singleton.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Settings is the full set of knobs gatewayd needs to construct its
// composition root. It is populated once at startup and passed
// explicitly into the collaborators that need it; nothing in this
// package reaches for a global.
type Settings struct {
	// ListenAddr is the address the HTTP API binds to.
	ListenAddr string
	// DataDir holds the bbolt metadata store and, under objects/, the
	// fsstore encrypted blob tree.
	DataDir string
	// LogLevel and LogJSON configure pkg/log the way cmd/warren's
	// --log-level/--log-json persistent flags do.
	LogLevel string
	LogJSON  bool

	// KeyMaterialDir roots the on-disk key store (fskeystore), one file
	// per key version.
	KeyMaterialDir string
	// ActiveKeyVersion is the key version new backups are sealed under.
	ActiveKeyVersion string

	// ApiKeyDefaultTTL is loaded from the environment but not read when
	// an admin creates a key: a request without a ttl creates a key with
	// no expiry.
	ApiKeyDefaultTTL time.Duration
	// RestoreTokenTTL bounds how long a restore-access token grants
	// GET /restores/access/{token}, per spec.md §4.5.
	RestoreTokenTTL time.Duration
	// ReadinessTimeout is loaded from the environment but not passed to
	// GET /health/ready, which bounds each dependency check with its own
	// fixed 2-second timeout.
	ReadinessTimeout time.Duration

	// PolicyFile, when set, is a YAML file overriding the built-in
	// role/classification tables from policy.DefaultTables.
	PolicyFile string
	// MonitoringRulesFile, when set, is a YAML file overriding the
	// built-in monitoring thresholds.
	MonitoringRulesFile string
}

// Defaults returns the settings gatewayd starts from before environment
// overrides are applied, mirroring the original's Settings field
// defaults (app/core/config.py).
func Defaults() Settings {
	return Settings{
		ListenAddr:       ":8443",
		DataDir:          "./gatewayd-data",
		LogLevel:         "info",
		LogJSON:          false,
		KeyMaterialDir:   "./gatewayd-data/keys",
		ActiveKeyVersion: "v1",
		ApiKeyDefaultTTL: 0,
		RestoreTokenTTL:  5 * time.Minute,
		ReadinessTimeout: 2 * time.Second,
	}
}

// envPrefix namespaces every variable this package reads, following the
// original's GATEWAY_-prefixed environment settings.
const envPrefix = "GATEWAYD_"

// FromEnv starts from Defaults and applies any GATEWAYD_* environment
// variable that is set, the way app/core/config.py's pydantic Settings
// reads os.environ with a common prefix.
func FromEnv() (Settings, error) {
	s := Defaults()

	if v, ok := lookupEnv("LISTEN_ADDR"); ok {
		s.ListenAddr = v
	}
	if v, ok := lookupEnv("DATA_DIR"); ok {
		s.DataDir = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		s.LogLevel = v
	}
	if v, ok := lookupEnv("LOG_JSON"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Settings{}, fmt.Errorf("config: %sLOG_JSON: %w", envPrefix, err)
		}
		s.LogJSON = b
	}
	if v, ok := lookupEnv("KEY_MATERIAL_DIR"); ok {
		s.KeyMaterialDir = v
	}
	if v, ok := lookupEnv("ACTIVE_KEY_VERSION"); ok {
		s.ActiveKeyVersion = v
	}
	if v, ok := lookupEnv("API_KEY_DEFAULT_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Settings{}, fmt.Errorf("config: %sAPI_KEY_DEFAULT_TTL: %w", envPrefix, err)
		}
		s.ApiKeyDefaultTTL = d
	}
	if v, ok := lookupEnv("RESTORE_TOKEN_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Settings{}, fmt.Errorf("config: %sRESTORE_TOKEN_TTL: %w", envPrefix, err)
		}
		s.RestoreTokenTTL = d
	}
	if v, ok := lookupEnv("READINESS_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Settings{}, fmt.Errorf("config: %sREADINESS_TIMEOUT: %w", envPrefix, err)
		}
		s.ReadinessTimeout = d
	}
	if v, ok := lookupEnv("POLICY_FILE"); ok {
		s.PolicyFile = v
	}
	if v, ok := lookupEnv("MONITORING_RULES_FILE"); ok {
		s.MonitoringRulesFile = v
	}

	return s, nil
}

func lookupEnv(name string) (string, bool) {
	return os.LookupEnv(envPrefix + name)
}
