// Package config is the broker's layered configuration surface: flags,
// environment variables (AGENSHIELD_ prefix), and an optional config file,
// merged by viper with flags taking precedence, command-line parsing done
// by cobra (spec.md's own defaults — socket path, HTTP port, rotation
// sizes, reload intervals — become this package's zero-flag defaults).
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "AGENSHIELD"

// Flag names, also used as the viper keys they bind to.
const (
	flagSocketPath      = "socket-path"
	flagHTTPPort        = "http-port"
	flagBrokerToken     = "broker-token"
	flagDBPath          = "db-path"
	flagLogDir          = "log-dir"
	flagAgentHome       = "agent-home"
	flagPolicyDir       = "policy-dir"
	flagProfileCacheDir = "profile-cache-dir"
	flagSocketGroup     = "socket-group"
	flagWorkspaceGroup  = "workspace-group"
	flagEngineReload    = "engine-reload-interval"
	flagAllowlistReload = "allowlist-reload-interval"
	flagFailOpen        = "fail-open"
	flagExecTimeout     = "exec-timeout"
	flagHTTPTimeout     = "http-timeout"
	flagShutdownTimeout = "shutdown-timeout"
	flagConfigFile      = "config"
)

// Config is the broker's fully resolved runtime configuration (spec.md §6
// "External interfaces" plus the per-component defaults named throughout
// spec.md §4).
type Config struct {
	// SocketPath is the Unix domain socket path (spec.md §6: fixed at
	// /var/run/<product>/<product>.sock in production; overridable here
	// for tests and non-standard installs).
	SocketPath string
	// HTTPPort is the loopback HTTP port (spec.md §6 default 5200).
	HTTPPort int
	// BrokerToken is the bearer token /rpc and /sse/events require.
	BrokerToken string

	DBPath          string
	LogDir          string
	AgentHome       string
	PolicyDir       string
	ProfileCacheDir string
	SocketGroup     string
	WorkspaceGroup  string

	// EngineReloadInterval is the policy engine's cache staleness bound
	// (spec.md §5 "60s for engine-side cache").
	EngineReloadInterval time.Duration
	// AllowlistReloadInterval is parsed from --allowlist-reload-interval
	// but not read by cmd/broker: internal/allowlist uses its own fixed
	// ReloadInterval (30s) regardless of this value.
	AllowlistReloadInterval time.Duration

	// FailOpen is the SDK's default for read hooks on a policy_check
	// transport failure (spec.md §4.5 filesystem hook); the broker itself
	// never fails open on a deny.
	FailOpen bool

	// DefaultExecTimeout and DefaultHTTPTimeout are parsed but not read by
	// cmd/broker: the exec and http_request handlers apply their own fixed
	// 30s defaults when a caller gives no timeout.
	DefaultExecTimeout time.Duration
	DefaultHTTPTimeout time.Duration
	ShutdownTimeout    time.Duration
}

// AuditLogPath is <LogDir>/broker.log (spec.md §6 "<log_dir>/broker.log —
// audit JSONL, rotation 10 MiB × 5").
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.LogDir, "broker.log")
}

// NewRootCommand builds the cmd/broker root command, its flags carrying
// spec.md's own defaults. run is invoked with the fully resolved Config
// once flags/env/file are merged (spec.md §6's external defaults; a
// production install overrides via either flags, AGENSHIELD_ env vars, or
// --config).
func NewRootCommand(run func(cfg *Config) error) *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "agenshield-broker",
		Short: "Runs the agent sandbox policy broker daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Load(v, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagConfigFile, "", "optional YAML/TOML/JSON config file overlaying defaults beneath flags/env")
	flags.String(flagSocketPath, "/var/run/agenshield/agenshield.sock", "Unix domain socket path")
	flags.Int(flagHTTPPort, 5200, "HTTP loopback port")
	flags.String(flagBrokerToken, "", "bearer token required by /rpc and /sse/events")
	flags.String(flagDBPath, "/var/lib/agenshield/broker.db", "SQLite database path (policies, profiles, secrets)")
	flags.String(flagLogDir, "/var/log/agenshield", "directory for the audit JSONL log")
	flags.String(flagAgentHome, "", "$AGENT_HOME: the sandboxed agent's home directory")
	flags.String(flagPolicyDir, "/opt/agenshield/policies", "directory of preset policy YAML bundles")
	flags.String(flagProfileCacheDir, "/var/lib/agenshield/profiles", "seatbelt profile cache directory")
	flags.String(flagSocketGroup, "ash_default", "group ownership of the broker socket and skill files")
	flags.String(flagWorkspaceGroup, "ash_default", "group ownership of the agent workspace")
	flags.Duration(flagEngineReload, 60*time.Second, "policy engine cache reload interval")
	flags.Duration(flagAllowlistReload, 30*time.Second, "command allowlist cache reload interval (parsed only; the allowlist uses a fixed 30s)")
	flags.Bool(flagFailOpen, false, "let SDK read hooks proceed when policy_check is unreachable")
	flags.Duration(flagExecTimeout, 30*time.Second, "default exec timeout when the caller specifies none (parsed only; the exec handler uses a fixed 30s)")
	flags.Duration(flagHTTPTimeout, 30*time.Second, "default http_request timeout when the caller specifies none (parsed only; the http_request handler uses a fixed 30s)")
	flags.Duration(flagShutdownTimeout, 10*time.Second, "grace period to drain in-flight handlers on shutdown")

	return cmd
}

// Load merges bound flags, AGENSHIELD_-prefixed environment variables, and
// an optional config file named by --config, into a Config. viper's own
// layering applies: an explicitly-set flag wins, then environment, then
// the config file, then the flag default (spec.md's own defaults, set
// above).
func Load(v *viper.Viper, flags *pflag.FlagSet) (*Config, error) {
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile := v.GetString(flagConfigFile); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		SocketPath:              v.GetString(flagSocketPath),
		HTTPPort:                v.GetInt(flagHTTPPort),
		BrokerToken:             v.GetString(flagBrokerToken),
		DBPath:                  v.GetString(flagDBPath),
		LogDir:                  v.GetString(flagLogDir),
		AgentHome:               v.GetString(flagAgentHome),
		PolicyDir:               v.GetString(flagPolicyDir),
		ProfileCacheDir:         v.GetString(flagProfileCacheDir),
		SocketGroup:             v.GetString(flagSocketGroup),
		WorkspaceGroup:          v.GetString(flagWorkspaceGroup),
		EngineReloadInterval:    v.GetDuration(flagEngineReload),
		AllowlistReloadInterval: v.GetDuration(flagAllowlistReload),
		FailOpen:                v.GetBool(flagFailOpen),
		DefaultExecTimeout:      v.GetDuration(flagExecTimeout),
		DefaultHTTPTimeout:      v.GetDuration(flagHTTPTimeout),
		ShutdownTimeout:         v.GetDuration(flagShutdownTimeout),
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("config: %s must not be empty", flagSocketPath)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("config: %s must be a valid TCP port, got %d", flagHTTPPort, c.HTTPPort)
	}
	if c.AgentHome == "" {
		return fmt.Errorf("config: %s is required", flagAgentHome)
	}
	return nil
}
