// Package cfg defines the configuration surface bound by cmd/chatfs,
// mirroring the upstream gcsfuse cfg package: a typed Config struct with
// yaml tags, pflag registration, and defaults/validation helpers.
package cfg

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full configuration surface for a mount.
type Config struct {
	MountPoint string `yaml:"mount-point"`

	Peer PeerConfig `yaml:"peer"`

	Auth AuthConfig `yaml:"auth"`

	Log LogConfig `yaml:"log"`

	Cache CacheConfig `yaml:"cache"`
}

// PeerConfig addresses the conversation backing the filesystem.
type PeerConfig struct {
	UserID     int64 `yaml:"user-id"`
	AccessHash int64 `yaml:"access-hash"`
}

// AuthConfig names the environment variables holding the messaging
// backend's API credentials. The values themselves are never stored in
// config: only where to find them.
type AuthConfig struct {
	APIIDEnv   string `yaml:"api-id-env"`
	APIHashEnv string `yaml:"api-hash-env"`
	SessionFile string `yaml:"session-file"`
}

// Severity is the logging verbosity, a closed vocabulary validated by
// decodeHook at unmarshal time.
type Severity string

// Format is the log line encoding, a closed vocabulary validated by
// decodeHook at unmarshal time.
type Format string

// LogConfig controls the process-wide logger.
type LogConfig struct {
	FilePath   string   `yaml:"file-path"`
	Severity   Severity `yaml:"severity"`
	Format     Format   `yaml:"format"`
	MaxSizeMB  int      `yaml:"max-size-mb"`
	MaxBackups int      `yaml:"max-backups"`
}

// CacheConfig holds the attribute TTL setting. It is parsed and validated
// but not passed to the filesystem adapter, which always returns its fixed
// fsadapter.AttrTTL of one second.
type CacheConfig struct {
	AttrTTLSeconds int `yaml:"attr-ttl-seconds"`
}

// BindFlags registers every Config field as a pflag and wires it to viper,
// following the upstream convention of one BindPFlag call per field.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.Int64P("peer-user-id", "", 0, "User id of the conversation peer backing the filesystem.")
	if err := viper.BindPFlag("peer.user-id", flagSet.Lookup("peer-user-id")); err != nil {
		return err
	}

	flagSet.Int64P("peer-access-hash", "", 0, "Access hash of the conversation peer backing the filesystem.")
	if err := viper.BindPFlag("peer.access-hash", flagSet.Lookup("peer-access-hash")); err != nil {
		return err
	}

	flagSet.StringP("api-id-env", "", "CHATFS_API_ID", "Environment variable holding the messaging backend API id.")
	if err := viper.BindPFlag("auth.api-id-env", flagSet.Lookup("api-id-env")); err != nil {
		return err
	}

	flagSet.StringP("api-hash-env", "", "CHATFS_API_HASH", "Environment variable holding the messaging backend API hash.")
	if err := viper.BindPFlag("auth.api-hash-env", flagSet.Lookup("api-hash-env")); err != nil {
		return err
	}

	flagSet.StringP("session-file", "", "", "Path to the messaging backend's authentication session file.")
	if err := viper.BindPFlag("auth.session-file", flagSet.Lookup("session-file")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to the log file. Empty logs to stderr.")
	if err := viper.BindPFlag("log.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "info", "Logging severity: debug, info, warn, error.")
	if err := viper.BindPFlag("log.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Log line format: text or json.")
	if err := viper.BindPFlag("log.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.IntP("log-max-size-mb", "", 100, "Log file rotation threshold in megabytes.")
	if err := viper.BindPFlag("log.max-size-mb", flagSet.Lookup("log-max-size-mb")); err != nil {
		return err
	}

	flagSet.IntP("log-max-backups", "", 3, "Number of rotated log files to retain.")
	if err := viper.BindPFlag("log.max-backups", flagSet.Lookup("log-max-backups")); err != nil {
		return err
	}

	flagSet.IntP("attr-ttl-seconds", "", 1, "Attribute and entry cache TTL, in seconds. Validated only; the kernel is always given a 1s TTL.")
	if err := viper.BindPFlag("cache.attr-ttl-seconds", flagSet.Lookup("attr-ttl-seconds")); err != nil {
		return err
	}

	return nil
}

// Validate rejects a Config that cannot be used to mount, mirroring the
// upstream cfg package's validate.go.
func Validate(c Config) error {
	if c.MountPoint == "" {
		return fmt.Errorf("cfg: mount point is required")
	}
	if c.Peer.UserID == 0 {
		return fmt.Errorf("cfg: peer.user-id is required")
	}
	if c.Auth.APIIDEnv == "" || c.Auth.APIHashEnv == "" {
		return fmt.Errorf("cfg: auth.api-id-env and auth.api-hash-env are required")
	}
	switch c.Log.Severity {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("cfg: unrecognized log severity %q", c.Log.Severity)
	}
	if c.Cache.AttrTTLSeconds < 0 {
		return fmt.Errorf("cfg: cache.attr-ttl-seconds must not be negative")
	}
	return nil
}

// Defaults returns a Config with every field at its documented default,
// mirroring the upstream cfg package's defaults.go.
func Defaults() Config {
	return Config{
		Auth: AuthConfig{APIIDEnv: "CHATFS_API_ID", APIHashEnv: "CHATFS_API_HASH"},
		Log:  LogConfig{Severity: "info", Format: "text", MaxSizeMB: 100, MaxBackups: 3},
		Cache: CacheConfig{AttrTTLSeconds: 1},
	}
}
