// Package config loads the commit engine's configuration surface from
// flags, environment variables, and a config file, in that order of
// precedence, using Viper — following the same initialization pattern as
// the teacher's CLI root command.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Keys used in the underlying Viper store. Exported so callers assembling
// their own flag sets can bind to the same names.
const (
	KeyAllowSettingVertexID = "allow_setting_vertex_id"
	KeyAcquireLocks         = "acquire_locks"
	KeyBatchLoading         = "batch_loading"
	KeyAssignIDsImmediately = "assign_ids_immediately"
	KeyLogTransactions      = "log_transactions"
	KeyLogIdentifier        = "log_identifier"
	KeyUniqueInstanceID     = "unique_instance_id"
	KeyLockWaitTimeout      = "lock_wait_timeout"
	KeyLockExpirationTime   = "lock_expiration_time"
	KeyLogLevel             = "log.level"
	KeyLogFormat            = "log.format"
	KeyStoreBoltPath        = "store.bolt_path"
	KeyTxLogPostgresURL     = "txlog.postgres_url"
	KeyIndexCouchURL        = "index.couch_url"
	KeyIndexCouchDatabase   = "index.couch_database"
	KeyLockRedisAddr        = "lock.redis_addr"
)

// Config is the resolved, typed view of the commit engine's configuration
// surface (spec §6). It is built once per process and handed to the
// components that need it — nothing in this package is read from a
// package-level global.
type Config struct {
	// AllowSettingVertexID permits callers to propose a vertex id rather
	// than always delegating to the IDManager.
	AllowSettingVertexID bool
	// AcquireLocks toggles optimistic locking for LOCK-consistency
	// relation types; disabling it is only safe for single-writer or
	// batch-loading deployments.
	AcquireLocks bool
	// BatchLoading disables per-relation lock acquisition and schema
	// existence checks in exchange for throughput.
	BatchLoading bool
	// AssignIDsImmediately assigns vertex/relation ids eagerly on
	// creation instead of deferring to commit time.
	AssignIDsImmediately bool
	// LogTransactions enables the write-ahead transaction log.
	LogTransactions bool
	// LogIdentifier tags every transaction-log record and log line so
	// multiple engine instances sharing a log store can be told apart.
	LogIdentifier string
	// UniqueInstanceID is this process's registry id. Empty means the
	// registry should mint one (see registry.Open).
	UniqueInstanceID string

	LockWaitTimeout    time.Duration
	LockExpirationTime time.Duration

	LogLevel  string
	LogFormat string

	StoreBoltPath      string
	TxLogPostgresURL   string
	IndexCouchURL      string
	IndexCouchDatabase string
	LockRedisAddr      string
}

// Defaults returns the engine's built-in defaults, applied before flags,
// environment variables, or a config file are considered.
func Defaults() Config {
	return Config{
		AllowSettingVertexID: false,
		AcquireLocks:         true,
		BatchLoading:         false,
		AssignIDsImmediately: false,
		LogTransactions:      true,
		LogIdentifier:        "",
		UniqueInstanceID:     "",
		LockWaitTimeout:      10 * time.Second,
		LockExpirationTime:   5 * time.Minute,
		LogLevel:             "info",
		LogFormat:            "text",
		StoreBoltPath:        "gdbtx.db",
	}
}

// BindFlags registers the commit engine's persistent flags on cmd and binds
// each one to its Viper key, mirroring the teacher's RootCmd.init: flag
// definitions followed by viper.BindPFlag calls so flags outrank
// environment and file values.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	d := Defaults()
	flags := cmd.PersistentFlags()

	flags.Bool("allow-setting-vertex-id", d.AllowSettingVertexID, "allow callers to propose vertex ids")
	flags.Bool("acquire-locks", d.AcquireLocks, "acquire optimistic locks for LOCK-consistency relation types")
	flags.Bool("batch-loading", d.BatchLoading, "disable per-relation locking and existence checks for bulk loads")
	flags.Bool("assign-ids-immediately", d.AssignIDsImmediately, "assign ids eagerly instead of at commit time")
	flags.Bool("log-transactions", d.LogTransactions, "write a transaction log record for every commit")
	flags.String("log-identifier", d.LogIdentifier, "identifier tagging this instance's transaction log records")
	flags.String("unique-instance-id", d.UniqueInstanceID, "fixed instance id; empty mints one at registry startup")
	flags.Duration("lock-wait-timeout", d.LockWaitTimeout, "how long to wait for a contended lock before failing")
	flags.Duration("lock-expiration-time", d.LockExpirationTime, "lock TTL after which an unreleased lock is considered stale")
	flags.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	flags.String("log-format", d.LogFormat, "log format: text or json")
	flags.String("store-bolt-path", d.StoreBoltPath, "path to the bbolt file backing the primary store and composite index")
	flags.String("txlog-postgres-url", "", "Postgres connection string for the transaction log store")
	flags.String("index-couch-url", "", "CouchDB URL for the mixed-index backend")
	flags.String("index-couch-database", "", "CouchDB database name for the mixed-index backend")
	flags.String("lock-redis-addr", "", "Redis address for the distributed lock backend")

	bind := func(key, flag string) {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("config: bind flag %q: %v", flag, err))
		}
	}
	bind(KeyAllowSettingVertexID, "allow-setting-vertex-id")
	bind(KeyAcquireLocks, "acquire-locks")
	bind(KeyBatchLoading, "batch-loading")
	bind(KeyAssignIDsImmediately, "assign-ids-immediately")
	bind(KeyLogTransactions, "log-transactions")
	bind(KeyLogIdentifier, "log-identifier")
	bind(KeyUniqueInstanceID, "unique-instance-id")
	bind(KeyLockWaitTimeout, "lock-wait-timeout")
	bind(KeyLockExpirationTime, "lock-expiration-time")
	bind(KeyLogLevel, "log-level")
	bind(KeyLogFormat, "log-format")
	bind(KeyStoreBoltPath, "store-bolt-path")
	bind(KeyTxLogPostgresURL, "txlog-postgres-url")
	bind(KeyIndexCouchURL, "index-couch-url")
	bind(KeyIndexCouchDatabase, "index-couch-database")
	bind(KeyLockRedisAddr, "lock-redis-addr")
}

// Load resolves configuration in the same precedence order as the
// teacher's initConfig: flags (already bound onto v by BindFlags) override
// environment variables prefixed GDBTX_, which override the config file
// named by cfgFile (or discovered in $HOME / the working directory), which
// override Defaults.
//
// cfgFile may be empty, in which case a missing config file is not an
// error — only a malformed one is.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	d := Defaults()
	v.SetDefault(KeyAllowSettingVertexID, d.AllowSettingVertexID)
	v.SetDefault(KeyAcquireLocks, d.AcquireLocks)
	v.SetDefault(KeyBatchLoading, d.BatchLoading)
	v.SetDefault(KeyAssignIDsImmediately, d.AssignIDsImmediately)
	v.SetDefault(KeyLogTransactions, d.LogTransactions)
	v.SetDefault(KeyLogIdentifier, d.LogIdentifier)
	v.SetDefault(KeyUniqueInstanceID, d.UniqueInstanceID)
	v.SetDefault(KeyLockWaitTimeout, d.LockWaitTimeout)
	v.SetDefault(KeyLockExpirationTime, d.LockExpirationTime)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
	v.SetDefault(KeyStoreBoltPath, d.StoreBoltPath)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".gdbtx")
	}

	v.SetEnvPrefix("gdbtx")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("config: read config file: %w", err)
		}
	}

	return Config{
		AllowSettingVertexID: v.GetBool(KeyAllowSettingVertexID),
		AcquireLocks:         v.GetBool(KeyAcquireLocks),
		BatchLoading:         v.GetBool(KeyBatchLoading),
		AssignIDsImmediately: v.GetBool(KeyAssignIDsImmediately),
		LogTransactions:      v.GetBool(KeyLogTransactions),
		LogIdentifier:        v.GetString(KeyLogIdentifier),
		UniqueInstanceID:     v.GetString(KeyUniqueInstanceID),
		LockWaitTimeout:      v.GetDuration(KeyLockWaitTimeout),
		LockExpirationTime:   v.GetDuration(KeyLockExpirationTime),
		LogLevel:             v.GetString(KeyLogLevel),
		LogFormat:            v.GetString(KeyLogFormat),
		StoreBoltPath:        v.GetString(KeyStoreBoltPath),
		TxLogPostgresURL:     v.GetString(KeyTxLogPostgresURL),
		IndexCouchURL:        v.GetString(KeyIndexCouchURL),
		IndexCouchDatabase:   v.GetString(KeyIndexCouchDatabase),
		LockRedisAddr:        v.GetString(KeyLockRedisAddr),
	}, nil
}
