package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/mosaicnetworks/mnregistry/src/common"
	"github.com/mosaicnetworks/mnregistry/src/registry"
)

// Default filenames.
const (
	// DefaultBadgerFile is the default name of the folder containing the
	// Badger database
	DefaultBadgerFile = "badger_db"

	// DefaultBoltFile is the default name of the Bolt database file
	DefaultBoltFile = "registry.db"
)

// Default configuration values.
const (
	DefaultLogLevel         = "debug"
	DefaultBackend          = "badger"
	DefaultActivationHeight = 0
	DefaultSnapshotInterval = registry.DefaultSnapshotInterval
	DefaultSnapshotCount    = registry.DefaultSnapshotCount
	DefaultMinConfirmations = registry.DefaultMinConfirmations
	DefaultPenaltyPercent   = registry.DefaultPenaltyPercent
)

// Config contains all the configuration properties of a registry daemon.
type Config struct {
	// DataDir is the top-level directory containing registry configuration
	// and data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// Backend selects the durable store: "badger", "bolt" or "inmem".
	// The in-memory backend loses everything on shutdown and is only
	// meant for tests and experiments.
	Backend string `mapstructure:"backend"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// ActivationHeight is the first chain height at which registry
	// transactions take effect.
	ActivationHeight int `mapstructure:"activation-height"`

	// SnapshotInterval is the cadence, in blocks, of full registry
	// snapshots written to the store. Lists older than the retained
	// snapshots cannot be reconstructed without a reindex.
	SnapshotInterval int `mapstructure:"snapshot-interval"`

	// SnapshotCount is how many snapshots are retained on disk.
	SnapshotCount int `mapstructure:"snapshot-count"`

	// MinConfirmations is how deep a registration must be buried before
	// the entry is confirmed and its quorum scores become block-bound.
	MinConfirmations int `mapstructure:"min-confirmations"`

	// PenaltyPercent is the fraction of the maximum penalty applied per
	// failed quorum round.
	PenaltyPercent int `mapstructure:"penalty-percent"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	return &Config{
		DataDir:          DefaultDataDir(),
		LogLevel:         DefaultLogLevel,
		Backend:          DefaultBackend,
		DatabaseDir:      DefaultDatabaseDir(),
		ActivationHeight: DefaultActivationHeight,
		SnapshotInterval: DefaultSnapshotInterval,
		SnapshotCount:    DefaultSnapshotCount,
		MinConfirmations: DefaultMinConfirmations,
		PenaltyPercent:   DefaultPenaltyPercent,
	}
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.Backend = "inmem"
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level data directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely
// set it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// BoltFile returns the full path of the Bolt database file.
func (c *Config) BoltFile() string {
	return filepath.Join(c.DataDir, DefaultBoltFile)
}

// RegistryOptions maps the configuration onto registry manager options.
func (c *Config) RegistryOptions() registry.Options {
	return registry.Options{
		ActivationHeight: c.ActivationHeight,
		SnapshotInterval: c.SnapshotInterval,
		SnapshotCount:    c.SnapshotCount,
		MinConfirmations: c.MinConfirmations,
		PenaltyPercent:   c.PenaltyPercent,
	}
}

// Logger returns a formatted logrus Entry, with prefix set to "registry".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "registry")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level registry
// data based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".MNRegistry")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "MNRegistry")
		} else {
			return filepath.Join(home, ".mnregistry")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
