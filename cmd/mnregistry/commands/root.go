package commands

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mosaicnetworks/mnregistry/src/config"
	"github.com/mosaicnetworks/mnregistry/src/store"
)

var (
	_config = NewDefaultCLIConfig()
	logger  *logrus.Logger
)

//RootCmd is the root command for the registry tool
var RootCmd = &cobra.Command{
	Use:              "mnregistry",
	Short:            "masternode registry",
	TraverseChildren: true,
}

//AddStoreFlags adds the flags shared by every command that opens a store
func AddStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.Registry.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Registry.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("backend", _config.Registry.Backend, "Durable store: badger, bolt or inmem")
	cmd.Flags().String("db", _config.Registry.DatabaseDir, "Database directory")
	cmd.Flags().Int("activation-height", _config.Registry.ActivationHeight, "First height at which registry transactions take effect")
	cmd.Flags().Int("snapshot-interval", _config.Registry.SnapshotInterval, "Blocks between full registry snapshots")
	cmd.Flags().Int("snapshot-count", _config.Registry.SnapshotCount, "Number of snapshots retained on disk")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := bindFlagsLoadViper(cmd); err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.Registry.SetDataDir(_config.Registry.DataDir)

	logger = newLogger()
	logger.Level = config.LogLevel(_config.Registry.LogLevel)

	logger.WithFields(logrus.Fields{
		"datadir":           _config.Registry.DataDir,
		"log":               _config.Registry.LogLevel,
		"backend":           _config.Registry.Backend,
		"db":                _config.Registry.DatabaseDir,
		"activation-height": _config.Registry.ActivationHeight,
		"snapshot-interval": _config.Registry.SnapshotInterval,
		"snapshot-count":    _config.Registry.SnapshotCount,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/registry.toml (.json, .yaml also work)
	viper.SetConfigName("registry")
	viper.AddConfigPath(_config.Registry.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Printf("Using config file: %s\n", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

func openStore() (*store.TransactionalStore, error) {
	var backend store.Backend
	var err error

	switch _config.Registry.Backend {
	case "badger":
		backend, err = store.NewBadgerBackend(_config.Registry.DatabaseDir)
	case "bolt":
		backend, err = store.NewBoltBackend(_config.Registry.BoltFile())
	case "inmem":
		backend = store.NewInmemBackend()
	default:
		return nil, fmt.Errorf("unknown backend %q", _config.Registry.Backend)
	}
	if err != nil {
		return nil, err
	}

	return store.New(backend), nil
}

func newLogger() *logrus.Logger {
	logger := logrus.New()

	pathMap := lfshook.PathMap{}

	_, err := os.OpenFile("registry_info.log", os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Info("Failed to open registry_info.log file, using default stderr")
	} else {
		pathMap[logrus.InfoLevel] = "registry_info.log"
	}

	_, err = os.OpenFile("registry_debug.log", os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Info("Failed to open registry_debug.log file, using default stderr")
	} else {
		pathMap[logrus.DebugLevel] = "registry_debug.log"
	}

	if err == nil && _config.Discard {
		logger.Out = ioutil.Discard
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))

	return logger
}
