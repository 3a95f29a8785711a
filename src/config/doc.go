// Package config defines the configuration for the registry daemon.
//
// Regardless of how the registry is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. Config.DataDir
// is the top-level directory where the daemon keeps its database and log
// files.
package config
