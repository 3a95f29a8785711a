package commands

import (
	"github.com/mosaicnetworks/mnregistry/src/config"
)

//CLIConfig contains configuration for the command-line tool
type CLIConfig struct {
	Registry config.Config `mapstructure:",squash"`
	Discard  bool          `mapstructure:"discard"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Registry: *config.NewDefaultConfig(),
	}
}
