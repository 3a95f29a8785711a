package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/mnregistry/src/chain"
	"github.com/mosaicnetworks/mnregistry/src/registry"
)

var dumpHeight int

// NewDumpCmd produces the command that prints a stored registry list as JSON
func NewDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dump",
		Short:   "Print a registry list as JSON",
		PreRunE: loadConfig,
		RunE:    dump,
	}

	AddStoreFlags(cmd)
	cmd.Flags().IntVar(&dumpHeight, "height", -1, "Height of the list to print (default: latest stored)")

	return cmd
}

func dump(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Backend().Close()

	height := dumpHeight
	if height < 0 {
		latest, ok, err := registry.LatestStoredHeight(s.Backend())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("store holds no registry data")
		}
		height = latest
	}

	// Without a chain attached, block hashes of replayed heights are not
	// recoverable; only snapshot heights carry them.
	manager := registry.NewManager(s, chain.NewIndex(), _config.Registry.RegistryOptions(),
		logger.WithField("component", "registry"))

	list, err := manager.GetListForHeight(height)
	if err != nil {
		return err
	}

	out, err := list.Marshal()
	if err != nil {
		return err
	}

	fmt.Println(string(out))

	return nil
}
