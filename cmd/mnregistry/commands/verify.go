package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/mnregistry/src/chain"
	"github.com/mosaicnetworks/mnregistry/src/common"
	"github.com/mosaicnetworks/mnregistry/src/registry"
)

// NewVerifyCmd produces the command that checks a store's consistency by
// replaying every retained diff from the nearest snapshot.
func NewVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "verify",
		Short:   "Check the store's registry data",
		PreRunE: loadConfig,
		RunE:    verify,
	}

	AddStoreFlags(cmd)

	return cmd
}

func verify(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Backend().Close()

	hash, legacy, err := s.ReadBestBlock()
	if err != nil {
		if common.IsStore(err, common.KeyNotFound) {
			fmt.Println("No best-block marker; store is fresh")
			return nil
		}
		return err
	}
	if legacy {
		return registry.ErrLegacyFormat
	}
	fmt.Printf("Best block: %s\n", hash)

	latest, ok, err := registry.LatestStoredHeight(s.Backend())
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("No registry data below the best-block marker")
		return nil
	}

	manager := registry.NewManager(s, chain.NewIndex(), _config.Registry.RegistryOptions(),
		logger.WithField("component", "registry"))

	list, err := manager.GetListForHeight(latest)
	if err != nil {
		return fmt.Errorf("replay failed: %s", err)
	}

	fmt.Printf("Replayed to height %d: %d entries, %d valid\n",
		latest, list.Count(), list.ValidCount())

	return nil
}
