package main

import (
	"os"

	cmd "github.com/mosaicnetworks/mnregistry/cmd/mnregistry/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.NewKeygenCmd(),
		cmd.NewDumpCmd(),
		cmd.NewVerifyCmd(),
		cmd.VersionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
