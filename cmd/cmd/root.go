package cmd

import (
	"github.com/spf13/cobra"
)

const AppName = "vhdxlens"

func Execute() error {
	rootCmd := &cobra.Command{
		Use:   AppName,
		Short: AppName + " - forensic VHDX container decoder",
	}

	rootCmd.AddCommand(DefineInfoCommand())
	rootCmd.AddCommand(DefineBatCommand())
	rootCmd.AddCommand(DefineChainCommand())
	rootCmd.AddCommand(DefineExtractCommand())
	rootCmd.AddCommand(DefineMountCommand())

	return rootCmd.Execute()
}
