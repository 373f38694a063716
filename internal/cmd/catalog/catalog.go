package catalog

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "catalog",
		Short: "Manages the published catalog and registry documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("welcome to the registry cataloger!")
			return nil
		},
	}
	cmd.AddCommand(newRebuildCommand())
	cmd.AddCommand(newRegistryCommand())
	return cmd
}
