package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	catalogcmd "github.com/heliocloud-data/registry/internal/cmd/catalog"
	ingestcmd "github.com/heliocloud-data/registry/internal/cmd/ingest"
	servecmd "github.com/heliocloud-data/registry/internal/cmd/serve"
	stagecmd "github.com/heliocloud-data/registry/internal/cmd/stage"
)

func NewRootCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "registry",
		Short: "Manages a HelioCloud dataset registry",
		Long:  ``,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Welcome to the registry!")
		},
	}

	cmd.AddCommand(ingestcmd.NewCommand())
	cmd.AddCommand(catalogcmd.NewCommand())
	cmd.AddCommand(stagecmd.NewCommand())
	cmd.AddCommand(servecmd.NewCommand())

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
