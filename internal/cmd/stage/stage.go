package stage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/heliocloud-data/registry/internal/config"
)

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "stage",
		Short: "Stages datasets from upstream archives into an ingest-ready layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("welcome to the registry stager!")
			return nil
		},
	}
	cmd.AddCommand(newCDAWebCommand())
	return cmd
}

func newCDAWebCommand() *cobra.Command {
	var configPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "cdaweb",
		Short: "Fetches allowlisted CDAWeb datasets into the staging bucket. Interrupted runs resume where they left off.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("registry.stage.cdaweb")

			c, err := config.NewRegistryFromFile(configPath)
			if err != nil {
				return err
			}
			if force {
				c.Staging.Force = true
			}

			s, err := config.InitializeStore(c, l)
			if err != nil {
				return err
			}

			f, err := config.InitializeFetcher(c, s, l)
			if err != nil {
				return err
			}

			results, err := f.Run(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().BoolVar(&force, "force", false, "Refetch datasets already present in the move log")
	cmd.MarkFlagRequired("config")

	return cmd
}
