package catalog

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/heliocloud-data/registry/internal/catalog"
	"github.com/heliocloud-data/registry/internal/config"
)

// registryEntries is the YAML document listing the federation's endpoints.
type registryEntries struct {
	Entries []struct {
		Name     string `yaml:"name"`
		Endpoint string `yaml:"endpoint"`
		Region   string `yaml:"region"`
	} `yaml:"entries"`
}

func newRegistryCommand() *cobra.Command {
	var configPath string
	var entriesPath string
	var destURI string

	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Writes the root registry document listing the federation's endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("registry.catalog.registry")

			c, err := config.NewRegistryFromFile(configPath)
			if err != nil {
				return err
			}

			bs, err := os.ReadFile(entriesPath)
			if err != nil {
				return err
			}
			var doc registryEntries
			if err := yaml.Unmarshal(bs, &doc); err != nil {
				return fmt.Errorf("parsing %s: %w", entriesPath, err)
			}

			entries := make([]catalog.RegistryEntry, len(doc.Entries))
			for i, e := range doc.Entries {
				entries[i] = catalog.RegistryEntry{
					Name:     e.Name,
					Endpoint: e.Endpoint,
					Region:   e.Region,
				}
			}

			s, err := config.InitializeStore(c, l)
			if err != nil {
				return err
			}

			repo, err := config.InitializeRepository(cmd.Context(), c, l)
			if err != nil {
				return err
			}
			defer repo.Close(cmd.Context())

			cat, err := config.InitializeCataloger(c, s, repo, l)
			if err != nil {
				return err
			}

			return cat.WriteRegistry(cmd.Context(), destURI, entries)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&entriesPath, "entries", "e", "", "Path to a YAML file listing the federation's endpoints")
	cmd.Flags().StringVarP(&destURI, "uri", "u", "", "Destination URI for the registry document")
	cmd.MarkFlagRequired("entries")
	cmd.MarkFlagRequired("uri")

	return cmd
}
