package cli

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"

	"duck-etl/internal/config"
)

const maskedValue = "****"

func newConfigCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Long:  "Prints the configuration after defaults, the config file and ETL_ environment overrides are applied.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !reveal {
				cfg = maskConfig(cfg)
			}

			k := koanf.New(".")
			if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
				return fmt.Errorf("flatten config: %w", err)
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), k.Raw())
			}
			data, err := k.Marshal(yaml.Parser())
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show sensitive values unmasked")

	return cmd
}

// maskConfig returns a copy of the config with credentials masked.
func maskConfig(cfg *config.Config) *config.Config {
	masked := *cfg
	if masked.S3.KeyID != "" {
		masked.S3.KeyID = maskedValue
	}
	if masked.S3.Secret != "" {
		masked.S3.Secret = maskedValue
	}
	return &masked
}
