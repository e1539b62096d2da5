package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/ragstore/internal/config"
	"github.com/fyrsmithlabs/ragstore/internal/logging"
	"github.com/fyrsmithlabs/ragstore/internal/telemetry"
)

// effectiveConfig is every section as one YAML document.
type effectiveConfig struct {
	config.Config `yaml:",inline"`
	Logging       *logging.Config   `yaml:"logging"`
	Telemetry     *telemetry.Config `yaml:"telemetry"`
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration after merging defaults, the config file and
RAGSTORE_* environment variables. Secrets are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(opts.configPath)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(effectiveConfig{Config: *s.cfg, Logging: s.logging, Telemetry: s.telemetry}); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	return cmd
}
