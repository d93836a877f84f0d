package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"velvet/internal/config"
)

// configCmd prints or writes the effective configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  `Loads the config file (falling back to defaults), validates it, and prints the effective YAML. Use --init to write it to the config path instead.`,
	RunE:  runConfig,
}

var initConfig bool

func init() {
	configCmd.Flags().BoolVar(&initConfig, "init", false, "write the effective config to the config path")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if initConfig {
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", configPath)
		return nil
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
