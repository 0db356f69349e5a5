package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/promptvault/comfyhistory/config"
)

func newConfigCommand(configFlag *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a commented sample configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configFlag
			if path == "" {
				var err error
				path, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.CreateSample(path); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			rows := [][]string{
				{"server.host", cfg.Server.Host},
				{"server.wait_minutes", fmt.Sprint(cfg.Server.WaitMinutes)},
				{"paths.prompts_dir", cfg.Paths.PromptsDir},
				{"paths.output_dir", cfg.Paths.OutputDir},
				{"paths.bind", cfg.Paths.Bind},
				{"logging.level", cfg.Logging.Level},
			}
			fmt.Println(renderTable([]string{"Key", "Value"}, rows, nil))
			return nil
		},
	})

	return cmd
}
