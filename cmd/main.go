package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"mvideodk-relay/internal/config"
	"mvideodk-relay/pkg/logger"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "mvideodk-relay",
	Short:         "Relay download requests from the browser to the MVideoDK server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := logger.InitWithOutput(c.Log.Level, c.Log.Format, os.Stderr); err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "config file path")

	rootCmd.AddCommand(serveCmd, submitCmd, floatCmd, statusCmd, openCmd, backupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
