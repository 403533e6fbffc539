package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pders01/snapsync/internal/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the default configuration and data directory",
	Long: `Create configuration and local storage for snapsync.

This command:
  - Creates a default config file if it doesn't exist
  - Creates the data directory for the local database and cache

Run this once before using the other commands.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := cfgFile
	if configPath == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return err
		}
		configPath = p
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}

		if err := os.WriteFile(configPath, []byte(config.DefaultConfig), 0644); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}

		fmt.Printf("✓ Created default config: %s\n", configPath)
	} else {
		fmt.Printf("Config already exists: %s\n", configPath)
	}

	dataDir, err := config.GetDataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	fmt.Printf("✓ Data directory: %s\n", dataDir)

	fmt.Println("\n✓ snapsync initialized successfully!")
	fmt.Println("  Set server.url in the config, then try: snapsync today")

	return nil
}
