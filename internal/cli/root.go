package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:8080"

var (
	cfgFile   string
	serverURL string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "skiff",
	Short: "Skiff - browser task lifecycle control",
	Long: `Skiff runs natural-language browser automation tasks on a pool of workers.

The controller schedules tasks onto worker agents, each task runs in its own
headless browser session, and this CLI drives the lifecycle: run, pause,
resume, stop, and inspect.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.skiff.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "controller API URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

type fileConfig struct {
	Server string `yaml:"server"`
}

// initConfig resolves the controller URL. An explicit --server flag wins,
// then SKIFF_SERVER_URL, then the server entry of the config file.
func initConfig() {
	if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", cfgFile)
	}

	if serverURL != defaultServerURL {
		return
	}

	if envServer := os.Getenv("SKIFF_SERVER_URL"); envServer != "" {
		serverURL = envServer
		return
	}

	if cfg, err := loadConfigFile(); err == nil && cfg.Server != "" {
		serverURL = cfg.Server
	}
}

func loadConfigFile() (*fileConfig, error) {
	path := cfgFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".skiff.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return &cfg, nil
}

// GetServerURL returns the configured controller URL
func GetServerURL() string {
	return serverURL
}

// IsVerbose returns whether verbose mode is enabled
func IsVerbose() bool {
	return verbose
}
