package cmd

import (
	"asterism/backend/go/internal/config"
	"asterism/backend/go/internal/mcp"
	"asterism/backend/go/pkg/logger"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd 创建根命令及全部子命令。
func NewRootCmd() *cobra.Command {
	var cfgFile string
	rootCmd := &cobra.Command{
		Use:           "asterism-cli",
		Short:         "A CLI client to drive MCP tool servers and execution plans",
		Long:          `A command-line interface for inspecting configured MCP servers, calling a single tool and running a task plan locally.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file")

	load := func() (*config.AppConfig, error) {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return nil, err
		}
		// 日志写到 stderr，stdout 只留给命令输出
		logger.InitWithOutput(logger.ParseLevel(cfg.Logger.Level), os.Stderr)
		return cfg, nil
	}

	rootCmd.AddCommand(newToolsCmd(load), newCallCmd(load), newRunCmd(load))
	return rootCmd
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main(). It only needs to happen once.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Whoops. There was an error while executing your CLI: %s\n", err)
		os.Exit(1)
	}
}

type configLoader func() (*config.AppConfig, error)

func openRegistry(load configLoader) (*config.AppConfig, *mcp.Registry, error) {
	cfg, err := load()
	if err != nil {
		return nil, nil, err
	}
	registry, err := mcp.NewRegistryFromConfig(cfg, logger.New("asterism-cli", ""))
	if err != nil {
		return nil, nil, err
	}
	return cfg, registry, nil
}
