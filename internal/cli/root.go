// Package cli implements the coda command line.
package cli

import (
	"context"

	"coda/internal/config"
	"coda/internal/storage"
	"coda/pkg/logger"

	"github.com/spf13/cobra"
)

// GlobalFlags 全局标志
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

var globalFlags GlobalFlags

// contextKey CLI 上下文键
type contextKey struct{}

// NewRootCmd 创建根命令
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "coda",
		Short: "Coda - coding agent runtime",
		Long: `Coda runs a coding agent turn by turn: it streams model output,
executes tool calls through the permission pipeline and persists
sessions locally.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// 跳过 version 和 help 命令的初始化
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}

			configPath := globalFlags.ConfigPath
			if configPath == "" {
				var err error
				configPath, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logLevel := cfg.Log.Level
			if globalFlags.Verbose {
				logLevel = "debug"
			}
			if globalFlags.Quiet {
				logLevel = "error"
			}
			if err := logger.Init(logger.LogConfig{
				Level:  logLevel,
				Format: cfg.Log.Format,
				File:   cfg.Log.File,
			}); err != nil {
				return err
			}

			storagePath := cfg.Storage.Path
			if storagePath == "" {
				storagePath, err = config.DefaultDataPath()
				if err != nil {
					return err
				}
			}

			cliCtx := NewCLIContext(cfg, configPath, logger.Get(), storagePath, globalFlags.Verbose, globalFlags.Quiet)
			cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, cliCtx))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cliCtx := GetCLIContext(cmd); cliCtx != nil {
				return cliCtx.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "quiet mode")

	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewSessionCmd())
	rootCmd.AddCommand(NewCheckCmd())
	rootCmd.AddCommand(NewPermissionCmd())

	return rootCmd
}

// GetCLIContext 从命令上下文获取 CLI 上下文
func GetCLIContext(cmd *cobra.Command) *CLIContext {
	ctx := cmd.Context()
	if ctx == nil {
		return nil
	}
	cliCtx, ok := ctx.Value(contextKey{}).(*CLIContext)
	if !ok {
		return nil
	}
	return cliCtx
}

// mustCLIContext returns the CLI context or an error for commands that need it.
func mustCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return nil, errNoContext
	}
	return cliCtx, nil
}

// openStorage returns the lazily opened session database.
func openStorage(cmd *cobra.Command) (*storage.DB, error) {
	cliCtx, err := mustCLIContext(cmd)
	if err != nil {
		return nil, err
	}
	return cliCtx.GetStorage()
}
