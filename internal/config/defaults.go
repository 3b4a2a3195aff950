package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults 设置所有配置项的默认值
func SetDefaults() {
	// Log 配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")

	// Storage 配置
	viper.SetDefault("storage.path", "~/.coda/coda.db")

	// Agent 配置
	viper.SetDefault("agent.model", "scripted")
	viper.SetDefault("agent.max_output_tokens", 32000)
	viper.SetDefault("agent.max_iterations", 50)
	viper.SetDefault("agent.max_retries", 3)
	viper.SetDefault("agent.tool_timeout", 2*time.Minute)
	viper.SetDefault("agent.allow_external_paths", false)
	viper.SetDefault("agent.auto_approve", false)
	viper.SetDefault("agent.workspace", "")
	viper.SetDefault("agent.approval_timeout", 5*time.Minute)

	// Retry 配置
	viper.SetDefault("retry.initial_delay", 2*time.Second)
	viper.SetDefault("retry.factor", 2.0)
	viper.SetDefault("retry.max_delay", 30*time.Second)
	viper.SetDefault("retry.max_retry_after", 5*time.Minute)

	// Compaction 配置
	viper.SetDefault("compaction.auto", true)
	viper.SetDefault("compaction.prune", true)
	viper.SetDefault("compaction.prune_protect_tokens", 40000)
	viper.SetDefault("compaction.prune_minimum_tokens", 20000)
	viper.SetDefault("compaction.tool_output_mode", "on_compaction")
	viper.SetDefault("compaction.reserved_output_tokens", 32000)
	viper.SetDefault("compaction.memory_note", false)

	// Permission 配置
	viper.SetDefault("permission.rules_file", "")
	viper.SetDefault("permission.watch", false)

	// Tools 配置
	viper.SetDefault("tools.max_output_bytes", 64*1024)

	// Delegate 配置
	viper.SetDefault("delegate.enabled", true)
	viper.SetDefault("delegate.timeout", 10*time.Minute)
}
