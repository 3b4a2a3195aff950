// Package config loads coda's layered configuration: defaults, then an
// optional YAML/JSON file, then CODA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"coda/internal/compaction"
	"coda/internal/hooks"
	"coda/internal/policy"
	"coda/internal/provider"
	"coda/internal/retry"
	"coda/internal/tools"
	"coda/pkg/logger"
)

// EnvPrefix is the prefix of environment overrides, e.g. CODA_AGENT_MODEL.
const EnvPrefix = "CODA"

// Config 是应用配置的根结构体
type Config struct {
	Log        logger.LogConfig           `mapstructure:"log" yaml:"log"`
	Storage    StorageConfig              `mapstructure:"storage" yaml:"storage"`
	Agent      AgentConfig                `mapstructure:"agent" yaml:"agent"`
	Retry      RetryConfig                `mapstructure:"retry" yaml:"retry"`
	Models     map[string]provider.Limits `mapstructure:"models" yaml:"models,omitempty"`
	Compaction compaction.Config          `mapstructure:"compaction" yaml:"compaction"`
	Permission PermissionConfig           `mapstructure:"permission" yaml:"permission"`
	Hooks      HooksConfig                `mapstructure:"hooks" yaml:"hooks"`
	Tools      ToolsConfig                `mapstructure:"tools" yaml:"tools"`
	Delegate   DelegateConfig             `mapstructure:"delegate" yaml:"delegate"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// AgentConfig 主循环配置
type AgentConfig struct {
	Model              string        `mapstructure:"model" yaml:"model"`
	MaxOutputTokens    int           `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	MaxIterations      int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	MaxRetries         int           `mapstructure:"max_retries" yaml:"max_retries"`
	ToolTimeout        time.Duration `mapstructure:"tool_timeout" yaml:"tool_timeout"`
	AllowExternalPaths bool          `mapstructure:"allow_external_paths" yaml:"allow_external_paths"`
	AutoApprove        bool          `mapstructure:"auto_approve" yaml:"auto_approve"`
	Workspace          string        `mapstructure:"workspace" yaml:"workspace,omitempty"`
	// ApprovalTimeout bounds how long a tool call waits for a human answer.
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout" yaml:"approval_timeout"`
}

// RetryConfig 重试策略配置
type RetryConfig struct {
	InitialDelay  time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	Factor        float64       `mapstructure:"factor" yaml:"factor"`
	MaxDelay      time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	MaxRetryAfter time.Duration `mapstructure:"max_retry_after" yaml:"max_retry_after"`
}

// PermissionConfig 权限规则配置。Rules are evaluated before the rules file.
type PermissionConfig struct {
	RulesFile string         `mapstructure:"rules_file" yaml:"rules_file,omitempty"`
	Rules     policy.Ruleset `mapstructure:"rules" yaml:"rules,omitempty"`
	// Watch reloads RulesFile when it changes.
	Watch bool `mapstructure:"watch" yaml:"watch"`
}

// HooksConfig lists the JavaScript hook scripts to load.
type HooksConfig struct {
	Scripts []hooks.ScriptSpec `mapstructure:"scripts" yaml:"scripts,omitempty"`
}

// ToolsConfig controls tool output post-processing.
type ToolsConfig struct {
	MaxOutputBytes int               `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
	ScrubRules     []tools.ScrubRule `mapstructure:"scrub_rules" yaml:"scrub_rules,omitempty"`
}

// DelegateConfig 子代理委托配置
type DelegateConfig struct {
	Enabled bool                      `mapstructure:"enabled" yaml:"enabled"`
	Timeout time.Duration             `mapstructure:"timeout" yaml:"timeout"`
	Agents  map[string]SubAgentConfig `mapstructure:"agents" yaml:"agents,omitempty"`
}

// SubAgentConfig 子代理配置
type SubAgentConfig struct {
	Description string `mapstructure:"description" yaml:"description"`
	Prompt      string `mapstructure:"prompt" yaml:"prompt,omitempty"`
	Mode        string `mapstructure:"mode" yaml:"mode,omitempty"`
}

// RetryPolicy combines agent.max_retries with the retry.* backoff settings.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:    c.Agent.MaxRetries,
		InitialDelay:  c.Retry.InitialDelay,
		Factor:        c.Retry.Factor,
		MaxDelay:      c.Retry.MaxDelay,
		MaxRetryAfter: c.Retry.MaxRetryAfter,
	}
}

// ModelLimits returns the configured limits of a model, zero when unknown.
func (c *Config) ModelLimits(id string) provider.Limits {
	return c.Models[strings.ToLower(id)]
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.Agent.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("agent.max_retries must be >= 0, got %d", c.Agent.MaxRetries))
	}
	if c.Retry.Factor < 1 {
		errs = append(errs, fmt.Errorf("retry.factor must be >= 1, got %v", c.Retry.Factor))
	}
	switch c.Compaction.ToolOutputMode {
	case compaction.OnCompaction, compaction.AfterToolCall:
	default:
		errs = append(errs, fmt.Errorf("compaction.tool_output_mode: unknown mode %q", c.Compaction.ToolOutputMode))
	}
	if err := c.Permission.Rules.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("permission.rules: %w", err))
	}
	for name, a := range c.Delegate.Agents {
		if a.Mode != "" && a.Mode != "build" && a.Mode != "plan" {
			errs = append(errs, fmt.Errorf("delegate.agents.%s.mode: unknown mode %q", name, a.Mode))
		}
	}
	return errors.Join(errs...)
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

// Load 加载配置文件
// 优先级: ENV > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			// 忽略文件不存在错误
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", expandedPath, err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// normalize lowercases model ids so lookups are case-insensitive, and
// resolves ~ in paths.
func normalize(cfg *Config) {
	if len(cfg.Models) > 0 {
		models := make(map[string]provider.Limits, len(cfg.Models))
		for id, l := range cfg.Models {
			models[strings.ToLower(id)] = l
		}
		cfg.Models = models
	}
	if p, err := ExpandPath(cfg.Storage.Path); err == nil {
		cfg.Storage.Path = p
	}
	if p, err := ExpandPath(cfg.Permission.RulesFile); err == nil {
		cfg.Permission.RulesFile = p
	}
}

// GetConfig 获取当前配置
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Get 获取任意配置键值
func Get(key string) any {
	return viper.Get(key)
}

// GetString 获取字符串配置值
func GetString(key string) string {
	return viper.GetString(key)
}

// Set 设置配置值并持久化
func Set(key string, value any) error {
	mu.Lock()
	defer mu.Unlock()

	viper.Set(key, value)
	if configPath != "" {
		return save()
	}
	return nil
}

// Save 保存配置到文件
func Save() error {
	mu.Lock()
	defer mu.Unlock()
	return save()
}

// save 调用者需要持有锁
func save() error {
	if configPath == "" {
		return errors.New("config path not set")
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0o600)
}

// SaveTo 保存配置到指定路径
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Reset 重置配置（主要用于测试）
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}
