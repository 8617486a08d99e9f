package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"PluginHub/internal/auth"
	xerrors "PluginHub/internal/errors"
	"PluginHub/internal/journal"
	"PluginHub/pkg/logger"
	"PluginHub/pkg/plugin"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "PLUGINHUB_CONFIG"

// DefaultPath 是未指定路径时使用的配置文件。
const DefaultPath = "configs/pluginhub.yaml"

// Config 描述了 PluginHub 在启动阶段需要加载的核心配置。
type Config struct {
	App         AppConfig            `yaml:"app"`
	Server      ServerConfig         `yaml:"server"`
	Metrics     MetricsConfig        `yaml:"metrics"`
	Logging     logger.Config        `yaml:"logging"`
	Journal     journal.Config       `yaml:"journal"`
	Plugins     plugin.ManagerConfig `yaml:"plugins"`
	PluginsFile string               `yaml:"plugins_file"`
}

// AppConfig 描述协调器自身的名称与说明，启动时作为初始化配置传入。
type AppConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// ServerConfig 控制管理 API 的监听地址等参数。
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Auth            auth.Config   `yaml:"auth"`
}

// MetricsConfig 控制 Prometheus 指标端点。
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// ResolvePath 依次使用显式路径、环境变量与默认路径。
func ResolvePath(explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return DefaultPath
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "读取配置文件失败")
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析配置失败")
	}

	baseDir := filepath.Dir(path)
	if cfg.PluginsFile != "" {
		pluginsPath := cfg.PluginsFile
		if !filepath.IsAbs(pluginsPath) {
			pluginsPath = filepath.Join(baseDir, pluginsPath)
		}
		if len(cfg.Plugins.Plugins) > 0 {
			return nil, xerrors.New(xerrors.CodeConfigInvalid, "plugins 与 plugins_file 不能同时配置")
		}
		managerCfg, err := plugin.LoadManagerConfig(pluginsPath)
		if err != nil {
			return nil, err
		}
		cfg.Plugins = managerCfg
		cfg.PluginsFile = pluginsPath
	}

	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置之间的一致性。
func (c *Config) Validate() error {
	if c.Metrics.Enabled && c.Metrics.Address == c.Server.Address {
		return xerrors.New(xerrors.CodeConfigInvalid,
			fmt.Sprintf("metrics 与 server 不能监听同一地址 %s", c.Server.Address))
	}
	return c.Plugins.Validate()
}

// ManagerInitConfigs 返回协调器自身初始化时使用的配置项。
func (c *Config) ManagerInitConfigs() []plugin.Value {
	return []plugin.Value{
		plugin.Setting{Key: "app.name", Value: c.App.Name},
		plugin.Setting{Key: "app.description", Value: c.App.Description},
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.App.Name == "" {
		c.App.Name = "pluginhub"
	}
	if c.App.Description == "" {
		c.App.Description = "plugin lifecycle coordinator"
	}

	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	if len(c.Journal.Drivers) == 0 {
		c.Journal.Drivers = []string{journal.DriverMemory}
	}

	if c.Plugins.Name == "" {
		c.Plugins.Name = c.App.Name
	}
	if c.Plugins.PluginDir != "" && !filepath.IsAbs(c.Plugins.PluginDir) {
		c.Plugins.PluginDir = filepath.Join(baseDir, c.Plugins.PluginDir)
	}
}
