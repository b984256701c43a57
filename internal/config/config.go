package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Storage    StorageConfig    `json:"storage"`
	Queue      QueueConfig      `json:"queue"`
	Host       HostConfig       `json:"host"`
	Library    LibraryConfig    `json:"library"`
	Presets    PresetsConfig    `json:"presets"`
	Scripts    []ScriptConfig   `json:"scripts"`
	Extensions ExtensionsConfig `json:"extensions"`
	Auth       AuthConfig       `json:"auth"`
	Logging    LoggingConfig    `json:"logging"`
	Alerting   AlertingConfig   `json:"alerting"`
}

// AuthConfig 控制 API 层的认证方式。mode 支持 disabled 与 static。
type AuthConfig struct {
	Mode   string            `json:"mode"`
	Tokens []AuthTokenConfig `json:"tokens"`
}

// AuthTokenConfig 描述一条静态令牌及其权限。
type AuthTokenConfig struct {
	Token       string   `json:"token"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 描述调用存储的后端连接信息。
type StorageConfig struct {
	Driver  string `json:"driver"`
	DSN     string `json:"dsn"`
	Retries int    `json:"retries"`
}

// QueueConfig 描述调用队列的驱动及其连接参数。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接信息。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接信息。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// HostConfig 描述宿主会话的接入方式。simulated 驱动不需要网络连接，
// mayaport 驱动通过命令端口连接正在运行的 Maya。
type HostConfig struct {
	Driver         string `json:"driver"`
	Address        string `json:"address"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// LibraryConfig 描述动作定义库的加载位置。
type LibraryConfig struct {
	Dir   string `json:"dir"`
	Watch bool   `json:"watch"`
}

// PresetsConfig 描述预设文件的位置，留空表示不启用预设。
type PresetsConfig struct {
	Path string `json:"path"`
}

// ExtensionsConfig 指向扩展管理器的 YAML 配置，留空表示不加载扩展。
type ExtensionsConfig struct {
	Path string `json:"path"`
}

// ScriptConfig 把一个 Tengo 脚本注册为某个动作的执行器。
type ScriptConfig struct {
	ActionID string `json:"action_id"`
	Path     string `json:"path"`
}

// LoggingConfig 控制结构化日志与审计日志的输出。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的落盘行为。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// AlertingConfig 描述告警渠道，目前支持钉钉与 Slack 的 webhook。
type AlertingConfig struct {
	DingTalkWebhook string `json:"dingtalk_webhook"`
	SlackWebhook    string `json:"slack_webhook"`
	SlackChannel    string `json:"slack_channel"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
// 相对路径一律相对于配置文件所在目录解析。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Retries <= 0 {
		c.Storage.Retries = 3
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Worker <= 0 {
		c.Queue.Worker = 4
	}

	if c.Host.Driver == "" {
		c.Host.Driver = "simulated"
	}
	if c.Host.Address == "" {
		c.Host.Address = "127.0.0.1:20240"
	}
	if c.Host.TimeoutSeconds <= 0 {
		c.Host.TimeoutSeconds = 30
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	c.Library.Dir = resolvePath(baseDir, c.Library.Dir, filepath.Join(baseDir, "actions"))
	c.Presets.Path = resolvePath(baseDir, c.Presets.Path, "")
	for i := range c.Scripts {
		c.Scripts[i].Path = resolvePath(baseDir, c.Scripts[i].Path, "")
	}
	c.Extensions.Path = resolvePath(baseDir, c.Extensions.Path, "")
	c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path, "")
}

func resolvePath(baseDir, path, fallback string) string {
	if path == "" {
		return fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
