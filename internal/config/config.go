package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Policy  PolicyConfig  `json:"policy"`
	Intake  IntakeConfig  `json:"intake"`
	Bridge  BridgeConfig  `json:"bridge"`
	Ledger  LedgerConfig  `json:"ledger"`
	Run     RunConfig     `json:"run"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// PolicyConfig 描述支出策略的来源。
type PolicyConfig struct {
	Driver     string `json:"driver"`
	Path       string `json:"path"`
	DefaultRef string `json:"default_ref"`
}

// IntakeConfig 描述机会的进入方式：内存队列、Redis 或 RabbitMQ。
type IntakeConfig struct {
	Driver     string `json:"driver"`
	RedisAddr  string `json:"redis_addr"`
	RedisDB    int    `json:"redis_db"`
	RedisQueue string `json:"redis_queue"`
	AMQPURL    string `json:"amqp_url"`
	AMQPQueue  string `json:"amqp_queue"`
}

// BridgeConfig 描述跨链桥与下注合约的接入参数。
type BridgeConfig struct {
	ChainConfig      string `json:"chain_config"`
	SourceChain      string `json:"source_chain"`
	DestinationChain string `json:"destination_chain"`
	AttestationURL   string `json:"attestation_url"`
	PrivateKeyEnv    string `json:"private_key_env"`
	BurnTimeoutSec   int    `json:"burn_timeout_sec"`
	MintTimeoutSec   int    `json:"mint_timeout_sec"`
	BetTimeoutSec    int    `json:"bet_timeout_sec"`
}

// LedgerConfig 描述审计账本的后端。
type LedgerConfig struct {
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime string `json:"conn_max_lifetime"`
}

// RunConfig 控制运行控制器的并发与审计重试参数。
type RunConfig struct {
	Workers          int `json:"workers"`
	AuditMaxAttempts int `json:"audit_max_attempts"`
	AuditBackoffMS   int `json:"audit_backoff_ms"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level        string   `json:"level"`
	Format       string   `json:"format"`
	OutputPaths  []string `json:"output_paths"`
	AuditEnabled bool     `json:"audit_enabled"`
	AuditPath    string   `json:"audit_path"`
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
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":9091"
	}

	if c.Policy.Driver == "" {
		c.Policy.Driver = "file"
	}
	if c.Policy.Path != "" && !filepath.IsAbs(c.Policy.Path) {
		c.Policy.Path = filepath.Join(baseDir, c.Policy.Path)
	}

	if c.Intake.Driver == "" {
		c.Intake.Driver = "memory"
	}
	if c.Intake.RedisAddr == "" {
		c.Intake.RedisAddr = "127.0.0.1:6379"
	}

	if c.Bridge.ChainConfig != "" && !filepath.IsAbs(c.Bridge.ChainConfig) {
		c.Bridge.ChainConfig = filepath.Join(baseDir, c.Bridge.ChainConfig)
	}
	if c.Bridge.PrivateKeyEnv == "" {
		c.Bridge.PrivateKeyEnv = "POLICYGATE_PRIVATE_KEY"
	}
	if c.Bridge.BurnTimeoutSec <= 0 {
		c.Bridge.BurnTimeoutSec = 60
	}
	if c.Bridge.MintTimeoutSec <= 0 {
		c.Bridge.MintTimeoutSec = 300
	}
	if c.Bridge.BetTimeoutSec <= 0 {
		c.Bridge.BetTimeoutSec = 60
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}

	if c.Run.Workers <= 0 {
		c.Run.Workers = 4
	}
	if c.Run.AuditMaxAttempts <= 0 {
		c.Run.AuditMaxAttempts = 3
	}
	if c.Run.AuditBackoffMS <= 0 {
		c.Run.AuditBackoffMS = 200
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// BurnTimeout 返回销毁步骤的超时时长。
func (c *BridgeConfig) BurnTimeout() time.Duration {
	return time.Duration(c.BurnTimeoutSec) * time.Second
}

// MintTimeout 返回铸造步骤的超时时长。
func (c *BridgeConfig) MintTimeout() time.Duration {
	return time.Duration(c.MintTimeoutSec) * time.Second
}

// BetTimeout 返回下注步骤的超时时长。
func (c *BridgeConfig) BetTimeout() time.Duration {
	return time.Duration(c.BetTimeoutSec) * time.Second
}

// ParseConnMaxLifetime 解析账本连接的最长生命周期，空值返回零。
func (c *LedgerConfig) ParseConnMaxLifetime() (time.Duration, error) {
	if c.ConnMaxLifetime == "" {
		return 0, nil
	}
	return time.ParseDuration(c.ConnMaxLifetime)
}
