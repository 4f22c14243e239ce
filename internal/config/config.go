package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// MailboxConfig 定义邮箱服务的核心业务配置
type MailboxConfig struct {
	AllowedDomain string        // 唯一的收件域名，其它域名一律拒收
	DefaultTTL    time.Duration // 邮箱默认生存时间，过期后由清理任务回收
}

// SMTPConfig 定义 SMTP 邮件接收服务器的配置
type SMTPConfig struct {
	BindAddr        string // SMTP 服务监听地址，格式 "host:port"，默认 ":25"
	Domain          string // SMTP 服务器域名，用于 HELO/EHLO 响应
	MaxMessageBytes int64  // 单封邮件最大字节数，默认 10MB
	MaxConnections  int    // 最大并发 SMTP 连接数
	MaxConnRate     int    // 每秒最大新建连接数
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 服务配置（会话与热缓存）
type RedisConfig struct {
	Address  string // Redis 服务地址，留空表示不使用 Redis
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// CleanupConfig 定义过期清理任务的调度配置
type CleanupConfig struct {
	Enabled        bool          // 是否启用清理任务
	Leader         bool          // 多实例部署时，只有 leader 实例执行清理
	BaseInterval   time.Duration // 稳态调度间隔，默认 6 小时
	ActiveInterval time.Duration // 上一轮有删除时的加速间隔，默认 30 分钟
	StartDelay     time.Duration // 进程启动后首次清理的延迟，默认 5 分钟
	Jitter         float64       // 抖动比例 J，延迟在 [1-J, 1+J] 内均匀扰动
	MinDelay       time.Duration // 调度延迟下限，防止配置过小导致空转
	RetryAttempts  int           // 存储瞬时错误的重试上限
	RetryBackoff   time.Duration // 两次重试之间的固定等待
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig
	Mailbox  MailboxConfig
	SMTP     SMTPConfig
	CORS     CORSConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Cleanup  CleanupConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//   1. 系统环境变量（最高优先级）
//   2. .env 文件（如果存在）
//   3. 默认值
//
// 环境变量前缀: DROPMAIL_
// 例如: DROPMAIL_MAILBOX_ALLOWED_DOMAIN, DROPMAIL_CLEANUP_BASE_INTERVAL
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("dropmail")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("mailbox.allowed_domain", "temp.mail")
	viper.SetDefault("mailbox.default_ttl", "24h")
	viper.SetDefault("smtp.bind_addr", ":25")
	viper.SetDefault("smtp.domain", "temp.mail")
	viper.SetDefault("smtp.max_message_bytes", 10*1024*1024)
	viper.SetDefault("smtp.max_connections", 50)
	viper.SetDefault("smtp.max_conn_rate", 10)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("cleanup.enabled", true)
	viper.SetDefault("cleanup.leader", true)
	viper.SetDefault("cleanup.base_interval", "6h")
	viper.SetDefault("cleanup.active_interval", "30m")
	viper.SetDefault("cleanup.start_delay", "5m")
	viper.SetDefault("cleanup.jitter", 0.10)
	viper.SetDefault("cleanup.min_delay", "60s")
	viper.SetDefault("cleanup.retry_attempts", 3)
	viper.SetDefault("cleanup.retry_backoff", "2s")

	allowedDomain := strings.ToLower(strings.TrimSpace(viper.GetString("mailbox.allowed_domain")))
	if allowedDomain == "" {
		return nil, fmt.Errorf("mailbox.allowed_domain must not be empty")
	}

	defaultTTL, err := time.ParseDuration(viper.GetString("mailbox.default_ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.default_ttl: %w", err)
	}
	if defaultTTL <= 0 {
		return nil, fmt.Errorf("mailbox.default_ttl must be positive")
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	cleanup, err := loadCleanupConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Mailbox: MailboxConfig{
			AllowedDomain: allowedDomain,
			DefaultTTL:    defaultTTL,
		},
		SMTP: SMTPConfig{
			BindAddr:        viper.GetString("smtp.bind_addr"),
			Domain:          viper.GetString("smtp.domain"),
			MaxMessageBytes: viper.GetInt64("smtp.max_message_bytes"),
			MaxConnections:  viper.GetInt("smtp.max_connections"),
			MaxConnRate:     viper.GetInt("smtp.max_conn_rate"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Cleanup: cleanup,
	}

	return cfg, nil
}

// loadCleanupConfig 解析清理任务配置并做合法性兜底。
func loadCleanupConfig() (CleanupConfig, error) {
	baseInterval, err := time.ParseDuration(viper.GetString("cleanup.base_interval"))
	if err != nil {
		return CleanupConfig{}, fmt.Errorf("invalid cleanup.base_interval: %w", err)
	}
	activeInterval, err := time.ParseDuration(viper.GetString("cleanup.active_interval"))
	if err != nil {
		return CleanupConfig{}, fmt.Errorf("invalid cleanup.active_interval: %w", err)
	}
	startDelay, err := time.ParseDuration(viper.GetString("cleanup.start_delay"))
	if err != nil {
		return CleanupConfig{}, fmt.Errorf("invalid cleanup.start_delay: %w", err)
	}
	minDelay, err := time.ParseDuration(viper.GetString("cleanup.min_delay"))
	if err != nil {
		return CleanupConfig{}, fmt.Errorf("invalid cleanup.min_delay: %w", err)
	}
	retryBackoff, err := time.ParseDuration(viper.GetString("cleanup.retry_backoff"))
	if err != nil {
		return CleanupConfig{}, fmt.Errorf("invalid cleanup.retry_backoff: %w", err)
	}

	jitter := viper.GetFloat64("cleanup.jitter")
	if jitter < 0 || jitter >= 1 {
		return CleanupConfig{}, fmt.Errorf("cleanup.jitter must be in [0, 1)")
	}

	// 加速间隔不应超过稳态间隔。
	if activeInterval > baseInterval {
		activeInterval = baseInterval
	}
	// 首次延迟不超过稳态间隔的一半，让进程启动后尽快完成第一轮。
	if startDelay > baseInterval/2 {
		startDelay = baseInterval / 2
	}

	retryAttempts := viper.GetInt("cleanup.retry_attempts")
	if retryAttempts <= 0 {
		retryAttempts = 3
	}

	return CleanupConfig{
		Enabled:        viper.GetBool("cleanup.enabled"),
		Leader:         viper.GetBool("cleanup.leader"),
		BaseInterval:   baseInterval,
		ActiveInterval: activeInterval,
		StartDelay:     startDelay,
		Jitter:         jitter,
		MinDelay:       minDelay,
		RetryAttempts:  retryAttempts,
		RetryBackoff:   retryBackoff,
	}, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//   1. 当前目录的 .env
//   2. 父目录的 .env（用于从子目录运行的情况）
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
