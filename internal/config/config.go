// Package config 配置
package config

import (
	"strconv"
	"time"

	pkgconfig "github.com/copytrade/mirror/pkg/config"
)

// Config 服务配置
type Config struct {
	ServiceName string
	HTTPPort    int

	// PostgreSQL
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisAddr     string
	RedisPassword string

	// 跟单事件推送频道模板
	FollowerEventChannel string

	// 交易所
	VenueBaseURL string
	VenueTimeout time.Duration

	// 执行策略
	DryRun         bool
	MaxRetries     int
	RetryBaseDelay time.Duration
	MinAPIInterval time.Duration

	// 凭证主密钥
	CredentialKey string

	// 钱包余额轮询
	WalletPollInterval time.Duration

	WorkerID int64
}

// Load 加载配置
func Load() *Config {
	return &Config{
		ServiceName: pkgconfig.GetEnv("SERVICE_NAME", "mirror-core"),
		HTTPPort:    pkgconfig.GetEnvInt("HTTP_PORT", 8086),

		DBHost:     pkgconfig.GetEnv("DB_HOST", "localhost"),
		DBPort:     pkgconfig.GetEnvInt("DB_PORT", 5436),
		DBUser:     pkgconfig.GetEnv("DB_USER", "copytrade"),
		DBPassword: pkgconfig.GetEnv("DB_PASSWORD", "copytrade123"),
		DBName:     pkgconfig.GetEnv("DB_NAME", "copytrade"),

		RedisAddr:     pkgconfig.GetEnv("REDIS_ADDR", "localhost:6380"),
		RedisPassword: pkgconfig.GetEnv("REDIS_PASSWORD", ""),

		FollowerEventChannel: pkgconfig.GetEnv("FOLLOWER_EVENT_CHANNEL", "private:follower:{followerId}:events"),

		VenueBaseURL: pkgconfig.GetEnv("VENUE_BASE_URL", "http://localhost:9090"),
		VenueTimeout: pkgconfig.GetEnvDuration("VENUE_TIMEOUT", 10*time.Second),

		DryRun:         pkgconfig.GetEnvBool("DRY_RUN", false),
		MaxRetries:     pkgconfig.GetEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay: pkgconfig.GetEnvDuration("RETRY_BASE_DELAY", time.Second),
		MinAPIInterval: pkgconfig.GetEnvDuration("MIN_API_INTERVAL", 2*time.Second),

		CredentialKey: pkgconfig.GetEnv("CRED_KEY", ""),

		WalletPollInterval: pkgconfig.GetEnvDuration("WALLET_POLL_INTERVAL", 5*time.Minute),

		WorkerID: pkgconfig.GetEnvInt64("WORKER_ID", 1),
	}
}

// DSN 返回数据库连接字符串
func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" port=" + strconv.Itoa(c.DBPort) +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" sslmode=disable"
}
