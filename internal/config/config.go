package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig PostgreSQL 配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// HealthCheckConfig 健康检查窗口与舰队故障策略
type HealthCheckConfig struct {
	// 桥心跳过期窗口（分钟），请求可覆盖，clamp 到 [1,60]
	BridgeStaleMin int
	// 设备过期窗口（分钟），请求可覆盖，clamp 到 [1,1440]
	DeviceStaleMin int
	// 被监控的设备编码前缀（4 大写字母）
	DeviceCodePrefix string
	// 故障判定：离线数阈值 / 离线比例阈值
	OutageMinOffline  int
	OutageOfflineRate float64
}

// CacheConfig 聚合缓存配置
type CacheConfig struct {
	TTL time.Duration // clamp [0,300]s，默认 45s
}

// AuthConfig 接口鉴权（共享密钥，用户体系在本服务范围之外）
type AuthConfig struct {
	BridgeSecret   string // 桥心跳/健康检查共享密钥
	SchedulerToken string // 调度器 bearer token（仅健康检查）
	AdminToken     string // 管理端 bearer token（fleet overview / export）
}

// MQTTConfig 可选的 MQTT 心跳接入
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// WebhookConfig 可选的 fleet 故障事件 webhook
type WebhookConfig struct {
	OutageURL string // 为空则禁用
	Timeout   time.Duration
}

// Config kittypau-fleet（HTTP API）配置
type Config struct {
	HTTP struct {
		Addr string
	}
	Database    DatabaseConfig
	Redis       struct {
		Addr     string
		Password string
		DB       int
	}
	Log struct {
		Level  string
		Format string
	}
	HealthCheck HealthCheckConfig
	Cache       CacheConfig
	Auth        AuthConfig
	MQTT        MQTTConfig
	Webhook     WebhookConfig
	DedupWindow time.Duration // 审计去重默认窗口，clamp 到 [1,300]s
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "kittypau")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.HealthCheck.BridgeStaleMin = ClampBridgeStaleMin(parseInt(getEnv("BRIDGE_STALE_MIN", "10"), 10))
	cfg.HealthCheck.DeviceStaleMin = ClampDeviceStaleMin(parseInt(getEnv("DEVICE_STALE_MIN", "30"), 30))
	cfg.HealthCheck.DeviceCodePrefix = getEnv("DEVICE_CODE_PREFIX", "BOWL")
	cfg.HealthCheck.OutageMinOffline = parseInt(getEnv("OUTAGE_MIN_OFFLINE", "3"), 3)
	cfg.HealthCheck.OutageOfflineRate = parseFloat(getEnv("OUTAGE_OFFLINE_RATE", "0.6"), 0.6)

	cfg.Cache.TTL = time.Duration(ClampCacheTTLSec(parseInt(getEnv("OVERVIEW_CACHE_TTL_SEC", "45"), 45))) * time.Second
	cfg.DedupWindow = time.Duration(ClampDedupWindowSec(parseInt(getEnv("AUDIT_DEDUP_WINDOW_SEC", "30"), 30))) * time.Second

	cfg.Auth.BridgeSecret = getEnv("BRIDGE_SHARED_SECRET", "")
	cfg.Auth.SchedulerToken = getEnv("SCHEDULER_TOKEN", "")
	cfg.Auth.AdminToken = getEnv("ADMIN_TOKEN", "")

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "kittypau-fleet")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "kittypau/bridge/+/heartbeat")
	cfg.MQTT.QoS = 1

	cfg.Webhook.OutageURL = getEnv("OUTAGE_WEBHOOK_URL", "")
	cfg.Webhook.Timeout = time.Duration(parseInt(getEnv("OUTAGE_WEBHOOK_TIMEOUT_SEC", "5"), 5)) * time.Second

	return cfg
}

// ClampBridgeStaleMin 桥窗口 clamp 到 [1,60] 分钟
func ClampBridgeStaleMin(min int) int {
	return clampInt(min, 1, 60)
}

// ClampDeviceStaleMin 设备窗口 clamp 到 [1,1440] 分钟
func ClampDeviceStaleMin(min int) int {
	return clampInt(min, 1, 1440)
}

// ClampCacheTTLSec 缓存 TTL clamp 到 [0,300] 秒
func ClampCacheTTLSec(sec int) int {
	return clampInt(sec, 0, 300)
}

// ClampDedupWindowSec 去重窗口 clamp 到 [1,300] 秒
func ClampDedupWindowSec(sec int) int {
	return clampInt(sec, 1, 300)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseFloat(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}
