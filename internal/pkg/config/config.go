package config

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Database DatabaseConfig  `mapstructure:"database"`
	Redis    RedisConfig     `mapstructure:"redis"`
	JWT      JWTConfig       `mapstructure:"jwt"`
	App      AppConfig       `mapstructure:"app"`
	Push     PushConfig      `mapstructure:"push"`
	Mail     MailConfig      `mapstructure:"mail"`
	Alipay   AlipayConfig    `mapstructure:"alipay"`
	Wechat   WechatPayConfig `mapstructure:"wechat"`
	Payment  PaymentConfig   `mapstructure:"payment"`
	Sweeper  SweeperConfig   `mapstructure:"sweeper"`
	Lock     LockConfig      `mapstructure:"lock"`
	Worker   WorkerConfig    `mapstructure:"worker"`
}

type ServerConfig struct {
	Port         string   `mapstructure:"port"`
	Mode         string   `mapstructure:"mode"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int64  `mapstructure:"expire"` // 小时
}

type AppConfig struct {
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`
}

type PushConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	AppKey          int64  `mapstructure:"app_key"`
	RegionID        string `mapstructure:"region_id"` // e.g., "cn-hangzhou"
}

// MailConfig 支付成功邮件的 SMTP 配置，Host 为空时不发送邮件
type MailConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type AlipayConfig struct {
	AppID        string `mapstructure:"app_id"`
	PrivateKey   string `mapstructure:"private_key"`   // 应用私钥
	PublicKey    string `mapstructure:"public_key"`    // 支付宝公钥 (不是应用公钥)
	NotifyURL    string `mapstructure:"notify_url"`    // 异步通知地址
	IsProduction bool   `mapstructure:"is_production"` // 是否生产环境
}

type WechatPayConfig struct {
	AppID                string `mapstructure:"app_id"`
	MchID                string `mapstructure:"mch_id"`
	MchCertificateSerial string `mapstructure:"mch_cert_serial"`
	MchPrivateKey        string `mapstructure:"mch_private_key"` // 私钥文件路径
	APIv3Key             string `mapstructure:"apiv3_key"`
	NotifyURL            string `mapstructure:"notify_url"`
}

// PaymentConfig 订单与网关调用参数
type PaymentConfig struct {
	OrderPrefix    string        `mapstructure:"order_prefix"`
	OrderTTL       time.Duration `mapstructure:"order_ttl"`       // 订单有效期，默认 5 分钟
	GatewayTimeout time.Duration `mapstructure:"gateway_timeout"` // 单次网关调用超时
	StatusCacheTTL time.Duration `mapstructure:"status_cache_ttl"`
	NotifyTimeout  time.Duration `mapstructure:"notify_timeout"` // 支付成功通知（邮件/推送）超时
}

// SweeperConfig 超时订单扫描任务
type SweeperConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
}

// LockConfig 分布式锁，backend 可选 redis / local
type LockConfig struct {
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	WaitTimeout   time.Duration `mapstructure:"wait_timeout"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// WorkerConfig 结算补偿重试队列
type WorkerConfig struct {
	Workers    int           `mapstructure:"workers"`
	QueueSize  int           `mapstructure:"queue_size"`
	MaxRetry   int           `mapstructure:"max_retry"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

var GlobalConfig Config

// Validate 验证配置
func (c *Config) Validate() error {
	// JWT 配置验证
	if c.JWT.Secret == "" || c.JWT.Secret == "your_super_secret_key" {
		return errors.New("please set a secure JWT secret in production")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT secret should be at least 32 characters")
	}

	// 数据库配置验证
	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return errors.New("database configuration is incomplete")
	}

	if c.Lock.Backend != "local" && c.Redis.Addr == "" {
		return errors.New("redis address is required")
	}
	if c.Lock.Backend != "redis" && c.Lock.Backend != "local" {
		return errors.New("lock backend must be redis or local")
	}

	// 订单有效期必须为正，且网关超时不能超过有效期，否则本地与网关侧过期时间会失配
	if c.Payment.OrderTTL <= 0 {
		return errors.New("payment.order_ttl must be positive")
	}
	if c.Payment.GatewayTimeout <= 0 || c.Payment.GatewayTimeout >= c.Payment.OrderTTL {
		return errors.New("payment.gateway_timeout must be positive and shorter than payment.order_ttl")
	}
	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		return errors.New("sweeper.interval must be positive")
	}

	return nil
}

// SetDefaults 设置默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "Asia/Shanghai")
	v.SetDefault("jwt.expire", 24)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.debug", true)

	v.SetDefault("mail.port", 465)
	v.SetDefault("mail.timeout", "10s")

	v.SetDefault("payment.order_prefix", "order_")
	v.SetDefault("payment.order_ttl", "5m")
	v.SetDefault("payment.gateway_timeout", "10s")
	v.SetDefault("payment.status_cache_ttl", "30s")
	v.SetDefault("payment.notify_timeout", "15s")

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", "1m")
	v.SetDefault("sweeper.batch_size", 100)
	v.SetDefault("sweeper.concurrency", 4)

	v.SetDefault("lock.backend", "redis")
	v.SetDefault("lock.ttl", "30s")
	v.SetDefault("lock.wait_timeout", "5s")
	v.SetDefault("lock.retry_interval", "50ms")

	v.SetDefault("worker.workers", 2)
	v.SetDefault("worker.queue_size", 256)
	v.SetDefault("worker.max_retry", 5)
	v.SetDefault("worker.retry_delay", "2s")
}

// LoadConfig 加载配置
func LoadConfig() {
	// .env 仅用于本地开发，不存在时忽略
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	// 获取环境变量，默认为dev
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 根据环境选择配置文件
	configName := "config"
	if env != "dev" {
		configName = "config." + env
	}

	viper.SetConfigName(configName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Config file not found, using defaults or env vars: %v", err)
	}

	// 绑定环境变量
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&GlobalConfig); err != nil {
		log.Fatalf("Unable to decode into struct: %v", err)
	}

	// 手动覆盖，以防 viper 无法正确解析复杂结构或环境变量
	if host := os.Getenv("DB_HOST"); host != "" {
		GlobalConfig.Database.Host = host
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		GlobalConfig.Redis.Addr = redisAddr
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		GlobalConfig.JWT.Secret = jwtSecret
	}
	if key := os.Getenv("WECHAT_APIV3_KEY"); key != "" {
		GlobalConfig.Wechat.APIv3Key = key
	}

	// 验证配置
	if err := GlobalConfig.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	log.Printf("Configuration loaded and validated successfully. Environment: %s", GlobalConfig.App.Env)
}
