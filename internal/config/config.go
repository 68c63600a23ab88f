package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig        `yaml:"server" envPrefix:"SERVER_"`
	Database     DatabaseConfig      `yaml:"database" envPrefix:"DATABASE_"`
	Redis        RedisConfig         `yaml:"redis" envPrefix:"REDIS_"`
	JWT          JWTConfig           `yaml:"jwt" envPrefix:"JWT_"`
	Log          LogConfig           `yaml:"log" envPrefix:"LOG_"`
	Email        EmailConfig         `yaml:"email" envPrefix:"EMAIL_"`
	Security     SecurityConfig      `yaml:"security" envPrefix:"SECURITY_"`
	Vault        VaultConfig         `yaml:"vault" envPrefix:"VAULT_"`
	OAuth        OAuthConfig         `yaml:"oauth" envPrefix:"OAUTH_"`
	Webhook      WebhookConfig       `yaml:"webhook" envPrefix:"WEBHOOK_"`
	Health       HealthConfig        `yaml:"health" envPrefix:"HEALTH_"`
	GDPR         GDPRConfig          `yaml:"gdpr" envPrefix:"GDPR_"`
	Integrations []IntegrationConfig `yaml:"integrations"`
}

type ServerConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`
	Mode string `yaml:"mode" env:"MODE"`
	// 面向浏览器的控制台地址，OAuth 回调完成后跳转到这里
	ConsoleURL string    `yaml:"console_url" env:"CONSOLE_URL"`
	TLS        TLSConfig `yaml:"tls" envPrefix:"TLS_"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	CertFile string `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver" env:"DRIVER"` // mysql | sqlite
	Host         string `yaml:"host" env:"HOST"`
	Port         int    `yaml:"port" env:"PORT"`
	Username     string `yaml:"username" env:"USERNAME"`
	Password     string `yaml:"password" env:"PASSWORD"`
	Database     string `yaml:"database" env:"NAME"`
	Charset      string `yaml:"charset" env:"CHARSET"`
	Path         string `yaml:"path" env:"PATH"` // sqlite 文件路径
	MaxIdleConns int    `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
}

func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.Charset)
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret      string `yaml:"secret" env:"SECRET"`
	ExpireHours int    `yaml:"expire_hours" env:"EXPIRE_HOURS"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	File   string `yaml:"file" env:"FILE"`
	Format string `yaml:"format" env:"FORMAT"` // json | console
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Provider string `yaml:"provider" env:"PROVIDER"` // smtp | mailgun
	SMTPHost string `yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort int    `yaml:"smtp_port" env:"SMTP_PORT"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
	From     string `yaml:"from" env:"FROM"`

	MailgunDomain string `yaml:"mailgun_domain" env:"MAILGUN_DOMAIN"`
	MailgunAPIKey string `yaml:"mailgun_api_key" env:"MAILGUN_API_KEY"`
}

type SecurityConfig struct {
	// 登录安全
	MaxLoginAttempts int `yaml:"max_login_attempts" env:"MAX_LOGIN_ATTEMPTS"`
	LoginLockMinutes int `yaml:"login_lock_minutes" env:"LOGIN_LOCK_MINUTES"`
	IPMaxAttempts    int `yaml:"ip_max_attempts" env:"IP_MAX_ATTEMPTS"`
	IPLockMinutes    int `yaml:"ip_lock_minutes" env:"IP_LOCK_MINUTES"`

	PasswordMinLength int `yaml:"password_min_length" env:"PASSWORD_MIN_LENGTH"`

	// 速率限制（每秒请求数 / 突发）
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	EnableSecurityHeaders bool     `yaml:"enable_security_headers" env:"ENABLE_SECURITY_HEADERS"`
	AllowedOrigins        []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// VaultConfig 凭证加密
type VaultConfig struct {
	// 32 字节主密钥的 hex 编码，连接凭证与 OAuth 客户端密钥都用它派生的密钥加密
	MasterKey string `yaml:"master_key" env:"MASTER_KEY"`
}

type OAuthConfig struct {
	// 第三方回调地址的基础部分，例如 https://console.example.com
	CallbackBaseURL string `yaml:"callback_base_url" env:"CALLBACK_BASE_URL"`
	StateTTLMinutes int    `yaml:"state_ttl_minutes" env:"STATE_TTL_MINUTES"`
}

type WebhookConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
	UserAgent      string `yaml:"user_agent" env:"USER_AGENT"`
	// 投递记录保留天数
	RetentionDays int `yaml:"retention_days" env:"RETENTION_DAYS"`
}

type HealthConfig struct {
	PollInterval string `yaml:"poll_interval" env:"POLL_INTERVAL"`
	WindowHours  int    `yaml:"window_hours" env:"WINDOW_HOURS"`
}

// Interval 解析轮询间隔，格式错误时回落到 30s
func (h HealthConfig) Interval() time.Duration {
	d, err := time.ParseDuration(h.PollInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type GDPRConfig struct {
	GraceDays int `yaml:"grace_days" env:"GRACE_DAYS"`
}

// IntegrationConfig 系统级 OAuth 应用的初始配置
type IntegrationConfig struct {
	ID           string   `yaml:"id"`
	Enabled      bool     `yaml:"enabled"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	RevokeURL    string   `yaml:"revoke_url"`
	Scopes       []string `yaml:"scopes"`
}

var globalConfig *Config

// Load 读取配置：.env -> yaml -> ICONSOLE_* 环境变量
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// 允许完全使用环境变量
	default:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "ICONSOLE_"}); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	// 设置默认值
	setDefaults(&cfg)

	// 安全检查
	if err := validateSecurity(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

func Get() *Config {
	return globalConfig
}

// Set 直接设置全局配置（测试与嵌入场景）
func Set(cfg *Config) {
	setDefaults(cfg)
	globalConfig = cfg
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "mysql"
	}
	if cfg.Database.Charset == "" {
		cfg.Database.Charset = "utf8mb4"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/console.db"
	}
	if cfg.JWT.ExpireHours == 0 {
		cfg.JWT.ExpireHours = 24
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Email.Provider == "" {
		cfg.Email.Provider = "smtp"
	}

	// 安全配置默认值
	if cfg.Security.MaxLoginAttempts == 0 {
		cfg.Security.MaxLoginAttempts = 5
	}
	if cfg.Security.LoginLockMinutes == 0 {
		cfg.Security.LoginLockMinutes = 15
	}
	if cfg.Security.IPMaxAttempts == 0 {
		cfg.Security.IPMaxAttempts = 20
	}
	if cfg.Security.IPLockMinutes == 0 {
		cfg.Security.IPLockMinutes = 30
	}
	if cfg.Security.PasswordMinLength == 0 {
		cfg.Security.PasswordMinLength = 8
	}
	if cfg.Security.RateLimitRPS == 0 {
		cfg.Security.RateLimitRPS = 5
	}
	if cfg.Security.RateLimitBurst == 0 {
		cfg.Security.RateLimitBurst = 20
	}

	if cfg.OAuth.StateTTLMinutes == 0 {
		cfg.OAuth.StateTTLMinutes = 10
	}
	if cfg.Webhook.TimeoutSeconds == 0 {
		cfg.Webhook.TimeoutSeconds = 10
	}
	if cfg.Webhook.UserAgent == "" {
		cfg.Webhook.UserAgent = "integration-console-webhook/1.0"
	}
	if cfg.Webhook.RetentionDays == 0 {
		cfg.Webhook.RetentionDays = 30
	}
	if cfg.Health.PollInterval == "" {
		cfg.Health.PollInterval = "30s"
	}
	if cfg.Health.WindowHours == 0 {
		cfg.Health.WindowHours = 24
	}
	if cfg.GDPR.GraceDays == 0 {
		cfg.GDPR.GraceDays = 30
	}
}

// validateSecurity 验证安全配置
func validateSecurity(cfg *Config) error {
	release := cfg.Server.Mode == "release"

	if cfg.JWT.Secret == "" || cfg.JWT.Secret == "your-jwt-secret-key-change-in-production" {
		if release {
			return fmt.Errorf("生产环境必须设置安全的 JWT Secret")
		}
		// 开发环境自动生成随机密钥
		cfg.JWT.Secret = generateRandomSecret(32)
		fmt.Println("[WARNING] 使用自动生成的 JWT Secret，请在生产环境配置安全的密钥")
	}
	if len(cfg.JWT.Secret) < 32 {
		if release {
			return fmt.Errorf("JWT Secret 长度至少需要 32 个字符")
		}
		fmt.Println("[WARNING] JWT Secret 长度建议至少 32 个字符")
	}

	if cfg.Vault.MasterKey == "" {
		if release {
			return fmt.Errorf("生产环境必须配置 vault.master_key")
		}
		cfg.Vault.MasterKey = generateRandomSecret(32)
		fmt.Println("[WARNING] 使用自动生成的凭证主密钥，重启后已保存的连接凭证将无法解密")
	}
	if key, err := hex.DecodeString(cfg.Vault.MasterKey); err != nil || len(key) != 32 {
		return fmt.Errorf("vault.master_key 必须是 64 位十六进制字符串")
	}

	return nil
}

// generateRandomSecret 生成随机密钥
func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
