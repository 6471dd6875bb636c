package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"` // grpc | http
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Path           string `mapstructure:"PATH"` // sqlite only
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	Vault struct {
		Addr  string `mapstructure:"ADDR"`
		Token string `mapstructure:"TOKEN"`
		Mount string `mapstructure:"MOUNT"`
	} `mapstructure:"VAULT"`
	SnowflakeNode int64 `mapstructure:"SNOWFLAKE_NODE"`
	Scheduler     struct {
		Enabled      bool          `mapstructure:"ENABLED"`
		PollInterval time.Duration `mapstructure:"POLL_INTERVAL"`
		ClaimGrace   time.Duration `mapstructure:"CLAIM_GRACE"`
	} `mapstructure:"SCHEDULER"`
	Executor struct {
		MaxConcurrency        int64         `mapstructure:"MAX_CONCURRENCY"`
		DefaultCommandTimeout time.Duration `mapstructure:"DEFAULT_COMMAND_TIMEOUT"`
		OutputLimit           int           `mapstructure:"OUTPUT_LIMIT"`
	} `mapstructure:"EXECUTOR"`
	SSH struct {
		DefaultUser string        `mapstructure:"DEFAULT_USER"`
		DefaultPort int           `mapstructure:"DEFAULT_PORT"`
		DialTimeout time.Duration `mapstructure:"DIAL_TIMEOUT"`
		KnownHosts  string        `mapstructure:"KNOWN_HOSTS"`
		SecretsDir  string        `mapstructure:"SECRETS_DIR"`
	} `mapstructure:"SSH"`
	Notification struct {
		Async        bool          `mapstructure:"ASYNC"`
		SendTimeout  time.Duration `mapstructure:"SEND_TIMEOUT"`
		OutputLimit  int           `mapstructure:"OUTPUT_LIMIT"`
		WebhookRate  float64       `mapstructure:"WEBHOOK_RATE"`
		WebhookBurst int           `mapstructure:"WEBHOOK_BURST"`
	} `mapstructure:"NOTIFICATION"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "fleetops-controlplane")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("VAULT.MOUNT", "secret")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.PATH", "fleetops.db")
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 10*time.Minute)
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)
	v.SetDefault("SNOWFLAKE_NODE", 1)
	v.SetDefault("SCHEDULER.ENABLED", true)
	v.SetDefault("SCHEDULER.POLL_INTERVAL", 15*time.Second)
	v.SetDefault("SCHEDULER.CLAIM_GRACE", 10*time.Minute)
	v.SetDefault("EXECUTOR.MAX_CONCURRENCY", 16)
	v.SetDefault("EXECUTOR.DEFAULT_COMMAND_TIMEOUT", 5*time.Minute)
	v.SetDefault("EXECUTOR.OUTPUT_LIMIT", 64*1024)
	v.SetDefault("SSH.DEFAULT_USER", "root")
	v.SetDefault("SSH.DEFAULT_PORT", 22)
	v.SetDefault("SSH.DIAL_TIMEOUT", 10*time.Second)
	v.SetDefault("NOTIFICATION.ASYNC", true)
	v.SetDefault("NOTIFICATION.SEND_TIMEOUT", 10*time.Second)
	v.SetDefault("NOTIFICATION.OUTPUT_LIMIT", 1000)
	v.SetDefault("NOTIFICATION.WEBHOOK_RATE", 1.0)
	v.SetDefault("NOTIFICATION.WEBHOOK_BURST", 5)
}

// Load reads config.yaml from the working directory, when present, and
// overlays environment variables (dots become underscores). A .env file in
// the working directory seeds variables that are not already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadConfig() *Config {
	cfg, err := Load()
	if err != nil {
		zap.L().Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}
	return cfg
}
