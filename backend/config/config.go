package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AuthModeLocal  = "local"
	AuthModeRemote = "remote"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Mysql struct {
		DSN   string `mapstructure:"dsn"`
		Debug bool   `mapstructure:"debug"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers         []string `mapstructure:"brokers"`
		ClientID        string   `mapstructure:"clientId"`
		OperationsTopic string   `mapstructure:"operationsTopic"`
		EventsTopic     string   `mapstructure:"eventsTopic"`
		GroupID         string   `mapstructure:"groupId"`
	} `mapstructure:"kafka"`
	Auth struct {
		Mode   string `mapstructure:"mode"`
		Secret string `mapstructure:"secret"`
		Path   string `mapstructure:"path"`
	} `mapstructure:"auth"`
	Session struct {
		IdleTTL            time.Duration `mapstructure:"idleTTL"`
		SweepInterval      time.Duration `mapstructure:"sweepInterval"`
		PendingOpsCap      int           `mapstructure:"pendingOpsCap"`
		LoadTimeout        time.Duration `mapstructure:"loadTimeout"`
		MaxConcurrentLoads int           `mapstructure:"maxConcurrentLoads"`
	} `mapstructure:"session"`
	Dispatcher struct {
		QueueSize   int           `mapstructure:"queueSize"`
		Workers     int           `mapstructure:"workers"`
		SendTimeout time.Duration `mapstructure:"sendTimeout"`
	} `mapstructure:"dispatcher"`
	Presence struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"presence"`
	CORS struct {
		AllowedOrigins []string `mapstructure:"allowedOrigins"`
	} `mapstructure:"cors"`
	Log struct {
		Level  string `mapstructure:"level"`
		Pretty bool   `mapstructure:"pretty"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 3002)
	v.SetDefault("mysql.dsn", "root:root@tcp(127.0.0.1:3306)/neodocs?charset=utf8mb4&parseTime=true&loc=Local")
	v.SetDefault("mysql.debug", false)
	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("redis.password", "")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.clientId", "neodocs-app")
	v.SetDefault("kafka.operationsTopic", "document-operations")
	v.SetDefault("kafka.eventsTopic", "document-events")
	v.SetDefault("kafka.groupId", "document-processor")
	v.SetDefault("auth.mode", AuthModeLocal)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.path", "http://127.0.0.1:8081")
	v.SetDefault("session.idleTTL", 5*time.Minute)
	v.SetDefault("session.sweepInterval", time.Minute)
	v.SetDefault("session.pendingOpsCap", 1024)
	v.SetDefault("session.loadTimeout", 2*time.Second)
	v.SetDefault("session.maxConcurrentLoads", 100)
	v.SetDefault("dispatcher.queueSize", 10_000)
	v.SetDefault("dispatcher.workers", 4)
	v.SetDefault("dispatcher.sendTimeout", 5*time.Second)
	v.SetDefault("presence.ttl", 10*time.Minute)
	v.SetDefault("cors.allowedOrigins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads collabConfig.yaml from the first of paths that has one, then
// applies NEODOCS_* environment overrides. A missing file is not an error.
// With no paths it looks where the binaries are usually started from.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		paths = []string{"./backend/config", "./config", "."}
	}
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("NEODOCS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("session.idleTTL must be positive, got %s", c.Session.IdleTTL)
	}
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers must not be empty")
	}
	switch c.Auth.Mode {
	case AuthModeLocal:
		if c.Auth.Secret == "" {
			return errors.New("auth.secret is required in local mode")
		}
	case AuthModeRemote:
		if c.Auth.Path == "" {
			return errors.New("auth.path is required in remote mode")
		}
	default:
		return fmt.Errorf("unknown auth.mode %q", c.Auth.Mode)
	}
	return nil
}
