package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix  = "KAPPA"
	configName = "kappa"
	configType = "toml"
)

// Config keys, shared by flags, environment (KAPPA_<KEY>) and the config file
const (
	KeyAddr              = "addr"
	KeyDBPath            = "db_path"
	KeyEvalURL           = "eval_url"
	KeyEvalTimeout       = "eval_timeout"
	KeyEvalCacheTTL      = "eval_cache_ttl"
	KeyRedisAddr         = "redis_addr"
	KeyRedisPrefix       = "redis_prefix"
	KeyMessagesPerSecond = "messages_per_second"
	KeyMessageBurst      = "message_burst"
	KeyMaxViolations     = "max_violations"
	KeyConnectRate       = "connect_rate"
	KeyConnectBurst      = "connect_burst"
	KeyRetentionInterval = "retention_interval"
	KeyKeepRounds        = "keep_rounds"
	KeyEvaluationMaxAge  = "evaluation_max_age"
	KeySeed              = "seed"
)

type Config struct {
	Addr string
	// Empty disables the history store
	DBPath string

	EvalURL      string
	EvalTimeout  time.Duration
	EvalCacheTTL time.Duration

	// Empty disables the redis mirror
	RedisAddr   string
	RedisPrefix string

	MessagesPerSecond float64
	MessageBurst      int
	MaxViolations     int
	ConnectRate       float64
	ConnectBurst      int

	RetentionInterval time.Duration
	KeepRounds        int
	EvaluationMaxAge  time.Duration

	// 0 seeds the bug engine from the clock
	Seed uint64
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyAddr, ":8000")
	v.SetDefault(KeyDBPath, "./data/kappa.db")
	v.SetDefault(KeyEvalURL, "http://localhost:8060")
	v.SetDefault(KeyEvalTimeout, 10*time.Second)
	v.SetDefault(KeyEvalCacheTTL, 30*time.Second)
	v.SetDefault(KeyRedisAddr, "")
	v.SetDefault(KeyRedisPrefix, "kappa:room:")
	v.SetDefault(KeyMessagesPerSecond, 100.0)
	v.SetDefault(KeyMessageBurst, 200)
	v.SetDefault(KeyMaxViolations, 1000)
	v.SetDefault(KeyConnectRate, 5.0)
	v.SetDefault(KeyConnectBurst, 20)
	v.SetDefault(KeyRetentionInterval, 5*time.Minute)
	v.SetDefault(KeyKeepRounds, 50)
	v.SetDefault(KeyEvaluationMaxAge, 7*24*time.Hour)
	v.SetDefault(KeySeed, 0)
}

// Load resolves the configuration from defaults, an optional TOML file and
// KAPPA_ environment variables, in increasing order of precedence. Flags bound
// to v beforehand win over all of them. An empty file looks for ./kappa.toml
// and carries on without it.
func Load(v *viper.Viper, file string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	cfg := Config{
		Addr:              v.GetString(KeyAddr),
		DBPath:            v.GetString(KeyDBPath),
		EvalURL:           v.GetString(KeyEvalURL),
		EvalTimeout:       v.GetDuration(KeyEvalTimeout),
		EvalCacheTTL:      v.GetDuration(KeyEvalCacheTTL),
		RedisAddr:         v.GetString(KeyRedisAddr),
		RedisPrefix:       v.GetString(KeyRedisPrefix),
		MessagesPerSecond: v.GetFloat64(KeyMessagesPerSecond),
		MessageBurst:      v.GetInt(KeyMessageBurst),
		MaxViolations:     v.GetInt(KeyMaxViolations),
		ConnectRate:       v.GetFloat64(KeyConnectRate),
		ConnectBurst:      v.GetInt(KeyConnectBurst),
		RetentionInterval: v.GetDuration(KeyRetentionInterval),
		KeepRounds:        v.GetInt(KeyKeepRounds),
		EvaluationMaxAge:  v.GetDuration(KeyEvaluationMaxAge),
		Seed:              v.GetUint64(KeySeed),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("addr is empty")
	case c.EvalURL == "":
		return errors.New("eval_url is empty")
	case c.EvalTimeout <= 0:
		return fmt.Errorf("eval_timeout must be positive, got %v", c.EvalTimeout)
	case c.MessagesPerSecond <= 0 || c.MessageBurst <= 0:
		return fmt.Errorf("message rate must be positive, got %v/s burst %d", c.MessagesPerSecond, c.MessageBurst)
	case c.ConnectRate <= 0 || c.ConnectBurst <= 0:
		return fmt.Errorf("connect rate must be positive, got %v/s burst %d", c.ConnectRate, c.ConnectBurst)
	case c.RetentionInterval <= 0:
		return fmt.Errorf("retention_interval must be positive, got %v", c.RetentionInterval)
	case c.KeepRounds < 0:
		return fmt.Errorf("keep_rounds must not be negative, got %d", c.KeepRounds)
	}
	return nil
}
