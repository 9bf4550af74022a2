// Package config 从 config.yaml 与 EDUTRAIL_* 环境变量加载配置
package config

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"edutrail/errors"
	"edutrail/retention"
)

// EnvPrefix 环境变量前缀，嵌套键以下划线连接，如 EDUTRAIL_DATABASE_DSN
const EnvPrefix = "EDUTRAIL"

type Config struct {
	// NodeID snowflake 节点号，多实例部署时各不相同
	NodeID int64 `mapstructure:"node_id"`

	Database      DatabaseConfig     `mapstructure:"database"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Versions      VersionsConfig     `mapstructure:"versions"`
	History       HistoryConfig      `mapstructure:"history"`
	Retention     retention.Policy   `mapstructure:"retention"`
	Revert        RevertConfig       `mapstructure:"revert"`
	Redis         RedisConfig        `mapstructure:"redis"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Digest        DigestConfig       `mapstructure:"digest"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite | pgx
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type VersionsConfig struct {
	Table         string `mapstructure:"table"`
	SequenceTable string `mapstructure:"sequence_table"`

	// SkipUpdateSnapshots updated 版本只保存变更集
	SkipUpdateSnapshots bool `mapstructure:"skip_update_snapshots"`
	DeleteChunk         int  `mapstructure:"delete_chunk"`
}

type HistoryConfig struct {
	WalkLimit int           `mapstructure:"walk_limit"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type RevertConfig struct {
	// Locker none | local | redis
	Locker   string        `mapstructure:"locker"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	LockWait time.Duration `mapstructure:"lock_wait"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NotificationConfig struct {
	// Transport none | sync | nats | redis
	Transport string `mapstructure:"transport"`
	Source    string `mapstructure:"source"`

	NATS struct {
		URL           string        `mapstructure:"url"`
		Stream        string        `mapstructure:"stream"`
		SubjectPrefix string        `mapstructure:"subject_prefix"`
		MaxAge        time.Duration `mapstructure:"max_age"`
	} `mapstructure:"nats"`

	RedisStreams struct {
		StreamPrefix string `mapstructure:"stream_prefix"`
		MaxLen       int64  `mapstructure:"max_len"`
	} `mapstructure:"redis_streams"`
}

type DigestConfig struct {
	Limit int `mapstructure:"limit"`
}

type MetricsConfig struct {
	// Addr 为空时不暴露 /metrics
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	policy := retention.DefaultPolicy()

	v.SetDefault("node_id", 0)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "edutrail.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 10*time.Minute)

	v.SetDefault("logging.level", "info")

	v.SetDefault("versions.table", "versions")
	v.SetDefault("versions.sequence_table", "version_sequences")
	v.SetDefault("versions.skip_update_snapshots", false)
	v.SetDefault("versions.delete_chunk", 500)

	v.SetDefault("history.walk_limit", 1000)
	v.SetDefault("history.cache_size", 1024)
	v.SetDefault("history.cache_ttl", 10*time.Minute)

	v.SetDefault("retention.max_age", policy.MaxAge)
	v.SetDefault("retention.max_per_entity", policy.MaxPerEntity)
	v.SetDefault("retention.batch_size", policy.BatchSize)
	v.SetDefault("retention.pair_batch_size", policy.PairBatchSize)
	v.SetDefault("retention.interval", policy.Interval)
	v.SetDefault("retention.dry_run", false)

	v.SetDefault("revert.locker", "none")
	v.SetDefault("revert.lock_ttl", 30*time.Second)
	v.SetDefault("revert.lock_wait", 5*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("notifications.transport", "none")
	v.SetDefault("notifications.source", "edutrail")
	v.SetDefault("notifications.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("notifications.nats.stream", "EDUTRAIL")
	v.SetDefault("notifications.nats.subject_prefix", "edutrail.")
	v.SetDefault("notifications.nats.max_age", 7*24*time.Hour)
	v.SetDefault("notifications.redis_streams.stream_prefix", "edutrail:")
	v.SetDefault("notifications.redis_streams.max_len", 100000)

	v.SetDefault("digest.limit", 1000)
	v.SetDefault("metrics.addr", "")
}

// Load 读取配置。path 为空时在当前目录查找 config.yaml，找不到则只用默认值与环境变量；
// path 非空时文件必须存在。
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !stderrors.As(err, &notFound) {
			return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "读取配置文件失败")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "解析配置失败")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查取值范围与枚举
func (c *Config) Validate() error {
	var problems []string
	if c.NodeID < 0 || c.NodeID > 1023 {
		problems = append(problems, "node_id 取值范围 0-1023")
	}
	switch c.Database.Driver {
	case "sqlite", "pgx":
	default:
		problems = append(problems, fmt.Sprintf("database.driver 不支持 %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		problems = append(problems, "database.dsn 不能为空")
	}
	if c.Retention.MaxAge < 0 || c.Retention.MaxPerEntity < 0 {
		problems = append(problems, "retention.max_age 与 retention.max_per_entity 不能为负")
	}
	if c.Retention.BatchSize <= 0 || c.Retention.PairBatchSize <= 0 {
		problems = append(problems, "retention 批大小必须为正")
	}
	switch c.Revert.Locker {
	case "none", "local", "redis":
	default:
		problems = append(problems, fmt.Sprintf("revert.locker 不支持 %q", c.Revert.Locker))
	}
	switch c.Notifications.Transport {
	case "none", "sync", "nats", "redis":
	default:
		problems = append(problems, fmt.Sprintf("notifications.transport 不支持 %q", c.Notifications.Transport))
	}
	if len(problems) > 0 {
		return errors.NewError(errors.ErrCodeInvalidInput, "配置无效："+strings.Join(problems, "；")).
			WithContext("problems", problems)
	}
	return nil
}

// NeedsRedis 是否有组件使用 Redis
func (c *Config) NeedsRedis() bool {
	return c.Revert.Locker == "redis" || c.Notifications.Transport == "redis"
}
