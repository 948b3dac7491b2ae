// Package config loads server settings from an optional file and
// STOCKBOOK_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "STOCKBOOK"

type Config struct {
	GRPC      GRPC      `mapstructure:"grpc"`
	HTTP      HTTP      `mapstructure:"http"`
	Match     Interval  `mapstructure:"match"`
	Epoch     Interval  `mapstructure:"epoch"`
	Arena     Arena     `mapstructure:"arena"`
	Retire    Retire    `mapstructure:"retire"`
	Outbox    Outbox    `mapstructure:"outbox"`
	Broadcast Broadcast `mapstructure:"broadcast"`
	Log       Log       `mapstructure:"log"`
	Simulator Simulator `mapstructure:"simulator"`
}

type GRPC struct {
	Addr string `mapstructure:"addr"`
}

type HTTP struct {
	Addr string `mapstructure:"addr"`
}

type Interval struct {
	Interval time.Duration `mapstructure:"interval"`
}

type Arena struct {
	Capacity uint64 `mapstructure:"capacity"`
}

type Retire struct {
	// Capacity must be a power of two.
	Capacity uint64 `mapstructure:"capacity"`
}

type Outbox struct {
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

type Broadcast struct {
	Enabled  bool          `mapstructure:"enabled"`
	Client   string        `mapstructure:"client"` // kafka-go or sarama
	Brokers  []string      `mapstructure:"brokers"`
	Topic    string        `mapstructure:"topic"`
	Interval time.Duration `mapstructure:"interval"`
	Encoding string        `mapstructure:"encoding"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type Simulator struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"` // orders per second, 0 means unpaced
	Workers int     `mapstructure:"workers"`
	Orders  int     `mapstructure:"orders"`
}

var (
	ErrUnknownClient = errors.New("unknown broadcast client")
	ErrRetireSize    = errors.New("retire capacity must be a power of two")
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("grpc.addr", ":50051")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("match.interval", 100*time.Millisecond)
	v.SetDefault("epoch.interval", time.Second)
	v.SetDefault("arena.capacity", 1<<20)
	v.SetDefault("retire.capacity", 1<<16)
	v.SetDefault("outbox.dir", "./data/outbox")
	v.SetDefault("outbox.in_memory", false)
	v.SetDefault("broadcast.enabled", false)
	v.SetDefault("broadcast.client", "kafka-go")
	v.SetDefault("broadcast.brokers", []string{"localhost:9092"})
	v.SetDefault("broadcast.topic", "executions")
	v.SetDefault("broadcast.interval", 250*time.Millisecond)
	v.SetDefault("broadcast.encoding", "proto")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("simulator.enabled", false)
	v.SetDefault("simulator.rate", 1000.0)
	v.SetDefault("simulator.workers", 4)
	v.SetDefault("simulator.orders", 100000)
}

// Load reads path when it is not empty, then applies environment
// overrides such as STOCKBOOK_GRPC_ADDR.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Broadcast.Client {
	case "kafka-go", "sarama":
	default:
		return errors.Wrapf(ErrUnknownClient, "%q", c.Broadcast.Client)
	}
	if n := c.Retire.Capacity; n == 0 || n&(n-1) != 0 {
		return errors.Wrapf(ErrRetireSize, "got %d", n)
	}
	return nil
}
