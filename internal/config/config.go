package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	SourceREST     = "rest"
	SourcePostgres = "postgres"

	TransportWebsocket = "ws"
	TransportKafka     = "kafka"
)

type Config struct {
	LogLevel string `mapstructure:"log_level"`

	HTTP struct {
		Addr            string        `mapstructure:"addr"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		JWTSecret       string        `mapstructure:"jwt_secret"`
	} `mapstructure:"http"`

	Backend struct {
		URL     string        `mapstructure:"url"`
		Token   string        `mapstructure:"token"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"backend"`

	Snapshot struct {
		Source      string        `mapstructure:"source"`
		Interval    time.Duration `mapstructure:"interval"`
		PostgresDSN string        `mapstructure:"postgres_dsn"`
	} `mapstructure:"snapshot"`

	Stream struct {
		Transport    string        `mapstructure:"transport"`
		URL          string        `mapstructure:"url"`
		PingInterval time.Duration `mapstructure:"ping_interval"`
		PongWait     time.Duration `mapstructure:"pong_wait"`
		BackoffMin   time.Duration `mapstructure:"backoff_min"`
		BackoffMax   time.Duration `mapstructure:"backoff_max"`
	} `mapstructure:"stream"`

	Kafka struct {
		Brokers     []string `mapstructure:"brokers"`
		Topic       string   `mapstructure:"topic"`
		GroupPrefix string   `mapstructure:"group_prefix"`
	} `mapstructure:"kafka"`

	Redis struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		GuardTTL time.Duration `mapstructure:"guard_ttl"`
	} `mapstructure:"redis"`

	Tracing struct {
		Service     string  `mapstructure:"service"`
		Endpoint    string  `mapstructure:"endpoint"`
		SampleRatio float64 `mapstructure:"sample_ratio"`
	} `mapstructure:"tracing"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 5*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.jwt_secret", "")

	v.SetDefault("backend.url", "http://localhost:3000/api")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.timeout", 5*time.Second)

	v.SetDefault("snapshot.source", SourceREST)
	v.SetDefault("snapshot.interval", 30*time.Second)
	v.SetDefault("snapshot.postgres_dsn", "")

	v.SetDefault("stream.transport", TransportWebsocket)
	v.SetDefault("stream.url", "ws://localhost:3000/ws")
	v.SetDefault("stream.ping_interval", 20*time.Second)
	v.SetDefault("stream.pong_wait", 60*time.Second)
	v.SetDefault("stream.backoff_min", 500*time.Millisecond)
	v.SetDefault("stream.backoff_max", 30*time.Second)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "floor.events")
	v.SetDefault("kafka.group_prefix", "floor-dashboard")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.guard_ttl", 5*time.Second)

	v.SetDefault("tracing.service", "floor-dashboard")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads defaults, then the optional file at path (or ./floor.yaml when
// path is empty), then FLOOR_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FLOOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("floor")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Backend.URL == "" {
		errs = append(errs, errors.New("backend.url is required"))
	}
	if c.HTTP.JWTSecret == "" {
		errs = append(errs, errors.New("http.jwt_secret is required"))
	}
	if c.Snapshot.Interval <= 0 {
		errs = append(errs, errors.New("snapshot.interval must be positive"))
	}

	switch c.Snapshot.Source {
	case SourceREST:
	case SourcePostgres:
		if c.Snapshot.PostgresDSN == "" {
			errs = append(errs, errors.New("snapshot.postgres_dsn is required for the postgres source"))
		}
	default:
		errs = append(errs, fmt.Errorf("snapshot.source %q: want %s or %s", c.Snapshot.Source, SourceREST, SourcePostgres))
	}

	switch c.Stream.Transport {
	case TransportWebsocket:
		if c.Stream.URL == "" {
			errs = append(errs, errors.New("stream.url is required for the websocket transport"))
		}
		if c.Stream.PongWait <= c.Stream.PingInterval {
			errs = append(errs, errors.New("stream.pong_wait must exceed stream.ping_interval"))
		}
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka.brokers and kafka.topic are required for the kafka transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("stream.transport %q: want %s or %s", c.Stream.Transport, TransportWebsocket, TransportKafka))
	}

	if c.Stream.BackoffMin <= 0 || c.Stream.BackoffMax < c.Stream.BackoffMin {
		errs = append(errs, errors.New("stream backoff bounds are invalid"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be within [0, 1]"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
