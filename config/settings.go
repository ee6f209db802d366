package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CALLGUARD_"

type Settings struct {
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server     ServerSettings     `koanf:"server"`
	Postgres   PostgresSettings   `koanf:"postgres"`
	Redis      RedisSettings      `koanf:"redis"`
	Mongo      MongoSettings      `koanf:"mongo"`
	RabbitMQ   RabbitMQSettings   `koanf:"rabbitmq"`
	Auth       AuthSettings       `koanf:"auth"`
	Gateway    GatewaySettings    `koanf:"gateway"`
	Dispatcher DispatcherSettings `koanf:"dispatcher"`
	Stability  StabilitySettings  `koanf:"stability"`
	Scoring    ScoringSettings    `koanf:"scoring"`
	Retention  RetentionSettings  `koanf:"retention"`
}

type ServerSettings struct {
	Port       int `koanf:"port" validate:"gt=0,lte=65535"`
	WorkerPort int `koanf:"worker_port" validate:"gt=0,lte=65535"`
}

type PostgresSettings struct {
	URI             string        `koanf:"uri"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisSettings struct {
	URL string `koanf:"url"`
}

type MongoSettings struct {
	URI string `koanf:"uri"`
	DB  string `koanf:"db"`
}

type RabbitMQSettings struct {
	URL        string `koanf:"url"`
	Exchange   string `koanf:"exchange"`
	RoutingKey string `koanf:"routing_key"`
}

type AuthSettings struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
	Audience  string `koanf:"audience"`
}

type GatewaySettings struct {
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval" validate:"gt=0"`
	WriteTimeout      time.Duration `koanf:"write_timeout" validate:"gt=0"`
	SendBuffer        int           `koanf:"send_buffer" validate:"gt=0"`
	// SessionPolicy is "replace" (new connection evicts the old one) or "reject".
	SessionPolicy string        `koanf:"session_policy" validate:"oneof=replace reject"`
	AlertChannel  string        `koanf:"alert_channel" validate:"required"`
	LevelTTL      time.Duration `koanf:"level_ttl"`
}

type DispatcherSettings struct {
	Stream            string        `koanf:"stream" validate:"required"`
	Group             string        `koanf:"group" validate:"required"`
	NumWorkers        int           `koanf:"num_workers" validate:"gt=0"`
	JobTimeLimit      time.Duration `koanf:"job_time_limit" validate:"gt=0"`
	MaxTasksPerWorker int           `koanf:"max_tasks_per_worker" validate:"gt=0"`
	JobTTL            time.Duration `koanf:"job_ttl"`
}

type StabilitySettings struct {
	WindowSize     int           `koanf:"window_size" validate:"gt=0"`
	AlarmThreshold int           `koanf:"alarm_threshold"`
	SafeThreshold  int           `koanf:"safe_threshold"`
	TTL            time.Duration `koanf:"ttl"`
}

type ScoringSettings struct {
	Endpoint    string        `koanf:"endpoint"`
	Timeout     time.Duration `koanf:"timeout"`
	RateLimit   float64       `koanf:"rate_limit"`
	Burst       int           `koanf:"burst"`
	GCPProject  string        `koanf:"gcp_project"`
	GCPLocation string        `koanf:"gcp_location"`
	GeminiModel string        `koanf:"gemini_model"`
	STTEnabled  bool          `koanf:"stt_enabled"`
	Language    string        `koanf:"language"`
	SampleRate  int           `koanf:"sample_rate"`
}

type RetentionSettings struct {
	Days     int           `koanf:"days" validate:"gt=0"`
	Interval time.Duration `koanf:"interval"`
}

func Defaults() Settings {
	return Settings{
		Environment: "development",
		LogLevel:    "info",
		Server:      ServerSettings{Port: 8080, WorkerPort: 8081},
		Postgres: PostgresSettings{
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Mongo: MongoSettings{DB: "callguard"},
		RabbitMQ: RabbitMQSettings{
			Exchange:   "notifications",
			RoutingKey: "sms.fraud_alert",
		},
		Gateway: GatewaySettings{
			HeartbeatInterval: 30 * time.Second,
			WriteTimeout:      10 * time.Second,
			SendBuffer:        64,
			SessionPolicy:     "replace",
			AlertChannel:      "fraud_alerts",
			LevelTTL:          time.Hour,
		},
		Dispatcher: DispatcherSettings{
			Stream:            "detection:jobs",
			Group:             "detection-workers",
			NumWorkers:        8,
			JobTimeLimit:      1800 * time.Second,
			MaxTasksPerWorker: 200,
			JobTTL:            24 * time.Hour,
		},
		Stability: StabilitySettings{
			WindowSize:     5,
			AlarmThreshold: 3,
			SafeThreshold:  1,
			TTL:            time.Hour,
		},
		Scoring: ScoringSettings{
			Timeout:     10 * time.Second,
			RateLimit:   50,
			Burst:       100,
			GCPLocation: "us-central1",
			GeminiModel: "gemini-1.5-flash",
			Language:    "zh-CN",
			SampleRate:  16000,
		},
		Retention: RetentionSettings{Days: 30, Interval: 24 * time.Hour},
	}
}

// Load layers defaults, an optional YAML file and CALLGUARD_* environment
// variables. Nested keys use a double underscore: CALLGUARD_REDIS__URL.
func Load() (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	path := os.Getenv(envPrefix + "CONFIG_FILE")
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

var validate = validator.New()

// Validate checks field ranges from the struct tags, then the rules that
// span fields.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if s.Stability.SafeThreshold >= s.Stability.AlarmThreshold || s.Stability.AlarmThreshold > s.Stability.WindowSize {
		return fmt.Errorf("stability thresholds must satisfy safe < alarm <= window (got %d, %d, %d)",
			s.Stability.SafeThreshold, s.Stability.AlarmThreshold, s.Stability.WindowSize)
	}
	return nil
}
