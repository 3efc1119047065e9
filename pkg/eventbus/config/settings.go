package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Settings is the typed configuration of an event bus host.
type Settings struct {
	LogLevel  string // log.level, EVENTBUS_LOG_LEVEL (default "info")
	LogFormat string // log.format, EVENTBUS_LOG_FORMAT ("text" or "json")

	Store     StoreSettings
	Receivers []ReceiverSettings
	Relays    RelaySettings
	Archive   ArchiveSettings
}

// StoreSettings selects and tunes the durable log.
type StoreSettings struct {
	Driver             string        // store.driver, EVENTBUS_STORE_DRIVER (default "sqlite")
	Path               string        // store.path, EVENTBUS_STORE_PATH (default "events.db")
	DSN                string        // store.dsn, EVENTBUS_DATABASE_URL (postgres only)
	CompactionInterval time.Duration // store.compaction_interval, EVENTBUS_COMPACTION_INTERVAL (default 5s; 0 = disabled)
	Retention          time.Duration // store.retention, EVENTBUS_RETENTION (default 10s)
}

// ReceiverSettings describes one broker receiver.
type ReceiverSettings struct {
	Name          string
	Kind          string // "console" or "file"
	File          string // output file for kind "file"
	Subscriptions []message.SubscriptionSet
}

// RelaySettings configures network forwarders. A relay is enabled when
// its address is set.
type RelaySettings struct {
	NATSURL           string   // relays.nats.url, EVENTBUS_NATS_URL
	NATSSubjectPrefix string   // relays.nats.subject_prefix, EVENTBUS_NATS_SUBJECT_PREFIX (default "eventbus")
	KafkaBrokers      []string // relays.kafka.brokers, EVENTBUS_KAFKA_BROKERS (comma separated)
	KafkaTopic        string   // relays.kafka.topic, EVENTBUS_KAFKA_TOPIC (default "eventbus")
	AMQPURL           string   // relays.amqp.url, EVENTBUS_AMQP_URL
	AMQPExchange      string   // relays.amqp.exchange, EVENTBUS_AMQP_EXCHANGE (default "eventbus")
}

// ArchiveSettings configures export of the log to S3.
type ArchiveSettings struct {
	S3Bucket   string // archive.s3.bucket, EVENTBUS_S3_BUCKET (enables S3 when set)
	S3Key      string // archive.s3.key, EVENTBUS_S3_KEY (default "eventbus/export.jsonl")
	S3Region   string // archive.s3.region, EVENTBUS_S3_REGION (default "us-east-1")
	S3Endpoint string // archive.s3.endpoint, EVENTBUS_S3_ENDPOINT (custom endpoint for MinIO)
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		LogLevel:  "info",
		LogFormat: "text",
		Store: StoreSettings{
			Driver:             DriverSQLite,
			Path:               "events.db",
			CompactionInterval: 5 * time.Second,
			Retention:          10 * time.Second,
		},
		Relays: RelaySettings{
			NATSSubjectPrefix: "eventbus",
			KafkaTopic:        "eventbus",
			AMQPExchange:      "eventbus",
		},
		Archive: ArchiveSettings{
			S3Key:    "eventbus/export.jsonl",
			S3Region: "us-east-1",
		},
	}
}

// Decode reads Settings from a configuration document on top of Defaults.
func Decode(c Config) Settings {
	s := Defaults()

	log := c.Sub("log")
	s.LogLevel = log.String("level", s.LogLevel)
	s.LogFormat = log.String("format", s.LogFormat)

	store := c.Sub("store")
	s.Store.Driver = store.String("driver", s.Store.Driver)
	s.Store.Path = store.String("path", s.Store.Path)
	s.Store.DSN = store.String("dsn", s.Store.DSN)
	s.Store.CompactionInterval = store.Duration("compaction_interval", s.Store.CompactionInterval)
	s.Store.Retention = store.Duration("retention", s.Store.Retention)

	for _, r := range c.Maps("receivers") {
		rs := ReceiverSettings{
			Name: r.String("name", ""),
			Kind: r.String("kind", ""),
			File: r.String("file", ""),
		}
		for _, sub := range r.Maps("subscriptions") {
			rs.Subscriptions = append(rs.Subscriptions, message.SubscriptionSet{
				Name:   sub.String("name", ""),
				Groups: sub.StringSlice("groups", nil),
				Names:  sub.StringSlice("names", nil),
			})
		}
		s.Receivers = append(s.Receivers, rs)
	}

	relays := c.Sub("relays")
	nats := relays.Sub("nats")
	s.Relays.NATSURL = nats.String("url", s.Relays.NATSURL)
	s.Relays.NATSSubjectPrefix = nats.String("subject_prefix", s.Relays.NATSSubjectPrefix)
	kafka := relays.Sub("kafka")
	s.Relays.KafkaBrokers = kafka.StringSlice("brokers", s.Relays.KafkaBrokers)
	s.Relays.KafkaTopic = kafka.String("topic", s.Relays.KafkaTopic)
	amqp := relays.Sub("amqp")
	s.Relays.AMQPURL = amqp.String("url", s.Relays.AMQPURL)
	s.Relays.AMQPExchange = amqp.String("exchange", s.Relays.AMQPExchange)

	s3 := c.Sub("archive").Sub("s3")
	s.Archive.S3Bucket = s3.String("bucket", s.Archive.S3Bucket)
	s.Archive.S3Key = s3.String("key", s.Archive.S3Key)
	s.Archive.S3Region = s3.String("region", s.Archive.S3Region)
	s.Archive.S3Endpoint = s3.String("endpoint", s.Archive.S3Endpoint)

	return s
}

// ApplyEnv overrides settings from EVENTBUS_* environment variables.
// Unset or empty variables leave the current value.
func (s *Settings) ApplyEnv() error {
	s.LogLevel = envOrDefault("EVENTBUS_LOG_LEVEL", s.LogLevel)
	s.LogFormat = envOrDefault("EVENTBUS_LOG_FORMAT", s.LogFormat)

	s.Store.Driver = envOrDefault("EVENTBUS_STORE_DRIVER", s.Store.Driver)
	s.Store.Path = envOrDefault("EVENTBUS_STORE_PATH", s.Store.Path)
	s.Store.DSN = envOrDefault("EVENTBUS_DATABASE_URL", s.Store.DSN)

	var errs []error
	for key, dst := range map[string]*time.Duration{
		"EVENTBUS_COMPACTION_INTERVAL": &s.Store.CompactionInterval,
		"EVENTBUS_RETENTION":           &s.Store.Retention,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*dst = d
	}

	s.Relays.NATSURL = envOrDefault("EVENTBUS_NATS_URL", s.Relays.NATSURL)
	s.Relays.NATSSubjectPrefix = envOrDefault("EVENTBUS_NATS_SUBJECT_PREFIX", s.Relays.NATSSubjectPrefix)
	if v := os.Getenv("EVENTBUS_KAFKA_BROKERS"); v != "" {
		s.Relays.KafkaBrokers = splitList(v)
	}
	s.Relays.KafkaTopic = envOrDefault("EVENTBUS_KAFKA_TOPIC", s.Relays.KafkaTopic)
	s.Relays.AMQPURL = envOrDefault("EVENTBUS_AMQP_URL", s.Relays.AMQPURL)
	s.Relays.AMQPExchange = envOrDefault("EVENTBUS_AMQP_EXCHANGE", s.Relays.AMQPExchange)

	s.Archive.S3Bucket = envOrDefault("EVENTBUS_S3_BUCKET", s.Archive.S3Bucket)
	s.Archive.S3Key = envOrDefault("EVENTBUS_S3_KEY", s.Archive.S3Key)
	s.Archive.S3Region = envOrDefault("EVENTBUS_S3_REGION", s.Archive.S3Region)
	s.Archive.S3Endpoint = envOrDefault("EVENTBUS_S3_ENDPOINT", s.Archive.S3Endpoint)

	return errors.Join(errs...)
}

// Validate reports every invalid or missing field.
func (s Settings) Validate() error {
	var errs []error

	if _, err := s.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if s.LogFormat != "text" && s.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log.format: want text or json, got %q", s.LogFormat))
	}

	switch s.Store.Driver {
	case DriverSQLite:
		if s.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	case DriverPostgres:
		if s.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", s.Store.Driver))
	}
	if s.Store.CompactionInterval < 0 {
		errs = append(errs, errors.New("store.compaction_interval must not be negative"))
	}
	if s.Store.CompactionInterval > 0 && s.Store.Retention <= 0 {
		errs = append(errs, errors.New("store.retention must be positive when compaction is enabled"))
	}

	seen := make(map[string]bool)
	for i, r := range s.Receivers {
		switch {
		case r.Name == "":
			errs = append(errs, fmt.Errorf("receivers[%d]: name is required", i))
		case seen[r.Name]:
			errs = append(errs, fmt.Errorf("receivers[%d]: duplicate name %q", i, r.Name))
		}
		seen[r.Name] = true
		if r.Kind == "" {
			errs = append(errs, fmt.Errorf("receivers[%d]: kind is required", i))
		}
	}

	if len(s.Relays.KafkaBrokers) > 0 && s.Relays.KafkaTopic == "" {
		errs = append(errs, errors.New("relays.kafka.topic is required when brokers are set"))
	}

	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (s Settings) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (Settings, error) {
	c := New(nil)
	if path != "" {
		var err error
		if c, err = FromFile(path); err != nil {
			return Settings{}, err
		}
	}

	s := Decode(c)
	if err := s.ApplyEnv(); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
