package main

import (
	"fmt"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"

	"ojbridge/internal/bridge/session"
	"ojbridge/internal/common/db"
	"ojbridge/internal/common/mq"
	"ojbridge/pkg/utils/logger"
)

const (
	defaultJudgeAddr       = "0.0.0.0:9999"
	defaultRequestAddr     = "127.0.0.1:9998"
	defaultEventTopic      = "bridge-events"
	defaultShutdownTimeout = 10 * time.Second
)

// RedisYAMLConfig holds redis settings.
type RedisYAMLConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaYAMLConfig holds kafka producer settings.
type KafkaYAMLConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	RequiredAcks int           `yaml:"requiredAcks"`
}

func (c *KafkaYAMLConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      c.Brokers,
		ClientID:     c.ClientID,
		RequiredAcks: kafka.RequiredAcks(c.RequiredAcks),
		BatchSize:    c.BatchSize,
		BatchTimeout: c.BatchTimeout,
		DialTimeout:  c.DialTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// AppConfig is the root bridged configuration.
type AppConfig struct {
	Logger   logger.Config        `yaml:"logger"`
	Database db.MySQLConfig       `yaml:"database"`
	Redis    RedisYAMLConfig      `yaml:"redis"`
	Kafka    KafkaYAMLConfig      `yaml:"kafka"`
	Server   session.ServerConfig `yaml:"server"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	cfg := &AppConfig{
		Kafka: KafkaYAMLConfig{Topic: defaultEventTopic},
		Server: session.ServerConfig{
			JudgeAddr:   defaultJudgeAddr,
			RequestAddr: defaultRequestAddr,
		},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka.brokers are required")
	}
	return cfg, nil
}
