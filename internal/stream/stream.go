// Package stream provides the Kafka intake and alerting pipeline: raw
// transactions are consumed from a topic, analyzed, queued for
// persistence, and high-risk verdicts are produced to an alert topic.
package stream

import (
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config holds Kafka connection and pipeline behavior.
type Config struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	TxTopic       string   `yaml:"tx_topic"`
	AlertTopic    string   `yaml:"alert_topic"`
	ConsumerGroup string   `yaml:"consumer_group"`

	// AlertThreshold is the minimum risk score routed to the alert topic.
	AlertThreshold int `yaml:"alert_threshold"`

	ConsumerMaxWait time.Duration `yaml:"consumer_max_wait"`
	CommitInterval  time.Duration `yaml:"commit_interval"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
}

// DefaultConfig returns the default stream configuration.
func DefaultConfig() Config {
	return Config{
		Brokers:         []string{"localhost:9092"},
		TxTopic:         "chainsentry-transactions",
		AlertTopic:      "chainsentry-alerts",
		ConsumerGroup:   "chainsentry-detect",
		AlertThreshold:  70,
		ConsumerMaxWait: 500 * time.Millisecond,
		CommitInterval:  time.Second,
		WriteTimeout:    10 * time.Second,
		MaxRetries:      3,
		RetryBackoff:    100 * time.Millisecond,
	}
}

// Validate checks the stream configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return errors.New("stream: at least one broker is required")
	}
	if c.TxTopic == "" {
		return errors.New("stream: tx_topic is required")
	}
	if c.AlertTopic == "" {
		return errors.New("stream: alert_topic is required")
	}
	if c.AlertThreshold < 0 || c.AlertThreshold > 100 {
		return errors.New("stream: alert_threshold must be in [0,100]")
	}
	return nil
}

func (c Config) readerConfig() kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.ConsumerGroup,
		Topic:          c.TxTopic,
		MaxWait:        c.ConsumerMaxWait,
		CommitInterval: c.CommitInterval,
		StartOffset:    kafka.LastOffset,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
	}
}
