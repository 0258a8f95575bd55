// Package events publishes newly surfaced stablecoin alerts to Kafka so the
// wider alerting infrastructure can consume them. Publishing is optional and
// never on the critical path of a refresh cycle.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/defi-guard/dashboard-aggregator/internal/dedup"
	"github.com/defi-guard/dashboard-aggregator/internal/model"
)

// DefaultTopic is the topic alerts land on when the config does not name one.
const DefaultTopic = "alert-generated"

// Publisher writes alert events through a synchronous Kafka producer.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewPublisher connects a sync producer to brokers. Messages are keyed by
// alert fingerprint so duplicates of the same alert land on one partition.
func NewPublisher(brokers []string, clientID, topic string, logger *slog.Logger) (*Publisher, error) {
	if topic == "" {
		topic = DefaultTopic
	}

	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("connecting kafka producer: %w", err)
	}
	logger.Info("kafka alert publisher connected", "brokers", brokers, "topic", topic)
	return &Publisher{producer: producer, topic: topic, logger: logger}, nil
}

// PublishAlert sends one alert event.
func (p *Publisher) PublishAlert(ctx context.Context, alert model.StablecoinAlert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encoding alert %s: %w", alert.ID, err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(dedup.Fingerprint(alert)),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("publishing alert %s: %w", alert.ID, err)
	}

	p.logger.Debug("alert published",
		"alert_id", alert.ID,
		"symbol", alert.CoinSymbol,
		"partition", partition,
		"offset", offset)
	return nil
}

// Close shuts the producer down.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
