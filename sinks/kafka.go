package sinks

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/tarungka/monsoon/internal/models"
)

// KafkaSink produces tuples to a topic, keyed by the tuple key so
// downstream consumers see a stable partitioning.
type KafkaSink struct {
	name string
	// Kafka producer details
	bootstrapServers string
	topic            string

	kafkaProducerClient *kgo.Client
}

// NewKafkaSink builds a kafka sink from config. Requires bootstrap_servers
// and topic.
func NewKafkaSink(cfg SinkConfig) (*KafkaSink, error) {
	if cfg.Config["bootstrap_servers"] == "" || cfg.Config["topic"] == "" {
		log.Error().Msg("missing config values for kafka sink")
		return nil, fmt.Errorf("kafka sink needs bootstrap_servers and topic")
	}
	return &KafkaSink{
		name:             cfg.Name,
		bootstrapServers: cfg.Config["bootstrap_servers"],
		topic:            cfg.Config["topic"],
	}, nil
}

func (k *KafkaSink) Name() string {
	return k.name
}

func (k *KafkaSink) Connect(ctx context.Context) error {
	log.Trace().Msg("connecting to kafka cluster as a sink...")
	opts := []kgo.Opt{
		kgo.SeedBrokers(strings.Split(k.bootstrapServers, ",")...),
		kgo.DefaultProduceTopic(k.topic),
		kgo.AllowAutoTopicCreation(),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		log.Err(err).Msg("creating kafka producer")
		return err
	}
	k.kafkaProducerClient = client
	return nil
}

func (k *KafkaSink) Write(ctx context.Context, p models.Payload) error {
	if k.kafkaProducerClient == nil {
		return ErrSinkNotConnected
	}
	record := &kgo.Record{Key: p.Key(), Value: p.Tuple}
	return k.kafkaProducerClient.ProduceSync(ctx, record).FirstErr()
}

func (k *KafkaSink) Disconnect() error {
	log.Trace().Msg("disconnecting kafka sink")
	if k.kafkaProducerClient != nil {
		k.kafkaProducerClient.Close()
		k.kafkaProducerClient = nil
	}
	return nil
}
