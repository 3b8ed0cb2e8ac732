package sources

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSource reads one Kafka topic partition. The partition offset space
// maps onto the source offsets shifted by one: source offset o corresponds
// to the Kafka record at offset o-1, so o=0 is the beginning and Seek(o)
// resumes consuming at Kafka offset o. Group management and auto-commit are
// deliberately off; replay positions come from the snapshot protocol, not
// the broker.
type KafkaSource struct {
	partition        string
	bootstrapServers string
	topic            string
	kafkaPartition   int32
	pollTimeout      time.Duration

	client   *kgo.Client
	current  uint64
	buffered []*kgo.Record
}

// NewKafkaSource builds a Kafka source from config. Requires
// bootstrap_servers, topic and kafka_partition.
func NewKafkaSource(cfg SourceConfig) (*KafkaSource, error) {
	servers := cfg.Config["bootstrap_servers"]
	topic := cfg.Config["topic"]
	part := cfg.Config["kafka_partition"]
	if servers == "" || topic == "" || part == "" {
		log.Error().Msg("missing config values for kafka source")
		return nil, fmt.Errorf("kafka source needs bootstrap_servers, topic and kafka_partition")
	}
	p, err := strconv.ParseInt(part, 10, 32)
	if err != nil || p < 0 {
		return nil, fmt.Errorf("bad kafka_partition %q", part)
	}
	pollTimeout := 10 * time.Second
	if v := cfg.Config["kafka_timeout"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("bad kafka_timeout %q", v)
		}
		pollTimeout = d
	}
	return &KafkaSource{
		partition:        cfg.Partition,
		bootstrapServers: servers,
		topic:            topic,
		kafkaPartition:   int32(p),
		pollTimeout:      pollTimeout,
	}, nil
}

func (k *KafkaSource) Partition() string {
	return k.partition
}

func (k *KafkaSource) Connect(ctx context.Context) error {
	return k.Seek(0)
}

// Seek rebuilds the consumer at the requested position. franz-go pins the
// start offset at client creation for direct partition consumers, so a
// rewind is a fresh client.
func (k *KafkaSource) Seek(offset uint64) error {
	if k.client != nil {
		k.client.Close()
		k.client = nil
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(strings.Split(k.bootstrapServers, ",")...),
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			k.topic: {k.kafkaPartition: kgo.NewOffset().At(int64(offset))},
		}),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		log.Err(err).Msg("creating kafka consumer")
		return err
	}
	k.client = client
	k.current = offset
	k.buffered = nil
	log.Trace().Str("partition", k.partition).Uint64("offset", offset).Msg("kafka source positioned")
	return nil
}

func (k *KafkaSource) Next(ctx context.Context) (Record, error) {
	if k.client == nil {
		return Record{}, ErrSourceNotConnected
	}
	for len(k.buffered) == 0 {
		fetches := k.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return Record{}, ErrSourceNotConnected
		}
		var fatal error
		fetches.EachError(func(t string, p int32, err error) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				fatal = err
				return
			}
			// Retriable errors are retried inside the client; anything
			// surfacing here ends the spout.
			log.Err(err).Str("topic", t).Int32("partition", p).Msg("kafka fetch error")
			fatal = err
		})
		if fatal != nil {
			return Record{}, fatal
		}
		if ctx.Err() != nil {
			return Record{}, ctx.Err()
		}
		fetches.EachRecord(func(record *kgo.Record) {
			k.buffered = append(k.buffered, record)
		})
	}
	r := k.buffered[0]
	k.buffered = k.buffered[1:]
	k.current = uint64(r.Offset) + 1
	return Record{Offset: k.current, Data: r.Value}, nil
}

func (k *KafkaSource) CurrentOffset() uint64 {
	return k.current
}

func (k *KafkaSource) Disconnect() error {
	log.Trace().Msg("disconnecting kafka source")
	if k.client != nil {
		k.client.Close()
		k.client = nil
	}
	return nil
}
