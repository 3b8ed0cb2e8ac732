package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"github.com/tarungka/monsoon/internal/bolt"
	"github.com/tarungka/monsoon/internal/cluster"
	"github.com/tarungka/monsoon/internal/coord"
	"github.com/tarungka/monsoon/internal/models"
	"github.com/tarungka/monsoon/internal/negotiator"
	"github.com/tarungka/monsoon/internal/shuffle"
	"github.com/tarungka/monsoon/internal/snapshot"
	"github.com/tarungka/monsoon/internal/spout"
	"github.com/tarungka/monsoon/internal/topology"
	"github.com/tarungka/monsoon/sinks"
	"github.com/tarungka/monsoon/sources"
)

// sampleTopology is the wired-in word-count DAG local mode runs:
// src (file spout) -> agg (count bolt) -> out (file sink).
func sampleTopology() (*topology.Topology, error) {
	processors := map[string]topology.ProcessorSpec{
		"src": {Kind: topology.KindSpout, Parallelism: 1, Downstreams: []string{"agg"}, Partitions: []string{"p0"}},
		"agg": {Kind: topology.KindBolt, Parallelism: 1, Downstreams: []string{"out"}},
		"out": {Kind: topology.KindSink, Parallelism: 1},
	}
	addresses := map[models.ProcessorId]topology.Addr{
		{Name: "src", Instance: 0}: {Host: "127.0.0.1", Port: 7710},
		{Name: "agg", Instance: 0}: {Host: "127.0.0.1", Port: 7711},
		{Name: "out", Instance: 0}: {Host: "127.0.0.1", Port: 7712},
	}
	return topology.New(processors, addresses)
}

// runSample runs the whole sample topology in one process against the
// in-memory coordination store. Every processor still holds its own
// session, so the full registration and snapshot protocol is exercised.
func runSample(ctx context.Context, ko *koanf.Koanf) error {
	inputFile := ko.String("file")
	if inputFile == "" {
		return fmt.Errorf("run_sample needs --file")
	}
	interval, err := time.ParseDuration(ko.String("snapshot-interval"))
	if err != nil {
		return fmt.Errorf("bad snapshot-interval: %w", err)
	}

	topo, err := sampleTopology()
	if err != nil {
		return err
	}
	mem := coord.NewMemStore()

	g, gctx := errgroup.WithContext(ctx)

	// Negotiator.
	g.Go(func() error {
		store := mem.NewSession()
		neg := negotiator.New(store, topo, negotiator.Config{SnapshotInterval: interval})
		return cluster.RegisterProcessor(gctx, store, models.NegotiatorId(), models.UnspecifiedState{},
			func(ctx context.Context) error { return neg.Run(ctx) })
	})

	// Spout src-0.
	g.Go(func() error {
		store := mem.NewSession()
		source, err := sources.New("file", sources.SourceConfig{
			Partition: "p0",
			Config:    map[string]string{"file_path": inputFile},
		})
		if err != nil {
			return err
		}
		id := models.ProcessorId{Name: "src", Instance: 0}
		sp, err := spout.New(id, topo, store, source, shuffle.NewPool())
		if err != nil {
			return err
		}
		return cluster.RegisterProcessor(gctx, store, id, models.UnspecifiedState{},
			func(ctx context.Context) error { return sp.Run(ctx) })
	})

	// Bolt agg-0.
	g.Go(func() error {
		store := mem.NewSession()
		id := models.ProcessorId{Name: "agg", Instance: 0}
		addr, _ := topo.AddressFor(id)
		listener, err := shuffle.Listen(addr.String())
		if err != nil {
			return err
		}
		snaps, err := snapshot.New(&snapshot.Config{Backend: "badgerdb", Dir: ""})
		if err != nil {
			return err
		}
		defer snaps.Close()
		go listener.Serve(gctx)
		b := bolt.New(id, topo, store, snaps, bolt.NewCountFormula(), listener.Deliveries(), shuffle.NewPool())
		return cluster.RegisterProcessor(gctx, store, id, models.UnspecifiedState{},
			func(ctx context.Context) error { return b.Run(ctx) })
	})

	// Sink out-0.
	g.Go(func() error {
		store := mem.NewSession()
		id := models.ProcessorId{Name: "out", Instance: 0}
		addr, _ := topo.AddressFor(id)
		listener, err := shuffle.Listen(addr.String())
		if err != nil {
			return err
		}
		sink, err := sinks.New("file", sinks.SinkConfig{
			Name:   id.String(),
			Config: map[string]string{"file_path": "sample_output.txt"},
		})
		if err != nil {
			return err
		}
		go listener.Serve(gctx)
		runner := bolt.NewSink(id, store, sink, listener.Deliveries())
		return cluster.RegisterProcessor(gctx, store, id, models.UnspecifiedState{},
			func(ctx context.Context) error { return runner.Run(ctx) })
	})

	log.Info().Str("file", inputFile).Msg("sample topology running; counts land in sample_output.txt")
	return g.Wait()
}

// sampleWords cycles through a fixed vocabulary so emitter runs are
// reproducible.
var sampleWords = []string{"storm", "river", "delta", "cloud", "rain", "flood", "basin", "surge"}

// runSampleEmitter produces traffic for the kafka-backed input source.
func runSampleEmitter(ctx context.Context, ko *koanf.Koanf) error {
	count := ko.Int("emit-count")
	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(ko.String("broker"), ",")...),
		kgo.DefaultProduceTopic(ko.String("topic")),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	for i := 0; i < count; i++ {
		word := sampleWords[i%len(sampleWords)]
		record := &kgo.Record{
			Key:   []byte(word),
			Value: []byte(fmt.Sprintf("%s\t%d", word, i)),
		}
		if err := client.ProduceSync(ctx, record).FirstErr(); err != nil {
			return err
		}
	}
	log.Info().Int("count", count).Msg("sample records produced")
	return nil
}
