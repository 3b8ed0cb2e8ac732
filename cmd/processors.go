package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
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
	"github.com/tarungka/monsoon/server"
)

func connectStore(ctx context.Context, ko *koanf.Koanf) (coord.Store, error) {
	return coord.Connect(ctx, coord.EtcdConfig{
		Endpoints: strings.Split(ko.String("connect"), ","),
	})
}

// runProcessors starts the named processor instances. Each instance gets
// its own coordination session, so one instance dying does not take the
// others' registrations with it.
func runProcessors(ctx context.Context, ko *koanf.Koanf, ids []string) error {
	cfg, err := loadTopologyConfig(ko, ko.String("topology"))
	if err != nil {
		return err
	}
	topo, err := buildTopology(cfg)
	if err != nil {
		return err
	}

	if port := ko.String("port"); port != "" {
		statusStore, err := connectStore(ctx, ko)
		if err != nil {
			return err
		}
		go server.Run(port, statusStore, topo)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, arg := range ids {
		id, err := models.ParseProcessorId(arg)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := runProcessor(gctx, ko, cfg, topo, id); err != nil {
				log.Err(err).Str("processor", id.String()).Msg("processor terminated")
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func runProcessor(ctx context.Context, ko *koanf.Koanf, cfg *topologyConfig,
	topo *topology.Topology, id models.ProcessorId) error {

	store, err := connectStore(ctx, ko)
	if err != nil {
		return err
	}

	if id.Name == models.NegotiatorName {
		return runNegotiator(ctx, ko, store, topo)
	}

	spec, ok := topo.LookupProcessor(id.Name)
	if !ok {
		store.Close()
		return fmt.Errorf("unknown processor %s", id)
	}
	switch spec.Kind {
	case topology.KindSpout:
		return runSpout(ctx, ko, cfg, store, topo, id)
	case topology.KindBolt:
		return runBolt(ctx, ko, cfg, store, topo, id)
	case topology.KindSink:
		return runSink(ctx, cfg, store, topo, id)
	default:
		store.Close()
		return fmt.Errorf("unknown kind for %s", id)
	}
}

func runNegotiator(ctx context.Context, ko *koanf.Koanf, store coord.Store, topo *topology.Topology) error {
	interval, err := time.ParseDuration(ko.String("snapshot-interval"))
	if err != nil {
		return fmt.Errorf("bad snapshot-interval: %w", err)
	}
	neg := negotiator.New(store, topo, negotiator.Config{SnapshotInterval: interval})
	return cluster.RegisterProcessor(ctx, store, models.NegotiatorId(), models.UnspecifiedState{},
		func(ctx context.Context) error {
			return neg.Run(ctx)
		})
}

func runSpout(ctx context.Context, ko *koanf.Koanf, cfg *topologyConfig, store coord.Store,
	topo *topology.Topology, id models.ProcessorId) error {

	partition, ok := topo.PartitionFor(id)
	if !ok {
		store.Close()
		return fmt.Errorf("no partition for spout %s", id)
	}
	source, err := sourceFor(ko, cfg, partition, id.Instance)
	if err != nil {
		store.Close()
		return err
	}
	sp, err := spout.New(id, topo, store, source, shuffle.NewPool())
	if err != nil {
		store.Close()
		return err
	}
	return cluster.RegisterProcessor(ctx, store, id, models.UnspecifiedState{},
		func(ctx context.Context) error {
			return sp.Run(ctx)
		})
}

func runBolt(ctx context.Context, ko *koanf.Koanf, cfg *topologyConfig, store coord.Store,
	topo *topology.Topology, id models.ProcessorId) error {

	addr, ok := topo.AddressFor(id)
	if !ok {
		store.Close()
		return fmt.Errorf("no address for %s", id)
	}
	listener, err := shuffle.Listen(addr.String())
	if err != nil {
		store.Close()
		return err
	}

	storeDir := ko.String("store-dir")
	if storeDir != "" {
		storeDir = filepath.Join(storeDir, id.String())
	}
	snaps, err := snapshot.New(&snapshot.Config{Backend: ko.String("store"), Dir: storeDir})
	if err != nil {
		listener.Close()
		store.Close()
		return err
	}
	defer snaps.Close()

	formula, err := formulaFor(cfg, id.Name)
	if err != nil {
		listener.Close()
		store.Close()
		return err
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go listener.Serve(sctx)

	b := bolt.New(id, topo, store, snaps, formula, listener.Deliveries(), shuffle.NewPool())
	return cluster.RegisterProcessor(ctx, store, id, models.UnspecifiedState{},
		func(ctx context.Context) error {
			return b.Run(ctx)
		})
}

func runSink(ctx context.Context, cfg *topologyConfig, store coord.Store,
	topo *topology.Topology, id models.ProcessorId) error {

	addr, ok := topo.AddressFor(id)
	if !ok {
		store.Close()
		return fmt.Errorf("no address for %s", id)
	}
	listener, err := shuffle.Listen(addr.String())
	if err != nil {
		store.Close()
		return err
	}
	sink, err := sinkFor(cfg, id)
	if err != nil {
		listener.Close()
		store.Close()
		return err
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go listener.Serve(sctx)

	runner := bolt.NewSink(id, store, sink, listener.Deliveries())
	return cluster.RegisterProcessor(ctx, store, id, models.UnspecifiedState{},
		func(ctx context.Context) error {
			return runner.Run(ctx)
		})
}
