package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/knadh/koanf/v2"

	"github.com/tarungka/monsoon/internal/bolt"
	"github.com/tarungka/monsoon/internal/models"
	"github.com/tarungka/monsoon/internal/topology"
	"github.com/tarungka/monsoon/sinks"
	"github.com/tarungka/monsoon/sources"
)

// topologyConfig is the on-disk shape of a topology under the "topology"
// key of the config file.
type topologyConfig struct {
	Name       string                     `koanf:"name"`
	Processors map[string]processorConfig `koanf:"processors"`
	// Addresses maps "{name}-{instance}" to "host:port".
	Addresses map[string]string `koanf:"addresses"`
	// Sources maps a spout partition name to its input source.
	Sources map[string]endpointConfig `koanf:"sources"`
	// Sinks maps a sink processor name to its output.
	Sinks map[string]endpointConfig `koanf:"sinks"`
}

type processorConfig struct {
	Kind        string   `koanf:"kind"`
	Parallelism int      `koanf:"parallelism"`
	Downstreams []string `koanf:"downstreams"`
	Partitions  []string `koanf:"partitions"`
	Formula     string   `koanf:"formula"`
}

type endpointConfig struct {
	Type   string            `koanf:"type"`
	Config map[string]string `koanf:"config"`
}

func loadTopologyConfig(ko *koanf.Koanf, name string) (*topologyConfig, error) {
	var cfg topologyConfig
	if err := ko.Unmarshal("topology", &cfg); err != nil {
		return nil, fmt.Errorf("parsing topology config: %w", err)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("no topology in config")
	}
	if name != "" && cfg.Name != name {
		return nil, fmt.Errorf("config defines topology %q, not %q", cfg.Name, name)
	}
	return &cfg, nil
}

func buildTopology(cfg *topologyConfig) (*topology.Topology, error) {
	processors := make(map[string]topology.ProcessorSpec, len(cfg.Processors))
	for name, pc := range cfg.Processors {
		var kind topology.Kind
		switch pc.Kind {
		case "spout":
			kind = topology.KindSpout
		case "bolt":
			kind = topology.KindBolt
		case "sink":
			kind = topology.KindSink
		default:
			return nil, fmt.Errorf("processor %q has unknown kind %q", name, pc.Kind)
		}
		processors[name] = topology.ProcessorSpec{
			Kind:        kind,
			Parallelism: pc.Parallelism,
			Downstreams: pc.Downstreams,
			Partitions:  pc.Partitions,
		}
	}
	addresses := make(map[models.ProcessorId]topology.Addr, len(cfg.Addresses))
	for key, hostport := range cfg.Addresses {
		id, err := models.ParseProcessorId(key)
		if err != nil {
			return nil, err
		}
		host, portStr, err := net.SplitHostPort(hostport)
		if err != nil {
			return nil, fmt.Errorf("address for %s: %w", key, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("address for %s: %w", key, err)
		}
		addresses[id] = topology.Addr{Host: host, Port: port}
	}
	return topology.New(processors, addresses)
}

// sourceFor builds the input source of a spout instance. An explicit
// per-partition config wins; otherwise the --use-kafka / --file flags pick
// the backend.
func sourceFor(ko *koanf.Koanf, cfg *topologyConfig, partition string, instance int) (sources.InputSource, error) {
	if ep, ok := cfg.Sources[partition]; ok {
		return sources.New(ep.Type, sources.SourceConfig{Partition: partition, Config: ep.Config})
	}
	if ko.Bool("use-kafka") {
		return sources.New("kafka", sources.SourceConfig{
			Partition: partition,
			Config: map[string]string{
				"bootstrap_servers": ko.String("broker"),
				"topic":             ko.String("topic"),
				"kafka_partition":   strconv.Itoa(instance),
				"kafka_timeout":     ko.String("kafka-timeout"),
			},
		})
	}
	return sources.New("file", sources.SourceConfig{
		Partition: partition,
		Config:    map[string]string{"file_path": ko.String("file")},
	})
}

// sinkFor builds the output of a sink instance.
func sinkFor(cfg *topologyConfig, id models.ProcessorId) (sinks.Sink, error) {
	ep, ok := cfg.Sinks[id.Name]
	if !ok {
		return nil, fmt.Errorf("no sink config for %s", id.Name)
	}
	config := make(map[string]string, len(ep.Config))
	for k, v := range ep.Config {
		config[k] = v
	}
	// Per-instance file paths so parallel sink instances do not clobber
	// each other.
	if ep.Type == "file" && config["file_path"] != "" && cfg.Processors[id.Name].Parallelism > 1 {
		config["file_path"] = fmt.Sprintf("%s.%d", config["file_path"], id.Instance)
	}
	return sinks.New(ep.Type, sinks.SinkConfig{Name: id.String(), Config: config})
}

// formulaFor builds the bolt formula configured for an operator.
func formulaFor(cfg *topologyConfig, name string) (bolt.Formula, error) {
	f := cfg.Processors[name].Formula
	if f == "" {
		f = "identity"
	}
	return bolt.NewFormula(f)
}
