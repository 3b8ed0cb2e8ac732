// Package sinks provides terminal operators' output side. Sinks are
// at-least-once: after a crash-replay, a sink may see a suffix of the
// stream again.
package sinks

import (
	"context"
	"errors"

	"github.com/tarungka/monsoon/internal/models"
)

var (
	// ErrSinkNotConnected is returned when writing before Connect.
	ErrSinkNotConnected = errors.New("sink not connected")

	// ErrUnknownSinkType is returned by the factory.
	ErrUnknownSinkType = errors.New("unknown sink type")
)

// SinkConfig carries the per-sink settings from the config file.
type SinkConfig struct {
	// Name labels the sink in logs.
	Name string
	// Config holds backend-specific keys (file_path, index_name, bootstrap_servers, ...).
	Config map[string]string
}

// Sink consumes payloads at the edge of the topology.
type Sink interface {
	Name() string
	Connect(ctx context.Context) error
	Write(ctx context.Context, p models.Payload) error
	Disconnect() error
}

// New builds a sink of the given type from its config.
func New(sinkType string, cfg SinkConfig) (Sink, error) {
	switch sinkType {
	case "file":
		return NewFileSink(cfg)
	case "elasticsearch":
		return NewElasticSink(cfg)
	case "kafka":
		return NewKafkaSink(cfg)
	default:
		return nil, errors.Join(ErrUnknownSinkType, errors.New(sinkType))
	}
}
