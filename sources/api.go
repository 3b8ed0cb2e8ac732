// Package sources provides the pluggable input side of a spout. An input
// source owns one named partition of the external stream and exposes a
// seekable, totally ordered offset space over it: Seek(o) rewinds so that
// the next record returned is the first one with offset > o. Offset 0 is
// the beginning of the partition.
package sources

import (
	"context"
	"errors"
)

var (
	// ErrSourceNotConnected is returned when reading before Connect.
	ErrSourceNotConnected = errors.New("source not connected")

	// ErrUnknownSourceType is returned by the factory.
	ErrUnknownSourceType = errors.New("unknown source type")
)

// Record is one input record with its partition offset.
type Record struct {
	Offset uint64
	Data   []byte
}

// SourceConfig carries the per-source settings from the config file.
type SourceConfig struct {
	// Partition is the name of the input partition this source owns.
	Partition string
	// Config holds backend-specific keys (file_path, bootstrap_servers,
	// topic, kafka_partition, ...).
	Config map[string]string
}

// InputSource reads one partition of the external input stream.
type InputSource interface {
	// Partition returns the partition name this source owns.
	Partition() string

	// Connect prepares the source for reading from the beginning.
	Connect(ctx context.Context) error

	// Seek positions the source so the next record has offset > offset.
	// Seek(0) rewinds to the beginning.
	Seek(offset uint64) error

	// Next blocks for the next record. It returns ctx.Err() on
	// cancellation; an input stream has no EOF, a drained partition just
	// blocks until more data arrives.
	Next(ctx context.Context) (Record, error)

	// CurrentOffset returns the offset of the last record returned by
	// Next, or the last Seek target if nothing was read since.
	CurrentOffset() uint64

	Disconnect() error
}

// New builds a source of the given type from its config.
func New(sourceType string, cfg SourceConfig) (InputSource, error) {
	switch sourceType {
	case "file":
		return NewFileSource(cfg)
	case "kafka":
		return NewKafkaSource(cfg)
	default:
		return nil, errors.Join(ErrUnknownSourceType, errors.New(sourceType))
	}
}
