package bolt

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/tarungka/monsoon/internal/cluster"
	"github.com/tarungka/monsoon/internal/coord"
	"github.com/tarungka/monsoon/internal/logger"
	"github.com/tarungka/monsoon/internal/models"
	"github.com/tarungka/monsoon/internal/shuffle"
	"github.com/tarungka/monsoon/sinks"
)

// SinkRunner is one instance of a terminal operator. Sinks carry no
// snapshot state; delivery is at-least-once, so after a replay a sink may
// see a suffix of the stream again.
type SinkRunner struct {
	id         models.ProcessorId
	store      coord.Store
	sink       sinks.Sink
	deliveries <-chan shuffle.Delivery
	logger     zerolog.Logger
}

// NewSink builds a sink runner.
func NewSink(id models.ProcessorId, store coord.Store, sink sinks.Sink,
	deliveries <-chan shuffle.Delivery) *SinkRunner {

	return &SinkRunner{
		id:         id,
		store:      store,
		sink:       sink,
		deliveries: deliveries,
		logger:     logger.GetLogger("sink").With().Str("processor", id.String()).Logger(),
	}
}

// Run announces SinkRunning and consumes deliveries until cancellation.
// Markers are alignment traffic for bolts and are dropped here.
func (s *SinkRunner) Run(ctx context.Context) error {
	if err := s.sink.Connect(ctx); err != nil {
		return err
	}
	defer s.sink.Disconnect()

	if err := cluster.SetProcessorState(ctx, s.store, s.id, models.SinkRunning{}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.store.Done():
			return coord.ErrSessionExpired
		case d, ok := <-s.deliveries:
			if !ok {
				return errors.New("shuffle listener closed")
			}
			if d.Payload.IsMarker() {
				continue
			}
			if err := s.sink.Write(ctx, d.Payload); err != nil {
				return err
			}
		}
	}
}
