// Package spout runs the source side of the topology. A spout owns one
// input partition; its read loop is gated by the master state, and the
// offsets it reports while paused are the exact re-entry points for replay.
package spout

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tarungka/monsoon/internal/cluster"
	"github.com/tarungka/monsoon/internal/coord"
	"github.com/tarungka/monsoon/internal/logger"
	"github.com/tarungka/monsoon/internal/models"
	"github.com/tarungka/monsoon/internal/shuffle"
	"github.com/tarungka/monsoon/internal/topology"
	"github.com/tarungka/monsoon/sources"
)

const (
	// observeThrottle is the sleep between re-observations of the master
	// state while the spout has nothing else to do.
	observeThrottle = 200 * time.Millisecond

	// readSlice bounds one blocking read so a state change is observed even
	// on a quiet partition.
	readSlice = 200 * time.Millisecond
)

// Spout drives one input partition through the topology.
type Spout struct {
	id     models.ProcessorId
	topo   *topology.Topology
	store  coord.Store
	source sources.InputSource
	pool   *shuffle.Pool
	logger zerolog.Logger

	partition string
	paused    bool
	// markerSent is the last cut whose marker this spout broadcast, so a
	// re-observed Flowing(Just c) does not emit the marker twice.
	markerSent models.Clock
}

// New builds a spout for its instance's partition.
func New(id models.ProcessorId, topo *topology.Topology, store coord.Store,
	source sources.InputSource, pool *shuffle.Pool) (*Spout, error) {

	partition, ok := topo.PartitionFor(id)
	if !ok {
		return nil, errors.New("processor " + id.String() + " is not a spout in this topology")
	}
	return &Spout{
		id:        id,
		topo:      topo,
		store:     store,
		source:    source,
		pool:      pool,
		partition: partition,
		logger:    logger.GetLogger("spout").With().Str("processor", id.String()).Logger(),
	}, nil
}

// Run connects the source and drives the state machine until the context is
// cancelled or a fatal error occurs. Fatal errors propagate so the caller
// tears the session down and the ephemeral vanishes.
func (s *Spout) Run(ctx context.Context) error {
	if err := s.source.Connect(ctx); err != nil {
		return err
	}
	defer s.source.Disconnect()
	defer s.pool.Close()

	return cluster.InjectMasterState(ctx, s.store, func(ctx context.Context, mirror *cluster.Mirror) error {
		return s.loop(ctx, mirror)
	})
}

func (s *Spout) loop(ctx context.Context, mirror *cluster.Mirror) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.store.Done():
			return coord.ErrSessionExpired
		default:
		}

		switch st := mirror.Load().(type) {
		case models.Flowing:
			if err := s.flow(ctx, st); err != nil {
				return err
			}
		case models.SpoutsPaused:
			if !s.paused {
				if err := s.announcePaused(ctx, s.source.CurrentOffset()); err != nil {
					return err
				}
			}
			s.waitChange(ctx, mirror)
		case models.SpoutsRewind:
			target := st.Clock[s.partition]
			if err := s.source.Seek(target); err != nil {
				return err
			}
			if err := s.announcePaused(ctx, target); err != nil {
				return err
			}
			s.logger.Info().Uint64("offset", target).Msg("rewound")
			s.waitChange(ctx, mirror)
		default:
			// Initialization, Unavailable: sleep and re-observe.
			s.waitChange(ctx, mirror)
		}
	}
}

// flow handles the Flowing states: resume if paused, emit records, and pause
// at the cut boundary when a snapshot clock is pending.
func (s *Spout) flow(ctx context.Context, st models.Flowing) error {
	var boundary uint64
	bounded := false
	if st.Snapshot != nil {
		if o, ok := (*st.Snapshot)[s.partition]; ok {
			boundary, bounded = o, true
		}
	}

	if s.paused {
		// A pending snapshot at our pause point: broadcast its marker
		// downstream before any post-cut record.
		if bounded && s.source.CurrentOffset() >= boundary {
			if err := s.broadcastMarker(*st.Snapshot); err != nil {
				return err
			}
		}
		if err := s.announceRunning(ctx); err != nil {
			return err
		}
	}

	if bounded && s.source.CurrentOffset() >= boundary {
		// Already past the boundary; the cut is behind us.
		bounded = false
	}

	rctx, cancel := context.WithTimeout(ctx, readSlice)
	rec, err := s.source.Next(rctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil // quiet partition; re-observe master state
		}
		return err
	}
	if len(rec.Data) == 0 {
		// Empty tuples are reserved for markers.
		return nil
	}

	payload := models.Payload{
		Tuple: rec.Data,
		Clock: models.Clock{s.partition: rec.Offset},
	}
	if err := s.emit(payload); err != nil {
		return err
	}

	if bounded && rec.Offset >= boundary {
		// Reached the cut while catching up: mark it and pause here.
		if err := s.broadcastMarker(*st.Snapshot); err != nil {
			return err
		}
		if err := s.announcePaused(ctx, boundary); err != nil {
			return err
		}
	}
	return nil
}

func (s *Spout) emit(p models.Payload) error {
	addrs, err := s.topo.DownstreamAddresses(s.id.Name, p)
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		if err := s.pool.Send(addr, p); err != nil {
			return err
		}
	}
	return nil
}

// broadcastMarker sends the cut marker to every downstream instance. Data
// records route to one keyed instance; markers must reach them all so each
// receiver can align every upstream connection.
func (s *Spout) broadcastMarker(cut models.Clock) error {
	if s.markerSent.Equal(cut) {
		return nil
	}
	marker := models.Marker(cut)
	for _, addr := range s.topo.AllDownstreamAddresses(s.id.Name) {
		if err := s.pool.Send(addr, marker); err != nil {
			return err
		}
	}
	s.markerSent = cut.Copy()
	s.logger.Debug().Str("cut", cut.String()).Msg("marker broadcast")
	return nil
}

func (s *Spout) announcePaused(ctx context.Context, offset uint64) error {
	if err := cluster.SetProcessorState(ctx, s.store, s.id,
		models.SpoutPaused{Partition: s.partition, Offset: offset}); err != nil {
		return err
	}
	s.paused = true
	return nil
}

func (s *Spout) announceRunning(ctx context.Context) error {
	if err := cluster.SetProcessorState(ctx, s.store, s.id, models.SpoutRunning{}); err != nil {
		return err
	}
	s.paused = false
	return nil
}

func (s *Spout) waitChange(ctx context.Context, mirror *cluster.Mirror) {
	select {
	case <-ctx.Done():
	case <-s.store.Done():
	case <-mirror.Changed():
	case <-time.After(observeThrottle):
	}
}
