// Package bolt runs the stateful middle of the topology. A bolt hosts a
// Formula, aligns snapshot cuts on the clock markers carried in the data
// stream, and persists its state through the snapshot store.
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
	"github.com/tarungka/monsoon/internal/snapshot"
	"github.com/tarungka/monsoon/internal/topology"
)

// Bolt is one instance of a stateful operator.
type Bolt struct {
	id         models.ProcessorId
	topo       *topology.Topology
	store      coord.Store
	snaps      snapshot.Store
	formula    Formula
	deliveries <-chan shuffle.Delivery
	pool       *shuffle.Pool
	logger     zerolog.Logger

	// upstreamCount is how many upstream instances send us markers; a cut
	// is aligned once a marker for it arrived on that many connections.
	upstreamCount int

	// Alignment state for the cut in progress.
	pending models.Clock
	aligned map[uint64]bool
	held    []shuffle.Delivery

	// holdSaved keeps the BoltSaved announcement standing until the
	// negotiator's poll has observed it (signalled by the master state
	// moving off Flowing(Just holdSaved)).
	holdSaved models.Clock
	running   bool
}

// New builds a bolt instance.
func New(id models.ProcessorId, topo *topology.Topology, store coord.Store,
	snaps snapshot.Store, formula Formula, deliveries <-chan shuffle.Delivery,
	pool *shuffle.Pool) *Bolt {

	return &Bolt{
		id:            id,
		topo:          topo,
		store:         store,
		snaps:         snaps,
		formula:       formula,
		deliveries:    deliveries,
		pool:          pool,
		upstreamCount: topo.UpstreamInstanceCount(id.Name),
		logger:        logger.GetLogger("bolt").With().Str("processor", id.String()).Logger(),
	}
}

// Run loads the latest usable snapshot, announces BoltLoaded, and processes
// deliveries until cancellation or a fatal error. Re-entering
// Initialization reloads the snapshot, which is how a surviving bolt rolls
// back when a peer crashed mid-cut.
func (b *Bolt) Run(ctx context.Context) error {
	defer b.pool.Close()

	if err := b.reload(ctx); err != nil {
		return err
	}

	return cluster.InjectMasterState(ctx, b.store, func(ctx context.Context, mirror *cluster.Mirror) error {
		return b.loop(ctx, mirror)
	})
}

func (b *Bolt) loop(ctx context.Context, mirror *cluster.Mirror) error {
	changed := mirror.Changed()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.store.Done():
			return coord.ErrSessionExpired
		case <-changed:
			changed = mirror.Changed()
			switch st := mirror.Load().(type) {
			case models.Initialization:
				if err := b.reload(ctx); err != nil {
					return err
				}
			case models.Flowing:
				if b.holdSaved != nil && (st.Snapshot == nil || !st.Snapshot.Equal(b.holdSaved)) {
					b.holdSaved = nil
				}
			case models.SpoutsPaused:
				b.holdSaved = nil
			}
		case d, ok := <-b.deliveries:
			if !ok {
				return errors.New("shuffle listener closed")
			}
			if err := b.handle(ctx, d); err != nil {
				return err
			}
		}
	}
}

// reload restores state from the last globally complete snapshot when the
// negotiator has recorded one, else from this bolt's latest save, and
// announces BoltLoaded. Alignment state from any aborted cut is discarded.
func (b *Bolt) reload(ctx context.Context) error {
	clock, state, err := b.loadSnapshot(ctx)
	if err != nil {
		return err
	}
	if err := b.formula.Restore(state); err != nil {
		return err
	}
	b.pending = nil
	b.aligned = nil
	b.held = nil
	b.holdSaved = nil
	b.running = false
	if err := cluster.SetProcessorState(ctx, b.store, b.id, models.BoltLoaded{Clock: clock}); err != nil {
		return err
	}
	b.logger.Info().Str("clock", clock.String()).Msg("loaded")
	return nil
}

func (b *Bolt) loadSnapshot(ctx context.Context) (models.Clock, []byte, error) {
	if complete, err := cluster.GetLastCompleteSnapshot(ctx, b.store); err == nil && complete != nil {
		if state, err := b.snaps.Load(b.id, complete); err == nil {
			return complete, state, nil
		}
	}
	clock, state, err := b.snaps.Latest(b.id)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		return models.EmptyClock(), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return clock, state, nil
}

func (b *Bolt) handle(ctx context.Context, d shuffle.Delivery) error {
	if d.Payload.IsMarker() {
		return b.handleMarker(ctx, d)
	}
	if b.pending != nil && b.aligned[d.Conn] {
		// Post-cut record on an already-aligned connection; hold it until
		// the snapshot is taken.
		b.held = append(b.held, d)
		return nil
	}
	return b.process(ctx, d.Payload)
}

func (b *Bolt) handleMarker(ctx context.Context, d shuffle.Delivery) error {
	cut := d.Payload.Clock
	switch {
	case b.pending == nil:
		b.pending = cut.Copy()
		b.aligned = make(map[uint64]bool)
	case !b.pending.Equal(cut):
		if cut.Beyond(b.pending) {
			// A newer cut supersedes one aborted by a membership change.
			// Records held behind the stale marker precede the new cut, so
			// they fold into the state first.
			b.logger.Warn().Str("old", b.pending.String()).Str("new", cut.String()).
				Msg("superseding stale cut")
			held := b.held
			b.pending = nil
			b.aligned = nil
			b.held = nil
			for _, hd := range held {
				if hd.Payload.IsMarker() {
					continue
				}
				if err := b.process(ctx, hd.Payload); err != nil {
					return err
				}
			}
			b.pending = cut.Copy()
			b.aligned = make(map[uint64]bool)
		} else {
			b.logger.Warn().Str("cut", cut.String()).Msg("dropping stale marker")
			return nil
		}
	}
	b.aligned[d.Conn] = true
	if len(b.aligned) < b.upstreamCount {
		return nil
	}
	return b.completeCut(ctx)
}

// completeCut persists the state at the pending cut, announces the save,
// forwards the marker, and replays the held post-cut records.
func (b *Bolt) completeCut(ctx context.Context) error {
	cut := b.pending
	state, err := b.formula.Snapshot()
	if err != nil {
		return err
	}
	if err := b.snaps.Save(b.id, cut, state); err != nil {
		return err
	}
	if err := cluster.SetProcessorState(ctx, b.store, b.id, models.BoltSaved{Clock: cut}); err != nil {
		return err
	}
	b.holdSaved = cut
	b.running = false
	b.logger.Info().Str("cut", cut.String()).Msg("snapshot saved")

	marker := models.Marker(cut)
	for _, addr := range b.topo.AllDownstreamAddresses(b.id.Name) {
		if err := b.pool.Send(addr, marker); err != nil {
			return err
		}
	}

	held := b.held
	b.pending = nil
	b.aligned = nil
	b.held = nil
	for _, d := range held {
		if err := b.handle(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bolt) process(ctx context.Context, p models.Payload) error {
	if !b.running && b.holdSaved == nil {
		if err := cluster.SetProcessorState(ctx, b.store, b.id, models.BoltRunning{}); err != nil {
			return err
		}
		b.running = true
	}
	outputs, err := b.formula.Apply(p.Tuple)
	if err != nil {
		return err
	}
	for _, out := range outputs {
		outp := models.Payload{Tuple: out, Clock: p.Clock}
		addrs, err := b.topo.DownstreamAddresses(b.id.Name, outp)
		if err != nil {
			return err
		}
		for _, addr := range addrs {
			if err := b.pool.Send(addr, outp); err != nil {
				return err
			}
		}
	}
	return nil
}
