// Package negotiator drives the master state machine. The negotiator is the
// only writer of /master_state; it serializes cluster membership and the
// snapshot-cut protocol. A membership change kills the running snapshot
// driver so the cut protocol never straddles it.
package negotiator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tarungka/monsoon/internal/cluster"
	"github.com/tarungka/monsoon/internal/coord"
	"github.com/tarungka/monsoon/internal/logger"
	"github.com/tarungka/monsoon/internal/models"
	"github.com/tarungka/monsoon/internal/topology"
)

var (
	// ErrBadStartup is returned when bolts load snapshots at divergent
	// clocks. The cluster operator must intervene.
	ErrBadStartup = errors.New("bolts loaded divergent snapshot clocks")

	// ErrBadClusterState is returned when bolts save a cut at divergent
	// clocks.
	ErrBadClusterState = errors.New("bolts saved divergent snapshot clocks")
)

const (
	// defaultStoreThrottle is the sleep between polls of processor states.
	defaultStoreThrottle = 200 * time.Millisecond

	// defaultSnapshotInterval is the flow time between snapshot cuts.
	defaultSnapshotInterval = 10 * time.Second
)

// Config tunes the negotiator's timing.
type Config struct {
	// StoreThrottle is the poll interval against the coordination store.
	StoreThrottle time.Duration
	// SnapshotInterval is how long the cluster flows between cuts.
	SnapshotInterval time.Duration
}

// Negotiator owns the master state machine for one cluster.
type Negotiator struct {
	store  coord.Store
	topo   *topology.Topology
	cfg    Config
	logger zerolog.Logger

	// driverCancel/driverDone belong to the running snapshot driver; both
	// are touched only from the supervisor goroutine.
	driverCancel context.CancelFunc
	driverDone   chan struct{}

	// fatal is the one-shot channel a dying driver posts to so the main
	// goroutine terminates too and the negotiator's ephemeral vanishes.
	fatal chan error
}

// New builds a negotiator.
func New(store coord.Store, topo *topology.Topology, cfg Config) *Negotiator {
	if cfg.StoreThrottle == 0 {
		cfg.StoreThrottle = defaultStoreThrottle
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = defaultSnapshotInterval
	}
	return &Negotiator{
		store:  store,
		topo:   topo,
		cfg:    cfg,
		fatal:  make(chan error, 1),
		logger: logger.GetLogger("negotiator"),
	}
}

// Run supervises membership and drives the snapshot protocol until the
// context is cancelled or a fatal error occurs.
func (n *Negotiator) Run(ctx context.Context) error {
	if err := cluster.InitMasterState(ctx, n.store); err != nil {
		return err
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer n.stopDriver()

	ch, err := n.store.WatchChildren(wctx, cluster.LivingProcessorsPath)
	if err != nil {
		return err
	}

	// The watch only reports changes after arming; evaluate the membership
	// we registered into first.
	if err := n.onMembershipChange(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.store.Done():
			return coord.ErrSessionExpired
		case err := <-n.fatal:
			return err
		case <-ch:
			if err := n.onMembershipChange(ctx); err != nil {
				return err
			}
		}
	}
}

// onMembershipChange kills any running driver, then either declares the
// cluster unavailable or starts a fresh driver.
func (n *Negotiator) onMembershipChange(ctx context.Context) error {
	n.stopDriver()

	children, err := n.store.Children(ctx, cluster.LivingProcessorsPath)
	if err != nil {
		return err
	}
	want := n.topo.NumProcessors() + 1 // the negotiator itself registers too
	if len(children) < want {
		n.logger.Info().Int("present", len(children)).Int("want", want).Msg("cluster unavailable")
		return cluster.SetMasterState(ctx, n.store, models.Unavailable{})
	}

	n.logger.Info().Int("present", len(children)).Msg("membership complete, starting snapshot driver")
	dctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	n.driverCancel = cancel
	n.driverDone = done
	go func() {
		defer close(done)
		if err := n.runDriver(dctx); err != nil && dctx.Err() == nil {
			// Double-throw: the driver's fatal error must terminate the
			// main goroutine as well.
			select {
			case n.fatal <- err:
			default:
			}
		}
	}()
	return nil
}

func (n *Negotiator) stopDriver() {
	if n.driverCancel == nil {
		return
	}
	n.driverCancel()
	<-n.driverDone
	n.driverCancel = nil
	n.driverDone = nil
}

// runDriver performs initialization, rewind, and then the flow loop.
func (n *Negotiator) runDriver(ctx context.Context) error {
	if err := cluster.SetMasterState(ctx, n.store, models.Initialization{}); err != nil {
		return err
	}

	clocks, err := n.untilBoltsLoaded(ctx)
	if err != nil {
		return err
	}
	c0 := models.EmptyClock()
	for i, c := range clocks {
		if i == 0 {
			c0 = c
			continue
		}
		if !c.Equal(c0) {
			n.logger.Error().Str("first", c0.String()).Str("other", c.String()).
				Msg("divergent startup clocks")
			return ErrBadStartup
		}
	}

	if err := cluster.SetMasterState(ctx, n.store, models.SpoutsRewind{Clock: c0}); err != nil {
		return err
	}
	if err := n.untilSpoutsPausedAt(ctx, c0); err != nil {
		return err
	}
	n.logger.Info().Str("clock", c0.String()).Msg("spouts rewound, entering flow loop")

	prev := c0
	for {
		if err := cluster.SetMasterState(ctx, n.store, models.Flowing{}); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.cfg.SnapshotInterval):
		}

		cut, err := n.negotiateSnapshot(ctx, prev)
		if err != nil {
			return err
		}
		if err := cluster.SetLastCompleteSnapshot(ctx, n.store, cut); err != nil {
			return err
		}
		n.logger.Info().Str("cut", cut.String()).Msg("snapshot complete")
		prev = cut
	}
}

// negotiateSnapshot runs one cut: pause the spouts, assemble the cut clock
// from their pause points, publish it, and wait for every bolt to save it.
func (n *Negotiator) negotiateSnapshot(ctx context.Context, prev models.Clock) (models.Clock, error) {
	if err := cluster.SetMasterState(ctx, n.store, models.SpoutsPaused{}); err != nil {
		return nil, err
	}
	cut, err := n.untilSpoutsPaused(ctx)
	if err != nil {
		return nil, err
	}
	if err := cluster.SetMasterState(ctx, n.store, models.Flowing{Snapshot: &cut}); err != nil {
		return nil, err
	}
	if err := n.untilBoltsSaved(ctx, cut, prev); err != nil {
		return nil, err
	}
	return cut, nil
}

// pollStates runs probe against the current processor states every throttle
// until it reports done or the context ends.
func (n *Negotiator) pollStates(ctx context.Context,
	probe func(map[models.ProcessorId]models.ProcessorState) (bool, error)) error {

	for {
		states, err := cluster.GetAllProcessorStates(ctx, n.store)
		if err != nil {
			return err
		}
		done, err := probe(states)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.cfg.StoreThrottle):
		}
	}
}

// untilBoltsLoaded waits until every bolt announces BoltLoaded and returns
// their clocks, ordered like BoltIds.
func (n *Negotiator) untilBoltsLoaded(ctx context.Context) ([]models.Clock, error) {
	boltIds := n.topo.BoltIds()
	clocks := make([]models.Clock, len(boltIds))
	err := n.pollStates(ctx, func(states map[models.ProcessorId]models.ProcessorState) (bool, error) {
		for i, id := range boltIds {
			loaded, ok := states[id].(models.BoltLoaded)
			if !ok {
				return false, nil
			}
			clocks[i] = loaded.Clock
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return clocks, nil
}

// untilSpoutsPausedAt waits until every spout is paused at the rewind
// clock's offset for its partition.
func (n *Negotiator) untilSpoutsPausedAt(ctx context.Context, c models.Clock) error {
	spoutIds := n.topo.SpoutIds()
	return n.pollStates(ctx, func(states map[models.ProcessorId]models.ProcessorState) (bool, error) {
		for _, id := range spoutIds {
			partition, _ := n.topo.PartitionFor(id)
			paused, ok := states[id].(models.SpoutPaused)
			if !ok || paused.Partition != partition || paused.Offset != c[partition] {
				return false, nil
			}
		}
		return true, nil
	})
}

// untilSpoutsPaused waits until every spout is paused and assembles the cut
// clock from the reported pause points, one offset per spout partition.
func (n *Negotiator) untilSpoutsPaused(ctx context.Context) (models.Clock, error) {
	spoutIds := n.topo.SpoutIds()
	cut := models.EmptyClock()
	err := n.pollStates(ctx, func(states map[models.ProcessorId]models.ProcessorState) (bool, error) {
		next := models.EmptyClock()
		for _, id := range spoutIds {
			partition, _ := n.topo.PartitionFor(id)
			paused, ok := states[id].(models.SpoutPaused)
			if !ok || paused.Partition != partition {
				return false, nil
			}
			next[partition] = paused.Offset
		}
		cut = next
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !cut.Covers(n.topo.SpoutPartitions()) {
		return nil, errors.Join(ErrBadClusterState,
			errors.New("cut clock does not cover every spout partition"))
	}
	return cut, nil
}

// untilBoltsSaved waits until every bolt saved the cut. A bolt still
// showing the previous cut (or running) is just late; any other clock is a
// divergence and fatal.
func (n *Negotiator) untilBoltsSaved(ctx context.Context, cut, prev models.Clock) error {
	boltIds := n.topo.BoltIds()
	return n.pollStates(ctx, func(states map[models.ProcessorId]models.ProcessorState) (bool, error) {
		for _, id := range boltIds {
			switch st := states[id].(type) {
			case models.BoltSaved:
				if st.Clock.Equal(cut) {
					continue
				}
				if st.Clock.Equal(prev) {
					return false, nil
				}
				n.logger.Error().Str("bolt", id.String()).Str("saved", st.Clock.String()).
					Str("cut", cut.String()).Msg("divergent save clock")
				return false, ErrBadClusterState
			case models.BoltRunning, models.BoltLoaded:
				return false, nil
			default:
				return false, nil
			}
		}
		return true, nil
	})
}
