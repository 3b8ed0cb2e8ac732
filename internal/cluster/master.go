package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tarungka/monsoon/internal/coord"
	"github.com/tarungka/monsoon/internal/logger"
	"github.com/tarungka/monsoon/internal/models"
)

// InitMasterState creates /master_state with the Unavailable value. Creation
// is idempotent across restarts: an existing node keeps its value so a
// recovering cluster sees the last known state.
func InitMasterState(ctx context.Context, store coord.Store) error {
	data, err := models.MarshalMasterState(models.Unavailable{})
	if err != nil {
		return err
	}
	if err := store.CreatePersistent(ctx, MasterStatePath, data); err != nil {
		if errors.Is(err, coord.ErrNodeExists) {
			return nil
		}
		return err
	}
	return nil
}

// SetMasterState writes the master state. Only the negotiator calls this.
func SetMasterState(ctx context.Context, store coord.Store, st models.MasterState) error {
	data, err := models.MarshalMasterState(st)
	if err != nil {
		return err
	}
	if _, err := store.Set(ctx, MasterStatePath, data); err != nil {
		return err
	}
	lg := logger.GetLogger("master")
	lg.Info().Str("state", st.String()).Msg("master state set")
	return nil
}

// GetMasterState reads the current master state.
func GetMasterState(ctx context.Context, store coord.Store) (models.MasterState, error) {
	data, _, err := store.Get(ctx, MasterStatePath)
	if err != nil {
		if errors.Is(err, coord.ErrNoNode) {
			return nil, fmt.Errorf("%w: master state node missing", coord.ErrUnexpectedStore)
		}
		return nil, err
	}
	return models.UnmarshalMasterState(data)
}

// LastCompleteSnapshotPath records the most recent clock for which every
// bolt announced a save. Bolts reload from it so a peer's crash mid-cut
// rolls everyone back to the same complete cut.
const LastCompleteSnapshotPath = "/last_complete_snapshot"

// SetLastCompleteSnapshot publishes a completed cut. Negotiator only.
func SetLastCompleteSnapshot(ctx context.Context, store coord.Store, c models.Clock) error {
	data, err := models.MarshalClock(c)
	if err != nil {
		return err
	}
	if err := store.CreatePersistent(ctx, LastCompleteSnapshotPath, data); err == nil {
		return nil
	} else if !errors.Is(err, coord.ErrNodeExists) {
		return err
	}
	_, err = store.Set(ctx, LastCompleteSnapshotPath, data)
	return err
}

// GetLastCompleteSnapshot reads the last completed cut, or nil if no cut
// has ever completed.
func GetLastCompleteSnapshot(ctx context.Context, store coord.Store) (models.Clock, error) {
	data, _, err := store.Get(ctx, LastCompleteSnapshotPath)
	if err != nil {
		if errors.Is(err, coord.ErrNoNode) {
			return nil, nil
		}
		return nil, err
	}
	return models.UnmarshalClock(data)
}

// Mirror is a single-slot mailbox holding the reader's local copy of the
// master state. One writer (the watch goroutine), many readers; the latest
// value wins.
type Mirror struct {
	mu      sync.RWMutex
	cur     models.MasterState
	changed chan struct{}
}

func newMirror(initial models.MasterState) *Mirror {
	return &Mirror{cur: initial, changed: make(chan struct{})}
}

// Load returns the latest observed master state.
func (m *Mirror) Load() models.MasterState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Changed returns a channel closed on the next state change. Callers poll
// the mirror, not the store: grab Changed, re-check Load, then wait.
func (m *Mirror) Changed() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changed
}

func (m *Mirror) set(st models.MasterState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur = st
	close(m.changed)
	m.changed = make(chan struct{})
}

// InjectMasterState reads the current master state, starts the data-watch
// keeping a Mirror fresh, and runs body with it. body is expected to poll
// the mirror; nothing runs inside the watch callback but the re-read.
func InjectMasterState(ctx context.Context, store coord.Store, body func(ctx context.Context, m *Mirror) error) error {
	log := logger.GetLogger("master")

	initial, err := GetMasterState(ctx, store)
	if err != nil {
		return err
	}
	mirror := newMirror(initial)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := store.WatchData(wctx, MasterStatePath)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-wctx.Done():
				return
			case <-store.Done():
				return
			case <-ch:
				st, err := GetMasterState(wctx, store)
				if err != nil {
					if wctx.Err() != nil {
						return
					}
					log.Err(err).Msg("re-reading master state after watch fire")
					continue
				}
				log.Debug().Str("state", st.String()).Msg("master state observed")
				mirror.set(st)
			}
		}
	}()

	return body(ctx, mirror)
}
