package snapshot

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/tarungka/monsoon/internal/logger"
	"github.com/tarungka/monsoon/internal/models"
	"github.com/tarungka/monsoon/internal/rsync"
)

// badgerStore keeps snapshots in a badger key-value database. An empty dir
// opens an in-memory database, which local mode and tests use.
type badgerStore struct {
	open   *rsync.AtomicBool
	db     *badger.DB
	logger zerolog.Logger
}

func openBadger(dir string) (*badgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	s := &badgerStore{
		open:   rsync.NewAtomicBool(),
		db:     db,
		logger: logger.GetLogger("snapdb"),
	}
	s.open.Set()
	s.logger.Debug().Str("dir", dir).Msg("opened badger snapshot store")
	return s, nil
}

func (s *badgerStore) Save(id models.ProcessorId, clock models.Clock, state []byte) error {
	if !s.open.Is() {
		return ErrStoreNotOpen
	}
	clockBytes, err := models.MarshalClock(clock)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(snapKey(id, clock), state); err != nil {
			return err
		}
		return txn.Set(latestKey(id), clockBytes)
	})
	if err != nil {
		s.logger.Err(err).Str("processor", id.String()).Msg("saving snapshot")
		return err
	}
	s.logger.Debug().Str("processor", id.String()).Str("clock", clock.String()).Msg("snapshot saved")
	return nil
}

func (s *badgerStore) Load(id models.ProcessorId, clock models.Clock) ([]byte, error) {
	if !s.open.Is() {
		return nil, ErrStoreNotOpen
	}
	var state []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapKey(id, clock))
		if err != nil {
			return err
		}
		state, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *badgerStore) Latest(id models.ProcessorId) (models.Clock, []byte, error) {
	if !s.open.Is() {
		return nil, nil, ErrStoreNotOpen
	}
	var clockBytes []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(latestKey(id))
		if err != nil {
			return err
		}
		clockBytes, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, nil, err
	}
	clock, err := models.UnmarshalClock(clockBytes)
	if err != nil {
		return nil, nil, err
	}
	state, err := s.Load(id, clock)
	if err != nil {
		return nil, nil, err
	}
	return clock, state, nil
}

func (s *badgerStore) Close() error {
	if !s.open.Is() {
		return nil
	}
	s.open.Unset()
	return s.db.Close()
}
