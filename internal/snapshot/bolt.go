package snapshot

import (
	"path/filepath"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/tarungka/monsoon/internal/logger"
	"github.com/tarungka/monsoon/internal/models"
	"github.com/tarungka/monsoon/internal/rsync"
)

var snapshotsBucket = []byte("snapshots")

// boltStore keeps snapshots in a single-file bbolt database.
type boltStore struct {
	open   *rsync.AtomicBool
	db     *bolt.DB
	logger zerolog.Logger
}

func openBolt(dir string) (*boltStore, error) {
	path := filepath.Join(dir, "snapshots.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	s := &boltStore{
		open:   rsync.NewAtomicBool(),
		db:     db,
		logger: logger.GetLogger("snapdb"),
	}
	s.open.Set()
	s.logger.Debug().Str("path", path).Msg("opened bolt snapshot store")
	return s, nil
}

func (s *boltStore) Save(id models.ProcessorId, clock models.Clock, state []byte) error {
	if !s.open.Is() {
		return ErrStoreNotOpen
	}
	clockBytes, err := models.MarshalClock(clock)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotsBucket)
		if err := b.Put(snapKey(id, clock), state); err != nil {
			return err
		}
		return b.Put(latestKey(id), clockBytes)
	})
}

func (s *boltStore) Load(id models.ProcessorId, clock models.Clock) ([]byte, error) {
	if !s.open.Is() {
		return nil, ErrStoreNotOpen
	}
	var state []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(snapshotsBucket).Get(snapKey(id, clock))
		if v != nil {
			state = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrNoSnapshot
	}
	return state, nil
}

func (s *boltStore) Latest(id models.ProcessorId) (models.Clock, []byte, error) {
	if !s.open.Is() {
		return nil, nil, ErrStoreNotOpen
	}
	var clockBytes []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(snapshotsBucket).Get(latestKey(id))
		if v != nil {
			clockBytes = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if clockBytes == nil {
		return nil, nil, ErrNoSnapshot
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

func (s *boltStore) Close() error {
	if !s.open.Is() {
		return nil
	}
	s.open.Unset()
	return s.db.Close()
}
