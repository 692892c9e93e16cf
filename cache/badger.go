package cache

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/tarungka/weave/internal/logger"
	"github.com/tarungka/weave/internal/utils"
)

// Config selects where the badger store keeps its data.
type Config struct {
	// Dir is the on-disk location. Ignored when InMemory is set.
	Dir string
	// InMemory keeps everything in RAM; the cache then lives and dies with
	// the process.
	InMemory bool
}

// BadgerStore is a Store on top of badger.
type BadgerStore struct {
	open     atomic.Bool
	db       *badger.DB
	dir      string
	inMemory bool
	logger   zerolog.Logger
}

// New opens a badger-backed store per the config.
func New(c *Config) (*BadgerStore, error) {
	opts := badger.DefaultOptions(c.Dir)
	if c.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	// Badger's own logger writes straight to stderr; the store logs through
	// zerolog instead.
	opts = opts.WithLogger(nil)

	s := &BadgerStore{
		dir:      c.Dir,
		inMemory: c.InMemory,
		logger:   logger.GetLogger("cache"),
	}
	if !c.InMemory && utils.PathExists(filepath.Join(c.Dir, "MANIFEST")) {
		// Rows are keyed by id only, so a leftover dir serves rows from the
		// previous run.
		s.logger.Warn().Str("dir", c.Dir).Msg("reusing existing cache dir")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open badger: %w", err)
	}
	s.db = db
	s.open.Store(true)
	s.logger.Debug().Str("dir", c.Dir).Bool("in_memory", c.InMemory).Msg("opened row store")
	return s, nil
}

// SizeOnDisk reports the bytes under the store directory.
func (s *BadgerStore) SizeOnDisk() (int64, error) {
	if s.inMemory {
		return 0, nil
	}
	return utils.DirSize(s.dir)
}

func (s *BadgerStore) Set(key, val []byte) error {
	if !s.open.Load() {
		return ErrStoreClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func (s *BadgerStore) Get(key []byte) ([]byte, error) {
	if !s.open.Load() {
		return nil, ErrStoreClosed
	}
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *BadgerStore) Scan(from []byte, limit int) ([][]byte, []byte, error) {
	if !s.open.Load() {
		return nil, nil, ErrStoreClosed
	}
	var vals [][]byte
	var next []byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		if from == nil {
			it.Rewind()
		} else {
			it.Seek(from)
		}
		for ; it.Valid(); it.Next() {
			if len(vals) == limit {
				next = it.Item().KeyCopy(nil)
				return nil
			}
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			vals = append(vals, v)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return vals, next, nil
}

func (s *BadgerStore) Close() error {
	if !s.open.CompareAndSwap(true, false) {
		return ErrStoreClosed
	}
	s.logger.Debug().Msg("closing row store")
	return s.db.Close()
}
