package store

import (
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/core/types"
)

var entryPrefix = []byte("j")

func entryKey(index uint64) []byte {
	return append(append([]byte{}, entryPrefix...), types.EncodeIndex(index)...)
}

// PebbleStore is an EntryStore persisted in a pebble database, one database
// directory per mining cycle.
type PebbleStore struct {
	db    *pebble.DB
	count int
}

// OpenPebble opens (or creates) the store at path.
func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble store at %s", path)
	}
	s := &PebbleStore{db: db}
	if s.count, err = s.countEntries(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) countEntries() (int, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: entryPrefix,
		UpperBound: []byte{entryPrefix[0] + 1},
	})
	if err != nil {
		return 0, errors.Wrap(err, "iterate entries")
	}
	n := 0
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	return n, errors.Wrap(it.Close(), "close iterator")
}

func (s *PebbleStore) Put(e *types.JustificationEntry) error {
	enc, err := EncodeEntry(e)
	if err != nil {
		return err
	}
	key := entryKey(e.Index)
	_, closer, err := s.db.Get(key)
	switch {
	case err == nil:
		closer.Close()
	case errors.Is(err, pebble.ErrNotFound):
		s.count++
	default:
		return errors.Wrapf(err, "lookup entry %d", e.Index)
	}
	return errors.Wrapf(s.db.Set(key, enc, pebble.Sync), "write entry %d", e.Index)
}

func (s *PebbleStore) Get(index uint64) (*types.JustificationEntry, error) {
	val, closer, err := s.db.Get(entryKey(index))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read entry %d", index)
	}
	defer closer.Close()
	return DecodeEntry(val)
}

func (s *PebbleStore) Len() int {
	return s.count
}

func (s *PebbleStore) Reset() error {
	err := s.db.DeleteRange(entryPrefix, []byte{entryPrefix[0] + 1}, pebble.Sync)
	if err != nil {
		return errors.Wrap(err, "drop entries")
	}
	s.count = 0
	return nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
