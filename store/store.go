package store

import (
	"encoding/binary"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/egdb/encode"
	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/errors"
	"github.com/leftmike/egdb/kv"
)

// Store persists entities in a kv.KV under their encoded keys. The id
// sequence lives under a reserved key which sorts before every entity.
type Store struct {
	kv       kv.KV
	seqMutex sync.Mutex
}

func New(st kv.KV) *Store {
	return &Store{
		kv: st,
	}
}

// Open opens a kv.KV of type typ and returns a Store over it.
func Open(typ, dataDir string, logger *log.Logger) (*Store, error) {
	st, err := kv.Open(typ, dataDir, logger)
	if err != nil {
		return nil, err
	}
	return New(st), nil
}

func (st *Store) scan(minKey, maxKey []byte, fn func(e *entity.Entity) error) error {
	it, err := st.kv.Iterate(minKey, maxKey)
	if err != nil {
		return errors.Wrap(err, "store: iterate")
	}
	defer it.Close()

	for {
		err = it.Item(
			func(key, val []byte) error {
				e, err := encode.DecodeEntity(val)
				if err != nil {
					return errors.Wrapf(err, "store: decode %v", key)
				}
				return fn(e)
			})
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
	}
}

// ReadEntityGroup returns every entity stored under group, keyed by
// encode.KeyID.
func (st *Store) ReadEntityGroup(group entity.Key) (map[string]*entity.Entity, error) {
	entities := map[string]*entity.Entity{}
	err := st.ScanAncestor(group,
		func(e *entity.Entity) error {
			entities[encode.KeyID(e.Key)] = e
			return nil
		})
	if err != nil {
		return nil, errors.Wrap(err, "store: read group")
	}
	return entities, nil
}

// ScanAncestor calls fn, in key order, for ancestor and each of its
// descendants.
func (st *Store) ScanAncestor(ancestor entity.Key, fn func(e *entity.Entity) error) error {
	prefix := encode.MakeKey(ancestor)
	return st.scan(prefix, encode.PrefixEnd(prefix), fn)
}

// Scan calls fn, in key order, for every entity of app in namespace.
func (st *Store) Scan(app, namespace string, fn func(e *entity.Entity) error) error {
	prefix := encode.NamespacePrefix(app, namespace)
	return st.scan(prefix, encode.PrefixEnd(prefix), fn)
}

// ScanApp calls fn, in key order, for every entity of app in every
// namespace.
func (st *Store) ScanApp(app string, fn func(e *entity.Entity) error) error {
	prefix := encode.AppPrefix(app)
	return st.scan(prefix, encode.PrefixEnd(prefix), fn)
}

// Get returns the entity stored under key, or nil.
func (st *Store) Get(key entity.Key) (*entity.Entity, error) {
	var e *entity.Entity
	err := st.kv.Get(encode.MakeKey(key),
		func(val []byte) error {
			var err error
			e, err = encode.DecodeEntity(val)
			return err
		})
	if err == io.EOF {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "store: get %s", key)
	}
	return e, nil
}

// Write stores e under key; a nil e deletes key.
func (st *Store) Write(key entity.Key, e *entity.Entity) error {
	return st.update(
		func(u kv.Updater) error {
			return write(u, key, e)
		})
}

func write(u kv.Updater, key entity.Key, e *entity.Entity) error {
	if e == nil {
		return u.Delete(encode.MakeKey(key))
	}
	return u.Set(encode.MakeKey(key), encode.EncodeEntity(e))
}

// WriteBatch stores puts and deletes keys in a single update.
func (st *Store) WriteBatch(puts []*entity.Entity, deletes []entity.Key) error {
	if len(puts) == 0 && len(deletes) == 0 {
		return nil
	}

	return st.update(
		func(u kv.Updater) error {
			for _, e := range puts {
				err := write(u, e.Key, e)
				if err != nil {
					return err
				}
			}
			for _, key := range deletes {
				err := write(u, key, nil)
				if err != nil {
					return err
				}
			}
			return nil
		})
}

func (st *Store) update(fn func(u kv.Updater) error) error {
	u, err := st.kv.Updater()
	if err != nil {
		return errors.Wrap(err, "store: updater")
	}
	err = fn(u)
	if err != nil {
		u.Rollback()
		return errors.Wrap(err, "store: write")
	}
	return errors.Wrap(u.Commit(false), "store: commit")
}

func (st *Store) sequence(u kv.Updater) (int64, error) {
	var seq int64
	err := u.Get(encode.SequenceKey(),
		func(val []byte) error {
			if len(val) != 8 {
				return errors.Newf(errors.ErrInternal, "store: sequence: bad length: %d",
					len(val))
			}
			seq = int64(binary.BigEndian.Uint64(val))
			return nil
		})
	if err == io.EOF {
		return 0, nil
	}
	return seq, err
}

func (st *Store) setSequence(u kv.Updater, seq int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(seq))
	return u.Set(encode.SequenceKey(), b[:])
}

// AllocateIDs reserves size ids and returns the first and last of them.
func (st *Store) AllocateIDs(size int64) (int64, int64, error) {
	if size <= 0 {
		return 0, 0, errors.Newf(errors.ErrBadRequest, "size must be positive: %d", size)
	}

	st.seqMutex.Lock()
	defer st.seqMutex.Unlock()

	var start, end int64
	err := st.update(
		func(u kv.Updater) error {
			seq, err := st.sequence(u)
			if err != nil {
				return err
			}
			start = seq + 1
			end = seq + size
			return st.setSequence(u, end)
		})
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// ReserveID makes sure no id up to and including max will be allocated. It
// returns the first and last ids newly reserved; if max is already reserved,
// both are zero.
func (st *Store) ReserveID(max int64) (int64, int64, error) {
	st.seqMutex.Lock()
	defer st.seqMutex.Unlock()

	var start, end int64
	err := st.update(
		func(u kv.Updater) error {
			seq, err := st.sequence(u)
			if err != nil {
				return err
			}
			if seq >= max {
				return nil
			}
			start = seq + 1
			end = max
			return st.setSequence(u, max)
		})
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func (st *Store) Flush() error {
	return errors.Wrap(st.kv.Sync(), "store: flush")
}

func (st *Store) Close() error {
	return st.kv.Close()
}
