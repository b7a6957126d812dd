package kv

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/egdb/errors"
)

// Iterator walks the keys of a KV in order. Item returns io.EOF once the
// iteration is finished.
type Iterator interface {
	Item(fn func(key, val []byte) error) error
	Close()
}

// Updater batches changes to a KV; only one updater may be active at a time.
type Updater interface {
	Get(key []byte, fn func(val []byte) error) error
	Set(key, val []byte) error
	Delete(key []byte) error
	Commit(sync bool) error
	Rollback()
}

// KV is an ordered key-value store. Get returns io.EOF when the key is not
// found. Iterate visits the keys in [minKey, maxKey); a nil maxKey is
// unbounded.
type KV interface {
	Iterate(minKey, maxKey []byte) (Iterator, error)
	Get(key []byte, fn func(val []byte) error) error
	Updater() (Updater, error)
	Sync() error
	Close() error
}

type OpenFunc func(dataDir string, logger *log.Logger) (KV, error)

var (
	kvsMutex sync.RWMutex
	kvs      = map[string]OpenFunc{}
)

func Register(typ string, open OpenFunc) {
	kvsMutex.Lock()
	defer kvsMutex.Unlock()

	if open == nil {
		panic("kv: register open is nil")
	}
	if _, dup := kvs[typ]; dup {
		panic("kv: register called twice for kv: " + typ)
	}
	kvs[typ] = open
}

func Open(typ, dataDir string, logger *log.Logger) (KV, error) {
	kvsMutex.RLock()
	open, ok := kvs[typ]
	kvsMutex.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.ErrBadRequest, "kv: store %s not found", typ)
	}
	log.WithFields(log.Fields{
		"store": typ,
		"data":  dataDir,
	}).Info("opening store")
	return open(dataDir, logger)
}

func Stores() []string {
	kvsMutex.RLock()
	defer kvsMutex.RUnlock()

	var ret []string
	for typ := range kvs {
		ret = append(ret, typ)
	}
	sort.Strings(ret)
	return ret
}
