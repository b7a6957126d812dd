package kv

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"github.com/leftmike/egdb/errors"
)

var (
	egdbBucket = []byte("egdb")
)

type bboltKV struct {
	db *bbolt.DB
}

type bboltIterator struct {
	tx     *bbolt.Tx
	cr     *bbolt.Cursor
	minKey []byte
	maxKey []byte
	next   bool
}

type bboltUpdater struct {
	db  *bbolt.DB
	tx  *bbolt.Tx
	bkt *bbolt.Bucket
}

func init() {
	Register("bbolt",
		func(dataDir string, logger *log.Logger) (KV, error) {
			return MakeBBoltKV(dataDir)
		})
}

func MakeBBoltKV(dataDir string) (KV, error) {
	err := os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, errors.Wrap(err, "bbolt")
	}

	fn := filepath.Join(dataDir, "egdb.bbolt")
	db, err := bbolt.Open(fn, 0644, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "bbolt: open %s", fn)
	}
	db.NoFreelistSync = true
	db.NoSync = true

	err = db.Update(
		func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(egdbBucket)
			return err
		})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "bbolt: create bucket")
	}

	return bboltKV{
		db: db,
	}, nil
}

func (bkv bboltKV) begin(writable bool) (*bbolt.Tx, *bbolt.Bucket, error) {
	tx, err := bkv.db.Begin(writable)
	if err != nil {
		return nil, nil, errors.Wrap(err, "bbolt: begin")
	}
	bkt := tx.Bucket(egdbBucket)
	if bkt == nil {
		tx.Rollback()
		return nil, nil, errors.Newf(errors.ErrInternal, "bbolt: missing %s bucket", egdbBucket)
	}
	return tx, bkt, nil
}

func (bkv bboltKV) Iterate(minKey, maxKey []byte) (Iterator, error) {
	tx, bkt, err := bkv.begin(false)
	if err != nil {
		return nil, err
	}

	return &bboltIterator{
		tx:     tx,
		cr:     bkt.Cursor(),
		minKey: append(make([]byte, 0, len(minKey)), minKey...),
		maxKey: append(make([]byte, 0, len(maxKey)), maxKey...),
	}, nil
}

func (bit *bboltIterator) Item(fn func(key, val []byte) error) error {
	var key, val []byte
	if bit.next {
		key, val = bit.cr.Next()
	} else {
		key, val = bit.cr.Seek(bit.minKey)
		bit.next = true
	}

	if key == nil || (len(bit.maxKey) > 0 && bytes.Compare(key, bit.maxKey) >= 0) {
		return io.EOF
	}
	return fn(key, val)
}

func (bit *bboltIterator) Close() {
	bit.tx.Rollback()
}

func (bkv bboltKV) Get(key []byte, fn func(val []byte) error) error {
	tx, bkt, err := bkv.begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	return bboltGet(bkt, key, fn)
}

func bboltGet(bkt *bbolt.Bucket, key []byte, fn func(val []byte) error) error {
	val := bkt.Get(key)
	if val == nil {
		return io.EOF
	}
	return fn(val)
}

func (bkv bboltKV) Updater() (Updater, error) {
	tx, bkt, err := bkv.begin(true)
	if err != nil {
		return nil, err
	}
	return bboltUpdater{
		db:  bkv.db,
		tx:  tx,
		bkt: bkt,
	}, nil
}

func (bkv bboltKV) Sync() error {
	return errors.Wrap(bkv.db.Sync(), "bbolt: sync")
}

func (bkv bboltKV) Close() error {
	return bkv.db.Close()
}

func (bu bboltUpdater) Get(key []byte, fn func(val []byte) error) error {
	return bboltGet(bu.bkt, key, fn)
}

func (bu bboltUpdater) Set(key, val []byte) error {
	return bu.bkt.Put(key, val)
}

func (bu bboltUpdater) Delete(key []byte) error {
	return bu.bkt.Delete(key)
}

func (bu bboltUpdater) Commit(sync bool) error {
	err := bu.tx.Commit()
	if err != nil {
		return errors.Wrap(err, "bbolt: commit")
	} else if sync {
		return errors.Wrap(bu.db.Sync(), "bbolt: sync")
	}
	return nil
}

func (bu bboltUpdater) Rollback() {
	bu.tx.Rollback()
}
