// Package leveldbkv implements kv.Backend on LevelDB. Records are stored as
// CBOR envelopes under the REC namespace so the database can hold other
// indexes later without colliding with record keys.
package leveldbkv

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/mlog-app/mlog-store/internal/kv"
	"github.com/mlog-app/mlog-store/internal/logger"
)

const (
	keyPrefixRecord = "REC" // Records indexed by key. Followed by the raw record key
)

var ErrCorrupted = fmt.Errorf("corrupted")

var _ kv.Backend = (*LevelDB)(nil)

// envelope is the on-disk form of a record.
type envelope struct {
	Key   string `cbor:"1,keyasint"`
	Value []byte `cbor:"2,keyasint"`
}

type LevelDB struct {
	path string
	db   *leveldb.DB
}

// Open opens or creates the database at path, recovering it if the manifest
// is corrupted.
func Open(path string) (*LevelDB, error) {
	opts := &opt.Options{
		Compression: opt.NoCompression,
	}

	db, err := leveldb.OpenFile(path, opts)
	if errors.IsCorrupted(err) {
		logger.Warnf("LevelDB at %s is corrupted, recovering", path)
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}

	logger.Infof("Opened LevelDB at %s", path)
	return &LevelDB{path: path, db: db}, nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

func dbKey(key string) []byte {
	return append([]byte(keyPrefixRecord), key...)
}

func encode(key string, value []byte) ([]byte, error) {
	return cbor.Marshal(&envelope{Key: key, Value: value})
}

func (l *LevelDB) decode(key string, raw []byte) ([]byte, error) {
	env := &envelope{}
	if err := cbor.Unmarshal(raw, env); err != nil {
		return nil, err
	}
	// Compare the key just in case
	if env.Key != key {
		logger.Errorf("LevelDB %s: key mismatch: %q != %q", l.path, key, env.Key)
		return nil, ErrCorrupted
	}
	return env.Value, nil
}

func (l *LevelDB) Get(_ context.Context, key string) ([]byte, error) {
	raw, err := l.db.Get(dbKey(key), nil)
	if err == errors.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l.decode(key, raw)
}

func (l *LevelDB) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	// Read from one snapshot so the batch is consistent.
	snap, err := l.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	out := make([][]byte, len(keys))
	for i, k := range keys {
		raw, err := snap.Get(dbKey(k), nil)
		if err == errors.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if out[i], err = l.decode(k, raw); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (l *LevelDB) Put(_ context.Context, key string, value []byte) error {
	raw, err := encode(key, value)
	if err != nil {
		return err
	}
	return l.db.Put(dbKey(key), raw, nil)
}

func (l *LevelDB) PutMany(_ context.Context, entries []kv.Entry) error {
	batch := new(leveldb.Batch)
	for _, e := range entries {
		raw, err := encode(e.Key, e.Value)
		if err != nil {
			return err
		}
		batch.Put(dbKey(e.Key), raw)
	}
	return l.db.Write(batch, nil)
}

func (l *LevelDB) Delete(_ context.Context, key string) error {
	return l.db.Delete(dbKey(key), nil)
}

func (l *LevelDB) DeleteMany(_ context.Context, keys []string) error {
	batch := new(leveldb.Batch)
	for _, k := range keys {
		batch.Delete(dbKey(k))
	}
	return l.db.Write(batch, nil)
}

func (l *LevelDB) Scan(ctx context.Context, prefix string) ([]kv.Entry, error) {
	iter := l.db.NewIterator(util.BytesPrefix(dbKey(prefix)), nil)
	defer iter.Release()

	var results []kv.Entry
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := string(iter.Key()[len(keyPrefixRecord):])
		value, err := l.decode(key, iter.Value())
		if err != nil {
			return nil, err
		}
		results = append(results, kv.Entry{Key: key, Value: value})
	}
	return results, iter.Error()
}
