package kv

import (
	"bytes"
	"context"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bolt keeps records in a single bbolt bucket. Every write call is one
// bbolt transaction, so a value is either fully replaced or untouched.
type Bolt struct {
	db     *bolt.DB
	bucket []byte
}

type BoltOptions struct {
	// Bucket is the name of the Bolt bucket to use.
	Bucket string
	// Timeout bounds how long Open waits for the file lock.
	Timeout time.Duration
}

var errClosed = errors.New("kv: backend closed")

// OpenBolt initializes or opens a Bolt database at the given path.
func OpenBolt(path string, opts BoltOptions) (*Bolt, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 1 * time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	bucket := []byte("records")
	if opts.Bucket != "" {
		bucket = []byte(opts.Bucket)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db, bucket: bucket}, nil
}

// Close closes the underlying database.
func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *Bolt) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.view(func(bk *bolt.Bucket) error {
		if v := bk.Get([]byte(key)); v != nil {
			out = append([]byte{}, v...)
		}
		return nil
	})
	return out, err
}

func (b *Bolt) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	err := b.view(func(bk *bolt.Bucket) error {
		for i, k := range keys {
			if v := bk.Get([]byte(k)); v != nil {
				out[i] = append([]byte{}, v...)
			}
		}
		return nil
	})
	return out, err
}

func (b *Bolt) Put(ctx context.Context, key string, value []byte) error {
	return b.update(func(bk *bolt.Bucket) error {
		return bk.Put([]byte(key), value)
	})
}

func (b *Bolt) PutMany(ctx context.Context, entries []Entry) error {
	return b.update(func(bk *bolt.Bucket) error {
		for _, e := range entries {
			if err := bk.Put([]byte(e.Key), e.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) Delete(ctx context.Context, key string) error {
	return b.update(func(bk *bolt.Bucket) error {
		return bk.Delete([]byte(key))
	})
}

func (b *Bolt) DeleteMany(ctx context.Context, keys []string) error {
	return b.update(func(bk *bolt.Bucket) error {
		for _, k := range keys {
			if err := bk.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Scan walks the bucket from the first key >= prefix; keys are returned in
// ascending byte order.
func (b *Bolt) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	var out []Entry
	p := []byte(prefix)
	err := b.view(func(bk *bolt.Bucket) error {
		c := bk.Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			out = append(out, Entry{Key: string(k), Value: append([]byte{}, v...)})
		}
		return nil
	})
	return out, err
}

func (b *Bolt) view(fn func(*bolt.Bucket) error) error {
	if b.db == nil {
		return errClosed
	}
	return b.db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(b.bucket))
	})
}

func (b *Bolt) update(fn func(*bolt.Bucket) error) error {
	if b.db == nil {
		return errClosed
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(b.bucket))
	})
}
