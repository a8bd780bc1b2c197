// Package bolt wraps bbolt with the JSON bucket helpers the entity store is
// built on.
package bolt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrBucketNotFound is returned when a bucket has not been created yet.
var ErrBucketNotFound = errors.New("bucket not found")

// ErrKeyNotFound is returned when a key is absent from its bucket.
var ErrKeyNotFound = errors.New("key not found")

// DB wraps bbolt database with helper methods
type DB struct {
	*bolt.DB
}

// Open opens or creates a bbolt database
func Open(path string) (*DB, error) {
	boltDB, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &DB{boltDB}, nil
}

// CreateBucket creates a bucket if it doesn't exist
func (db *DB) CreateBucket(name string) error {
	return db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", name, err)
		}
		return nil
	})
}

// PutJSON stores a value as JSON in the specified bucket, creating the
// bucket when needed
func (db *DB) PutJSON(bucket, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
		return b.Put([]byte(key), data)
	})
}

// GetJSON retrieves a value as JSON from the specified bucket
func (db *DB) GetJSON(bucket, key string, value interface{}) error {
	return db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
		}

		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}

		return json.Unmarshal(data, value)
	})
}

// Has reports whether a key exists in the specified bucket
func (db *DB) Has(bucket, key string) (bool, error) {
	var exists bool
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		exists = b.Get([]byte(key)) != nil
		return nil
	})
	return exists, err
}

// Delete removes a key from the specified bucket
func (db *DB) Delete(bucket, key string) error {
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
		}
		return b.Delete([]byte(key))
	})
}

// List returns all keys in the specified bucket
func (db *DB) List(bucket string) ([]string, error) {
	var keys []string

	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
		}

		return b.ForEach(func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})

	return keys, err
}

// ForEach iterates over all key-value pairs in a bucket. A missing bucket
// iterates zero times.
func (db *DB) ForEach(bucket string, fn func(key, value []byte) error) error {
	return db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}

		return b.ForEach(fn)
	})
}

// Scan iterates over the key-value pairs whose keys start with prefix, in
// key order. A missing bucket iterates zero times.
func (db *DB) Scan(bucket, prefix string, fn func(key, value []byte) error) error {
	return db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}

		c := b.Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}
