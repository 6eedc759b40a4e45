// Package objectcache provides a persistent (dev,ino)->checksum cache used
// to populate a repository's devino cache across process restarts: a
// self-cleaning BoltDB handle that reads an old database, writes a new
// one, and atomically swaps them on Close so that only entries actually
// touched this run survive.
package objectcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketName = "devino"

// Cache is a self-cleaning devino -> checksum lookup table.
type Cache struct {
	readDB  *bolt.DB
	writeDB *bolt.DB
	path    string
	enabled bool
}

// Open opens the existing cache file for reading (if present) and a fresh
// "<path>.new" for writing. An empty path disables the cache entirely.
func Open(path string) (*Cache, error) {
	if path == "" {
		return &Cache{enabled: false}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create objectcache dir: %w", err)
	}

	c := &Cache{path: path, enabled: true}

	if _, statErr := os.Stat(path); statErr == nil {
		if db, err := bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true, Timeout: time.Second}); err == nil {
			c.readDB = db
		}
	}

	writeDB, err := bolt.Open(path+".new", 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create new objectcache (locked by another instance?): %w", err)
	}
	c.writeDB = writeDB

	if err := c.writeDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// Close closes both databases and, if the write database closed cleanly,
// atomically replaces the old cache file with the new one.
func (c *Cache) Close() error {
	var errs []error
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.writeDB != nil {
		if err := c.writeDB.Close(); err != nil {
			errs = append(errs, err)
		} else if c.path != "" {
			if err := os.Rename(c.path+".new", c.path); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Reset is a no-op: it discards nothing, and the write database's
// accumulated entries stay in place until Close() does its usual swap.
// It is called at the end of a transaction.
func (c *Cache) Reset() error { return nil }

func makeKey(dev, ino uint64) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, dev)
	_ = binary.Write(buf, binary.BigEndian, ino)
	return buf.Bytes()
}

// Lookup returns the cached checksum for (dev,ino), copying a hit forward
// into the write database so it survives this run's swap.
func (c *Cache) Lookup(dev, ino uint64) ([]byte, error) {
	if !c.enabled || c.readDB == nil {
		return nil, nil
	}

	key := makeKey(dev, ino)
	var csum []byte
	err := c.readDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		if data := b.Get(key); len(data) == 32 {
			csum = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("objectcache lookup: %w", err)
	}
	if csum == nil {
		return nil, nil
	}
	_ = c.Store(dev, ino, csum)
	return csum, nil
}

// Store records a (dev,ino) -> checksum mapping in the write database.
func (c *Cache) Store(dev, ino uint64, csum []byte) error {
	if !c.enabled || c.writeDB == nil || len(csum) != 32 {
		return nil
	}
	err := c.writeDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put(makeKey(dev, ino), csum)
	})
	if err != nil {
		return fmt.Errorf("objectcache store: %w", err)
	}
	return nil
}
