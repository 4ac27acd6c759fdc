// Package blobcache persists the last fetched vault blob between
// invocations so the vault stays readable offline. The blob is stored
// sealed with AES-GCM under the state key, never as server plaintext.
package blobcache

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/avoronov/lastvault/internal/common"
	"github.com/avoronov/lastvault/internal/cryptox"
)

var (
	blobsBucket = []byte("blobs")
	metaBucket  = []byte("meta")
)

// cachedBlob is the sealed JSON record stored per username.
type cachedBlob struct {
	Data      []byte    `json:"data"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Cache is a bbolt-backed store of sealed vault blobs keyed by username.
type Cache struct {
	db *bolt.DB
}

// Open opens or creates the cache database at path with owner-only
// permissions.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open blob cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{blobsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return tx.Bucket(metaBucket).Put([]byte("version"), []byte("1"))
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Put seals the blob under the state key derived from decryptionKey and
// stores it for username, replacing any previous blob.
func (c *Cache) Put(username string, data []byte, fetchedAt time.Time, decryptionKey []byte) error {
	sealed, err := cryptox.SealState(cachedBlob{Data: data, FetchedAt: fetchedAt},
		cryptox.StateKey(decryptionKey))
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blobsBucket).Put([]byte(username), sealed)
	})
}

// Get returns the cached blob for username. common.ErrNotCached when no
// blob is stored; common.ErrDecryption when the key does not match.
func (c *Cache) Get(username string, decryptionKey []byte) ([]byte, time.Time, error) {
	var sealed []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blobsBucket).Get([]byte(username))
		if v == nil {
			return common.ErrNotCached
		}
		sealed = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}

	var blob cachedBlob
	if err := cryptox.OpenState(sealed, cryptox.StateKey(decryptionKey), &blob); err != nil {
		return nil, time.Time{}, fmt.Errorf("blob cache: %w", err)
	}
	return blob.Data, blob.FetchedAt, nil
}

// Delete drops the cached blob for username. Deleting an absent blob is
// not an error.
func (c *Cache) Delete(username string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blobsBucket).Delete([]byte(username))
	})
}
