// Package leveldb persists subscriptions in an embedded LevelDB so they
// survive restarts.
package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brianly1003/pressd/internal/domain/messages"
	"github.com/brianly1003/pressd/internal/domain/ports"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const keyPrefix = "sub/"

// Store is a ports.SubscriptionStore on LevelDB.
type Store struct {
	db   *leveldb.DB
	sync bool
}

// Open opens or creates the database at path. With sync set every write
// is flushed to disk before returning.
func Open(path string, sync bool) (*Store, error) {
	opts := &opt.Options{
		CompactionTableSize: 2 * 1024 * 1024,
		WriteBuffer:         1 * 1024 * 1024,
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}
	return &Store{db: db, sync: sync}, nil
}

func key(url, channelID string) []byte {
	return []byte(keyPrefix + url + "\x00" + channelID)
}

func (s *Store) writeOptions() *opt.WriteOptions {
	return &opt.WriteOptions{Sync: s.sync}
}

// Put stores q under its subscription url and id.
func (s *Store) Put(ctx context.Context, q messages.Query) error {
	if q.Subscription == nil || q.Subscription.URL == "" {
		return errors.New("query has no subscription url")
	}
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}
	return s.db.Put(key(q.Subscription.URL, q.ID), data, s.writeOptions())
}

// Delete removes one subscription. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, url, channelID string) error {
	return s.db.Delete(key(url, channelID), s.writeOptions())
}

// List returns every stored subscription query. Undecodable records are
// skipped and reported in the returned error after the scan.
func (s *Store) List(ctx context.Context) ([]messages.Query, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer iter.Release()

	var out []messages.Query
	var bad int
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		var q messages.Query
		if err := json.Unmarshal(iter.Value(), &q); err != nil {
			bad++
			continue
		}
		out = append(out, q)
	}
	if err := iter.Error(); err != nil {
		return out, err
	}
	if bad > 0 {
		return out, fmt.Errorf("%d stored subscriptions could not be decoded", bad)
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ ports.SubscriptionStore = (*Store)(nil)
