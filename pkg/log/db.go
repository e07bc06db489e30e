// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package log

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

const logBucket = "logs-1"

const defaultMaxLogs = 100000

// ErrDBClosed database is not initialized or already closed.
var ErrDBClosed = errors.New("log database closed")

// DB persists logs in a bbolt database keyed by log time.
type DB struct {
	path    string
	maxLogs int

	bolt *bolt.DB
	mu   sync.Mutex
	wg   *sync.WaitGroup

	// Writers in progress, the database is closed after them.
	writers sync.WaitGroup
}

// NewDB new log database.
func NewDB(path string, wg *sync.WaitGroup) *DB {
	return &DB{
		path:    path,
		maxLogs: defaultMaxLogs,
		wg:      wg,
	}
}

// Init opens the database, it is closed when ctx is canceled.
func (d *DB) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o700); err != nil {
		return fmt.Errorf("create log database directory: %w", err)
	}

	db, err := bolt.Open(d.path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("open log database %v: %w", d.path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(logBucket))
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("create bucket %v: %w", logBucket, err)
	}

	d.mu.Lock()
	d.bolt = db
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		<-ctx.Done()

		d.mu.Lock()
		d.writers.Wait()
		d.bolt = nil
		d.mu.Unlock()
		db.Close()
	}()
	return nil
}

// acquire returns the open database and a release func.
func (d *DB) acquire() (*bolt.DB, func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bolt == nil {
		return nil, nil, ErrDBClosed
	}
	d.writers.Add(1)
	return d.bolt, d.writers.Done, nil
}

// SaveLogs stores every log from the logger until ctx
// is canceled or the logger stops.
func (d *DB) SaveLogs(ctx context.Context, l *Logger) {
	feed, cancel := l.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-feed:
			if !ok {
				return
			}
			if err := d.save(entry); err != nil {
				fmt.Fprintf(os.Stderr, "could not save log: %v: %v\n", entry.Msg, err)
			}
		}
	}
}

func (d *DB) save(entry Log) error {
	db, release, err := d.acquire()
	if err != nil {
		return err
	}
	defer release()

	value, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(logBucket))

		if b.Stats().KeyN >= d.maxLogs {
			oldest, _ := b.Cursor().First()
			if err := b.Delete(oldest); err != nil {
				return fmt.Errorf("delete oldest log: %w", err)
			}
		}

		// Several logs may share a microsecond.
		key := uint64(entry.Time)
		for b.Get(timeKey(key)) != nil {
			key++
		}
		return b.Put(timeKey(key), value)
	})
}

// Query log database query, empty fields match everything.
type Query struct {
	Levels  []Level
	Sources []string
	Jobs    []string

	// Only logs before this time.
	Before UnixMicro
	Limit  int
}

func (q Query) match(entry Log) bool {
	return contains(q.Levels, entry.Level) &&
		contains(q.Sources, entry.Src) &&
		contains(q.Jobs, entry.Job)
}

func contains[T comparable](values []T, v T) bool {
	if len(values) == 0 {
		return true
	}
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}

// Query returns matching logs, newest first.
func (d *DB) Query(q Query) ([]Log, error) {
	db, release, err := d.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	limit := q.Limit
	if limit <= 0 {
		limit = defaultMaxLogs
	}

	var logs []Log
	err = db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(logBucket)).Cursor()

		var key, value []byte
		if q.Before == 0 {
			key, value = c.Last()
		} else if k, _ := c.Seek(timeKey(uint64(q.Before))); k == nil {
			key, value = c.Last()
		} else {
			// Seek stops at the first key at or after Before.
			key, value = c.Prev()
		}

		for ; key != nil && len(logs) < limit; key, value = c.Prev() {
			var entry Log
			if err := json.Unmarshal(value, &entry); err != nil {
				return fmt.Errorf("unmarshal log %x: %w", key, err)
			}
			if q.match(entry) {
				logs = append(logs, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func timeKey(t uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, t)
	return key
}
