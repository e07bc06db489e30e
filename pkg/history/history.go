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

// Package history stores conversion reports in a bbolt database
// keyed by report time.
package history

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vconv/pkg/verify"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

const dbAPIversion = "1"

const defaultMaxKeys = 100000

// ErrNotOpen database is not initialized.
var ErrNotOpen = errors.New("database not open")

// DB conversion history database.
type DB struct {
	dbPath  string
	maxKeys int

	db *bolt.DB
	wg *sync.WaitGroup

	// Wait for the last report to be saved before closing.
	saveWG sync.WaitGroup
	mu     sync.Mutex
}

// NewDB new history database.
func NewDB(dbPath string, wg *sync.WaitGroup) *DB {
	return &DB{
		dbPath:  dbPath,
		maxKeys: defaultMaxKeys,
		wg:      wg,
	}
}

// Init opens the database, it is closed when ctx is canceled.
func (h *DB) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(h.dbPath), 0o700); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}

	dbOpts := &bolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bolt.Open(h.dbPath, 0o600, dbOpts)
	if err != nil {
		return fmt.Errorf("could not open database: %w: %v", err, h.dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(dbAPIversion))
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("could not create bucket: %v, %w", dbAPIversion, err)
	}

	h.mu.Lock()
	h.db = db
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		<-ctx.Done()
		h.mu.Lock()
		h.saveWG.Wait()
		db.Close()
		h.db = nil
		h.mu.Unlock()
		h.wg.Done()
	}()

	return nil
}

func (h *DB) open() (*bolt.DB, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil, nil, ErrNotOpen
	}
	h.saveWG.Add(1)
	return h.db, h.saveWG.Done, nil
}

// Save stores a report. Keys are the report time in microseconds,
// colliding keys are moved forward by one microsecond.
func (h *DB) Save(r verify.Report) error {
	db, done, err := h.open()
	if err != nil {
		return err
	}
	defer done()

	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dbAPIversion))

		if b.Stats().KeyN >= h.maxKeys {
			if err := deleteFirstKey(b); err != nil {
				return fmt.Errorf("could not delete first key: %w", err)
			}
		}

		t := uint64(r.Timestamp.UnixMicro())
		for b.Get(encodeKey(t)) != nil {
			t++
		}
		return b.Put(encodeKey(t), value)
	})
}

func deleteFirstKey(b *bolt.Bucket) error {
	k, _ := b.Cursor().First()
	return b.Delete(k)
}

// Query database query.
type Query struct {
	// Only reports before this time, zero for no limit.
	Before time.Time

	// Only reports with these statuses, nil for all.
	Statuses []verify.Status

	Limit int
}

// Query returns reports newest first.
func (h *DB) Query(q Query) ([]verify.Report, error) {
	db, done, err := h.open()
	if err != nil {
		return nil, err
	}
	defer done()

	limit := q.Limit
	if limit <= 0 {
		limit = defaultMaxKeys
	}

	var reports []verify.Report
	err = db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(dbAPIversion)).Cursor()

		var key, value []byte
		if q.Before.IsZero() {
			key, value = c.Last()
		} else {
			// Seek returns the first key at or after the time.
			key, value = c.Seek(encodeKey(uint64(q.Before.UnixMicro())))
			if key == nil {
				key, value = c.Last()
			} else {
				key, value = c.Prev()
			}
		}

		for ; key != nil && len(reports) < limit; key, value = c.Prev() {
			var r verify.Report
			if err := json.Unmarshal(value, &r); err != nil {
				return fmt.Errorf("could not unmarshal report: %w", err)
			}
			if !statusInStatuses(r.Status, q.Statuses) {
				continue
			}
			reports = append(reports, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}

func statusInStatuses(status verify.Status, statuses []verify.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func encodeKey(key uint64) []byte {
	output := make([]byte, 8)
	binary.BigEndian.PutUint64(output, key)
	return output
}
