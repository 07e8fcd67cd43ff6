package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"batchml/internal/features"

	"go.etcd.io/bbolt"
)

const (
	datasetsBucket = "datasets" // Bucket name for dataset descriptions
	tablesBucket   = "tables"   // Bucket name for extracted feature tables

	datasetsFile = "batchml-datasets.db"
)

// ErrDatasetNotFound is returned by Get for an unknown id.
var ErrDatasetNotFound = errors.New("dataset not found")

// DatasetInfo describes an uploaded file after feature extraction.
type DatasetInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RawRows     int       `json:"raw_rows"`
	Columns     []string  `json:"columns"`
	Excluded    []string  `json:"excluded,omitempty"`
	BatchSize   int       `json:"batch_size"`
	Batches     int       `json:"batches"`
	DroppedRows int       `json:"dropped_rows"`
	Width       int       `json:"width"`
	CreatedAt   time.Time `json:"created_at"`
}

// DatasetStore keeps extracted feature tables between runs using BoltDB.
// Descriptions and tables are kept in separate buckets so listing never
// decodes the tables.
type DatasetStore struct {
	db *bbolt.DB // BoltDB database instance
}

// NewDatasetStore opens (or creates) the dataset database in dataPath.
// Returns an error if the database cannot be opened or buckets cannot be created.
func NewDatasetStore(dataPath string) (*DatasetStore, error) {
	dbPath := filepath.Join(dataPath, datasetsFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(datasetsBucket)); err != nil {
			return fmt.Errorf("create datasets bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(tablesBucket)); err != nil {
			return fmt.Errorf("create tables bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DatasetStore{db: db}, nil
}

// Close closes the database. Closing twice is allowed.
func (s *DatasetStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores info and its table under info.ID, replacing any previous entry.
func (s *DatasetStore) Put(info DatasetInfo, table *features.Table) error {
	if info.ID == "" {
		return errors.New("dataset id is empty")
	}
	if table == nil {
		return errors.New("dataset table is nil")
	}

	infoData, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal dataset info: %w", err)
	}
	tableData, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("marshal dataset table: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(datasetsBucket)).Put([]byte(info.ID), infoData); err != nil {
			return err
		}
		return tx.Bucket([]byte(tablesBucket)).Put([]byte(info.ID), tableData)
	})
}

// Get returns the description and table stored under id.
func (s *DatasetStore) Get(id string) (*DatasetInfo, *features.Table, error) {
	var (
		info  DatasetInfo
		table features.Table
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		infoData := tx.Bucket([]byte(datasetsBucket)).Get([]byte(id))
		tableData := tx.Bucket([]byte(tablesBucket)).Get([]byte(id))
		if infoData == nil || tableData == nil {
			return ErrDatasetNotFound
		}
		if err := json.Unmarshal(infoData, &info); err != nil {
			return fmt.Errorf("unmarshal dataset info: %w", err)
		}
		if err := json.Unmarshal(tableData, &table); err != nil {
			return fmt.Errorf("unmarshal dataset table: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &info, &table, nil
}

// List returns every dataset description, newest first.
func (s *DatasetStore) List() ([]DatasetInfo, error) {
	var out []DatasetInfo

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(datasetsBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var info DatasetInfo
			if err := json.Unmarshal(v, &info); err != nil {
				continue // Skip malformed records
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete removes id and reports whether it existed.
func (s *DatasetStore) Delete(id string) (bool, error) {
	var existed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		key := []byte(id)
		b := tx.Bucket([]byte(datasetsBucket))
		existed = b.Get(key) != nil
		if err := b.Delete(key); err != nil {
			return err
		}
		return tx.Bucket([]byte(tablesBucket)).Delete(key)
	})
	return existed, err
}

// Prune removes datasets created before cutoff and returns how many were
// removed.
func (s *DatasetStore) Prune(cutoff time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		infos := tx.Bucket([]byte(datasetsBucket))
		tables := tx.Bucket([]byte(tablesBucket))

		var stale [][]byte
		c := infos.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var info DatasetInfo
			if err := json.Unmarshal(v, &info); err != nil {
				continue
			}
			if info.CreatedAt.Before(cutoff) {
				stale = append(stale, bytes.Clone(k))
			}
		}
		for _, k := range stale {
			if err := infos.Delete(k); err != nil {
				return err
			}
			if err := tables.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
