// Package store persists operator settings (setpoint and safety bounds) in a
// bbolt file so they survive restarts.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bucket      = "settings"
	settingsKey = "current"
)

// Settings are the operator-adjustable values.
type Settings struct {
	Setpoint float64   `json:"setpoint"`
	Low      float64   `json:"low"`
	High     float64   `json:"high"`
	Updated  time.Time `json:"updated"`
}

// Store is a bbolt-backed settings store. Safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Load returns the saved settings. ok is false if nothing was saved yet.
func (s *Store) Load() (Settings, bool, error) {
	var (
		set Settings
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucket)).Get([]byte(settingsKey))
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &set)
	})
	if err != nil {
		return Settings{}, false, fmt.Errorf("load settings: %w", err)
	}
	return set, ok, nil
}

// Save replaces the saved settings.
func (s *Store) Save(set Settings) error {
	if set.Updated.IsZero() {
		set.Updated = time.Now().UTC()
	}
	buf, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(settingsKey), buf)
	})
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
