// ABOUTME: Badger-backed archive of scenario results.
// ABOUTME: Results are stored as JSON under result:<id> keys.

package scenario

import (
	"encoding/json"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v3"
)

const resultKeyPrefix = "result:"

// Store persists scenario results so runs can be compared after the fact.
type Store struct {
	db *badger.DB
}

// OpenStore opens (or creates) the results archive at path.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open results archive: %w", err)
	}
	return &Store{db: db}, nil
}

// Put archives a result under its ID.
func (s *Store) Put(r *Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(resultKeyPrefix+r.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to archive result %s: %w", r.ID, err)
	}
	return nil
}

// Get loads a result by ID.
func (s *Store) Get(id string) (*Result, error) {
	var r Result
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(resultKeyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load result %s: %w", id, err)
	}
	return &r, nil
}

// List returns all archived results, newest last.
func (s *Store) List() ([]*Result, error) {
	var out []*Result
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(resultKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var r Result
				if err := json.Unmarshal(val, &r); err != nil {
					return err
				}
				out = append(out, &r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return out, nil
}

// IDs returns the archived result IDs.
func (s *Store) IDs() ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		prefix := []byte(resultKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			out = append(out, strings.TrimPrefix(key, resultKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list result ids: %w", err)
	}
	return out, nil
}

// Close flushes and closes the archive.
func (s *Store) Close() error {
	return s.db.Close()
}
