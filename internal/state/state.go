package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"
	bolt "go.etcd.io/bbolt"

	apperrors "github.com/prajiwaji-cpu/wealth-management-portal/internal/errors"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.wealth-portal/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	// The database holds the portal bearer token.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	kvBucket     = []byte("kv")
	draftsBucket = []byte("drafts")
)

// Draft is a locally saved, possibly incomplete set of form values for a
// task. Drafts never leave the machine; submitting a task reads the draft
// but only the Portal response confirms the change.
type Draft struct {
	TaskID  string         `json:"task_id"`
	Fields  map[string]any `json:"fields"`
	SavedAt int64          `json:"saved_at"`
}

// DraftSummary is the listing view of a stored draft.
type DraftSummary struct {
	TaskID  string
	Method  string
	SavedAt int64
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// Load opens the state database at the given path, creating it and its
// parent directory if they do not exist. Tests pass a path under
// t.TempDir() for isolation.
func Load(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(kvBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(draftsBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key, or empty string when absent.
func (s *State) Get(key string) (string, error) {
	var value string

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(kvBucket).Get([]byte(key))
		if v != nil {
			value = string(v)
		}

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}

	return value, nil
}

// Set persists the value under key.
func (s *State) Set(key, value string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}

	return nil
}

// Delete removes the value under key. Deleting an absent key is not an
// error.
func (s *State) Delete(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}

	return nil
}

// SaveDraft persists a draft, stamping SavedAt when the caller left it
// zero.
func (s *State) SaveDraft(d Draft) error {
	if d.TaskID == "" {
		return fmt.Errorf("task id is required for a draft")
	}

	if d.SavedAt == 0 {
		d.SavedAt = time.Now().Unix()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}

		return tx.Bucket(draftsBucket).Put([]byte(d.TaskID), data)
	})
}

// Draft returns the stored draft for a task, or ErrDraftNotFound.
func (s *State) Draft(taskID string) (*Draft, error) {
	var d *Draft

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(draftsBucket).Get([]byte(taskID))
		if v == nil {
			return apperrors.ErrDraftNotFound
		}

		d = &Draft{}

		return json.Unmarshal(v, d)
	})
	if err != nil {
		return nil, err
	}

	return d, nil
}

// DeleteDraft removes the draft for a task. Removing an absent draft is
// not an error.
func (s *State) DeleteDraft(taskID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(draftsBucket).Delete([]byte(taskID))
	})
}

// DraftSummaries lists stored drafts without fully decoding them; the
// method and timestamp are peeked out of the stored JSON.
func (s *State) DraftSummaries() ([]DraftSummary, error) {
	var summaries []DraftSummary

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(draftsBucket).ForEach(func(k, v []byte) error {
			summaries = append(summaries, DraftSummary{
				TaskID:  string(k),
				Method:  gjson.GetBytes(v, "fields.verification_method").String(),
				SavedAt: gjson.GetBytes(v, "saved_at").Int(),
			})

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}

	return summaries, nil
}
