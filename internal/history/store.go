package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ytget/yt-audio/internal/model"
)

// Bucket names
var (
	bucketHistory = []byte("history")
)

// Entry is one finished download as persisted on disk
type Entry struct {
	ItemID       string          `json:"item_id"`
	URL          string          `json:"url"`
	Title        string          `json:"title,omitempty"`
	Author       string          `json:"author,omitempty"`
	Duration     string          `json:"duration,omitempty"`
	Format       string          `json:"format"`
	Status       string          `json:"status"`
	ErrorKind    model.ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	OutputPath   string          `json:"output_path,omitempty"`
	Bytes        int64           `json:"bytes"`
	Attempts     int             `json:"attempts"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// EntryFromItem converts a terminal item into an Entry
func EntryFromItem(item model.DownloadItem) Entry {
	return Entry{
		ItemID:       item.ID,
		URL:          item.URL,
		Title:        item.Title,
		Author:       item.Author,
		Duration:     item.Duration,
		Format:       item.Format.String(),
		Status:       item.Status.String(),
		ErrorKind:    item.ErrorKind,
		ErrorMessage: item.ErrorMessage,
		OutputPath:   item.OutputPath,
		Bytes:        item.BytesReceived,
		Attempts:     item.Attempts,
		FinishedAt:   item.FinishedAt,
	}
}

// Store keeps download history in a BoltDB file, ordered by record time
type Store struct {
	db *bolt.DB
}

// Open opens or creates the history database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHistory)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record appends item to the history
func (s *Store) Record(item model.DownloadItem) error {
	data, err := json.Marshal(EntryFromItem(item))
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(seq), data)
	})
}

// List returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (s *Store) List(limit int) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("corrupt history entry %x: %w", k, err)
			}
			entries = append(entries, e)
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
		return nil
	})
	return entries, err
}

// Count returns the number of stored entries
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketHistory).Stats().KeyN
		return nil
	})
	return n, err
}

// Clear removes all entries
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketHistory); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketHistory)
		return err
	})
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
