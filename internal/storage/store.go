package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/skypro1111/whisper-stream-service/internal/engine"
)

// Record sources
const (
	SourceStream = "stream"
	SourceUpload = "upload"
)

// ErrNotFound is returned when no transcript has the requested id
var ErrNotFound = errors.New("transcript not found")

// TranscriptRecord is one stored transcription result
type TranscriptRecord struct {
	ID        string           `json:"id"`
	Source    string           `json:"source"`
	SessionID string           `json:"session_id,omitempty"`
	Filename  string           `json:"filename,omitempty"`
	Model     string           `json:"model"`
	Language  string           `json:"language"`
	Text      string           `json:"text"`
	Segments  []engine.Segment `json:"segments"`
	Fallback  bool             `json:"fallback,omitempty"`
	Chunks    uint64           `json:"chunks,omitempty"`
	Duration  float64          `json:"duration_seconds"`
	CreatedAt time.Time        `json:"created_at"`
}

// Store persists transcript records
type Store interface {
	Save(ctx context.Context, record *TranscriptRecord) error
	Get(ctx context.Context, id string) (*TranscriptRecord, error)
	List(ctx context.Context, limit int) ([]TranscriptRecord, error)
	Close() error
}

// Options configures the badger store
type Options struct {
	Path     string
	InMemory bool
}

var (
	recordPrefix = []byte("t/")
	indexPrefix  = []byte("i/")
)

type badgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a transcript store
func NewBadgerStore(opts Options) (Store, error) {
	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		badgerOpts = badger.DefaultOptions(filepath.Join(opts.Path, "badger"))
	}
	badgerOpts.Logger = nil

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &badgerStore{db: db}, nil
}

// recordKey orders records by creation time so reverse iteration is newest first
func recordKey(record *TranscriptRecord) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", recordPrefix, record.CreatedAt.UnixNano(), record.ID))
}

func indexKey(id string) []byte {
	return append(append([]byte{}, indexPrefix...), id...)
}

// Save assigns an id and creation time when missing and stores the record
func (s *badgerStore) Save(ctx context.Context, record *TranscriptRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.Segments == nil {
		record.Segments = []engine.Segment{}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	key := recordKey(record)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(indexKey(record.ID), key)
	})
	if err != nil {
		return fmt.Errorf("failed to store transcript: %w", err)
	}

	return nil
}

// Get returns the record with the given id
func (s *badgerStore) Get(ctx context.Context, id string) (*TranscriptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var record TranscriptRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(id))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}

	return &record, nil
}

// List returns up to limit records, newest first. limit <= 0 returns all.
func (s *badgerStore) List(ctx context.Context, limit int) ([]TranscriptRecord, error) {
	records := make([]TranscriptRecord, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = true
		iterOpts.Prefix = recordPrefix

		it := txn.NewIterator(iterOpts)
		defer it.Close()

		seek := append(append([]byte{}, recordPrefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(recordPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(records) >= limit {
				break
			}

			var record TranscriptRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}

	return records, nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}

// NopStore discards everything. Used when storage is disabled.
type NopStore struct{}

func (NopStore) Save(context.Context, *TranscriptRecord) error { return nil }

func (NopStore) Get(context.Context, string) (*TranscriptRecord, error) { return nil, ErrNotFound }

func (NopStore) List(context.Context, int) ([]TranscriptRecord, error) {
	return []TranscriptRecord{}, nil
}

func (NopStore) Close() error { return nil }
