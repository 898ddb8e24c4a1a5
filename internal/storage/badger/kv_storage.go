package badger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/peto/internal/interfaces"
)

// KeyValuePair is the stored form of one KV entry.
type KeyValuePair struct {
	Key       string    `badgerhold:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KVStorage implements the KVStorage interface for Badger. Rate-limit
// counters lean on Increment, which serializes through a process lock.
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewKVStorage creates a new KVStorage instance
func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KVStorage {
	return &KVStorage{
		db:     db,
		logger: logger,
	}
}

// normalizeKey converts a key to lowercase for case-insensitive storage
func (s *KVStorage) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Get retrieves a value by key (case-insensitive). A missing key is not
// an error: callers treat absence as the zero value.
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	var pair KeyValuePair
	err := s.db.Store().Get(s.normalizeKey(key), &pair)
	if err == badgerhold.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key: %w", err)
	}
	return pair.Value, nil
}

// Set inserts or updates a key/value pair (case-insensitive)
func (s *KVStorage) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(s.normalizeKey(key), value)
}

func (s *KVStorage) set(normalizedKey, value string) error {
	now := time.Now()
	pair := KeyValuePair{
		Key:       normalizedKey,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Preserve CreatedAt when the key already exists
	var existing KeyValuePair
	if err := s.db.Store().Get(normalizedKey, &existing); err == nil {
		pair.CreatedAt = existing.CreatedAt
	}

	if err := s.db.Store().Upsert(normalizedKey, &pair); err != nil {
		return fmt.Errorf("failed to set key/value: %w", err)
	}
	return nil
}

// Delete removes a key/value pair (case-insensitive)
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	err := s.db.Store().Delete(s.normalizeKey(key), &KeyValuePair{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Increment atomically adds delta to an integer value, creating it at
// zero, and returns the new value
func (s *KVStorage) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalizedKey := s.normalizeKey(key)
	current := int64(0)

	var pair KeyValuePair
	err := s.db.Store().Get(normalizedKey, &pair)
	if err == nil {
		parsed, perr := strconv.ParseInt(pair.Value, 10, 64)
		if perr != nil {
			return 0, fmt.Errorf("key %s holds a non-integer value", key)
		}
		current = parsed
	} else if err != badgerhold.ErrNotFound {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}

	next := current + delta
	if err := s.set(normalizedKey, strconv.FormatInt(next, 10)); err != nil {
		return 0, err
	}
	return next, nil
}
