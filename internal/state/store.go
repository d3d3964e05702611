/**
 * State Store for Intermediate Pipeline Artifacts
 *
 * Namespaced, TTL-bound key/value store over Redis. Large binary payloads
 * (page images, per-page results) live here instead of inside task
 * payloads, so the queue transport only ever carries small control
 * messages. Every key has exactly one writer identity (one stage, one
 * page); task redelivery recomputes and overwrites the same key with
 * equivalent data, which keeps writes idempotent without locking.
 */

package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key is absent or its TTL has expired.
// Callers must never conflate this with empty data: a read-before-write
// or an expired read is a distinguishable failure.
var ErrNotFound = errors.New("state: key not found")

// DefaultTTL bounds the lifetime of every entry written for a request.
const DefaultTTL = 2 * time.Hour

const keyPrefix = "ocr_state"

// PageResult is the per-page recognition outcome. Written once by the
// recognize stage, never mutated afterward.
type PageResult struct {
	PageIndex  int     `json:"page_index"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Store is a request-scoped blob store backed by Redis.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a state store. A non-positive ttl selects DefaultTTL.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// key constructs the namespaced Redis key for one request-scoped entry.
// The request ID in the key makes cross-request collisions impossible
// even on a shared Redis instance.
func (s *Store) key(requestID, name string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, requestID, name)
}

// Put stores value under the namespaced key, silently overwriting any
// previous value and resetting the TTL.
func (s *Store) Put(ctx context.Context, requestID, name string, value []byte) error {
	if requestID == "" {
		return fmt.Errorf("state: request id cannot be empty")
	}
	if err := s.rdb.Set(ctx, s.key(requestID, name), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("state: put %s: %w", name, err)
	}
	return nil
}

// Get retrieves the value stored under the namespaced key. Returns
// ErrNotFound when the key is absent or expired.
func (s *Store) Get(ctx context.Context, requestID, name string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.key(requestID, name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("state: get %s for request %s: %w", name, requestID, ErrNotFound)
		}
		return nil, fmt.Errorf("state: get %s: %w", name, err)
	}
	return data, nil
}

// --- Typed helpers for the workflow data this pipeline stores ---

// SaveDocument stores the raw uploaded document bytes.
func (s *Store) SaveDocument(ctx context.Context, requestID string, data []byte) error {
	return s.Put(ctx, requestID, "document", data)
}

// LoadDocument retrieves the raw uploaded document bytes.
func (s *Store) LoadDocument(ctx context.Context, requestID string) ([]byte, error) {
	return s.Get(ctx, requestID, "document")
}

// SavePageImage stores one encoded page image under its page index.
func (s *Store) SavePageImage(ctx context.Context, requestID string, pageIndex int, encoded []byte) error {
	return s.Put(ctx, requestID, pageImageName(pageIndex), encoded)
}

// LoadPageImage retrieves one encoded page image by page index.
func (s *Store) LoadPageImage(ctx context.Context, requestID string, pageIndex int) ([]byte, error) {
	return s.Get(ctx, requestID, pageImageName(pageIndex))
}

// SavePageResult stores the final recognition result for a single page.
func (s *Store) SavePageResult(ctx context.Context, requestID string, result PageResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("state: marshal page result: %w", err)
	}
	return s.Put(ctx, requestID, pageResultName(result.PageIndex), data)
}

// LoadPageResult retrieves the recognition result for a single page.
func (s *Store) LoadPageResult(ctx context.Context, requestID string, pageIndex int) (PageResult, error) {
	data, err := s.Get(ctx, requestID, pageResultName(pageIndex))
	if err != nil {
		return PageResult{}, err
	}
	var result PageResult
	if err := json.Unmarshal(data, &result); err != nil {
		return PageResult{}, fmt.Errorf("state: unmarshal page result %d: %w", pageIndex, err)
	}
	return result, nil
}

// LoadAllPageResults retrieves the results for pages [0, pageCount) in
// page-index order. A missing page surfaces as ErrNotFound.
func (s *Store) LoadAllPageResults(ctx context.Context, requestID string, pageCount int) ([]PageResult, error) {
	results := make([]PageResult, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		result, err := s.LoadPageResult(ctx, requestID, i)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func pageImageName(pageIndex int) string {
	return fmt.Sprintf("page_image:%d", pageIndex)
}

func pageResultName(pageIndex int) string {
	return fmt.Sprintf("page_result:%d", pageIndex)
}
