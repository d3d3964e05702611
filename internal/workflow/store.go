/**
 * Workflow Records
 *
 * Tracks the lifecycle of one OCR request as a Redis hash keyed by the
 * request ID. The API front door creates the record, the dispatch stage
 * transitions it, and the finalize stage closes it out. A companion Redis
 * set counts completed page chains for the fan-in barrier; membership is
 * idempotent under redelivery because SADD of a known member is a no-op.
 */

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Workflow status values, mirroring the states a poller observes.
const (
	StatusPending = "PENDING"
	StatusStarted = "STARTED"
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// ErrNotFound is returned when no record exists for a workflow ID.
var ErrNotFound = errors.New("workflow: record not found")

const (
	keyPrefix = "ocr_wf"

	// dispatchPollInterval is how often WaitForDispatch re-reads the
	// record while the dispatch stage is still pending.
	dispatchPollInterval = 100 * time.Millisecond
)

// Record is the persisted view of one OCR workflow.
type Record struct {
	ID         string                 `json:"id"`
	GUID       string                 `json:"guid"`
	Status     string                 `json:"status"`
	PagesTotal int                    `json:"pages_total"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      map[string]interface{} `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Terminal reports whether the workflow has reached a final state.
func (r *Record) Terminal() bool {
	return r.Status == StatusSuccess || r.Status == StatusFailure
}

// Store persists workflow records in Redis.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a workflow store. Records share the TTL of the
// intermediate state so a workflow never outlives its artifacts' window.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) key(id string) string {
	return fmt.Sprintf("%s:%s", keyPrefix, id)
}

func (s *Store) doneKey(id string) string {
	return fmt.Sprintf("%s:%s:done", keyPrefix, id)
}

// Create writes a fresh PENDING record for the request.
func (s *Store) Create(ctx context.Context, id, guid string) error {
	if id == "" {
		return fmt.Errorf("workflow: id cannot be empty")
	}
	now := time.Now().UTC()
	fields := map[string]interface{}{
		"id":         id,
		"guid":       guid,
		"status":     StatusPending,
		"created_at": now.Format(time.RFC3339Nano),
		"updated_at": now.Format(time.RFC3339Nano),
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.key(id), fields)
	pipe.Expire(ctx, s.key(id), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("workflow: create %s: %w", id, err)
	}
	return nil
}

// MarkStarted transitions the record to STARTED once the page fan-out is
// known. pagesTotal is the number of page chains the barrier waits for.
func (s *Store) MarkStarted(ctx context.Context, id string, pagesTotal int) error {
	return s.update(ctx, id, map[string]interface{}{
		"status":      StatusStarted,
		"pages_total": pagesTotal,
	})
}

// MarkFailed transitions the record to FAILURE with a structured error.
// Safe to call more than once; the first terminal error wins only in the
// sense that later writes overwrite it with equivalent failure data.
func (s *Store) MarkFailed(ctx context.Context, id string, errInfo map[string]interface{}) error {
	encoded, err := json.Marshal(errInfo)
	if err != nil {
		return fmt.Errorf("workflow: marshal error info: %w", err)
	}
	return s.update(ctx, id, map[string]interface{}{
		"status": StatusFailure,
		"error":  string(encoded),
	})
}

// MarkSucceeded closes the workflow with its final result document.
func (s *Store) MarkSucceeded(ctx context.Context, id string, result map[string]interface{}) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("workflow: marshal result: %w", err)
	}
	return s.update(ctx, id, map[string]interface{}{
		"status": StatusSuccess,
		"result": string(encoded),
	})
}

func (s *Store) update(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.key(id), fields)
	pipe.Expire(ctx, s.key(id), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("workflow: update %s: %w", id, err)
	}
	return nil
}

// Get loads the record for a workflow ID.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	raw, err := s.rdb.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("workflow: get %s: %w", id, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("workflow: get %s: %w", id, ErrNotFound)
	}

	rec := &Record{
		ID:     raw["id"],
		GUID:   raw["guid"],
		Status: raw["status"],
	}
	if v := raw["pages_total"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("workflow: parse pages_total for %s: %w", id, err)
		}
		rec.PagesTotal = n
	}
	if v := raw["created_at"]; v != "" {
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v := raw["updated_at"]; v != "" {
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v := raw["result"]; v != "" {
		if err := json.Unmarshal([]byte(v), &rec.Result); err != nil {
			return nil, fmt.Errorf("workflow: unmarshal result for %s: %w", id, err)
		}
	}
	if v := raw["error"]; v != "" {
		if err := json.Unmarshal([]byte(v), &rec.Error); err != nil {
			return nil, fmt.Errorf("workflow: unmarshal error for %s: %w", id, err)
		}
	}
	return rec, nil
}

// MarkPageDone records the completion of one page chain and returns the
// number of distinct pages completed so far. The caller compares the
// count against pages_total to decide whether the barrier is satisfied.
func (s *Store) MarkPageDone(ctx context.Context, id string, pageIndex int) (int64, error) {
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, s.doneKey(id), pageIndex)
	pipe.Expire(ctx, s.doneKey(id), s.ttl)
	card := pipe.SCard(ctx, s.doneKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("workflow: mark page %d done for %s: %w", pageIndex, id, err)
	}
	return card.Val(), nil
}

// WaitForDispatch blocks until the record leaves PENDING or the timeout
// elapses. Input-level failures (undecodable upload, zero pages) happen
// during the dispatch stage; waiting here lets the API surface them
// synchronously instead of handing the client a doomed workflow ID.
func (s *Store) WaitForDispatch(ctx context.Context, id string, timeout time.Duration) (*Record, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(dispatchPollInterval)
	defer ticker.Stop()

	for {
		rec, err := s.Get(ctx, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if rec != nil && rec.Status != StatusPending {
			return rec, nil
		}
		if time.Now().After(deadline) {
			// Dispatch is still queued behind other work; report what we
			// have and let the client poll.
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}
