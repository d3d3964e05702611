/**
 * PostgreSQL Job Archive
 *
 * Durable archive of finished OCR jobs. Redis holds workflow state only
 * for the TTL window; the archive is what reporting and support queries
 * read after that window closes. The archive is optional: a worker
 * without DATABASE_URL runs Redis-only.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// JobRecord is the archived view of one OCR job.
type JobRecord struct {
	RequestID  string
	GUID       string
	Filename   string
	MimeType   string
	FileSize   int64
	PagesTotal int
	Status     string
	Confidence float64
	DurationMs int64
	ErrorCode  string
	ErrorInfo  map[string]interface{}
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PostgresClient archives job records.
type PostgresClient struct {
	db *sql.DB
}

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it
// to [0.0, 1.0]. Raw float64 means like 0.9632000000000001 trip the
// NUMERIC(5,4) column.
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewPostgresClient connects to the archive database.
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the archive table if it does not exist yet.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ocr_jobs (
			request_id  TEXT PRIMARY KEY,
			guid        TEXT NOT NULL,
			filename    TEXT NOT NULL DEFAULT '',
			mime_type   TEXT NOT NULL DEFAULT '',
			file_size   BIGINT NOT NULL DEFAULT 0,
			pages_total INT NOT NULL DEFAULT 0,
			status      TEXT NOT NULL,
			confidence  NUMERIC(5,4),
			duration_ms BIGINT,
			error_code  TEXT,
			error_info  JSONB,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure archive schema: %w", err)
	}
	return nil
}

// UpsertJob writes or refreshes the archive row for a job. Called at
// dispatch with the upload facts, then again from the terminal stages.
func (p *PostgresClient) UpsertJob(ctx context.Context, rec *JobRecord) error {
	if rec.RequestID == "" {
		return fmt.Errorf("request ID is required")
	}
	if rec.Status == "" {
		return fmt.Errorf("status is required")
	}

	errorJSON, err := json.Marshal(rec.ErrorInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal error info: %w", err)
	}

	query := `
		INSERT INTO ocr_jobs (
			request_id, guid, filename, mime_type, file_size,
			pages_total, status, confidence, duration_ms,
			error_code, error_info, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, NULLIF($8::NUMERIC(5,4), 0), NULLIF($9, 0),
			NULLIF($10, ''), COALESCE($11::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (request_id) DO UPDATE SET
			status      = EXCLUDED.status,
			pages_total = COALESCE(NULLIF(EXCLUDED.pages_total, 0), ocr_jobs.pages_total),
			confidence  = COALESCE(EXCLUDED.confidence, ocr_jobs.confidence),
			duration_ms = COALESCE(EXCLUDED.duration_ms, ocr_jobs.duration_ms),
			error_code  = EXCLUDED.error_code,
			error_info  = COALESCE(EXCLUDED.error_info, ocr_jobs.error_info),
			filename    = COALESCE(NULLIF(EXCLUDED.filename, ''), ocr_jobs.filename),
			mime_type   = COALESCE(NULLIF(EXCLUDED.mime_type, ''), ocr_jobs.mime_type),
			file_size   = COALESCE(NULLIF(EXCLUDED.file_size, 0), ocr_jobs.file_size),
			updated_at  = NOW()
	`

	_, err = p.db.ExecContext(
		ctx,
		query,
		rec.RequestID,
		rec.GUID,
		rec.Filename,
		rec.MimeType,
		rec.FileSize,
		rec.PagesTotal,
		rec.Status,
		sanitizeConfidence(rec.Confidence),
		rec.DurationMs,
		rec.ErrorCode,
		errorJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job (request=%s, status=%s): %w",
			rec.RequestID, rec.Status, err)
	}
	return nil
}

// GetJob retrieves one archived job by request ID.
func (p *PostgresClient) GetJob(ctx context.Context, requestID string) (*JobRecord, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request ID is required")
	}

	query := `
		SELECT
			request_id, guid, filename, mime_type, file_size,
			pages_total, status, confidence, duration_ms,
			error_code, error_info, created_at, updated_at
		FROM ocr_jobs
		WHERE request_id = $1
	`

	var (
		rec        JobRecord
		confidence sql.NullFloat64
		durationMs sql.NullInt64
		errorCode  sql.NullString
		errorJSON  []byte
	)

	err := p.db.QueryRowContext(ctx, query, requestID).Scan(
		&rec.RequestID, &rec.GUID, &rec.Filename, &rec.MimeType, &rec.FileSize,
		&rec.PagesTotal, &rec.Status, &confidence, &durationMs,
		&errorCode, &errorJSON, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	rec.Confidence = confidence.Float64
	rec.DurationMs = durationMs.Int64
	rec.ErrorCode = errorCode.String
	if len(errorJSON) > 0 {
		if err := json.Unmarshal(errorJSON, &rec.ErrorInfo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error info: %w", err)
		}
	}
	return &rec, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
