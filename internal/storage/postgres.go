/**
 * PostgreSQL Client for the OCR Worker
 *
 * Persists recognition jobs: status transitions, the selected backend, the
 * engines that took part in a vote, and the full result set as JSONB.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"

	"github.com/adverant/nexus/ocr-worker/internal/recognition"
)

// Job statuses
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS ocr;
	CREATE TABLE IF NOT EXISTS ocr.recognition_jobs (
		id                 UUID PRIMARY KEY,
		status             TEXT NOT NULL,
		mode               TEXT,
		backend            TEXT,
		confidence         NUMERIC(5,4),
		engines_used       TEXT[],
		image_count        INTEGER NOT NULL DEFAULT 0,
		processing_time_ms BIGINT,
		results            JSONB,
		error_code         TEXT,
		error_message      TEXT,
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS recognition_jobs_status_idx ON ocr.recognition_jobs (status);
`

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Status           string
	Mode             string
	Backend          string
	Confidence       float64
	EnginesUsed      []string
	ImageCount       int
	ProcessingTimeMs int64
	Results          []*recognition.Result
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// Job is a persisted recognition job
type Job struct {
	ID               string
	Status           string
	Mode             string
	Backend          string
	Confidence       float64
	EnginesUsed      []string
	ImageCount       int
	ProcessingTimeMs int64
	Results          []*recognition.Result
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// sanitizeConfidence clamps to [0,1] and rounds to 4 decimals to fit NUMERIC(5,4)
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// sanitizeJSONForPostgres strips escapes JSONB rejects; OCR output of binary noise can contain \u0000
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the job table when it does not exist yet
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts a job row; empty fields in the update keep the stored values
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	sanitizedConfidence := sanitizeConfidence(update.Confidence)

	var err error
	var metadataJSON []byte
	if update.Metadata != nil {
		metadataJSON, err = json.Marshal(update.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	var resultsJSON []byte
	if update.Results != nil {
		resultsJSON, err = json.Marshal(update.Results)
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		resultsJSON = sanitizeJSONForPostgres(resultsJSON)
	}

	var engines interface{}
	if update.EnginesUsed != nil {
		engines = pq.Array(update.EnginesUsed)
	}

	query := `
		INSERT INTO ocr.recognition_jobs (
			id, status, mode, backend, confidence, engines_used, image_count,
			processing_time_ms, results, error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, $2, NULLIF($3, ''), NULLIF($4, ''),
			NULLIF($5::NUMERIC(5,4), 0), $6::text[], $7,
			NULLIF($8, 0), $9::jsonb, NULLIF($10, ''), NULLIF($11, ''),
			COALESCE($12::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			mode = COALESCE(EXCLUDED.mode, ocr.recognition_jobs.mode),
			backend = COALESCE(EXCLUDED.backend, ocr.recognition_jobs.backend),
			confidence = COALESCE(EXCLUDED.confidence, ocr.recognition_jobs.confidence),
			engines_used = COALESCE(EXCLUDED.engines_used, ocr.recognition_jobs.engines_used),
			image_count = GREATEST(EXCLUDED.image_count, ocr.recognition_jobs.image_count),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, ocr.recognition_jobs.processing_time_ms),
			results = COALESCE(EXCLUDED.results, ocr.recognition_jobs.results),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = ocr.recognition_jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	results := nullableJSON(resultsJSON)
	metadata := nullableJSON(metadataJSON)

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1
		update.Status,           // $2
		update.Mode,             // $3
		update.Backend,          // $4
		sanitizedConfidence,     // $5
		engines,                 // $6
		update.ImageCount,       // $7
		update.ProcessingTimeMs, // $8
		results,                 // $9
		update.ErrorCode,        // $10
		update.ErrorMessage,     // $11
		metadata,                // $12
	).Scan(&returnedID)

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s, confidence=%.4f): %w",
			update.JobID, update.Status, sanitizedConfidence, err)
	}

	return nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, status, mode, backend, confidence, engines_used, image_count,
			processing_time_ms, results, error_code, error_message, metadata,
			created_at, updated_at
		FROM ocr.recognition_jobs
		WHERE id = $1::uuid
	`

	var (
		job                                Job
		mode, backend, errorCode, errorMsg sql.NullString
		confidence                         sql.NullFloat64
		processingTimeMs                   sql.NullInt64
		engines                            []string
		resultsJSON, metadataJSON          []byte
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.ID, &job.Status, &mode, &backend, &confidence, pq.Array(&engines),
		&job.ImageCount, &processingTimeMs, &resultsJSON, &errorCode, &errorMsg,
		&metadataJSON, &job.CreatedAt, &job.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.Mode = mode.String
	job.Backend = backend.String
	job.Confidence = confidence.Float64
	job.ProcessingTimeMs = processingTimeMs.Int64
	job.EnginesUsed = engines
	job.ErrorCode = errorCode.String
	job.ErrorMessage = errorMsg.String

	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &job.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal results: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &job, nil
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

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
