package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const EventProductBulkImport = "product-bulk-import"

// ErrNothingImported is returned when an import changed no product; such runs
// are not recorded.
var ErrNothingImported = errors.New("import changed no products")

type Store interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type ImportSummary struct {
	FileName      string `json:"fileName"`
	Mode          string `json:"mode"`
	SuccessCount  int    `json:"successCount"`
	ErrorCount    int    `json:"errorCount"`
	NotFoundCount int    `json:"notFoundCount"`
	SkippedCount  int    `json:"skippedCount"`
}

type Entry struct {
	ID          string          `json:"id"`
	EventType   string          `json:"eventType"`
	Summary     ImportSummary   `json:"summary"`
	Payload     json.RawMessage `json:"payload"`
	PayloadHash string          `json:"payloadHash"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type Recorder struct {
	store Store
	now   func() time.Time
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// RecordImport appends one bulk-import event. details is stored as canonical
// JSON next to the summary counts.
func (r *Recorder) RecordImport(ctx context.Context, summary ImportSummary, details any) (Entry, error) {
	if summary.SuccessCount == 0 {
		return Entry{}, ErrNothingImported
	}

	payloadJSON, err := json.Marshal(struct {
		ImportSummary
		Details any `json:"details,omitempty"`
	}{summary, details})
	if err != nil {
		return Entry{}, fmt.Errorf("marshal history payload: %w", err)
	}
	payloadJSON, err = canonicalizePayload(payloadJSON)
	if err != nil {
		return Entry{}, fmt.Errorf("canonicalize history payload: %w", err)
	}

	// Postgres keeps microseconds; truncate so the hash input survives a round trip.
	createdAt := r.now().Truncate(time.Microsecond)
	entry := Entry{
		ID:        uuid.NewString(),
		EventType: EventProductBulkImport,
		Summary:   summary,
		Payload:   payloadJSON,
		CreatedAt: createdAt,
	}
	entry.PayloadHash = payloadHash(createdAt, entry.EventType, payloadJSON)

	_, err = r.store.ExecContext(ctx, `
		INSERT INTO import_history (
			id, event_type, file_name, mode,
			success_count, error_count, not_found_count, skipped_count,
			payload, payload_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, entry.ID, entry.EventType, summary.FileName, summary.Mode,
		summary.SuccessCount, summary.ErrorCount, summary.NotFoundCount, summary.SkippedCount,
		string(payloadJSON), entry.PayloadHash, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("insert history entry: %w", err)
	}
	return entry, nil
}

// List returns the newest entries first.
func (r *Recorder) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.store.QueryContext(ctx, `
		SELECT id, event_type, file_name, mode, success_count, error_count, not_found_count, skipped_count,
			payload, payload_hash, created_at
		FROM import_history
		ORDER BY created_at DESC
		LIMIT `+strconv.Itoa(limit))
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var e Entry
		var payload string
		if err := rows.Scan(&e.ID, &e.EventType, &e.Summary.FileName, &e.Summary.Mode,
			&e.Summary.SuccessCount, &e.Summary.ErrorCount, &e.Summary.NotFoundCount, &e.Summary.SkippedCount,
			&payload, &e.PayloadHash, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

type VerifyResult struct {
	Valid         bool      `json:"valid"`
	CheckedEvents int       `json:"checkedEvents"`
	BrokenAtID    string    `json:"brokenAtId,omitempty"`
	Message       string    `json:"message"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// Verify recomputes every stored payload hash, oldest first, and stops at the
// first entry whose hash no longer matches its row.
func (r *Recorder) Verify(ctx context.Context) (VerifyResult, error) {
	rows, err := r.store.QueryContext(ctx, `
		SELECT id, event_type, payload, payload_hash, created_at
		FROM import_history
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("query history for verification: %w", err)
	}
	defer rows.Close()

	result := VerifyResult{Valid: true, CheckedAt: r.now(), Message: "history hashes are valid"}
	for rows.Next() {
		var (
			id, eventType, payload, stored string
			createdAt                      time.Time
		)
		if err := rows.Scan(&id, &eventType, &payload, &stored, &createdAt); err != nil {
			return VerifyResult{}, fmt.Errorf("scan history entry: %w", err)
		}
		result.CheckedEvents++
		if payloadHash(createdAt.UTC(), eventType, []byte(payload)) != stored {
			result.Valid = false
			result.BrokenAtID = id
			result.Message = "history payload hash mismatch"
			return result, nil
		}
	}
	if err := rows.Err(); err != nil {
		return VerifyResult{}, fmt.Errorf("iterate history rows: %w", err)
	}
	return result, nil
}

func payloadHash(createdAt time.Time, eventType string, payload []byte) string {
	sum := sha256.Sum256([]byte(createdAt.Format(time.RFC3339Nano) + "|" + eventType + "|" + string(payload)))
	return hex.EncodeToString(sum[:])
}

func canonicalizePayload(raw []byte) ([]byte, error) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return json.Marshal(payload)
}
