package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

// multipartThreshold is the payload size above which uploads switch to the
// multipart path.
const multipartThreshold = 8 * 1024 * 1024

// Archiver moves aged append-only exit history out of Postgres: it queries
// records older than a cutoff, serialises them to JSONL, and uploads the
// result to object storage under a year-month partitioned key.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here; that is a separate, explicit step to be executed after the
// archive has been verified.
type Archiver struct {
	writer   domain.BlobWriter
	attempts domain.ExitAttemptStore
	exits    domain.PositionExitStore
	audit    domain.AuditStore
}

// NewArchiver creates an Archiver over the given stores.
func NewArchiver(
	writer domain.BlobWriter,
	attempts domain.ExitAttemptStore,
	exits domain.PositionExitStore,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:   writer,
		attempts: attempts,
		exits:    exits,
		audit:    audit,
	}
}

// ArchiveAttempts uploads all exit attempts created before the cutoff to
// archive/exit_attempts/YYYY-MM.jsonl and records the event in the audit
// log. It returns the number of archived records.
func (a *Archiver) ArchiveAttempts(ctx context.Context, before time.Time) (int64, error) {
	attempts, err := a.attempts.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive attempts query: %w", err)
	}
	return archive(ctx, a, "exit_attempts", before, attempts)
}

// ArchiveExits uploads all recorded exits executed before the cutoff to
// archive/position_exits/YYYY-MM.jsonl and records the event in the audit
// log. It returns the number of archived records.
func (a *Archiver) ArchiveExits(ctx context.Context, before time.Time) (int64, error) {
	exits, err := a.exits.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive exits query: %w", err)
	}
	return archive(ctx, a, "position_exits", before, exits)
}

// ArchiveAudit uploads all audit entries created before the cutoff to
// archive/audit/YYYY-MM.jsonl. The archival itself is then audited, so the
// trail of what left the database survives in the database.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	return archive(ctx, a, "audit", before, entries)
}

// archive serialises the records, uploads them, and writes the audit entry.
func archive[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))

	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}

	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/exit_attempts/2026-08.jsonl
//	archive/position_exits/2026-08.jsonl
//	archive/audit/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
