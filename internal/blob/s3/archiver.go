package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/yieldscope/internal/domain"
)

// ArchiveImpl implements domain.Archiver by querying the snapshot store for
// rows older than the cutoff, serializing them to JSONL grouped by month,
// and uploading one object per month to S3.
//
// Rows are deleted from the primary store only after every uploaded object
// has been verified to exist, so a failed run never loses data. A repeated
// run re-uploads under a fresh run timestamp rather than clobbering earlier
// archives.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	snapshots domain.SnapshotStore
	logger    *slog.Logger
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, snapshots domain.SnapshotStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		reader:    reader,
		snapshots: snapshots,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSnapshots moves all snapshots dated strictly before the cutoff to
// object storage and removes them from the database. It returns the number
// of snapshots archived.
func (a *ArchiveImpl) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := a.snapshots.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots query: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.Snapshot)
	for _, snap := range snaps {
		month := snap.Date.Format("2006-01")
		byMonth[month] = append(byMonth[month], snap)
	}

	runStamp := time.Now().UTC().Format("20060102T150405Z")
	var paths []string
	for month, group := range byMonth {
		buf, err := marshalJSONL(group)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive snapshots marshal %s: %w", month, err)
		}

		path := archivePath(month, runStamp)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return 0, fmt.Errorf("s3blob: archive snapshots upload %s: %w", path, err)
		}
		paths = append(paths, path)

		a.logger.InfoContext(ctx, "archive object uploaded",
			slog.String("path", path),
			slog.Int("snapshots", len(group)),
		)
	}

	// Verify every object landed before touching the database.
	for _, path := range paths {
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive verify %s: %w", path, err)
		}
		if !ok {
			return 0, fmt.Errorf("s3blob: archive verify %s: object missing after upload", path)
		}
	}

	deleted, err := a.snapshots.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots delete: %w", err)
	}

	a.logger.InfoContext(ctx, "snapshots archived",
		slog.Int64("deleted", deleted),
		slog.Time("before", before),
	)
	return int64(len(snaps)), nil
}

// archivePath builds the S3 key for one month's archive file.
//
//	archive/snapshots/2026-05/20260830T120000Z.jsonl
func archivePath(month, runStamp string) string {
	return fmt.Sprintf("archive/snapshots/%s/%s.jsonl", month, runStamp)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
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
