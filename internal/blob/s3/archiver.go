package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

const (
	closedPrefix = "positions/closed/"
	// Records above this size go through the multipart uploader.
	multipartThreshold = 8 * 1024 * 1024
)

// ClosedRecord is the document archived for every exited position.
type ClosedRecord struct {
	Market      string                `json:"market"`
	Position    domain.Position       `json:"position"`
	RealizedPnL string                `json:"realized_pnl"`
	Journal     []domain.JournalEntry `json:"journal,omitempty"`
	ArchivedAt  time.Time             `json:"archived_at"`
}

// Archiver implements domain.PositionArchiver. The journal is optional;
// without it only the final position is archived.
type Archiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	journal domain.JournalStore
	now     func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, journal domain.JournalStore) *Archiver {
	return &Archiver{
		writer:  writer,
		reader:  reader,
		journal: journal,
		now:     time.Now,
	}
}

// ClosedPath returns the object key for a closed position:
//
//	positions/closed/2026/03/<id>.json
func ClosedPath(pos domain.Position, fallback time.Time) string {
	at := pos.UpdatedAt
	if at.IsZero() {
		at = fallback
	}
	id := pos.ID
	if id == "" {
		id = fmt.Sprintf("v%d-%d", pos.Version, at.Unix())
	}
	return fmt.Sprintf("%s%s/%s.json", closedPrefix, at.UTC().Format("2006/01"), id)
}

// ArchiveClosed writes the closed position and its journal to object
// storage and returns the object key. Re-archiving the same position is a
// no-op.
func (a *Archiver) ArchiveClosed(ctx context.Context, market string, pos domain.Position) (string, error) {
	now := a.now().UTC()
	path := ClosedPath(pos, now)

	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive check %s: %w", path, err)
		}
		if exists {
			return path, nil
		}
	}

	rec := ClosedRecord{
		Market:      market,
		Position:    pos,
		RealizedPnL: pos.TotalWithdrawn.Sub(pos.TotalInvested).String(),
		ArchivedAt:  now,
	}
	if a.journal != nil && pos.ID != "" {
		entries, err := a.journal.ListByPosition(ctx, pos.ID)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive journal for %s: %w", pos.ID, err)
		}
		rec.Journal = entries
	}

	buf, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive upload: %w", err)
	}
	return path, nil
}

// ListClosed returns the archived records for the month containing at,
// newest first.
func (a *Archiver) ListClosed(ctx context.Context, at time.Time) ([]domain.BlobInfo, error) {
	if a.reader == nil {
		return nil, fmt.Errorf("s3blob: archive listing needs a reader")
	}
	infos, err := a.reader.List(ctx, closedPrefix+at.UTC().Format("2006/01")+"/")
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastModified.After(infos[j].LastModified)
	})
	return infos, nil
}

// ReadClosed loads one archived record.
func (a *Archiver) ReadClosed(ctx context.Context, path string) (ClosedRecord, error) {
	if a.reader == nil {
		return ClosedRecord{}, fmt.Errorf("s3blob: archive read needs a reader")
	}
	if !strings.HasPrefix(path, closedPrefix) {
		return ClosedRecord{}, fmt.Errorf("s3blob: %s is not an archived position: %w", path, domain.ErrNotFound)
	}
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return ClosedRecord{}, err
	}
	defer body.Close()

	var rec ClosedRecord
	if err := json.NewDecoder(body).Decode(&rec); err != nil {
		return ClosedRecord{}, fmt.Errorf("s3blob: decode %s: %w", path, err)
	}
	return rec, nil
}

var _ domain.PositionArchiver = (*Archiver)(nil)
