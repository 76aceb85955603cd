package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tessera-trading/advisor/internal/domain"
)

// dayFormat matches the naming of the daily event log files.
const dayFormat = "2006-01-02"

// ArchiveImpl implements domain.Archiver by moving aged daily event files
// to object storage and uploading snapshots of completed simulation runs.
//
// Event files are deleted from local disk only after the upload succeeds,
// so a failed upload leaves the day fully readable where it was.
// Simulation records are never deleted from the primary store -- the
// archive is a redundant copy, not a migration.
type ArchiveImpl struct {
	writer      domain.BlobWriter
	eventsDir   string
	simulations domain.SimulationStore
	bus         domain.EventBus
}

// NewArchiver creates an ArchiveImpl. eventsDir is the directory holding
// the daily JSONL event files. simulations may be nil, in which case
// ArchiveSimulations is a no-op.
func NewArchiver(writer domain.BlobWriter, eventsDir string, simulations domain.SimulationStore, bus domain.EventBus) *ArchiveImpl {
	return &ArchiveImpl{
		writer:      writer,
		eventsDir:   eventsDir,
		simulations: simulations,
		bus:         bus,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveEvents uploads every daily event file dated strictly before the
// cutoff to archive/events/YYYY/YYYY-MM-DD.jsonl and removes the local copy
// once the upload succeeds. It returns the total number of events moved.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	entries, err := os.ReadDir(a.eventsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("s3blob: archive events: read dir: %w", err)
	}

	cutoff := before.UTC().Truncate(24 * time.Hour)

	var total int64
	var files int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}

		day, err := time.Parse(dayFormat, strings.TrimSuffix(entry.Name(), ".jsonl"))
		if err != nil {
			continue
		}
		if !day.Before(cutoff) {
			continue
		}

		local := filepath.Join(a.eventsDir, entry.Name())
		data, err := os.ReadFile(local)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive events: read %s: %w", entry.Name(), err)
		}

		remote := fmt.Sprintf("archive/events/%s/%s", day.Format("2006"), entry.Name())
		if err := a.writer.Put(ctx, remote, bytes.NewReader(data), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive events: upload %s: %w", remote, err)
		}

		if err := os.Remove(local); err != nil {
			return total, fmt.Errorf("s3blob: archive events: remove %s: %w", entry.Name(), err)
		}

		total += countLines(data)
		files++
	}

	if files > 0 && a.bus != nil {
		_, err := a.bus.Publish(ctx, domain.NewEvent(domain.EventTypeArchiveCompleted, "archiver", map[string]any{
			"kind":   "events",
			"files":  files,
			"count":  total,
			"before": cutoff.Format(dayFormat),
		}))
		if err != nil {
			return total, fmt.Errorf("s3blob: archive events: publish: %w", err)
		}
	}

	return total, nil
}

// ArchiveSimulations uploads a JSONL snapshot of every simulation run that
// completed strictly before the cutoff. The snapshot is keyed by the
// year-month of the cutoff; re-running the archive for the same period
// overwrites the previous snapshot with a superset of its contents.
func (a *ArchiveImpl) ArchiveSimulations(ctx context.Context, before time.Time) (int64, error) {
	if a.simulations == nil {
		return 0, nil
	}

	runs, err := a.simulations.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive simulations: list: %w", err)
	}

	var aged []domain.SimulationRun
	for _, run := range runs {
		if run.CompletedAt != nil && run.CompletedAt.Before(before) {
			aged = append(aged, run)
		}
	}
	if len(aged) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(aged)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive simulations: marshal: %w", err)
	}

	remote := fmt.Sprintf("archive/simulations/%s.jsonl", before.Format("2006-01"))
	if err := a.writer.Put(ctx, remote, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive simulations: upload %s: %w", remote, err)
	}

	count := int64(len(aged))

	if a.bus != nil {
		_, err := a.bus.Publish(ctx, domain.NewEvent(domain.EventTypeArchiveCompleted, "archiver", map[string]any{
			"kind":   "simulations",
			"path":   remote,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}))
		if err != nil {
			return count, fmt.Errorf("s3blob: archive simulations: publish: %w", err)
		}
	}

	return count, nil
}

// countLines counts non-empty newline-terminated records in a JSONL buffer.
func countLines(data []byte) int64 {
	var n int64
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
	}
	return n
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
