package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// StatusTracker owns the last successfully fetched snapshot of every project.
// A failed refresh never replaces known state. At most one fetch per project is in
// flight; concurrent refreshes of the same project wait their turn.
type StatusTracker struct {
	source    ports.StatusSource
	publisher ports.SnapshotPublisher
	observer  ports.PipelineObserver
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	snapshots map[string]trackedSnapshot
	issued    map[string]uint64
	inflight  map[string]chan struct{}
}

type trackedSnapshot struct {
	snapshot domain.ProjectDocumentSnapshot
	seq      uint64
}

func NewStatusTracker(
	source ports.StatusSource,
	publisher ports.SnapshotPublisher,
	observer ports.PipelineObserver,
	logger *slog.Logger,
) *StatusTracker {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusTracker{
		source:    source,
		publisher: publisher,
		observer:  observer,
		logger:    logger,
		now:       time.Now,
		snapshots: make(map[string]trackedSnapshot),
		issued:    make(map[string]uint64),
		inflight:  make(map[string]chan struct{}),
	}
}

// Current returns the last successful snapshot, or the all-none snapshot if none was fetched.
func (t *StatusTracker) Current(projectID string) domain.ProjectDocumentSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if tracked, ok := t.snapshots[projectID]; ok {
		return tracked.snapshot
	}
	return domain.EmptySnapshot(projectID)
}

// Refresh queries the status source and stores the result. On failure it returns the
// retained snapshot together with an ErrFetch error.
func (t *StatusTracker) Refresh(ctx context.Context, projectID string) (domain.ProjectDocumentSnapshot, error) {
	if strings.TrimSpace(projectID) == "" {
		return domain.EmptySnapshot(projectID), domain.WrapError(domain.ErrInvalidInput, "refresh status", errors.New("project id is required"))
	}

	release, err := t.acquire(ctx, projectID)
	if err != nil {
		return t.Current(projectID), domain.WrapError(domain.ErrFetch, "refresh status", err)
	}
	defer release()

	seq := t.issue(projectID)
	start := time.Now()
	fetched, err := t.source.FetchStatus(ctx, projectID)
	t.observer.ObserveRefresh(time.Since(start), err)
	if err != nil {
		if !domain.IsKind(err, domain.ErrFetch) {
			err = domain.WrapError(domain.ErrFetch, "refresh status", err)
		}
		return t.Current(projectID), err
	}

	fetched = t.normalize(projectID, fetched)
	stored, changed := t.store(projectID, seq, fetched)
	if changed {
		t.publish(ctx, stored)
	}
	return stored, nil
}

// acquire takes the per-project fetch slot, giving up when ctx ends first.
func (t *StatusTracker) acquire(ctx context.Context, projectID string) (func(), error) {
	t.mu.Lock()
	slot, ok := t.inflight[projectID]
	if !ok {
		slot = make(chan struct{}, 1)
		t.inflight[projectID] = slot
	}
	t.mu.Unlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		<-slot
		return nil, err
	}
	return func() { <-slot }, nil
}

func (t *StatusTracker) issue(projectID string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.issued[projectID]++
	return t.issued[projectID]
}

// store keeps the result of the most recently issued fetch; a slower, older fetch
// finishing late does not overwrite it.
func (t *StatusTracker) store(projectID string, seq uint64, fetched domain.ProjectDocumentSnapshot) (domain.ProjectDocumentSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous, known := t.snapshots[projectID]
	if known && previous.seq > seq {
		return previous.snapshot, false
	}
	t.snapshots[projectID] = trackedSnapshot{snapshot: fetched, seq: seq}
	return fetched, !known || !previous.snapshot.SameStatuses(fetched)
}

func (t *StatusTracker) normalize(projectID string, fetched domain.ProjectDocumentSnapshot) domain.ProjectDocumentSnapshot {
	out := domain.EmptySnapshot(projectID)
	for _, docType := range domain.DocumentTypes {
		out.Records[docType] = fetched.Record(docType)
		if out.Records[docType].Status == domain.StatusNone {
			out.Records[docType].CreatedAt = time.Time{}
		}
	}
	out.FetchedAt = fetched.FetchedAt
	if out.FetchedAt.IsZero() {
		out.FetchedAt = t.now().UTC()
	}
	return out
}

func (t *StatusTracker) publish(ctx context.Context, snapshot domain.ProjectDocumentSnapshot) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishSnapshot(ctx, snapshot); err != nil {
		t.logger.Warn("snapshot_publish_failed", "project_id", snapshot.ProjectID, "error", err)
	}
}

type nopObserver struct{}

func (nopObserver) ObserveRefresh(time.Duration, error)                     {}
func (nopObserver) ObserveTrigger(domain.DocumentType, string)              {}
func (nopObserver) ObserveRemove(domain.DocumentType, string)               {}
func (nopObserver) ObserveDecode(domain.DocumentType, time.Duration, error) {}
