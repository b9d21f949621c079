package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const DefaultPollInterval = 3 * time.Second

// SnapshotRefresher is the part of StatusTracker the scheduler drives.
type SnapshotRefresher interface {
	Refresh(ctx context.Context, projectID string) (domain.ProjectDocumentSnapshot, error)
}

// UpdateFunc receives every refresh result. err is non-nil when the refresh failed and
// snapshot is the retained, possibly stale, state.
type UpdateFunc func(snapshot domain.ProjectDocumentSnapshot, err error)

// PollingScheduler refreshes a project's snapshot while any document is in progress.
type PollingScheduler struct {
	refresher SnapshotRefresher
	interval  time.Duration
	logger    *slog.Logger
}

func NewPollingScheduler(refresher SnapshotRefresher, interval time.Duration, logger *slog.Logger) *PollingScheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PollingScheduler{
		refresher: refresher,
		interval:  interval,
		logger:    logger,
	}
}

// PollHandle identifies one running poll loop.
type PollHandle struct {
	id        string
	projectID string

	cancelOnce sync.Once
	cancel     context.CancelFunc
	done       chan struct{}
}

func (h *PollHandle) ID() string { return h.id }

// Cancel stops the loop. It is safe to call any number of times.
func (h *PollHandle) Cancel() {
	h.cancelOnce.Do(h.cancel)
}

// Done is closed once the loop has exited, either settled or cancelled.
func (h *PollHandle) Done() <-chan struct{} { return h.done }

func (h *PollHandle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Start refreshes immediately and keeps refreshing every interval until a snapshot with
// no document in progress arrives, ctx ends, or the handle is cancelled. The next
// refresh is only scheduled after the previous one returned.
func (s *PollingScheduler) Start(ctx context.Context, projectID string, onUpdate UpdateFunc) *PollHandle {
	pollCtx, cancel := context.WithCancel(ctx)
	handle := &PollHandle{
		id:        uuid.NewString(),
		projectID: projectID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.run(pollCtx, handle, onUpdate)
	return handle
}

func (s *PollingScheduler) Cancel(handle *PollHandle) {
	if handle != nil {
		handle.Cancel()
	}
}

func (s *PollingScheduler) run(ctx context.Context, handle *PollHandle, onUpdate UpdateFunc) {
	defer close(handle.done)
	defer handle.Cancel()

	logger := s.logger.With("project_id", handle.projectID, "poll_id", handle.id)
	for tick := 1; ; tick++ {
		snapshot, err := s.refresher.Refresh(ctx, handle.projectID)
		if ctx.Err() != nil {
			logger.Debug("poll_cancelled", "tick", tick)
			return
		}
		if onUpdate != nil {
			onUpdate(snapshot, err)
		}

		if err != nil {
			logger.Warn("poll_refresh_failed", "tick", tick, "error", err)
		} else if !snapshot.AnyInProgress() {
			logger.Debug("poll_settled", "tick", tick)
			return
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Debug("poll_cancelled", "tick", tick)
			return
		case <-timer.C:
		}
	}
}
