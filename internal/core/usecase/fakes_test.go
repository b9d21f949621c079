package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

func snapshotOf(statuses map[domain.DocumentType]domain.DocumentStatus) domain.ProjectDocumentSnapshot {
	snapshot := domain.EmptySnapshot("")
	for docType, status := range statuses {
		record := domain.DocumentRecord{Type: docType, Status: status}
		if status != domain.StatusNone {
			record.ID = docType.String() + "-1"
			record.CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		}
		snapshot.Records[docType] = record
	}
	return snapshot
}

// statusSourceFake returns snapshots in order, repeating the last one.
type statusSourceFake struct {
	mu          sync.Mutex
	snapshots   []domain.ProjectDocumentSnapshot
	errs        []error
	delay       time.Duration
	calls       int
	inFlight    int
	maxInFlight int
}

func (f *statusSourceFake) FetchStatus(ctx context.Context, projectID string) (domain.ProjectDocumentSnapshot, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.delay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return domain.ProjectDocumentSnapshot{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	idx := call - 1
	if idx < len(f.errs) && f.errs[idx] != nil {
		return domain.ProjectDocumentSnapshot{}, f.errs[idx]
	}
	if len(f.snapshots) == 0 {
		return domain.EmptySnapshot(projectID), nil
	}
	if idx >= len(f.snapshots) {
		idx = len(f.snapshots) - 1
	}
	snapshot := f.snapshots[idx]
	snapshot.ProjectID = projectID
	return snapshot, nil
}

func (f *statusSourceFake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *statusSourceFake) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// set replaces the scripted responses; subsequent calls return snapshot.
func (f *statusSourceFake) set(snapshot domain.ProjectDocumentSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = []domain.ProjectDocumentSnapshot{snapshot}
	f.errs = nil
	f.calls = 0
}

type generatorFake struct {
	mu       sync.Mutex
	requests []ports.GenerationRequest
	err      error
}

func (f *generatorFake) Generate(_ context.Context, req ports.GenerationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.err
}

func (f *generatorFake) Requests() []ports.GenerationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.GenerationRequest(nil), f.requests...)
}

type removerFake struct {
	mu      sync.Mutex
	deleted []string
	err     error
	onCall  func()
}

func (f *removerFake) Delete(_ context.Context, _ domain.DocumentType, documentID string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, documentID)
	onCall := f.onCall
	err := f.err
	f.mu.Unlock()
	if onCall != nil {
		onCall()
	}
	return err
}

func (f *removerFake) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type navigatorFake struct {
	mu     sync.Mutex
	opened []string
}

func (f *navigatorFake) OpenViewer(_ string, docType domain.DocumentType, documentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, docType.String()+"/"+documentID)
}

type publisherFake struct {
	mu        sync.Mutex
	published []domain.ProjectDocumentSnapshot
}

func (f *publisherFake) PublishSnapshot(_ context.Context, snapshot domain.ProjectDocumentSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, snapshot)
	return nil
}

func (f *publisherFake) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type storageFake struct {
	mu    sync.Mutex
	keys  []string
	files map[string][]byte
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if f.files == nil {
		f.files = make(map[string][]byte)
	}
	f.files[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.files[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "open archive", errors.New(key))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, handle *PollHandle) {
	t.Helper()
	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("poll loop did not stop")
	}
}
