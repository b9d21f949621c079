package httpadapter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/core/usecase"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/spreadsheet/excel"
)

// generationServiceFake keeps per-type statuses for a single project in memory.
type generationServiceFake struct {
	mu        sync.Mutex
	records   [domain.DocumentTypeCount]domain.DocumentRecord
	fetchErr  error
	triggers  []ports.GenerationRequest
	deletes   []string
	workbooks map[string][]byte
}

func (f *generationServiceFake) set(docType domain.DocumentType, status domain.DocumentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[docType] = domain.DocumentRecord{
		ID:        docType.String() + "-1",
		Type:      docType,
		Status:    status,
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (f *generationServiceFake) FetchStatus(_ context.Context, projectID string) (domain.ProjectDocumentSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return domain.ProjectDocumentSnapshot{}, f.fetchErr
	}
	snapshot := domain.EmptySnapshot(projectID)
	for _, docType := range domain.DocumentTypes {
		if f.records[docType].Status != "" {
			snapshot.Records[docType] = f.records[docType]
		}
	}
	snapshot.FetchedAt = time.Now().UTC()
	return snapshot, nil
}

func (f *generationServiceFake) Generate(_ context.Context, req ports.GenerationRequest) error {
	f.mu.Lock()
	f.triggers = append(f.triggers, req)
	f.mu.Unlock()
	f.set(req.Type, domain.StatusProgress)
	return nil
}

func (f *generationServiceFake) Delete(_ context.Context, docType domain.DocumentType, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, documentID)
	f.records[docType] = domain.DocumentRecord{}
	return nil
}

func (f *generationServiceFake) Download(_ context.Context, _ domain.DocumentType, documentID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.workbooks[documentID]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "download", errors.New(documentID))
	}
	return data, nil
}

func (f *generationServiceFake) counts() (triggers, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggers), len(f.deletes)
}

func newTestRouter(cfg config.Config, service *generationServiceFake, opts ...RouterOption) *Router {
	tracker := usecase.NewStatusTracker(service, nil, nil, nil)
	factory := usecase.NewPipelineFactory(usecase.PipelineDeps{
		Tracker:   tracker,
		Scheduler: usecase.NewPollingScheduler(tracker, 5*time.Millisecond, nil),
		Generator: service,
		Remover:   service,
		OwnerID:   "owner-1",
	})
	viewer := usecase.NewDocumentViewer(service, excel.NewDecoder(0), nil, nil, nil)
	return NewRouter(cfg, factory, viewer, opts...)
}

func testWorkbook(t *testing.T) []byte {
	t.Helper()
	file := excelize.NewFile()
	defer file.Close()
	if err := file.MergeCell("Sheet1", "A2", "A3"); err != nil {
		t.Fatalf("MergeCell() error = %v", err)
	}
	rows := [][]any{{"Area", "Requirement"}, {"Auth", "Sign in"}, {nil, "Sign out"}}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		values := row
		if err := file.SetSheetRow("Sheet1", cell, &values); err != nil {
			t.Fatalf("SetSheetRow() error = %v", err)
		}
	}
	buf, err := file.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer() error = %v", err)
	}
	return buf.Bytes()
}
