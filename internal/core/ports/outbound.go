package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// StatusSource queries the generation service for the status of every document of a project.
type StatusSource interface {
	FetchStatus(ctx context.Context, projectID string) (domain.ProjectDocumentSnapshot, error)
}

// GenerationRequest is the payload of a generation trigger.
// RequirementText is only sent for requirement documents.
type GenerationRequest struct {
	Type            domain.DocumentType
	ProjectID       string
	OwnerID         string
	RequirementText string
}

// DocumentGenerator starts asynchronous generation of a document.
type DocumentGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) error
}

// DocumentRemover deletes a generated document.
type DocumentRemover interface {
	Delete(ctx context.Context, docType domain.DocumentType, documentID string) error
}

// DocumentDownloader fetches the spreadsheet binary of a finished document.
type DocumentDownloader interface {
	Download(ctx context.Context, docType domain.DocumentType, documentID string) ([]byte, error)
}

// GenerationService is the full external collaborator.
type GenerationService interface {
	StatusSource
	DocumentGenerator
	DocumentRemover
	DocumentDownloader
}

// SpreadsheetDecoder turns spreadsheet bytes into a grid.
type SpreadsheetDecoder interface {
	Decode(data []byte) (*domain.TabularGrid, error)
}

// SnapshotPublisher announces status changes of a project.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, snapshot domain.ProjectDocumentSnapshot) error
}

// ObjectStorage archives downloaded document binaries.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ViewerNavigator is told to display the viewer of a finished document.
type ViewerNavigator interface {
	OpenViewer(projectID string, docType domain.DocumentType, documentID string)
}

// PipelineObserver receives pipeline measurements. Outcome is one of
// "dispatched", "skipped" or "error".
type PipelineObserver interface {
	ObserveRefresh(duration time.Duration, err error)
	ObserveTrigger(docType domain.DocumentType, outcome string)
	ObserveRemove(docType domain.DocumentType, outcome string)
	ObserveDecode(docType domain.DocumentType, duration time.Duration, err error)
}
