package ports

import (
	"context"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// DocumentRenderer is the inbound contract for the spreadsheet viewer.
type DocumentRenderer interface {
	Render(ctx context.Context, docType domain.DocumentType, documentID string) (*domain.RenderedDocument, error)
}
