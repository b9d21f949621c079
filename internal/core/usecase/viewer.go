package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// DocumentViewer downloads a finished document and turns it into a styled grid.
type DocumentViewer struct {
	downloader ports.DocumentDownloader
	decoder    ports.SpreadsheetDecoder
	archive    ports.ObjectStorage
	observer   ports.PipelineObserver
	logger     *slog.Logger
}

// NewDocumentViewer builds a viewer. archive may be nil to skip keeping downloaded binaries.
func NewDocumentViewer(
	downloader ports.DocumentDownloader,
	decoder ports.SpreadsheetDecoder,
	archive ports.ObjectStorage,
	observer ports.PipelineObserver,
	logger *slog.Logger,
) *DocumentViewer {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentViewer{
		downloader: downloader,
		decoder:    decoder,
		archive:    archive,
		observer:   observer,
		logger:     logger,
	}
}

func (v *DocumentViewer) Render(ctx context.Context, docType domain.DocumentType, documentID string) (*domain.RenderedDocument, error) {
	style, err := domain.StyleFor(docType)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(documentID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "render document", errors.New("document id is required"))
	}

	data, err := v.downloader.Download(ctx, docType, documentID)
	if err != nil {
		archived, ok := v.loadArchived(ctx, docType, documentID, err)
		if !ok {
			return nil, fmt.Errorf("download %s document: %w", docType, err)
		}
		data = archived
	} else {
		v.store(ctx, docType, documentID, data)
	}

	start := time.Now()
	grid, err := v.decoder.Decode(data)
	v.observer.ObserveDecode(docType, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("decode %s document: %w", docType, err)
	}

	return RenderGrid(docType, documentID, style, grid), nil
}

func (v *DocumentViewer) store(ctx context.Context, docType domain.DocumentType, documentID string, data []byte) {
	if v.archive == nil {
		return
	}
	key := ArchiveKey(docType, documentID)
	if err := v.archive.Save(ctx, key, bytes.NewReader(data)); err != nil {
		v.logger.Warn("document_archive_failed", "key", key, "error", err)
	}
}

// loadArchived serves a previously downloaded copy while the generation service is
// unreachable. Not-found and invalid-input failures are never masked.
func (v *DocumentViewer) loadArchived(ctx context.Context, docType domain.DocumentType, documentID string, cause error) ([]byte, bool) {
	if v.archive == nil {
		return nil, false
	}
	if !domain.IsKind(cause, domain.ErrTemporary) && !domain.IsKind(cause, domain.ErrFetch) {
		return nil, false
	}
	key := ArchiveKey(docType, documentID)
	rc, err := v.archive.Open(ctx, key)
	if err != nil {
		return nil, false
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		v.logger.Warn("document_archive_read_failed", "key", key, "error", err)
		return nil, false
	}
	v.logger.Info("document_served_from_archive", "key", key, "cause", cause)
	return data, true
}

// ArchiveKey is the storage key of a downloaded document binary.
func ArchiveKey(docType domain.DocumentType, documentID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, documentID)
	return fmt.Sprintf("%s_%s.xlsx", docType, safe)
}

// RenderGrid applies positional styles and merge spans to a decoded grid.
func RenderGrid(docType domain.DocumentType, documentID string, style domain.DocumentStyle, grid *domain.TabularGrid) *domain.RenderedDocument {
	out := &domain.RenderedDocument{
		Type:        docType,
		DocumentID:  documentID,
		DisplayName: style.DisplayName,
		Header:      grid.Header,
		Rows:        make([][]domain.RenderedCell, len(grid.Rows)),
		Merges:      grid.Merges,
	}
	for r, row := range grid.Rows {
		cells := make([]domain.RenderedCell, len(row))
		for c, value := range row {
			cells[c] = domain.RenderedCell{
				Value:   value,
				Style:   style.CellStyle(r, c),
				RowSpan: 1,
				ColSpan: 1,
			}
		}
		out.Rows[r] = cells
	}

	for _, merge := range grid.Merges {
		for r := merge.Row; r < merge.Row+merge.RowSpan && r < len(out.Rows); r++ {
			for c := merge.Col; c < merge.Col+merge.ColSpan && c < len(out.Rows[r]); c++ {
				cell := &out.Rows[r][c]
				if r == merge.Row && c == merge.Col {
					cell.RowSpan = merge.RowSpan
					cell.ColSpan = merge.ColSpan
					continue
				}
				cell.Covered = true
				cell.RowSpan = 0
				cell.ColSpan = 0
			}
		}
	}
	return out
}
