package domain

import (
	"fmt"
	"strings"
	"time"
)

// DocumentType identifies one of the generated artifacts of a project.
// The ordinal order is the dependency chain: each type depends on the one before it.
type DocumentType int

const (
	DocumentRequirement DocumentType = iota
	DocumentFunctional
	DocumentPolicy
)

// DocumentTypeCount is the number of pipeline stages.
const DocumentTypeCount = 3

// DocumentTypes lists every type in dependency order.
var DocumentTypes = [DocumentTypeCount]DocumentType{
	DocumentRequirement,
	DocumentFunctional,
	DocumentPolicy,
}

var documentTypeNames = [DocumentTypeCount]string{"requirement", "functional", "policy"}

func (t DocumentType) Valid() bool {
	return t >= 0 && int(t) < DocumentTypeCount
}

func (t DocumentType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("DocumentType(%d)", int(t))
	}
	return documentTypeNames[t]
}

// WireKey is the key used by the status endpoint for this type.
func (t DocumentType) WireKey() string {
	return t.String() + "_document"
}

// Predecessor returns the type t depends on. ok is false for the first stage.
func (t DocumentType) Predecessor() (DocumentType, bool) {
	if t <= DocumentRequirement || !t.Valid() {
		return 0, false
	}
	return t - 1, true
}

func (t DocumentType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, WrapError(ErrUnknownDocumentType, "marshal document type", fmt.Errorf("ordinal %d", int(t)))
	}
	return []byte(t.String()), nil
}

func (t *DocumentType) UnmarshalText(text []byte) error {
	parsed, err := ParseDocumentType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseDocumentType accepts both the short name and the status endpoint key.
func ParseDocumentType(raw string) (DocumentType, error) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), "_document")
	for _, t := range DocumentTypes {
		if documentTypeNames[t] == name {
			return t, nil
		}
	}
	return 0, WrapError(ErrUnknownDocumentType, "parse document type", fmt.Errorf("%q", raw))
}

type DocumentStatus string

const (
	StatusNone     DocumentStatus = "none"
	StatusProgress DocumentStatus = "progress"
	StatusFinished DocumentStatus = "finished"
	StatusError    DocumentStatus = "error"
)

// ParseDocumentStatus maps a wire status to the enumeration.
// Empty means the document was never requested; unrecognized values are treated as failures.
func ParseDocumentStatus(raw string) DocumentStatus {
	switch DocumentStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StatusNone:
		return StatusNone
	case StatusProgress:
		return StatusProgress
	case StatusFinished:
		return StatusFinished
	default:
		return StatusError
	}
}

type DocumentRecord struct {
	ID        string         `json:"id,omitempty"`
	Type      DocumentType   `json:"type"`
	Status    DocumentStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at,omitzero"`
}

// ProjectDocumentSnapshot is the latest known status of every pipeline stage of one project.
// Records is indexed by DocumentType; a zero record reads as StatusNone.
type ProjectDocumentSnapshot struct {
	ProjectID string                            `json:"project_id"`
	Records   [DocumentTypeCount]DocumentRecord `json:"records"`
	FetchedAt time.Time                         `json:"fetched_at,omitzero"`
}

// EmptySnapshot is the all-none snapshot used before the first successful fetch.
func EmptySnapshot(projectID string) ProjectDocumentSnapshot {
	snapshot := ProjectDocumentSnapshot{ProjectID: projectID}
	for _, t := range DocumentTypes {
		snapshot.Records[t] = DocumentRecord{Type: t, Status: StatusNone}
	}
	return snapshot
}

func (s ProjectDocumentSnapshot) Record(t DocumentType) DocumentRecord {
	if !t.Valid() {
		return DocumentRecord{Type: t, Status: StatusNone}
	}
	rec := s.Records[t]
	rec.Type = t
	if rec.Status == "" {
		rec.Status = StatusNone
	}
	return rec
}

func (s ProjectDocumentSnapshot) Status(t DocumentType) DocumentStatus {
	return s.Record(t).Status
}

func (s ProjectDocumentSnapshot) AnyInProgress() bool {
	for _, t := range DocumentTypes {
		if s.Status(t) == StatusProgress {
			return true
		}
	}
	return false
}

// SameStatuses reports whether both snapshots carry identical ids and statuses.
func (s ProjectDocumentSnapshot) SameStatuses(other ProjectDocumentSnapshot) bool {
	for _, t := range DocumentTypes {
		a, b := s.Record(t), other.Record(t)
		if a.ID != b.ID || a.Status != b.Status {
			return false
		}
	}
	return true
}
