package domain

import (
	"encoding/json"
	"testing"
)

func TestPredecessorFollowsDependencyChain(t *testing.T) {
	if _, ok := DocumentRequirement.Predecessor(); ok {
		t.Fatalf("requirement must not have a predecessor")
	}
	if p, ok := DocumentFunctional.Predecessor(); !ok || p != DocumentRequirement {
		t.Fatalf("functional predecessor = %v/%v, want requirement", p, ok)
	}
	if p, ok := DocumentPolicy.Predecessor(); !ok || p != DocumentFunctional {
		t.Fatalf("policy predecessor = %v/%v, want functional", p, ok)
	}
}

func TestParseDocumentTypeAcceptsWireKeys(t *testing.T) {
	for _, docType := range DocumentTypes {
		parsed, err := ParseDocumentType(docType.WireKey())
		if err != nil {
			t.Fatalf("ParseDocumentType(%q) error = %v", docType.WireKey(), err)
		}
		if parsed != docType {
			t.Fatalf("ParseDocumentType(%q) = %v, want %v", docType.WireKey(), parsed, docType)
		}
	}

	_, err := ParseDocumentType("design")
	if !IsKind(err, ErrUnknownDocumentType) {
		t.Fatalf("expected ErrUnknownDocumentType, got %v", err)
	}
}

func TestParseDocumentStatus(t *testing.T) {
	cases := map[string]DocumentStatus{
		"":          StatusNone,
		"none":      StatusNone,
		"PROGRESS":  StatusProgress,
		" finished": StatusFinished,
		"error":     StatusError,
		"exploded":  StatusError,
	}
	for raw, want := range cases {
		if got := ParseDocumentStatus(raw); got != want {
			t.Fatalf("ParseDocumentStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestZeroSnapshotReadsAsNone(t *testing.T) {
	var snapshot ProjectDocumentSnapshot
	for _, docType := range DocumentTypes {
		if snapshot.Status(docType) != StatusNone {
			t.Fatalf("expected none for %v, got %q", docType, snapshot.Status(docType))
		}
	}
	if snapshot.AnyInProgress() {
		t.Fatalf("zero snapshot must not be in progress")
	}
}

func TestSameStatusesComparesIDsAndStatuses(t *testing.T) {
	a := EmptySnapshot("p-1")
	b := EmptySnapshot("p-1")
	if !a.SameStatuses(b) {
		t.Fatalf("empty snapshots must compare equal")
	}
	b.Records[DocumentPolicy] = DocumentRecord{ID: "x", Type: DocumentPolicy, Status: StatusProgress}
	if a.SameStatuses(b) {
		t.Fatalf("expected difference after policy change")
	}
}

func TestDocumentTypeJSONUsesNames(t *testing.T) {
	payload, err := json.Marshal(DocumentRecord{Type: DocumentFunctional, Status: StatusFinished})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "functional" {
		t.Fatalf("expected type name in json, got %v", decoded["type"])
	}
}
