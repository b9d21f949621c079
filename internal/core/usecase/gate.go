package usecase

import "github.com/kirillkom/document-pipeline/internal/core/domain"

// Creatable reports whether generation of docType may start: the first stage always may,
// every later stage only once its predecessor has finished.
func Creatable(snapshot domain.ProjectDocumentSnapshot, docType domain.DocumentType) bool {
	predecessor, ok := docType.Predecessor()
	if !ok {
		return docType.Valid()
	}
	return snapshot.Status(predecessor) == domain.StatusFinished
}

// Evaluate derives the available action of every document type from a snapshot.
// It is the only place the dependency rules live.
func Evaluate(snapshot domain.ProjectDocumentSnapshot) domain.Decisions {
	var decisions domain.Decisions
	for _, docType := range domain.DocumentTypes {
		decisions[docType] = decide(snapshot, docType)
	}
	return decisions
}

func decide(snapshot domain.ProjectDocumentSnapshot, docType domain.DocumentType) domain.Decision {
	record := snapshot.Record(docType)
	decision := domain.Decision{
		Creatable: Creatable(snapshot, docType),
		Record:    record,
	}

	switch record.Status {
	case domain.StatusFinished:
		decision.Action = domain.ActionView
	case domain.StatusProgress:
		decision.Action = domain.ActionWait
	default:
		if decision.Creatable {
			decision.Action = domain.ActionGenerate
		} else {
			decision.Action = domain.ActionNone
		}
	}
	return decision
}
