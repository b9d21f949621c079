package domain

// Action is the single UI transition available for a document at a given moment.
type Action string

const (
	ActionGenerate Action = "generate"
	ActionView     Action = "view"
	ActionWait     Action = "wait"
	ActionNone     Action = "none"
)

type Decision struct {
	Action    Action         `json:"action"`
	Creatable bool           `json:"creatable"`
	Record    DocumentRecord `json:"record"`
}

// Decisions is indexed by DocumentType.
type Decisions [DocumentTypeCount]Decision

func (d Decisions) For(t DocumentType) Decision {
	if !t.Valid() {
		return Decision{Action: ActionNone, Record: DocumentRecord{Type: t, Status: StatusNone}}
	}
	return d[t]
}
