package domain

import "fmt"

const (
	CellClassLabel = "label"
	CellClassBody  = "body"
)

type CellStyle struct {
	Class string `json:"class"`
	// Width is a fixed column width in pixels; zero leaves the column auto-sized.
	Width int `json:"width,omitempty"`
}

type DocumentStyle struct {
	DisplayName string
	CellStyle   func(row, col int) CellStyle
}

type columnRule struct {
	from, to int
	width    int
}

func positionalStyle(rules []columnRule) func(row, col int) CellStyle {
	return func(_ int, col int) CellStyle {
		for _, rule := range rules {
			if col >= rule.from && col <= rule.to {
				return CellStyle{Class: CellClassLabel, Width: rule.width}
			}
		}
		return CellStyle{Class: CellClassBody}
	}
}

var specificationColumns = []columnRule{
	{from: 0, to: 0, width: 96},
	{from: 1, to: 1, width: 96},
	{from: 2, to: 2, width: 180},
}

var policyColumns = append(append([]columnRule{}, specificationColumns...),
	columnRule{from: 3, to: 6, width: 140},
)

var documentStyles = [DocumentTypeCount]DocumentStyle{
	DocumentRequirement: {
		DisplayName: "Requirements Specification",
		CellStyle:   positionalStyle(specificationColumns),
	},
	DocumentFunctional: {
		DisplayName: "Functional Specification",
		CellStyle:   positionalStyle(specificationColumns),
	},
	DocumentPolicy: {
		DisplayName: "Policy Document",
		CellStyle:   positionalStyle(policyColumns),
	},
}

// StyleFor returns the display metadata and positional cell styling of a document type.
// The table is static; the error is only reachable with an out-of-range ordinal.
func StyleFor(t DocumentType) (DocumentStyle, error) {
	if !t.Valid() {
		return DocumentStyle{}, WrapError(ErrUnknownDocumentType, "style lookup", fmt.Errorf("ordinal %d", int(t)))
	}
	return documentStyles[t], nil
}

// MustStyleFor is StyleFor for callers iterating DocumentTypes.
func MustStyleFor(t DocumentType) DocumentStyle {
	style, err := StyleFor(t)
	if err != nil {
		panic(err)
	}
	return style
}
