package domain

// CellValue holds nil, a float64, a bool or a string.
type CellValue = any

// MergedCellRegion is zero-based and relative to the body grid (header row excluded).
type MergedCellRegion struct {
	Row     int `json:"row"`
	Col     int `json:"col"`
	RowSpan int `json:"row_span"`
	ColSpan int `json:"col_span"`
}

func (m MergedCellRegion) Contains(row, col int) bool {
	return row >= m.Row && row < m.Row+m.RowSpan && col >= m.Col && col < m.Col+m.ColSpan
}

func (m MergedCellRegion) Overlaps(other MergedCellRegion) bool {
	return m.Row < other.Row+other.RowSpan && other.Row < m.Row+m.RowSpan &&
		m.Col < other.Col+other.ColSpan && other.Col < m.Col+m.ColSpan
}

// TabularGrid is the decoded form of a downloaded spreadsheet. It is not mutated after decoding.
type TabularGrid struct {
	Rows   [][]CellValue      `json:"rows"`
	Header []string           `json:"header"`
	Merges []MergedCellRegion `json:"merges"`
}

type RenderedCell struct {
	Value   CellValue `json:"value"`
	Style   CellStyle `json:"style"`
	RowSpan int       `json:"row_span,omitempty"`
	ColSpan int       `json:"col_span,omitempty"`
	// Covered cells sit under a merge anchor and are not drawn.
	Covered bool `json:"covered,omitempty"`
}

type RenderedDocument struct {
	Type        DocumentType       `json:"type"`
	DocumentID  string             `json:"document_id"`
	DisplayName string             `json:"display_name"`
	Header      []string           `json:"header"`
	Rows        [][]RenderedCell   `json:"rows"`
	Merges      []MergedCellRegion `json:"merges"`
}
