package excel

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const defaultUnzipSizeLimit int64 = 64 << 20

// Decoder turns a workbook binary into a TabularGrid. Only the first sheet is read.
type Decoder struct {
	unzipSizeLimit int64
}

func NewDecoder(unzipSizeLimit int64) *Decoder {
	if unzipSizeLimit <= 0 {
		unzipSizeLimit = defaultUnzipSizeLimit
	}
	return &Decoder{unzipSizeLimit: unzipSizeLimit}
}

func (d *Decoder) Decode(data []byte) (*domain.TabularGrid, error) {
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrDecode, "open workbook", errors.New("empty payload"))
	}

	file, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{
		UnzipSizeLimit:    d.unzipSizeLimit,
		UnzipXMLSizeLimit: d.unzipSizeLimit,
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrDecode, "open workbook", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.WrapError(domain.ErrDecode, "open workbook", errors.New("workbook has no sheets"))
	}
	sheet := sheets[0]

	raw, err := file.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, domain.WrapError(domain.ErrDecode, "read rows", err)
	}
	if len(raw) == 0 {
		return &domain.TabularGrid{
			Rows:   [][]domain.CellValue{},
			Header: []string{},
			Merges: []domain.MergedCellRegion{},
		}, nil
	}

	width := 0
	for _, row := range raw {
		width = max(width, len(row))
	}

	header := make([]string, width)
	copy(header, raw[0])

	rows := make([][]domain.CellValue, 0, len(raw)-1)
	for r, row := range raw[1:] {
		cells := make([]domain.CellValue, width)
		for c, value := range row {
			cell, err := d.cellValue(file, sheet, c+1, r+2, value)
			if err != nil {
				return nil, domain.WrapError(domain.ErrDecode, "read cell", err)
			}
			cells[c] = cell
		}
		rows = append(rows, cells)
	}

	merges, err := bodyMerges(file, sheet)
	if err != nil {
		return nil, domain.WrapError(domain.ErrDecode, "read merges", err)
	}

	return &domain.TabularGrid{Rows: rows, Header: header, Merges: merges}, nil
}

// cellValue maps a raw cell to nil, float64, bool or string. col and row are 1-based.
func (d *Decoder) cellValue(file *excelize.File, sheet string, col, row int, value string) (domain.CellValue, error) {
	if value == "" {
		return nil, nil
	}
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return nil, err
	}
	cellType, err := file.GetCellType(sheet, name)
	if err != nil {
		return nil, err
	}

	switch cellType {
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		// Numeric cells written without an explicit type attribute read as unset.
		if number, err := strconv.ParseFloat(value, 64); err == nil {
			return number, nil
		}
	case excelize.CellTypeBool:
		if flag, err := strconv.ParseBool(value); err == nil {
			return flag, nil
		}
	}
	return value, nil
}

// bodyMerges converts native merge ranges into body-relative regions. Ranges starting in
// the header row are dropped, as are ranges overlapping an earlier one.
func bodyMerges(file *excelize.File, sheet string) ([]domain.MergedCellRegion, error) {
	native, err := file.GetMergeCells(sheet)
	if err != nil {
		return nil, err
	}

	out := make([]domain.MergedCellRegion, 0, len(native))
	for _, merge := range native {
		startCol, startRow, err := excelize.CellNameToCoordinates(merge.GetStartAxis())
		if err != nil {
			return nil, fmt.Errorf("merge start %q: %w", merge.GetStartAxis(), err)
		}
		endCol, endRow, err := excelize.CellNameToCoordinates(merge.GetEndAxis())
		if err != nil {
			return nil, fmt.Errorf("merge end %q: %w", merge.GetEndAxis(), err)
		}

		region := domain.MergedCellRegion{
			Row:     startRow - 2,
			Col:     startCol - 1,
			RowSpan: endRow - startRow + 1,
			ColSpan: endCol - startCol + 1,
		}
		if region.Row < 0 || region.RowSpan < 1 || region.ColSpan < 1 {
			continue
		}
		if overlapsAny(out, region) {
			continue
		}
		out = append(out, region)
	}
	return out, nil
}

func overlapsAny(regions []domain.MergedCellRegion, candidate domain.MergedCellRegion) bool {
	for _, region := range regions {
		if region.Overlaps(candidate) {
			return true
		}
	}
	return false
}
