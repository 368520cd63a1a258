package labresult

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/pethealth/pethealth/internal/labvalue"
	"github.com/pethealth/pethealth/internal/platform/apperr"
)

const exportSheet = "Results"

var exportHeader = []string{
	"Test Date", "Pet", "Hospital", "Item", "Display Name", "Category",
	"Value", "Unit", "Reference", "Status",
}

var exportWidths = []float64{12, 14, 20, 18, 20, 14, 12, 10, 16, 10}

// Export is a generated spreadsheet.
type Export struct {
	Filename string
	Data     []byte
	Rows     int
}

// Export renders every result of the user as an xlsx workbook. Results whose
// item no longer resolves are left out.
func (s *Service) Export(ctx context.Context, userID string) (*Export, error) {
	const op = "export"
	rows, err := s.results.ListForExport(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.Result.StandardItemID)
	}
	items, err := s.catalog.ResolveItems(ctx, ids, userID)
	if err != nil {
		return nil, err
	}

	kept := rows[:0]
	for _, r := range rows {
		if item, ok := items[r.Result.StandardItemID]; ok {
			r.Result.Item = item
			kept = append(kept, r)
		}
	}

	data, err := renderWorkbook(kept)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return &Export{
		Filename: fmt.Sprintf("lab-results-%s.xlsx", s.now().Format("20060102")),
		Data:     data,
		Rows:     len(kept),
	}, nil
}

func renderWorkbook(rows []*ExportRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, h := range exportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return nil, fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(exportSheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("style header %s: %w", cell, err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(exportSheet, name, name, exportWidths[col]); err != nil {
			return nil, fmt.Errorf("set width %s: %w", name, err)
		}
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := exportRowValues(r)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func exportRowValues(r *ExportRow) []interface{} {
	rec, res := r.Record, r.Result
	var date string
	if rec.TestDate != nil {
		date = rec.TestDate.Format(DateLayout)
	}

	var value interface{} = deref(res.ValueRaw)
	if res.ValueType == labvalue.ValueNumeric && res.ValueNumeric != nil {
		value = *res.ValueNumeric
	}

	ref := deref(res.RefText)
	if ref == "" && (res.RefMin != nil || res.RefMax != nil) {
		ref = labvalue.FormatReferenceRange(labvalue.ReferenceRange{Min: res.RefMin, Max: res.RefMax, IsValid: true})
	}

	return []interface{}{
		date,
		deref(rec.PetName),
		deref(rec.Hospital),
		res.Item.Name,
		res.Item.DisplayName(),
		deref(res.Item.Category),
		value,
		deref(res.Unit),
		ref,
		string(res.Status),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
