// Package export writes scan history to spreadsheet files.
package export

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/petscan/internal/model"
)

// SheetName is the worksheet scans are written to.
const SheetName = "Scans"

// Header is the first row of an exported sheet.
var Header = []string{
	"Scan ID", "Pet ID", "User ID", "Status", "Overall Safety", "Confidence",
	"Product", "Brand", "Unsafe Ingredients", "Error", "Created At", "Updated At",
}

// WriteScansXLSX writes one row per scan to a new workbook at path.
func WriteScansXLSX(path string, scans []model.Scan) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	addRow(sheet, Header)
	for i := range scans {
		addRow(sheet, scanRow(&scans[i]))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

// ReadScansXLSX reads back the rows of a sheet written by WriteScansXLSX,
// header excluded.
func ReadScansXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "export: open file")
	}
	sheet, ok := f.Sheet[SheetName]
	if !ok {
		return nil, eris.Errorf("export: sheet %q not found", SheetName)
	}

	var rows [][]string
	for i, row := range sheet.Rows {
		if i == 0 {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, v := range cells {
		row.AddCell().SetString(v)
	}
}

func scanRow(s *model.Scan) []string {
	var safety, confidence, product, brand, unsafe string
	if s.Result != nil {
		safety = string(s.Result.OverallSafety)
		confidence = strconv.FormatFloat(s.Result.ConfidenceScore, 'f', 2, 64)
		product = s.Result.ProductName
		brand = s.Result.Brand
		unsafe = strings.Join(s.Result.UnsafeIngredients, ", ")
	}
	return []string{
		s.ID,
		s.PetID,
		s.UserID,
		string(s.Status),
		safety,
		confidence,
		product,
		brand,
		unsafe,
		s.Error,
		formatTime(s.CreatedAt),
		formatTime(s.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
